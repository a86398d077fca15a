package ballots

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/areopag-vote/backend/internal/models"
)

type fakePolls struct {
	store *fakeStore
}

func (f *fakePolls) GetByID(_ context.Context, id uuid.UUID, _ *uuid.UUID) (*models.Poll, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	p, ok := f.store.polls[id]
	if !ok {
		return nil, ErrPollNotFound
	}
	poll := *p
	return &poll, nil
}

func newTestRouter(store *fakeStore) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(NewService(store), &fakePolls{store: store}, "https://vote.example.org", nil)
	r := gin.New()
	r.GET("/get_bulletin/:token", h.GetBulletin)
	r.GET("/vote/:poll/:key", h.Vote)
	r.POST("/vote/:poll/:key", h.Vote)
	return r
}

type envelope struct {
	Success bool           `json:"success"`
	Data    map[string]any `json:"data"`
	Error   string         `json:"error"`
}

func doGET(t *testing.T, r *gin.Engine, path string) (int, envelope) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	r.ServeHTTP(w, req)
	var e envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e))
	return w.Code, e
}

func doPOSTForm(t *testing.T, r *gin.Engine, path string, form url.Values) (int, envelope) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.ServeHTTP(w, req)
	var e envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e))
	return w.Code, e
}

func TestGetBulletinIssuesOnce(t *testing.T) {
	store := newFakeStore()
	poll := store.addPoll(models.PollStarted, false)
	ent := store.addEntitlement(poll, models.DeliverySuccess)
	r := newTestRouter(store)

	code, e := doGET(t, r, "/get_bulletin/"+ent.PublicToken.String())
	require.Equal(t, http.StatusOK, code)
	key, _ := e.Data["private_key"].(string)
	require.Len(t, key, 6)
	assert.Equal(t,
		"https://vote.example.org/vote/poll_"+poll.ID.String()+"/"+key+"/",
		e.Data["vote_url"])
	assert.Equal(t, poll.Title, e.Data["poll_title"])

	// Refreshing the link must not disclose anything again.
	code, e = doGET(t, r, "/get_bulletin/"+ent.PublicToken.String())
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "the ballot has already been issued", e.Data["message"])
	assert.NotContains(t, e.Data, "private_key")
}

func TestGetBulletinUnknownToken(t *testing.T) {
	r := newTestRouter(newFakeStore())

	code, e := doGET(t, r, "/get_bulletin/"+uuid.NewString())
	assert.Equal(t, http.StatusNotFound, code)
	assert.False(t, e.Success)

	code, _ = doGET(t, r, "/get_bulletin/not-a-uuid")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestGetBulletinFinishedPoll(t *testing.T) {
	store := newFakeStore()
	poll := store.addPoll(models.PollFinished, false)
	ent := store.addEntitlement(poll, models.DeliverySuccess)
	r := newTestRouter(store)

	code, e := doGET(t, r, "/get_bulletin/"+ent.PublicToken.String())
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "the poll is finished", e.Data["message"])
}

func TestVoteFullFlow(t *testing.T) {
	store := newFakeStore()
	poll := store.addPoll(models.PollStarted, false)
	ent := store.addEntitlement(poll, models.DeliverySuccess)
	r := newTestRouter(store)

	_, issued := doGET(t, r, "/get_bulletin/"+ent.PublicToken.String())
	key := issued.Data["private_key"].(string)
	path := "/vote/poll_" + poll.ID.String() + "/" + key

	// GET renders the ballot form with the poll's details.
	code, e := doGET(t, r, path)
	require.Equal(t, http.StatusOK, code)
	pollData, ok := e.Data["poll"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, poll.Title, pollData["title"])
	assert.Equal(t, key, e.Data["private_key"])

	code, e = doPOSTForm(t, r, path, url.Values{"response": {"yes"}})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "your vote has been recorded", e.Data["message"])

	code, e = doPOSTForm(t, r, path, url.Values{"response": {"no"}})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "you have already voted", e.Data["message"])
	assert.Equal(t, models.ResponseYes, store.keys[key].response)
}

func TestVotePollStateGates(t *testing.T) {
	store := newFakeStore()
	pending := store.addPoll(models.PollNotStarted, false)
	done := store.addPoll(models.PollFinished, false)
	r := newTestRouter(store)

	_, e := doGET(t, r, "/vote/poll_"+pending.ID.String()+"/123456")
	assert.Equal(t, "this poll is not started", e.Data["message"])

	_, e = doGET(t, r, "/vote/poll_"+done.ID.String()+"/123456")
	assert.Equal(t, "this poll is finished", e.Data["message"])

	_, e = doGET(t, r, "/vote/poll_"+uuid.NewString()+"/123456")
	assert.Equal(t, "this poll does not exist", e.Data["message"])

	_, e = doGET(t, r, "/vote/garbage/123456")
	assert.Equal(t, "this poll does not exist", e.Data["message"])
}

func TestVoteUnknownKey(t *testing.T) {
	store := newFakeStore()
	poll := store.addPoll(models.PollStarted, false)
	r := newTestRouter(store)

	code, e := doPOSTForm(t, r,
		"/vote/poll_"+poll.ID.String()+"/999999", url.Values{"response": {"yes"}})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "this ballot number is not registered in this poll", e.Data["message"])
	require.Len(t, store.invalid, 1)
	assert.Equal(t, "999999", store.invalid[0].Value)
}

func TestVoteEmptySubmission(t *testing.T) {
	store := newFakeStore()
	poll := store.addPoll(models.PollStarted, false)
	ent := store.addEntitlement(poll, models.DeliverySuccess)
	r := newTestRouter(store)

	_, issued := doGET(t, r, "/get_bulletin/"+ent.PublicToken.String())
	key := issued.Data["private_key"].(string)

	// A POST with nothing selected must not re-render the form.
	code, e := doPOSTForm(t, r, "/vote/poll_"+poll.ID.String()+"/"+key, url.Values{})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "response not recognized", e.Data["message"])
	assert.Equal(t, models.ResponseNotReturned, store.keys[key].response)
}

func TestVoteSpoilingGate(t *testing.T) {
	store := newFakeStore()
	poll := store.addPoll(models.PollStarted, false)
	ent := store.addEntitlement(poll, models.DeliverySuccess)
	r := newTestRouter(store)

	_, issued := doGET(t, r, "/get_bulletin/"+ent.PublicToken.String())
	key := issued.Data["private_key"].(string)

	_, e := doPOSTForm(t, r,
		"/vote/poll_"+poll.ID.String()+"/"+key, url.Values{"response": {"yes", "no"}})
	assert.Equal(t, "spoiling the ballot is not allowed in this poll", e.Data["message"])
	assert.Equal(t, models.ResponseNotReturned, store.keys[key].response)
}
