package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/areopag-vote/backend/internal/models"
)

type fakeLedger struct {
	pending []PendingItem
	status  map[uuid.UUID][]models.DeliveryStatus
	info    map[uuid.UUID]models.DeliveryInfo
}

func newFakeLedger(items ...PendingItem) *fakeLedger {
	return &fakeLedger{
		pending: items,
		status:  make(map[uuid.UUID][]models.DeliveryStatus),
		info:    make(map[uuid.UUID]models.DeliveryInfo),
	}
}

func (f *fakeLedger) PendingByPoll(context.Context, uuid.UUID) ([]PendingItem, error) {
	return f.pending, nil
}

func (f *fakeLedger) MarkQueueing(_ context.Context, tokens []uuid.UUID) error {
	for _, t := range tokens {
		f.status[t] = append(f.status[t], models.DeliveryQueueing)
	}
	return nil
}

func (f *fakeLedger) MarkSending(_ context.Context, token uuid.UUID) error {
	f.status[token] = append(f.status[token], models.DeliverySending)
	return nil
}

func (f *fakeLedger) MarkResult(_ context.Context, token uuid.UUID, status models.DeliveryStatus, info models.DeliveryInfo) error {
	f.status[token] = append(f.status[token], status)
	f.info[token] = info
	return nil
}

type fakeTransport struct {
	sent    []string
	failFor map[string]error
}

func (f *fakeTransport) Send(_ context.Context, to, _, body string) error {
	if err := f.failFor[to]; err != nil {
		return err
	}
	f.sent = append(f.sent, to+"|"+body)
	return nil
}

type fakeLocker struct {
	held map[string]bool
}

func (f *fakeLocker) Acquire(_ context.Context, key string, _ time.Duration) (bool, error) {
	if f.held[key] {
		return false, nil
	}
	if f.held == nil {
		f.held = make(map[string]bool)
	}
	f.held[key] = true
	return true, nil
}

func (f *fakeLocker) Release(_ context.Context, key string) error {
	delete(f.held, key)
	return nil
}

func pendingItem(email string) PendingItem {
	return PendingItem{Token: uuid.New(), VoterName: "Petrov P.P.", VoterEmail: email}
}

func testPoll() *models.Poll {
	return &models.Poll{ID: uuid.New(), Title: "Ivanov defense", Description: "PhD in physics"}
}

func TestDispatchPipeline(t *testing.T) {
	a, b := pendingItem("a@example.org"), pendingItem("b@example.org")
	ledger := newFakeLedger(a, b)
	transport := &fakeTransport{}
	d := NewDispatcher(ledger, transport, nil, "https://vote.example.org", nil)

	require.NoError(t, d.Dispatch(context.Background(), testPoll()))

	for _, it := range []PendingItem{a, b} {
		assert.Equal(t,
			[]models.DeliveryStatus{models.DeliveryQueueing, models.DeliverySending, models.DeliverySuccess},
			ledger.status[it.Token])
	}
	require.Len(t, transport.sent, 2)
	// The mail body carries the voter's one-time bulletin link.
	assert.Contains(t, transport.sent[0], "https://vote.example.org/get_bulletin/"+a.Token.String()+"/")
}

func TestDispatchRecordsSendFailure(t *testing.T) {
	ok, bad := pendingItem("ok@example.org"), pendingItem("bad@example.org")
	ledger := newFakeLedger(bad, ok)
	transport := &fakeTransport{failFor: map[string]error{"bad@example.org": errors.New("mailbox full")}}
	d := NewDispatcher(ledger, transport, nil, "https://vote.example.org", nil)

	// One failed recipient never aborts the run.
	require.NoError(t, d.Dispatch(context.Background(), testPoll()))

	assert.Equal(t, models.DeliveryError, ledger.status[bad.Token][len(ledger.status[bad.Token])-1])
	assert.Equal(t, "mailbox full", ledger.info[bad.Token].Error)
	assert.NotEmpty(t, ledger.info[bad.Token].Time)

	assert.Equal(t, models.DeliverySuccess, ledger.status[ok.Token][len(ledger.status[ok.Token])-1])
	assert.Len(t, transport.sent, 1)
}

func TestDispatchNothingPending(t *testing.T) {
	ledger := newFakeLedger()
	transport := &fakeTransport{}
	d := NewDispatcher(ledger, transport, nil, "https://vote.example.org", nil)

	require.NoError(t, d.Dispatch(context.Background(), testPoll()))
	assert.Empty(t, transport.sent)
	assert.Empty(t, ledger.status)
}

func TestDispatchLockBusy(t *testing.T) {
	poll := testPoll()
	locker := &fakeLocker{held: map[string]bool{"dispatch:poll:" + poll.ID.String(): true}}
	d := NewDispatcher(newFakeLedger(pendingItem("a@example.org")), &fakeTransport{}, locker, "https://vote.example.org", nil)

	err := d.Dispatch(context.Background(), poll)
	assert.ErrorIs(t, err, ErrDispatchInProgress)
}

func TestDispatchReleasesLock(t *testing.T) {
	poll := testPoll()
	locker := &fakeLocker{}
	d := NewDispatcher(newFakeLedger(pendingItem("a@example.org")), &fakeTransport{}, locker, "https://vote.example.org", nil)

	require.NoError(t, d.Dispatch(context.Background(), poll))
	assert.False(t, locker.held["dispatch:poll:"+poll.ID.String()])
}
