package ballots

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/areopag-vote/backend/internal/models"
)

type fakeKey struct {
	pollID   uuid.UUID
	response models.BallotResponse
}

// fakeStore is an in-memory Store. Like the real one it treats MintKey as a
// single atomic unit, so concurrent issuance races resolve the same way.
type fakeStore struct {
	mu           sync.Mutex
	entitlements map[uuid.UUID]*models.Entitlement
	polls        map[uuid.UUID]*models.Poll
	keys         map[string]*fakeKey
	invalid      []models.InvalidAttempt

	forcedCollisions int
	mintErr          error
	mintErrAfter     int
	mints            int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		entitlements: make(map[uuid.UUID]*models.Entitlement),
		polls:        make(map[uuid.UUID]*models.Poll),
		keys:         make(map[string]*fakeKey),
	}
}

func (f *fakeStore) addPoll(state models.PollState, allowSpoiling bool) *models.Poll {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &models.Poll{
		ID:            uuid.New(),
		SecretaryID:   uuid.New(),
		Title:         "Ivanov dissertation defense",
		AllowSpoiling: allowSpoiling,
		KeyMethod:     models.KeyMethodSixDigits,
		State:         state,
	}
	f.polls[p.ID] = p
	return p
}

func (f *fakeStore) addEntitlement(poll *models.Poll, status models.DeliveryStatus) *models.Entitlement {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := &models.Entitlement{
		PublicToken: uuid.New(),
		PollID:      poll.ID,
		VoterID:     uuid.New(),
		SecretaryID: poll.SecretaryID,
		Status:      status,
	}
	f.entitlements[e.PublicToken] = e
	return e
}

func (f *fakeStore) EntitlementByToken(_ context.Context, token uuid.UUID) (*models.Entitlement, *models.Poll, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entitlements[token]
	if !ok {
		return nil, nil, ErrEntitlementNotFound
	}
	ent := *e
	poll := *f.polls[e.PollID]
	return &ent, &poll, nil
}

func (f *fakeStore) MintKey(_ context.Context, token uuid.UUID, pollID uuid.UUID, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.forcedCollisions > 0 {
		f.forcedCollisions--
		return ErrKeyCollision
	}
	if f.mintErr != nil && f.mints >= f.mintErrAfter {
		return f.mintErr
	}
	if _, taken := f.keys[value]; taken {
		return ErrKeyCollision
	}
	e, ok := f.entitlements[token]
	if !ok || e.Visited {
		return ErrAlreadyIssued
	}
	e.Visited = true
	f.keys[value] = &fakeKey{pollID: pollID, response: models.ResponseNotReturned}
	f.mints++
	return nil
}

func (f *fakeStore) KeyResponse(_ context.Context, pollID uuid.UUID, value string) (models.BallotResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k, ok := f.keys[value]
	if !ok || k.pollID != pollID {
		return "", ErrKeyNotFound
	}
	return k.response, nil
}

func (f *fakeStore) RecordResponse(_ context.Context, pollID uuid.UUID, value string, response models.BallotResponse) (RecordResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k, ok := f.keys[value]
	if !ok || k.pollID != pollID {
		return RecordNotFound, nil
	}
	if k.response != models.ResponseNotReturned {
		return RecordAlreadyVoted, nil
	}
	k.response = response
	return RecordStored, nil
}

func (f *fakeStore) LogInvalidAttempt(_ context.Context, pollID uuid.UUID, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalid = append(f.invalid, models.InvalidAttempt{
		ID:          int64(len(f.invalid) + 1),
		PollID:      pollID,
		Value:       value,
		AttemptedAt: time.Now(),
	})
	return nil
}

func (f *fakeStore) LocalUnissued(_ context.Context, pollID uuid.UUID) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var tokens []uuid.UUID
	for _, e := range f.entitlements {
		if e.PollID == pollID && e.Status == models.DeliveryLocal && !e.Visited {
			tokens = append(tokens, e.PublicToken)
		}
	}
	return tokens, nil
}

func TestIssueKeyOnce(t *testing.T) {
	store := newFakeStore()
	poll := store.addPoll(models.PollStarted, false)
	ent := store.addEntitlement(poll, models.DeliverySuccess)
	svc := NewService(store)

	value, got, err := svc.IssueKey(context.Background(), ent.PublicToken)
	require.NoError(t, err)
	assert.Len(t, value, 6)
	assert.Equal(t, poll.ID, got.ID)
	assert.True(t, store.entitlements[ent.PublicToken].Visited)

	// The same link never discloses a key again, not even the same one.
	_, _, err = svc.IssueKey(context.Background(), ent.PublicToken)
	assert.ErrorIs(t, err, ErrAlreadyIssued)
}

func TestIssueKeyUnknownToken(t *testing.T) {
	svc := NewService(newFakeStore())
	_, _, err := svc.IssueKey(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrEntitlementNotFound)
}

func TestIssueKeyFinishedPollMintsNothing(t *testing.T) {
	store := newFakeStore()
	poll := store.addPoll(models.PollFinished, false)
	ent := store.addEntitlement(poll, models.DeliverySuccess)
	svc := NewService(store)

	_, _, err := svc.IssueKey(context.Background(), ent.PublicToken)
	assert.ErrorIs(t, err, ErrPollFinished)
	assert.Empty(t, store.keys)
	assert.False(t, store.entitlements[ent.PublicToken].Visited)
}

func TestIssueKeyConcurrentSingleWinner(t *testing.T) {
	store := newFakeStore()
	poll := store.addPoll(models.PollStarted, false)
	ent := store.addEntitlement(poll, models.DeliverySuccess)
	svc := NewService(store)

	const workers = 16
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := svc.IssueKey(context.Background(), ent.PublicToken)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var won, lost int
	for err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, ErrAlreadyIssued):
			lost++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, workers-1, lost)
	assert.Len(t, store.keys, 1)
}

func TestIssueKeyRetriesCollisions(t *testing.T) {
	store := newFakeStore()
	poll := store.addPoll(models.PollStarted, false)
	ent := store.addEntitlement(poll, models.DeliverySuccess)
	store.forcedCollisions = 3
	svc := NewService(store)

	value, _, err := svc.IssueKey(context.Background(), ent.PublicToken)
	require.NoError(t, err)
	assert.Len(t, value, 6)
	assert.Zero(t, store.forcedCollisions)
}

func TestIssueKeyExhaustsAttempts(t *testing.T) {
	store := newFakeStore()
	poll := store.addPoll(models.PollStarted, false)
	ent := store.addEntitlement(poll, models.DeliverySuccess)
	store.forcedCollisions = mintAttempts
	svc := NewService(store)

	_, _, err := svc.IssueKey(context.Background(), ent.PublicToken)
	assert.ErrorIs(t, err, ErrKeySpaceExhausted)
}

func TestRedeemRecordsOnce(t *testing.T) {
	store := newFakeStore()
	poll := store.addPoll(models.PollStarted, false)
	ent := store.addEntitlement(poll, models.DeliverySuccess)
	svc := NewService(store)

	value, _, err := svc.IssueKey(context.Background(), ent.PublicToken)
	require.NoError(t, err)

	outcome, err := svc.Redeem(context.Background(), poll, value, nil, false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeForm, outcome)

	outcome, err = svc.Redeem(context.Background(), poll, value, []string{"yes"}, true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRecorded, outcome)

	// A second submission changes nothing, whatever it carries.
	outcome, err = svc.Redeem(context.Background(), poll, value, []string{"no"}, true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyVoted, outcome)
	assert.Equal(t, models.ResponseYes, store.keys[value].response)

	outcome, err = svc.Redeem(context.Background(), poll, value, nil, false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyVoted, outcome)
}

func TestRedeemUnknownKeyLogged(t *testing.T) {
	store := newFakeStore()
	poll := store.addPoll(models.PollStarted, false)
	svc := NewService(store)

	for i := 0; i < 2; i++ {
		outcome, err := svc.Redeem(context.Background(), poll, "000000", []string{"yes"}, true)
		require.NoError(t, err)
		assert.Equal(t, OutcomeNotRegistered, outcome)
	}
	require.Len(t, store.invalid, 2)
	assert.Equal(t, "000000", store.invalid[0].Value)
	assert.Equal(t, poll.ID, store.invalid[0].PollID)
}

func TestRedeemKeyFromAnotherPoll(t *testing.T) {
	store := newFakeStore()
	pollA := store.addPoll(models.PollStarted, false)
	pollB := store.addPoll(models.PollStarted, false)
	ent := store.addEntitlement(pollA, models.DeliverySuccess)
	svc := NewService(store)

	value, _, err := svc.IssueKey(context.Background(), ent.PublicToken)
	require.NoError(t, err)

	outcome, err := svc.Redeem(context.Background(), pollB, value, []string{"yes"}, true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotRegistered, outcome)
	assert.Len(t, store.invalid, 1)
	assert.Equal(t, models.ResponseNotReturned, store.keys[value].response)
}

func TestRedeemSpoiling(t *testing.T) {
	store := newFakeStore()
	forbidding := store.addPoll(models.PollStarted, false)
	entA := store.addEntitlement(forbidding, models.DeliverySuccess)
	allowing := store.addPoll(models.PollStarted, true)
	entB := store.addEntitlement(allowing, models.DeliverySuccess)
	svc := NewService(store)

	valueA, _, err := svc.IssueKey(context.Background(), entA.PublicToken)
	require.NoError(t, err)
	valueB, _, err := svc.IssueKey(context.Background(), entB.PublicToken)
	require.NoError(t, err)

	// Rejected spoiling leaves the key unredeemed.
	outcome, err := svc.Redeem(context.Background(), forbidding, valueA, []string{"yes", "no"}, true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSpoilingNotAllowed, outcome)
	assert.Equal(t, models.ResponseNotReturned, store.keys[valueA].response)

	outcome, err = svc.Redeem(context.Background(), allowing, valueB, []string{"yes", "no"}, true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRecorded, outcome)
	assert.Equal(t, models.ResponseSpoiled, store.keys[valueB].response)
}

func TestRedeemUnrecognizedResponse(t *testing.T) {
	store := newFakeStore()
	poll := store.addPoll(models.PollStarted, false)
	ent := store.addEntitlement(poll, models.DeliverySuccess)
	svc := NewService(store)

	value, _, err := svc.IssueKey(context.Background(), ent.PublicToken)
	require.NoError(t, err)

	outcome, err := svc.Redeem(context.Background(), poll, value, []string{"abstain"}, true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnrecognized, outcome)
	assert.Equal(t, models.ResponseNotReturned, store.keys[value].response)
}

func TestRedeemEmptySubmission(t *testing.T) {
	store := newFakeStore()
	poll := store.addPoll(models.PollStarted, false)
	ent := store.addEntitlement(poll, models.DeliverySuccess)
	svc := NewService(store)

	value, _, err := svc.IssueKey(context.Background(), ent.PublicToken)
	require.NoError(t, err)

	// Submitting the form with nothing selected is unrecognized, not a
	// re-render of the form.
	outcome, err := svc.Redeem(context.Background(), poll, value, nil, true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnrecognized, outcome)
	assert.Equal(t, models.ResponseNotReturned, store.keys[value].response)
}

func TestPrintBatch(t *testing.T) {
	store := newFakeStore()
	poll := store.addPoll(models.PollStarted, false)
	for i := 0; i < 10; i++ {
		store.addEntitlement(poll, models.DeliveryLocal)
	}
	// Remote attendees get their keys by mail, never on printed slips.
	for i := 0; i < 4; i++ {
		store.addEntitlement(poll, models.DeliveryReady)
	}
	svc := NewService(store)

	values, err := svc.PrintBatch(context.Background(), poll.ID)
	require.NoError(t, err)
	require.Len(t, values, 10)

	distinct := make(map[string]struct{})
	for _, v := range values {
		assert.Len(t, v, 6)
		distinct[v] = struct{}{}
	}
	assert.Len(t, distinct, 10)

	for _, e := range store.entitlements {
		if e.Status == models.DeliveryLocal {
			assert.True(t, e.Visited)
		} else {
			assert.False(t, e.Visited)
		}
	}

	// Re-printing mints nothing new: every local entitlement is spent.
	values, err = svc.PrintBatch(context.Background(), poll.ID)
	require.NoError(t, err)
	assert.Empty(t, values)
}

func TestPrintBatchAbortsOnMintFailure(t *testing.T) {
	store := newFakeStore()
	poll := store.addPoll(models.PollStarted, false)
	for i := 0; i < 5; i++ {
		store.addEntitlement(poll, models.DeliveryLocal)
	}
	store.mintErr = errors.New("connection reset")
	store.mintErrAfter = 2
	svc := NewService(store)

	_, err := svc.PrintBatch(context.Background(), poll.ID)
	require.Error(t, err)
	assert.ErrorContains(t, err, "connection reset")
	// Keys minted before the failure stay issued.
	assert.Len(t, store.keys, 2)
}
