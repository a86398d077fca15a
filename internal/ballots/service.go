package ballots

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/areopag-vote/backend/internal/models"
)

// RecordResult is the outcome of a conditional response write.
type RecordResult int

const (
	// RecordStored means this request made the first and only write.
	RecordStored RecordResult = iota
	// RecordAlreadyVoted means the key left not_returned earlier.
	RecordAlreadyVoted
	// RecordNotFound means no such key exists for the poll.
	RecordNotFound
)

// Store is the persistence contract for issuance and redemption. Every
// method is one atomic unit; unique constraints arbitrate concurrent calls.
type Store interface {
	// EntitlementByToken resolves a ledger row and its poll by public token.
	EntitlementByToken(ctx context.Context, token uuid.UUID) (*models.Entitlement, *models.Poll, error)
	// MintKey inserts the key and flips the entitlement's visited flag in one
	// transaction. Returns ErrKeyCollision if any poll already owns the value
	// and ErrAlreadyIssued if a concurrent issuance won the visited flip.
	MintKey(ctx context.Context, token uuid.UUID, pollID uuid.UUID, value string) error
	// KeyResponse returns the stored response for a key, or ErrKeyNotFound.
	KeyResponse(ctx context.Context, pollID uuid.UUID, value string) (models.BallotResponse, error)
	// RecordResponse writes the response iff the key is still not_returned.
	RecordResponse(ctx context.Context, pollID uuid.UUID, value string, response models.BallotResponse) (RecordResult, error)
	// LogInvalidAttempt appends one row for an unregistered key submission.
	LogInvalidAttempt(ctx context.Context, pollID uuid.UUID, value string) error
	// LocalUnissued lists public tokens of unvisited local entitlements.
	LocalUnissued(ctx context.Context, pollID uuid.UUID) ([]uuid.UUID, error)
}

// Service implements the key-issuance and voting state machine on top of a
// Store.
type Service struct {
	store Store
}

// NewService creates a ballots service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// IssueKey redeems a public token for a freshly minted private key. The key
// value is disclosed exactly once: a visited entitlement never mints again.
func (s *Service) IssueKey(ctx context.Context, token uuid.UUID) (string, *models.Poll, error) {
	ent, poll, err := s.store.EntitlementByToken(ctx, token)
	if err != nil {
		return "", nil, err
	}
	if poll.State == models.PollFinished {
		return "", poll, ErrPollFinished
	}
	if ent.Visited {
		return "", poll, ErrAlreadyIssued
	}

	for attempt := 0; attempt < mintAttempts; attempt++ {
		value, err := GenerateValue(poll.KeyMethod)
		if err != nil {
			return "", poll, err
		}
		err = s.store.MintKey(ctx, token, poll.ID, value)
		if errors.Is(err, ErrKeyCollision) {
			continue
		}
		if err != nil {
			return "", poll, err
		}
		return value, poll, nil
	}
	return "", poll, ErrKeySpaceExhausted
}

// PrintBatch mints one key per unvisited local entitlement of the poll and
// returns the values shuffled. The first minting failure aborts the whole
// batch and is reported inline; keys minted before the failure stay issued.
func (s *Service) PrintBatch(ctx context.Context, pollID uuid.UUID) ([]string, error) {
	tokens, err := s.store.LocalUnissued(ctx, pollID)
	if err != nil {
		return nil, err
	}
	values := make([]string, 0, len(tokens))
	for _, token := range tokens {
		value, _, err := s.IssueKey(ctx, token)
		if err != nil {
			return nil, err
		}
		values = append(values, value)
	}
	if err := shuffleValues(values); err != nil {
		return nil, err
	}
	return values, nil
}

// VoteOutcome is what the redemption surface should show.
type VoteOutcome int

const (
	// OutcomeForm renders the ballot form: the key exists and is unredeemed.
	OutcomeForm VoteOutcome = iota
	OutcomeRecorded
	OutcomeAlreadyVoted
	OutcomeNotRegistered
	OutcomeUnrecognized
	OutcomeSpoilingNotAllowed
)

// ParseResponse resolves submitted response tokens. Exactly one of yes/no
// selects that value; yes and no together collapse to a spoiled ballot; any
// other combination is unrecognized.
func ParseResponse(values []string) (models.BallotResponse, error) {
	set := make(map[models.BallotResponse]struct{}, len(values))
	for _, v := range values {
		switch models.BallotResponse(v) {
		case models.ResponseYes:
			set[models.ResponseYes] = struct{}{}
		case models.ResponseNo:
			set[models.ResponseNo] = struct{}{}
		default:
			return "", ErrUnrecognizedResponse
		}
	}
	switch len(set) {
	case 1:
		for r := range set {
			return r, nil
		}
	case 2:
		return models.ResponseSpoiled, nil
	}
	return "", ErrUnrecognizedResponse
}

// Redeem matches a submitted private key against the poll and, when the form
// was submitted, records the vote at most once. The caller has already
// verified the poll exists and is started. Unknown key values are logged and
// reported softly, never blocked. A submission with no response values is
// unrecognized, not a re-render of the form.
func (s *Service) Redeem(ctx context.Context, poll *models.Poll, value string, responses []string, submitted bool) (VoteOutcome, error) {
	current, err := s.store.KeyResponse(ctx, poll.ID, value)
	if errors.Is(err, ErrKeyNotFound) {
		if logErr := s.store.LogInvalidAttempt(ctx, poll.ID, value); logErr != nil {
			return 0, logErr
		}
		return OutcomeNotRegistered, nil
	}
	if err != nil {
		return 0, err
	}

	if submitted {
		resolved, err := ParseResponse(responses)
		if err != nil {
			return OutcomeUnrecognized, nil
		}
		if resolved == models.ResponseSpoiled && !poll.AllowSpoiling {
			return OutcomeSpoilingNotAllowed, nil
		}
		if current == models.ResponseNotReturned {
			result, err := s.store.RecordResponse(ctx, poll.ID, value, resolved)
			if err != nil {
				return 0, err
			}
			switch result {
			case RecordStored:
				return OutcomeRecorded, nil
			case RecordAlreadyVoted:
				return OutcomeAlreadyVoted, nil
			case RecordNotFound:
				return OutcomeNotRegistered, nil
			}
		}
		return OutcomeAlreadyVoted, nil
	}

	if current == models.ResponseNotReturned {
		return OutcomeForm, nil
	}
	return OutcomeAlreadyVoted, nil
}
