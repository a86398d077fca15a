package models

import (
	"time"

	"github.com/google/uuid"
)

// BallotResponse is the recorded outcome of a private key.
type BallotResponse string

const (
	ResponseYes     BallotResponse = "yes"
	ResponseNo      BallotResponse = "no"
	ResponseSpoiled BallotResponse = "spoiled"
	// ResponseNotReturned is the initial state; it leaves this state at most once.
	ResponseNotReturned BallotResponse = "not_returned"
)

// BallotKey is a single-use private key. Its value is the primary key and is
// globally unique across all polls. There is deliberately no reference to the
// voter: the only link between issuance and redemption is that the value
// exists for the poll.
type BallotKey struct {
	Value    string         `json:"value"`
	PollID   uuid.UUID      `json:"poll_id"`
	Response BallotResponse `json:"response"`
}

// InvalidAttempt is an append-only log row for a redemption try against a key
// value not registered for the poll. Kept for anti-fraud reporting only.
type InvalidAttempt struct {
	ID          int64     `json:"id"`
	PollID      uuid.UUID `json:"poll_id"`
	Value       string    `json:"value"`
	AttemptedAt time.Time `json:"attempted_at"`
}
