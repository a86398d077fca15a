package models

import (
	"time"

	"github.com/google/uuid"
)

// PollState is the poll lifecycle state. Transitions only ever move
// not_started -> started -> finished, never skipping or reversing.
type PollState string

const (
	PollNotStarted PollState = "not_started"
	PollStarted    PollState = "started"
	PollFinished   PollState = "finished"
)

// Label returns the user-facing lowercase label for soft state messages.
func (s PollState) Label() string {
	switch s {
	case PollNotStarted:
		return "not started"
	case PollStarted:
		return "in progress"
	case PollFinished:
		return "finished"
	}
	return string(s)
}

// KeyMethod selects how private key values are generated.
type KeyMethod string

// KeyMethodSixDigits is the only supported method: six decimal digits.
const KeyMethodSixDigits KeyMethod = "6"

// Poll is one voting event tied to a single decision, owned by one secretary.
type Poll struct {
	ID            uuid.UUID `json:"id"`
	SecretaryID   uuid.UUID `json:"secretary_id"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	AllowSpoiling bool      `json:"allow_spoiling"`
	ScheduledAt   time.Time `json:"scheduled_at"`
	KeyMethod     KeyMethod `json:"private_key_method"`
	State         PollState `json:"state"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// PollMember is a voter enrolled in a poll as local or remote.
type PollMember struct {
	VoterID uuid.UUID `json:"voter_id"`
	Kind    VoterKind `json:"kind"`
}
