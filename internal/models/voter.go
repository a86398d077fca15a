package models

import (
	"time"

	"github.com/google/uuid"
)

// Voter is a dissertation-council member owned by one secretary.
// Voters are referenced by entitlement records once a poll starts, so the
// admin surface must not delete a voter with issued ballots.
type Voter struct {
	ID          uuid.UUID `json:"id"`
	SecretaryID uuid.UUID `json:"secretary_id"`
	FullName    string    `json:"full_name"`
	Email       string    `json:"email"`
	CreatedAt   time.Time `json:"created_at"`
}

// VoterKind says how a voter participates in a particular poll.
type VoterKind string

const (
	// VoterLocal attends in the room; the key is handed out on a printed slip.
	VoterLocal VoterKind = "local"
	// VoterRemote participates remotely; the key link is emailed.
	VoterRemote VoterKind = "remote"
)
