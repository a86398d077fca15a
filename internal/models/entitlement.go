package models

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryStatus tracks how an entitlement's key link is delivered.
type DeliveryStatus string

const (
	// DeliveryLocal means nothing is emailed; the key is printed in the room.
	DeliveryLocal DeliveryStatus = "local"
	// DeliveryReady means the email is waiting to be dispatched.
	DeliveryReady    DeliveryStatus = "ready"
	DeliveryQueueing DeliveryStatus = "queueing"
	DeliverySending  DeliveryStatus = "sending"
	DeliverySuccess  DeliveryStatus = "success"
	DeliveryError    DeliveryStatus = "error"
)

// DeliveryInfo is free-form metadata about the last send attempt,
// stored as jsonb on the entitlement row.
type DeliveryInfo struct {
	Error string `json:"error,omitempty"`
	Time  string `json:"time,omitempty"`
}

// Entitlement is one ledger row per (voter, poll) pair. PublicToken is the
// unguessable identifier embedded in the emailed link; it requests key
// issuance but can never be used to vote. Visited flips false->true exactly
// once, in the same transaction that mints the private key.
type Entitlement struct {
	PublicToken uuid.UUID      `json:"public_token"`
	PollID      uuid.UUID      `json:"poll_id"`
	VoterID     uuid.UUID      `json:"voter_id"`
	SecretaryID uuid.UUID      `json:"secretary_id"`
	Status      DeliveryStatus `json:"status"`
	Visited     bool           `json:"visited"`
	Info        DeliveryInfo   `json:"info"`
	CreatedAt   time.Time      `json:"created_at"`
}
