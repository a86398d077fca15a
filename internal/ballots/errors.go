package ballots

import "errors"

// Expected outcomes of issuance and redemption. Everything here is rendered
// as an in-band message on voter surfaces; only unknown storage faults become
// hard request failures.
var (
	ErrEntitlementNotFound = errors.New("bulletin link not found")
	ErrPollNotFound        = errors.New("poll not found")
	ErrPollFinished        = errors.New("the poll is finished")
	ErrAlreadyIssued       = errors.New("the ballot has already been issued")
	ErrKeyNotFound         = errors.New("key not registered")

	// ErrKeyCollision is internal to the mint loop: the candidate value is
	// already taken by some poll. The caller retries with a fresh candidate.
	ErrKeyCollision = errors.New("key value already exists")

	ErrUnknownKeyMethod       = errors.New("unknown private key method")
	ErrKeySpaceExhausted      = errors.New("could not create a private key after 1000 attempts")
	ErrInvalidGeneratorOutput = errors.New("key generator returned a wrong number of digits")

	ErrUnrecognizedResponse = errors.New("response not recognized")
)
