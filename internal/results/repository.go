package results

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/areopag-vote/backend/internal/models"
)

// invalidAttemptsCap bounds the listed attempts; the count is always exact.
const invalidAttemptsCap = 100

// Tally is the read-side aggregation for one finished poll.
type Tally struct {
	// VotersTotal counts all of the secretary's voters, not just this
	// poll's enrollment.
	VotersTotal int `json:"voters_total"`
	// Attended counts entitlement records for the poll.
	Attended int `json:"attended"`
	// Issued counts entitlements whose key was disclosed (visited).
	Issued int `json:"issued"`
	// Voted counts keys that left not_returned, spoiled included.
	Voted int `json:"voted"`
	// Votes groups redeemed and unredeemed key values by response.
	Votes map[models.BallotResponse][]string `json:"votes"`
	// Counts are the per-response totals.
	Counts map[models.BallotResponse]int `json:"counts"`
	// InvalidCount is the exact number of invalid redemption attempts.
	InvalidCount int `json:"invalid_count"`
	// InvalidAttempts lists at most the first hundred attempts.
	InvalidAttempts []models.InvalidAttempt `json:"invalid_attempts"`
}

// Repository aggregates ledger and key records into counts.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a results repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Tally computes the full report for a poll. The caller gates on the poll
// being finished.
func (r *Repository) Tally(ctx context.Context, poll *models.Poll) (*Tally, error) {
	t := &Tally{
		Votes:  make(map[models.BallotResponse][]string),
		Counts: make(map[models.BallotResponse]int),
	}

	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM voters WHERE secretary_id = $1`, poll.SecretaryID).
		Scan(&t.VotersTotal)
	if err != nil {
		return nil, err
	}

	err = r.pool.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE visited) FROM entitlements WHERE poll_id = $1`,
		poll.ID).Scan(&t.Attended, &t.Issued)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT response, value FROM ballot_keys WHERE poll_id = $1 ORDER BY response, value`,
		poll.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var k models.BallotKey
		if err := rows.Scan(&k.Response, &k.Value); err != nil {
			return nil, err
		}
		t.Votes[k.Response] = append(t.Votes[k.Response], k.Value)
		t.Counts[k.Response]++
		if k.Response != models.ResponseNotReturned {
			t.Voted++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM invalid_attempts WHERE poll_id = $1`, poll.ID).
		Scan(&t.InvalidCount)
	if err != nil {
		return nil, err
	}

	attempts, err := r.pool.Query(ctx,
		`SELECT id, poll_id, value, attempted_at FROM invalid_attempts
		 WHERE poll_id = $1 ORDER BY attempted_at DESC LIMIT $2`,
		poll.ID, invalidAttemptsCap)
	if err != nil {
		return nil, err
	}
	defer attempts.Close()
	for attempts.Next() {
		var a models.InvalidAttempt
		if err := attempts.Scan(&a.ID, &a.PollID, &a.Value, &a.AttemptedAt); err != nil {
			return nil, err
		}
		t.InvalidAttempts = append(t.InvalidAttempts, a)
	}
	return t, attempts.Err()
}
