package ballots

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/areopag-vote/backend/internal/models"
)

// Repository is the Postgres Store. Unique constraints on ballot_keys.value
// and the conditional visited/response updates arbitrate concurrent requests.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a ballots repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// EntitlementByToken resolves a ledger row and its poll by public token.
func (r *Repository) EntitlementByToken(ctx context.Context, token uuid.UUID) (*models.Entitlement, *models.Poll, error) {
	const q = `SELECT e.public_token, e.poll_id, e.voter_id, e.secretary_id, e.status, e.visited, e.info, e.created_at,
			p.id, p.secretary_id, p.title, p.description, p.allow_spoiling, p.scheduled_at, p.private_key_method, p.state, p.created_at, p.updated_at
		FROM entitlements e
		JOIN polls p ON p.id = e.poll_id
		WHERE e.public_token = $1`
	var ent models.Entitlement
	var poll models.Poll
	var info []byte
	err := r.pool.QueryRow(ctx, q, token).Scan(
		&ent.PublicToken, &ent.PollID, &ent.VoterID, &ent.SecretaryID, &ent.Status, &ent.Visited, &info, &ent.CreatedAt,
		&poll.ID, &poll.SecretaryID, &poll.Title, &poll.Description, &poll.AllowSpoiling,
		&poll.ScheduledAt, &poll.KeyMethod, &poll.State, &poll.CreatedAt, &poll.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, ErrEntitlementNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	if len(info) > 0 {
		_ = json.Unmarshal(info, &ent.Info)
	}
	return &ent, &poll, nil
}

// MintKey inserts the key row and flips visited in one transaction. A losing
// concurrent insert or flip fails cleanly as ErrKeyCollision/ErrAlreadyIssued.
func (r *Repository) MintKey(ctx context.Context, token uuid.UUID, pollID uuid.UUID, value string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`INSERT INTO ballot_keys (value, poll_id) VALUES ($1, $2) ON CONFLICT (value) DO NOTHING`,
		value, pollID)
	if err != nil {
		return fmt.Errorf("insert key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrKeyCollision
	}

	tag, err = tx.Exec(ctx,
		`UPDATE entitlements SET visited = TRUE WHERE public_token = $1 AND visited = FALSE`,
		token)
	if err != nil {
		return fmt.Errorf("flip visited: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyIssued
	}
	return tx.Commit(ctx)
}

// KeyResponse returns the stored response for a key scoped to the poll.
func (r *Repository) KeyResponse(ctx context.Context, pollID uuid.UUID, value string) (models.BallotResponse, error) {
	var resp models.BallotResponse
	err := r.pool.QueryRow(ctx,
		`SELECT response FROM ballot_keys WHERE value = $1 AND poll_id = $2`,
		value, pollID).Scan(&resp)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrKeyNotFound
	}
	if err != nil {
		return "", err
	}
	return resp, nil
}

// RecordResponse writes the response only while the key is still
// not_returned; the WHERE clause makes the first write the only write.
func (r *Repository) RecordResponse(ctx context.Context, pollID uuid.UUID, value string, response models.BallotResponse) (RecordResult, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE ballot_keys SET response = $3 WHERE value = $1 AND poll_id = $2 AND response = 'not_returned'`,
		value, pollID, string(response))
	if err != nil {
		return 0, err
	}
	if tag.RowsAffected() > 0 {
		return RecordStored, nil
	}
	var exists bool
	err = r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM ballot_keys WHERE value = $1 AND poll_id = $2)`,
		value, pollID).Scan(&exists)
	if err != nil {
		return 0, err
	}
	if exists {
		return RecordAlreadyVoted, nil
	}
	return RecordNotFound, nil
}

// LogInvalidAttempt appends one anti-fraud log row. Never deduplicated.
func (r *Repository) LogInvalidAttempt(ctx context.Context, pollID uuid.UUID, value string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO invalid_attempts (poll_id, value) VALUES ($1, $2)`,
		pollID, value)
	return err
}

// LocalUnissued lists public tokens of unvisited local entitlements.
func (r *Repository) LocalUnissued(ctx context.Context, pollID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT public_token FROM entitlements WHERE poll_id = $1 AND status = 'local' AND visited = FALSE`,
		pollID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tokens []uuid.UUID
	for rows.Next() {
		var t uuid.UUID
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}
