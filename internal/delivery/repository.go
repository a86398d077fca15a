package delivery

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/areopag-vote/backend/internal/models"
)

// PendingItem is one ledger row waiting to be dispatched, joined with the
// recipient voter.
type PendingItem struct {
	Token      uuid.UUID
	VoterName  string
	VoterEmail string
}

// LedgerEntry is the admin view of one entitlement row.
type LedgerEntry struct {
	models.Entitlement
	VoterName  string `json:"voter_name"`
	VoterEmail string `json:"voter_email"`
}

// Repository handles entitlement ledger persistence for delivery.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a delivery repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// PendingByPoll returns entitlements not yet terminally delivered: ready,
// error, queueing or sending. Local records are never selected.
func (r *Repository) PendingByPoll(ctx context.Context, pollID uuid.UUID) ([]PendingItem, error) {
	const q = `SELECT e.public_token, v.full_name, v.email
		FROM entitlements e
		JOIN voters v ON v.id = e.voter_id
		WHERE e.poll_id = $1 AND e.status IN ('ready', 'error', 'queueing', 'sending')
		ORDER BY v.full_name`
	rows, err := r.pool.Query(ctx, q, pollID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []PendingItem
	for rows.Next() {
		var it PendingItem
		if err := rows.Scan(&it.Token, &it.VoterName, &it.VoterEmail); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// MarkQueueing bulk-marks the selected records before sequential processing.
func (r *Repository) MarkQueueing(ctx context.Context, tokens []uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE entitlements SET status = 'queueing' WHERE public_token = ANY($1)`,
		tokens)
	return err
}

// MarkSending flags one record just before the transport call.
func (r *Repository) MarkSending(ctx context.Context, token uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE entitlements SET status = 'sending' WHERE public_token = $1`,
		token)
	return err
}

// MarkResult records the terminal status of a send attempt together with its
// metadata.
func (r *Repository) MarkResult(ctx context.Context, token uuid.UUID, status models.DeliveryStatus, info models.DeliveryInfo) error {
	raw, err := json.Marshal(info)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx,
		`UPDATE entitlements SET status = $2, info = $3 WHERE public_token = $1`,
		token, string(status), raw)
	return err
}

// ListByPoll returns the full ledger for a poll, for the admin view. When
// scope is non-nil only that secretary's ledger is visible.
func (r *Repository) ListByPoll(ctx context.Context, pollID uuid.UUID, scope *uuid.UUID) ([]LedgerEntry, error) {
	const q = `SELECT e.public_token, e.poll_id, e.voter_id, e.secretary_id, e.status, e.visited, e.info, e.created_at,
			v.full_name, v.email
		FROM entitlements e
		JOIN voters v ON v.id = e.voter_id
		WHERE e.poll_id = $1 AND ($2::uuid IS NULL OR e.secretary_id = $2)
		ORDER BY e.status, e.visited, v.full_name`
	rows, err := r.pool.Query(ctx, q, pollID, scope)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		var info []byte
		if err := rows.Scan(&e.PublicToken, &e.PollID, &e.VoterID, &e.SecretaryID,
			&e.Status, &e.Visited, &info, &e.CreatedAt, &e.VoterName, &e.VoterEmail); err != nil {
			return nil, err
		}
		if len(info) > 0 {
			_ = json.Unmarshal(info, &e.Info)
		}
		list = append(list, e)
	}
	return list, rows.Err()
}
