package polls

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/areopag-vote/backend/internal/models"
)

// Repository handles poll persistence and lifecycle transitions.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a polls repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const pollColumns = `id, secretary_id, title, description, allow_spoiling, scheduled_at, private_key_method, state, created_at, updated_at`

func scanPoll(row pgx.Row) (*models.Poll, error) {
	var p models.Poll
	err := row.Scan(&p.ID, &p.SecretaryID, &p.Title, &p.Description, &p.AllowSpoiling,
		&p.ScheduledAt, &p.KeyMethod, &p.State, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Create inserts a poll and its voter membership in one transaction.
func (r *Repository) Create(ctx context.Context, p *models.Poll, members []models.PollMember) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const q = `INSERT INTO polls (id, secretary_id, title, description, allow_spoiling, scheduled_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5)
		RETURNING ` + pollColumns
	created, err := scanPoll(tx.QueryRow(ctx, q, p.SecretaryID, p.Title, p.Description, p.AllowSpoiling, p.ScheduledAt))
	if err != nil {
		return err
	}
	*p = *created

	if err := insertMembers(ctx, tx, p.ID, members); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func insertMembers(ctx context.Context, tx pgx.Tx, pollID uuid.UUID, members []models.PollMember) error {
	for _, m := range members {
		_, err := tx.Exec(ctx,
			`INSERT INTO poll_voters (poll_id, voter_id, kind) VALUES ($1, $2, $3)`,
			pollID, m.VoterID, m.Kind)
		if err != nil {
			return fmt.Errorf("enroll voter %s: %w", m.VoterID, err)
		}
	}
	return nil
}

// GetByID returns a poll. When scope is non-nil only that secretary's polls
// are visible.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID, scope *uuid.UUID) (*models.Poll, error) {
	const q = `SELECT ` + pollColumns + ` FROM polls
		WHERE id = $1 AND ($2::uuid IS NULL OR secretary_id = $2)`
	return scanPoll(r.pool.QueryRow(ctx, q, id, scope))
}

// List returns polls visible in scope, newest first.
func (r *Repository) List(ctx context.Context, scope *uuid.UUID) ([]models.Poll, error) {
	const q = `SELECT ` + pollColumns + ` FROM polls
		WHERE ($1::uuid IS NULL OR secretary_id = $1) ORDER BY scheduled_at DESC`
	rows, err := r.pool.Query(ctx, q, scope)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Poll
	for rows.Next() {
		p, err := scanPoll(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *p)
	}
	return list, rows.Err()
}

// Members returns the poll's enrolled voters.
func (r *Repository) Members(ctx context.Context, pollID uuid.UUID) ([]models.PollMember, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT voter_id, kind FROM poll_voters WHERE poll_id = $1`, pollID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.PollMember
	for rows.Next() {
		var m models.PollMember
		if err := rows.Scan(&m.VoterID, &m.Kind); err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

// VoterNames resolves voter IDs to names, for validation messages.
func (r *Repository) VoterNames(ctx context.Context, ids []uuid.UUID) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT full_name FROM voters WHERE id = ANY($1) ORDER BY full_name`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// Update rewrites the poll's editable fields and membership in one
// transaction. allowSpoiling is only applied while the poll has not started.
func (r *Repository) Update(ctx context.Context, p *models.Poll, members []models.PollMember) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const q = `UPDATE polls SET
			title = $2, description = $3, scheduled_at = $4,
			allow_spoiling = CASE WHEN state = 'not_started' THEN $5 ELSE allow_spoiling END,
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + pollColumns
	updated, err := scanPoll(tx.QueryRow(ctx, q, p.ID, p.Title, p.Description, p.ScheduledAt, p.AllowSpoiling))
	if err != nil {
		return err
	}
	*p = *updated

	if _, err := tx.Exec(ctx, `DELETE FROM poll_voters WHERE poll_id = $1`, p.ID); err != nil {
		return err
	}
	if err := insertMembers(ctx, tx, p.ID, members); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Delete removes a poll and, via cascades, its ledger and keys.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM polls WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// SeedStatus maps a membership kind to the delivery status its entitlement is
// seeded with: local voters get printed slips, remote voters enter the mail
// pipeline as ready. The CASE expression in Start mirrors this mapping.
func SeedStatus(kind models.VoterKind) models.DeliveryStatus {
	if kind == models.VoterLocal {
		return models.DeliveryLocal
	}
	return models.DeliveryReady
}

// Start seeds the entitlement ledger and flips the poll to started, as one
// atomic unit so partial seeding is never observed. Seeding is idempotent:
// existing (voter, poll, secretary) rows are kept, so re-running start on an
// already started poll only fills gaps. Statuses are assigned per SeedStatus.
func (r *Repository) Start(ctx context.Context, pollID uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const seed = `INSERT INTO entitlements (poll_id, voter_id, secretary_id, status)
		SELECT pv.poll_id, pv.voter_id, p.secretary_id,
		       CASE pv.kind WHEN 'local' THEN 'local' ELSE 'ready' END
		FROM poll_voters pv
		JOIN polls p ON p.id = pv.poll_id
		WHERE pv.poll_id = $1
		ON CONFLICT (voter_id, poll_id, secretary_id) DO NOTHING`
	if _, err := tx.Exec(ctx, seed, pollID); err != nil {
		return fmt.Errorf("seed entitlements: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE polls SET state = 'started', updated_at = NOW() WHERE id = $1 AND state = 'not_started'`,
		pollID)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Finish moves a started poll to finished. Polls in any other state are
// silently skipped; returns whether the transition happened.
func (r *Repository) Finish(ctx context.Context, pollID uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE polls SET state = 'finished', updated_at = NOW() WHERE id = $1 AND state = 'started'`,
		pollID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Duplicate clones a poll's editable fields and membership into a fresh
// not_started poll, independent of the original's ledger and keys.
func (r *Repository) Duplicate(ctx context.Context, pollID uuid.UUID) (*models.Poll, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	const q = `INSERT INTO polls (id, secretary_id, title, description, allow_spoiling, scheduled_at, private_key_method)
		SELECT gen_random_uuid(), secretary_id, title, description, allow_spoiling, scheduled_at, private_key_method
		FROM polls WHERE id = $1
		RETURNING ` + pollColumns
	clone, err := scanPoll(tx.QueryRow(ctx, q, pollID))
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO poll_voters (poll_id, voter_id, kind)
		 SELECT $2, voter_id, kind FROM poll_voters WHERE poll_id = $1`,
		pollID, clone.ID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return clone, nil
}

// CountByState returns poll counts per lifecycle state, for the public page.
func (r *Repository) CountByState(ctx context.Context) (map[models.PollState]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT state, COUNT(*) FROM polls GROUP BY state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[models.PollState]int)
	for rows.Next() {
		var state models.PollState
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[state] = n
	}
	return counts, rows.Err()
}

// ActiveTitles returns titles of currently started polls.
func (r *Repository) ActiveTitles(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT title FROM polls WHERE state = 'started' ORDER BY scheduled_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var titles []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		titles = append(titles, t)
	}
	return titles, rows.Err()
}
