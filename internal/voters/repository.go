package voters

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/areopag-vote/backend/internal/models"
)

// Repository handles voter persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a voters repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a voter owned by the secretary.
func (r *Repository) Create(ctx context.Context, v *models.Voter) error {
	const q = `INSERT INTO voters (id, secretary_id, full_name, email)
		VALUES (gen_random_uuid(), $1, $2, $3)
		RETURNING id, created_at`
	return r.pool.QueryRow(ctx, q, v.SecretaryID, v.FullName, v.Email).Scan(&v.ID, &v.CreatedAt)
}

// GetByID returns a voter by ID. When scope is non-nil only that secretary's
// voters are visible.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID, scope *uuid.UUID) (*models.Voter, error) {
	const q = `SELECT id, secretary_id, full_name, email, created_at FROM voters
		WHERE id = $1 AND ($2::uuid IS NULL OR secretary_id = $2)`
	var v models.Voter
	err := r.pool.QueryRow(ctx, q, id, scope).
		Scan(&v.ID, &v.SecretaryID, &v.FullName, &v.Email, &v.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// List returns voters visible in scope, ordered by name.
func (r *Repository) List(ctx context.Context, scope *uuid.UUID) ([]models.Voter, error) {
	const q = `SELECT id, secretary_id, full_name, email, created_at FROM voters
		WHERE ($1::uuid IS NULL OR secretary_id = $1) ORDER BY full_name`
	rows, err := r.pool.Query(ctx, q, scope)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Voter
	for rows.Next() {
		var v models.Voter
		if err := rows.Scan(&v.ID, &v.SecretaryID, &v.FullName, &v.Email, &v.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, v)
	}
	return list, rows.Err()
}

// Update changes a voter's name and email.
func (r *Repository) Update(ctx context.Context, id uuid.UUID, scope *uuid.UUID, fullName, email string) (bool, error) {
	const q = `UPDATE voters SET full_name = $3, email = $4
		WHERE id = $1 AND ($2::uuid IS NULL OR secretary_id = $2)`
	tag, err := r.pool.Exec(ctx, q, id, scope, fullName, email)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Delete removes a voter unless any entitlement references it. Voters with
// issued ballots stay immutable for the poll's audit trail.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID, scope *uuid.UUID) (bool, error) {
	const q = `DELETE FROM voters
		WHERE id = $1 AND ($2::uuid IS NULL OR secretary_id = $2)
		AND NOT EXISTS (SELECT 1 FROM entitlements WHERE voter_id = $1)`
	tag, err := r.pool.Exec(ctx, q, id, scope)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
