package repository

import (
	"context"
	"database/sql"
	"errors"

	"bizlinkone/backend/internal/policy/domain"
)

const policyColumns = `id, workspace_id, rules, enabled, created_at`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a policy repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the policy for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Policy, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+policyColumns+` FROM workspace_policies WHERE id = $1`, id)
	p, err := scanPolicy(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

// ListByWorkspace returns every policy of the workspace, oldest first.
func (r *PostgresRepository) ListByWorkspace(ctx context.Context, workspaceID string) ([]*domain.Policy, error) {
	return r.list(ctx, `SELECT `+policyColumns+` FROM workspace_policies WHERE workspace_id = $1 ORDER BY created_at`, workspaceID)
}

// GetEnabledPoliciesByWorkspace returns the enabled policies of the workspace, oldest first.
func (r *PostgresRepository) GetEnabledPoliciesByWorkspace(ctx context.Context, workspaceID string) ([]*domain.Policy, error) {
	return r.list(ctx, `SELECT `+policyColumns+` FROM workspace_policies WHERE workspace_id = $1 AND enabled ORDER BY created_at`, workspaceID)
}

// Create persists the policy and fills ID and CreatedAt.
func (r *PostgresRepository) Create(ctx context.Context, p *domain.Policy) error {
	return r.db.QueryRowContext(ctx,
		`INSERT INTO workspace_policies (workspace_id, rules, enabled) VALUES ($1, $2, $3) RETURNING id, created_at`,
		p.WorkspaceID, p.Rules, p.Enabled,
	).Scan(&p.ID, &p.CreatedAt)
}

// SetEnabled toggles the policy. A missing id is not an error.
func (r *PostgresRepository) SetEnabled(ctx context.Context, id string, enabled bool) error {
	_, err := r.db.ExecContext(ctx, `UPDATE workspace_policies SET enabled = $2 WHERE id = $1`, id, enabled)
	return err
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]*domain.Policy, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPolicy(s rowScanner) (*domain.Policy, error) {
	var p domain.Policy
	if err := s.Scan(&p.ID, &p.WorkspaceID, &p.Rules, &p.Enabled, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}
