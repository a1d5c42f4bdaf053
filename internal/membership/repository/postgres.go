package repository

import (
	"context"
	"database/sql"
	"errors"

	"bizlinkone/backend/internal/membership/domain"
)

const memberColumns = `workspace_id, user_id, display_name, role, joined_at`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a membership repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetMember returns the membership of userID in workspaceID, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetMember(ctx context.Context, workspaceID, userID string) (*domain.Member, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+memberColumns+` FROM workspace_members WHERE workspace_id = $1 AND user_id = $2`,
		workspaceID, userID)
	m, err := scanMember(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return m, nil
}

// ListMembers returns all members of the workspace ordered by join time. Returns (nil, error) only on database errors.
func (r *PostgresRepository) ListMembers(ctx context.Context, workspaceID string) ([]*domain.Member, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+memberColumns+` FROM workspace_members WHERE workspace_id = $1 ORDER BY joined_at, user_id`,
		workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// AddMember persists the membership. JoinedAt is set from the database when zero.
func (r *PostgresRepository) AddMember(ctx context.Context, m *domain.Member) error {
	return r.db.QueryRowContext(ctx,
		`INSERT INTO workspace_members (workspace_id, user_id, display_name, role)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (workspace_id, user_id) DO UPDATE SET display_name = EXCLUDED.display_name, role = EXCLUDED.role
		 RETURNING joined_at`,
		m.WorkspaceID, m.UserID, m.DisplayName, string(m.Role),
	).Scan(&m.JoinedAt)
}

// RemoveMember deletes the membership. Removing a missing member is not an error.
func (r *PostgresRepository) RemoveMember(ctx context.Context, workspaceID, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM workspace_members WHERE workspace_id = $1 AND user_id = $2`, workspaceID, userID)
	return err
}

// UpdateRole changes the member's role and returns the updated row, or nil if the member does not exist.
func (r *PostgresRepository) UpdateRole(ctx context.Context, workspaceID, userID string, role domain.Role) (*domain.Member, error) {
	row := r.db.QueryRowContext(ctx,
		`UPDATE workspace_members SET role = $3 WHERE workspace_id = $1 AND user_id = $2 RETURNING `+memberColumns,
		workspaceID, userID, string(role))
	m, err := scanMember(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return m, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMember(s rowScanner) (*domain.Member, error) {
	var (
		m    domain.Member
		role string
	)
	if err := s.Scan(&m.WorkspaceID, &m.UserID, &m.DisplayName, &role, &m.JoinedAt); err != nil {
		return nil, err
	}
	m.Role = domain.Role(role)
	return &m, nil
}
