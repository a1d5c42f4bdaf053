package repository

import (
	"context"
	"database/sql"
	"errors"

	"bizlinkone/backend/internal/workspace/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a workspace repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetWorkspaceByID returns the workspace for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetWorkspaceByID(ctx context.Context, id string) (*domain.Workspace, error) {
	var w domain.Workspace
	err := r.db.QueryRowContext(ctx, `SELECT id, name, created_at FROM workspaces WHERE id = $1`, id).
		Scan(&w.ID, &w.Name, &w.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &w, nil
}

// CreateWorkspace persists the workspace. When w.ID is empty the database assigns one.
func (r *PostgresRepository) CreateWorkspace(ctx context.Context, w *domain.Workspace) error {
	return r.db.QueryRowContext(ctx,
		`INSERT INTO workspaces (id, name) VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2)
		 RETURNING id, created_at`,
		w.ID, w.Name,
	).Scan(&w.ID, &w.CreatedAt)
}

// GetChannel returns the channel when it exists in workspaceID, or nil otherwise.
func (r *PostgresRepository) GetChannel(ctx context.Context, workspaceID, channelID string) (*domain.Channel, error) {
	var c domain.Channel
	err := r.db.QueryRowContext(ctx,
		`SELECT id, workspace_id, name, created_at FROM channels WHERE workspace_id = $1 AND id = $2`,
		workspaceID, channelID,
	).Scan(&c.ID, &c.WorkspaceID, &c.Name, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// ListChannels returns the channels of the workspace ordered by name.
func (r *PostgresRepository) ListChannels(ctx context.Context, workspaceID string) ([]*domain.Channel, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, workspace_id, name, created_at FROM channels WHERE workspace_id = $1 ORDER BY name`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Channel
	for rows.Next() {
		var c domain.Channel
		if err := rows.Scan(&c.ID, &c.WorkspaceID, &c.Name, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// CreateChannel persists the channel. When c.ID is empty the database assigns one.
func (r *PostgresRepository) CreateChannel(ctx context.Context, c *domain.Channel) error {
	return r.db.QueryRowContext(ctx,
		`INSERT INTO channels (id, workspace_id, name) VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3)
		 RETURNING id, created_at`,
		c.ID, c.WorkspaceID, c.Name,
	).Scan(&c.ID, &c.CreatedAt)
}
