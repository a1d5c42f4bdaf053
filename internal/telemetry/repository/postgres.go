package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"bizlinkone/backend/internal/telemetry/domain"
)

const eventColumns = `id, workspace_id, user_id, conn_id, topic, event_type, source, metadata, created_at`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an event repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Save persists the event. It sets t.ID on success.
func (r *PostgresRepository) Save(ctx context.Context, t *domain.Telemetry) error {
	return r.db.QueryRowContext(ctx,
		`INSERT INTO realtime_events (workspace_id, user_id, conn_id, topic, event_type, source, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		t.WorkspaceID,
		nullStringFromPtr(t.UserID),
		nullStringFromPtr(t.ConnID),
		nullStringFromPtr(t.Topic),
		t.EventType,
		t.Source,
		eventMetadata(t.Metadata),
		t.CreatedAt,
	).Scan(&t.ID)
}

// GetByID returns the event for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*domain.Telemetry, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM realtime_events WHERE id = $1`, id)
	t, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return t, nil
}

// ListByWorkspace returns events for the workspace, newest first, paginated by limit and offset.
func (r *PostgresRepository) ListByWorkspace(ctx context.Context, workspaceID string, limit, offset int32) ([]*domain.Telemetry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM realtime_events WHERE workspace_id = $1
		 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`,
		workspaceID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Telemetry
	for rows.Next() {
		t, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(s rowScanner) (*domain.Telemetry, error) {
	var (
		t                     domain.Telemetry
		userID, connID, topic sql.NullString
		meta                  []byte
	)
	if err := s.Scan(&t.ID, &t.WorkspaceID, &userID, &connID, &topic, &t.EventType, &t.Source, &meta, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.UserID = ptrFromNullString(userID)
	t.ConnID = ptrFromNullString(connID)
	t.Topic = ptrFromNullString(topic)
	if meta == nil {
		meta = []byte("{}")
	}
	t.Metadata = meta
	return &t, nil
}

func nullStringFromPtr(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func ptrFromNullString(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	return &n.String
}

func eventMetadata(b []byte) json.RawMessage {
	if len(b) == 0 {
		return json.RawMessage("{}")
	}
	return json.RawMessage(b)
}
