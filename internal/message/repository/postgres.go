package repository

import (
	"context"
	"database/sql"
	"errors"

	"bizlinkone/backend/internal/message/domain"
)

const (
	messageColumns = `id, workspace_id, channel_id, user_id, body, created_at, updated_at`
	// DefaultListLimit is used when ListByChannel is given a non-positive limit.
	DefaultListLimit = 100
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a message repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the message for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	return scanOptional(row)
}

// ListByChannel returns the latest limit messages of the channel, oldest first.
func (r *PostgresRepository) ListByChannel(ctx context.Context, workspaceID, channelID string, limit int32) ([]*domain.Message, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM (
		   SELECT `+messageColumns+` FROM messages
		   WHERE workspace_id = $1 AND channel_id = $2
		   ORDER BY created_at DESC, id DESC LIMIT $3
		 ) latest ORDER BY created_at, id`,
		workspaceID, channelID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []*domain.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Create persists m and fills ID, CreatedAt and UpdatedAt from the database.
func (r *PostgresRepository) Create(ctx context.Context, m *domain.Message) error {
	return r.db.QueryRowContext(ctx,
		`INSERT INTO messages (workspace_id, channel_id, user_id, body) VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at, updated_at`,
		m.WorkspaceID, m.ChannelID, m.UserID, m.Body,
	).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
}

// UpdateBody replaces the body and returns the updated message, or nil if id does not exist.
func (r *PostgresRepository) UpdateBody(ctx context.Context, id, body string) (*domain.Message, error) {
	row := r.db.QueryRowContext(ctx,
		`UPDATE messages SET body = $2, updated_at = now() WHERE id = $1 RETURNING `+messageColumns, id, body)
	return scanOptional(row)
}

// Delete removes the message and returns the deleted row, or nil if id does not exist.
func (r *PostgresRepository) Delete(ctx context.Context, id string) (*domain.Message, error) {
	row := r.db.QueryRowContext(ctx, `DELETE FROM messages WHERE id = $1 RETURNING `+messageColumns, id)
	return scanOptional(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(s rowScanner) (*domain.Message, error) {
	var m domain.Message
	if err := s.Scan(&m.ID, &m.WorkspaceID, &m.ChannelID, &m.UserID, &m.Body, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

func scanOptional(s rowScanner) (*domain.Message, error) {
	m, err := scanMessage(s)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return m, nil
}
