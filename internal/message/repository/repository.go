package repository

import (
	"context"

	"bizlinkone/backend/internal/message/domain"
)

// Repository defines persistence for channel messages. Every write fires the realtime notify
// trigger, so callers never publish change events themselves.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Message, error)
	ListByChannel(ctx context.Context, workspaceID, channelID string, limit int32) ([]*domain.Message, error)
	Create(ctx context.Context, m *domain.Message) error
	UpdateBody(ctx context.Context, id, body string) (*domain.Message, error)
	Delete(ctx context.Context, id string) (*domain.Message, error)
}
