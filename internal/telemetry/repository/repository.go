package repository

import (
	"context"

	"bizlinkone/backend/internal/telemetry/domain"
)

// Repository defines persistence for gateway events.
type Repository interface {
	Save(ctx context.Context, t *domain.Telemetry) error
	GetByID(ctx context.Context, id int64) (*domain.Telemetry, error)
	ListByWorkspace(ctx context.Context, workspaceID string, limit, offset int32) ([]*domain.Telemetry, error)
}
