package repository

import (
	"context"

	"bizlinkone/backend/internal/policy/domain"
)

// Repository defines persistence for workspace policies.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Policy, error)
	ListByWorkspace(ctx context.Context, workspaceID string) ([]*domain.Policy, error)
	GetEnabledPoliciesByWorkspace(ctx context.Context, workspaceID string) ([]*domain.Policy, error)
	Create(ctx context.Context, p *domain.Policy) error
	SetEnabled(ctx context.Context, id string, enabled bool) error
}
