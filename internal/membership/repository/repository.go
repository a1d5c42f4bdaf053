package repository

import (
	"context"

	"bizlinkone/backend/internal/membership/domain"
)

// Repository defines persistence for workspace members.
type Repository interface {
	GetMember(ctx context.Context, workspaceID, userID string) (*domain.Member, error)
	ListMembers(ctx context.Context, workspaceID string) ([]*domain.Member, error)
	AddMember(ctx context.Context, m *domain.Member) error
	RemoveMember(ctx context.Context, workspaceID, userID string) error
	UpdateRole(ctx context.Context, workspaceID, userID string, role domain.Role) (*domain.Member, error)
}
