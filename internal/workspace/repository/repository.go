package repository

import (
	"context"

	"bizlinkone/backend/internal/workspace/domain"
)

// Repository defines persistence for workspaces and their channels.
type Repository interface {
	GetWorkspaceByID(ctx context.Context, id string) (*domain.Workspace, error)
	CreateWorkspace(ctx context.Context, w *domain.Workspace) error
	GetChannel(ctx context.Context, workspaceID, channelID string) (*domain.Channel, error)
	ListChannels(ctx context.Context, workspaceID string) ([]*domain.Channel, error)
	CreateChannel(ctx context.Context, c *domain.Channel) error
}
