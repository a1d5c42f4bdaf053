// Package rbac resolves the caller's workspace role for the gateway's join and REST checks.
package rbac

import (
	"context"
	"errors"
	"fmt"

	"bizlinkone/backend/internal/membership/domain"
	"bizlinkone/backend/internal/server/interceptors"
)

var (
	// ErrUnauthenticated means the context carries no user identity.
	ErrUnauthenticated = errors.New("rbac: user context required")
	// ErrNotMember means the user has no membership in the workspace.
	ErrNotMember = errors.New("rbac: not a member of this workspace")
	// ErrNotAdmin means the member's role is below admin.
	ErrNotAdmin = errors.New("rbac: workspace admin or owner required")
	// ErrLookup wraps repository failures.
	ErrLookup = errors.New("rbac: failed to resolve membership")
)

// MemberGetter returns a user's membership in a workspace, or nil when there is none.
type MemberGetter interface {
	GetMember(ctx context.Context, workspaceID, userID string) (*domain.Member, error)
}

// RequireWorkspaceMember ensures the caller is authenticated and is a member of workspaceID (any role).
// Returns the membership on success.
func RequireWorkspaceMember(ctx context.Context, getter MemberGetter, workspaceID string) (*domain.Member, error) {
	userID, ok := interceptors.GetUserID(ctx)
	if !ok || userID == "" || workspaceID == "" {
		return nil, ErrUnauthenticated
	}
	m, err := getter.GetMember(ctx, workspaceID, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLookup, err)
	}
	if m == nil {
		return nil, ErrNotMember
	}
	return m, nil
}

// RequireWorkspaceAdmin is RequireWorkspaceMember restricted to owner and admin roles.
func RequireWorkspaceAdmin(ctx context.Context, getter MemberGetter, workspaceID string) (*domain.Member, error) {
	m, err := RequireWorkspaceMember(ctx, getter, workspaceID)
	if err != nil {
		return nil, err
	}
	if !m.Role.IsAdmin() {
		return nil, ErrNotAdmin
	}
	return m, nil
}
