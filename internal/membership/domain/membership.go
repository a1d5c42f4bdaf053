package domain

import (
	"time"
)

// Member links a user to a workspace with a role.
type Member struct {
	WorkspaceID string
	UserID      string
	DisplayName string
	Role        Role
	JoinedAt    time.Time
}

type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember:
		return true
	}
	return false
}

// IsAdmin reports whether r may manage the workspace (owner or admin).
func (r Role) IsAdmin() bool {
	return r == RoleOwner || r == RoleAdmin
}
