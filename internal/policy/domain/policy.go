package domain

import "time"

// Policy is a workspace-level Rego module that replaces the default channel-join policy.
// Rules must declare package bizlinkone.realtime and define allow.
type Policy struct {
	ID          string
	WorkspaceID string
	Rules       string
	Enabled     bool
	CreatedAt   time.Time
}
