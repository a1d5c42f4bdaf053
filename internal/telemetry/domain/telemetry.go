package domain

import "time"

// Telemetry is a persisted realtime gateway event (workspace-scoped, optional user/connection/topic).
type Telemetry struct {
	ID          int64
	WorkspaceID string
	UserID      *string // nil if not set
	ConnID      *string
	Topic       *string
	EventType   string
	Source      string
	Metadata    []byte // JSONB
	CreatedAt   time.Time
}
