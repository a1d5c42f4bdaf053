package telemetry

import (
	"encoding/json"
	"time"
)

// Event types emitted by the realtime gateway.
const (
	EventConnOpened     = "realtime.conn_opened"
	EventConnClosed     = "realtime.conn_closed"
	EventJoinAccepted   = "realtime.join_accepted"
	EventJoinRejected   = "realtime.join_rejected"
	EventChannelLeft    = "realtime.channel_left"
	EventPresenceTrack  = "realtime.presence_track"
	EventMessageWritten = "rest.message_written"
	EventGRPCRequest    = "grpc.request"
)

// Event is a gateway lifecycle event. The JSON form is what the Kafka producer writes and the
// worker forwards to Loki.
type Event struct {
	WorkspaceID string          `json:"workspaceId,omitempty"`
	UserID      string          `json:"userId,omitempty"`
	ConnID      string          `json:"connId,omitempty"`
	Topic       string          `json:"topic,omitempty"`
	EventType   string          `json:"eventType"`
	Source      string          `json:"source,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// NewEvent returns an event stamped with the current UTC time. metadata may be nil; values that
// fail to marshal are dropped.
func NewEvent(eventType, source string, metadata any) *Event {
	ev := &Event{EventType: eventType, Source: source, CreatedAt: time.Now().UTC()}
	if metadata != nil {
		if b, err := json.Marshal(metadata); err == nil {
			ev.Metadata = b
		}
	}
	return ev
}
