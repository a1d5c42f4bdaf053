package domain

import (
	"encoding/json"
	"fmt"
)

// wireEvent mirrors the JSON written by the Kafka producer.
type wireEvent struct {
	WorkspaceID string          `json:"workspaceId"`
	UserID      string          `json:"userId"`
	ConnID      string          `json:"connId"`
	Topic       string          `json:"topic"`
	EventType   string          `json:"eventType"`
	Source      string          `json:"source"`
	Metadata    json.RawMessage `json:"metadata"`
	CreatedAt   json.RawMessage `json:"createdAt"`
}

// FromJSON decodes a Kafka event payload into a Telemetry row. Events without a workspace or
// event type cannot be stored and return an error.
func FromJSON(raw []byte) (*Telemetry, error) {
	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("telemetry: decode event: %w", err)
	}
	if w.WorkspaceID == "" || w.EventType == "" {
		return nil, fmt.Errorf("telemetry: event missing workspace or type")
	}
	t := &Telemetry{
		WorkspaceID: w.WorkspaceID,
		UserID:      optional(w.UserID),
		ConnID:      optional(w.ConnID),
		Topic:       optional(w.Topic),
		EventType:   w.EventType,
		Source:      w.Source,
		Metadata:    []byte(w.Metadata),
	}
	if len(w.CreatedAt) > 0 {
		if err := json.Unmarshal(w.CreatedAt, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("telemetry: decode createdAt: %w", err)
		}
	}
	return t, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
