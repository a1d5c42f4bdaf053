// Package wire holds the JSON frames exchanged between the realtime gateway and its websocket
// clients. Frames follow the Phoenix channel shape: {topic, event, payload, ref}.
package wire

import (
	"encoding/json"
	"fmt"
	"time"

	"bizlinkone/backend/internal/realtime"
)

// Events.
const (
	EventJoin            = "phx_join"
	EventLeave           = "phx_leave"
	EventReply           = "phx_reply"
	EventError           = "phx_error"
	EventClose           = "phx_close"
	EventHeartbeat       = "heartbeat"
	EventPresence        = "presence"
	EventPresenceState   = "presence_state"
	EventPresenceDiff    = "presence_diff"
	EventPostgresChanges = "postgres_changes"
)

// PhoenixTopic carries heartbeats.
const PhoenixTopic = "phoenix"

// Reply statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Presence actions carried by EventPresence.
const (
	PresenceTrack   = "track"
	PresenceUntrack = "untrack"
)

// Frame is one websocket message in either direction.
type Frame struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
	JoinRef string          `json:"join_ref,omitempty"`
}

// NewFrame marshals payload into a frame. A nil payload encodes as {}.
func NewFrame(topic, event, ref string, payload any) (Frame, error) {
	f := Frame{Topic: topic, Event: event, Ref: ref}
	if payload == nil {
		f.Payload = json.RawMessage("{}")
		return f, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("wire: marshal %s payload: %w", event, err)
	}
	f.Payload = b
	return f, nil
}

// Decode unmarshals the frame payload into v.
func (f Frame) Decode(v any) error {
	if len(f.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(f.Payload, v); err != nil {
		return fmt.Errorf("wire: decode %s payload: %w", f.Event, err)
	}
	return nil
}

// PostgresChangesFilter is one requested change subscription in a join.
type PostgresChangesFilter struct {
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Filter string `json:"filter,omitempty"`
}

// PresenceConfig names the presence key in a join.
type PresenceConfig struct {
	Key string `json:"key"`
}

// JoinConfig is the config object of a join payload.
type JoinConfig struct {
	Presence        PresenceConfig          `json:"presence"`
	PostgresChanges []PostgresChangesFilter `json:"postgres_changes,omitempty"`
}

// JoinPayload is the payload of phx_join.
type JoinPayload struct {
	Config      JoinConfig `json:"config"`
	AccessToken string     `json:"access_token,omitempty"`
}

// ReplyPayload is the payload of phx_reply.
type ReplyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response,omitempty"`
}

// ErrorResponse is the response of an error reply.
type ErrorResponse struct {
	Reason string `json:"reason"`
}

// PresencePayload is the payload of a client presence frame.
type PresencePayload struct {
	Type    string         `json:"type"`
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload,omitempty"`
}

// PresenceDiff is the payload of presence_diff.
type PresenceDiff struct {
	Joins  realtime.PresenceSnapshot `json:"joins"`
	Leaves realtime.PresenceSnapshot `json:"leaves"`
}

// ChangeData is the row change carried by postgres_changes.
type ChangeData struct {
	Type            string         `json:"type"`
	Schema          string         `json:"schema"`
	Table           string         `json:"table"`
	Record          map[string]any `json:"record,omitempty"`
	OldRecord       map[string]any `json:"old_record,omitempty"`
	CommitTimestamp string         `json:"commit_timestamp,omitempty"`
}

// ChangesPayload is the payload of postgres_changes.
type ChangesPayload struct {
	Data ChangeData `json:"data"`
}

// Filters converts the join's change subscriptions into realtime filters.
func (c JoinConfig) Filters() ([]realtime.ChangeFilter, error) {
	out := make([]realtime.ChangeFilter, 0, len(c.PostgresChanges))
	for _, pc := range c.PostgresChanges {
		kind := realtime.ChangeKind(pc.Event)
		if pc.Event == "" {
			kind = realtime.ChangeAll
		}
		if !kind.Valid() {
			return nil, fmt.Errorf("wire: unknown change event %q", pc.Event)
		}
		match, err := realtime.ParseFilterString(pc.Filter)
		if err != nil {
			return nil, err
		}
		out = append(out, realtime.ChangeFilter{Event: kind, Schema: pc.Schema, Table: pc.Table, Match: match})
	}
	return out, nil
}

// FilterToWire is the inverse of JoinConfig.Filters for one filter.
func FilterToWire(f realtime.ChangeFilter) PostgresChangesFilter {
	ev := string(f.Event)
	if ev == "" {
		ev = string(realtime.ChangeAll)
	}
	return PostgresChangesFilter{Event: ev, Schema: f.Schema, Table: f.Table, Filter: f.FilterString()}
}

// ChangeToWire converts a change event for postgres_changes.
func ChangeToWire(ev realtime.ChangeEvent) ChangesPayload {
	d := ChangeData{
		Type:      string(ev.Kind),
		Schema:    ev.Schema,
		Table:     ev.Table,
		Record:    ev.Record,
		OldRecord: ev.OldRecord,
	}
	if !ev.CommitTimestamp.IsZero() {
		d.CommitTimestamp = ev.CommitTimestamp.UTC().Format(time.RFC3339Nano)
	}
	return ChangesPayload{Data: d}
}

// ChangeFromWire converts postgres_changes data back into a change event. An unparsable commit
// timestamp is left zero.
func ChangeFromWire(d ChangeData) (realtime.ChangeEvent, error) {
	kind := realtime.ChangeKind(d.Type)
	if !kind.Valid() || kind == realtime.ChangeAll {
		return realtime.ChangeEvent{}, fmt.Errorf("wire: unknown change type %q", d.Type)
	}
	ev := realtime.ChangeEvent{
		Kind:      kind,
		Schema:    d.Schema,
		Table:     d.Table,
		Record:    d.Record,
		OldRecord: d.OldRecord,
	}
	if d.CommitTimestamp != "" {
		if ts, err := time.Parse(time.RFC3339Nano, d.CommitTimestamp); err == nil {
			ev.CommitTimestamp = ts
		}
	}
	return ev, nil
}
