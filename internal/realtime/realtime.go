// Package realtime defines the channel primitives shared by the sync hooks, the in-process hub,
// the websocket client transport and the gateway: change events, presence snapshots, the
// Transport/Channel ports, and the Handle state machine that owns one open channel.
package realtime

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ChangeKind is the row mutation kind carried by a change event.
type ChangeKind string

const (
	ChangeInsert ChangeKind = "INSERT"
	ChangeUpdate ChangeKind = "UPDATE"
	ChangeDelete ChangeKind = "DELETE"
	// ChangeAll matches every kind when used in a filter.
	ChangeAll ChangeKind = "*"
)

// Valid reports whether k is a known kind (including ChangeAll).
func (k ChangeKind) Valid() bool {
	switch k {
	case ChangeInsert, ChangeUpdate, ChangeDelete, ChangeAll:
		return true
	}
	return false
}

// ChangeEvent is a single row change on a table.
type ChangeEvent struct {
	Kind            ChangeKind
	Schema          string
	Table           string
	Record          map[string]any // new row; empty for DELETE
	OldRecord       map[string]any // previous row (or primary key only) for UPDATE/DELETE
	CommitTimestamp time.Time
}

// Row returns the row a filter should be evaluated against: the old record for deletes, the new one otherwise.
func (e ChangeEvent) Row() map[string]any {
	if e.Kind == ChangeDelete {
		return e.OldRecord
	}
	return e.Record
}

// ChangeFilter selects change events by kind, table and column equality.
type ChangeFilter struct {
	Event  ChangeKind
	Schema string
	Table  string
	// Match holds column = value equality conditions; all must hold.
	Match map[string]string
}

// Matches reports whether ev satisfies the filter.
func (f ChangeFilter) Matches(ev ChangeEvent) bool {
	if f.Event != "" && f.Event != ChangeAll && f.Event != ev.Kind {
		return false
	}
	if f.Schema != "" && f.Schema != ev.Schema {
		return false
	}
	if f.Table != "" && f.Table != ev.Table {
		return false
	}
	if len(f.Match) == 0 {
		return true
	}
	row := ev.Row()
	if row == nil {
		return false
	}
	for col, want := range f.Match {
		v, ok := row[col]
		if !ok || v == nil {
			return false
		}
		if fmt.Sprint(v) != want {
			return false
		}
	}
	return true
}

// FilterString encodes Match as "col=eq.value" terms joined by commas, sorted by column.
func (f ChangeFilter) FilterString() string {
	if len(f.Match) == 0 {
		return ""
	}
	cols := make([]string, 0, len(f.Match))
	for c := range f.Match {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = c + "=eq." + f.Match[c]
	}
	return strings.Join(parts, ",")
}

// ParseFilterString is the inverse of FilterString. Only the eq operator is supported.
func ParseFilterString(s string) (map[string]string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	out := make(map[string]string)
	for _, term := range strings.Split(s, ",") {
		col, rest, ok := strings.Cut(strings.TrimSpace(term), "=")
		if !ok || col == "" {
			return nil, fmt.Errorf("realtime: malformed filter term %q", term)
		}
		val, ok := strings.CutPrefix(rest, "eq.")
		if !ok {
			return nil, fmt.Errorf("realtime: unsupported filter operator in %q", term)
		}
		out[col] = val
	}
	return out, nil
}

// PresenceMeta is one tracked payload. A presence key may carry several (one per connection).
type PresenceMeta map[string]any

// PresenceSnapshot is the full presence state of a channel: presence key to its metas.
type PresenceSnapshot map[string][]PresenceMeta

// PresenceEventKind names presence callbacks.
type PresenceEventKind string

const (
	PresenceSync  PresenceEventKind = "sync"
	PresenceJoin  PresenceEventKind = "join"
	PresenceLeave PresenceEventKind = "leave"
)

// PresenceEvent is delivered for join and leave; sync events carry no payload and callers read PresenceState.
type PresenceEvent struct {
	Kind  PresenceEventKind
	Key   string
	Metas []PresenceMeta
}

// SubscribeState is the channel status reported by a transport to a Subscribe callback.
type SubscribeState string

const (
	StateSubscribed   SubscribeState = "SUBSCRIBED"
	StateChannelError SubscribeState = "CHANNEL_ERROR"
	StateTimedOut     SubscribeState = "TIMED_OUT"
	StateClosed       SubscribeState = "CLOSED"
)

// ChannelConfig configures a channel at open time.
type ChannelConfig struct {
	// PresenceKey identifies this client in the presence state; empty disables presence tracking.
	PresenceKey string
}

// Channel is one topic subscription obtained from a Transport.
// OnChange and OnPresence must be registered before Subscribe.
type Channel interface {
	Topic() string
	OnChange(filter ChangeFilter, fn func(ChangeEvent))
	OnPresence(kind PresenceEventKind, fn func(PresenceEvent))
	// Subscribe joins the topic; fn receives every status change, with an error for failure states.
	Subscribe(fn func(SubscribeState, error))
	Track(ctx context.Context, payload map[string]any) error
	Untrack(ctx context.Context) error
	PresenceState() PresenceSnapshot
}

// Transport opens and closes channels against the remote realtime service.
type Transport interface {
	OpenChannel(topic string, cfg ChannelConfig) (Channel, error)
	CloseChannel(ch Channel) error
}
