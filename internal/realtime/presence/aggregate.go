package presence

import (
	"sort"
	"time"

	"bizlinkone/backend/internal/realtime"
)

// Payload field names announced by Track.
const (
	FieldUserID      = "user_id"
	FieldDisplayName = "display_name"
	FieldOnlineAt    = "online_at"
)

// Entry is one online user as shown to readers.
type Entry struct {
	UserID      string
	DisplayName string
	OnlineSince time.Time
}

// Aggregate flattens a full presence snapshot into the sorted set of online user ids.
// A user present under several keys (one per connection) appears once; metas without a
// user id are skipped. The result depends only on snapshot.
func Aggregate(snapshot realtime.PresenceSnapshot) []string {
	seen := make(map[string]struct{})
	for _, metas := range snapshot {
		for _, meta := range metas {
			if id, ok := userID(meta); ok {
				seen[id] = struct{}{}
			}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Entries is Aggregate with display data: one entry per user id, sorted by id. When a user
// has several metas the earliest online_at wins, and the display name comes from the earliest
// meta that announced one.
func Entries(snapshot realtime.PresenceSnapshot) []Entry {
	byUser := make(map[string]Entry)
	// nameAt is when the meta that supplied a user's display name came online.
	nameAt := make(map[string]time.Time)
	for _, metas := range snapshot {
		for _, meta := range metas {
			id, ok := userID(meta)
			if !ok {
				continue
			}
			at := onlineAt(meta)
			name, _ := meta[FieldDisplayName].(string)
			e, exists := byUser[id]
			if !exists {
				e = Entry{UserID: id, OnlineSince: at}
			} else if earlier(at, e.OnlineSince) {
				e.OnlineSince = at
			}
			if name != "" {
				if prevAt, named := nameAt[id]; !named || earlier(at, prevAt) {
					e.DisplayName = name
					nameAt[id] = at
				}
			}
			byUser[id] = e
		}
	}
	out := make([]Entry, 0, len(byUser))
	for _, e := range byUser {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func userID(meta realtime.PresenceMeta) (string, bool) {
	if meta == nil {
		return "", false
	}
	id, ok := meta[FieldUserID].(string)
	return id, ok && id != ""
}

// onlineAt accepts RFC 3339 strings (the wire form) and time.Time (in-process transports).
func onlineAt(meta realtime.PresenceMeta) time.Time {
	switch v := meta[FieldOnlineAt].(type) {
	case time.Time:
		return v
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t
		}
	}
	return time.Time{}
}

// earlier orders zero times last.
func earlier(a, b time.Time) bool {
	if b.IsZero() {
		return !a.IsZero()
	}
	return !a.IsZero() && a.Before(b)
}
