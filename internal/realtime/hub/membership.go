package hub

import (
	"context"
	"sort"
	"sync/atomic"

	otelmetric "go.opentelemetry.io/otel/metric"

	"bizlinkone/backend/internal/realtime"
)

// metaRefKey is added to every tracked meta so peers can tell connections apart.
const metaRefKey = "phx_ref"

var joinSeq atomic.Uint64

// Membership is one subscriber's presence on one topic.
type Membership struct {
	hub         *Hub
	topic       string
	ref         string
	seq         uint64
	sub         Subscriber
	filters     []realtime.ChangeFilter
	presenceKey string

	// Guarded by hub.mu.
	meta realtime.PresenceMeta
	left bool
}

// Topic returns the topic joined.
func (m *Membership) Topic() string { return m.topic }

// Ref returns the membership's unique reference, also carried in its presence meta.
func (m *Membership) Ref() string { return m.ref }

// PresenceKey returns the key the membership tracks under.
func (m *Membership) PresenceKey() string { return m.presenceKey }

func (m *Membership) wants(ev realtime.ChangeEvent) bool {
	for _, f := range m.filters {
		if f.Matches(ev) {
			return true
		}
	}
	return false
}

// Track sets (or replaces) this membership's presence meta and broadcasts the change.
func (m *Membership) Track(payload map[string]any) error {
	if m.presenceKey == "" {
		return ErrNoPresenceKey
	}
	meta := make(realtime.PresenceMeta, len(payload)+1)
	for k, v := range payload {
		meta[k] = v
	}
	meta[metaRefKey] = m.ref

	h := m.hub
	unlock := h.lockTopic(m.topic)
	defer unlock()
	h.mu.Lock()
	if m.left {
		h.mu.Unlock()
		return ErrLeft
	}
	prev := m.meta
	m.meta = meta
	h.mu.Unlock()

	leaves := realtime.PresenceSnapshot{}
	if prev != nil {
		leaves[m.presenceKey] = []realtime.PresenceMeta{cloneMeta(prev)}
	}
	joins := realtime.PresenceSnapshot{m.presenceKey: {cloneMeta(meta)}}
	h.presenceChanged(m.topic, joins, leaves)
	return nil
}

// Untrack removes this membership's presence meta. Untracking when nothing is tracked is a no-op.
func (m *Membership) Untrack() error {
	h := m.hub
	unlock := h.lockTopic(m.topic)
	defer unlock()
	h.mu.Lock()
	if m.left {
		h.mu.Unlock()
		return ErrLeft
	}
	prev := m.meta
	m.meta = nil
	h.mu.Unlock()

	if prev == nil {
		return nil
	}
	h.presenceChanged(m.topic, realtime.PresenceSnapshot{}, realtime.PresenceSnapshot{m.presenceKey: {cloneMeta(prev)}})
	return nil
}

// Leave removes the membership from its topic, withdrawing any tracked presence. Idempotent.
func (m *Membership) Leave() {
	h := m.hub
	unlock := h.lockTopic(m.topic)
	defer unlock()
	h.mu.Lock()
	if m.left {
		h.mu.Unlock()
		return
	}
	m.left = true
	prev := m.meta
	m.meta = nil
	if ts, ok := h.topics[m.topic]; ok {
		delete(ts.members, m.ref)
		if len(ts.members) == 0 {
			delete(h.topics, m.topic)
		}
	}
	h.mu.Unlock()

	h.members.Add(context.Background(), -1, otelmetric.WithAttributes(topicKindAttr(m.topic)))
	if prev != nil {
		h.presenceChanged(m.topic, realtime.PresenceSnapshot{}, realtime.PresenceSnapshot{m.presenceKey: {cloneMeta(prev)}})
	}
}

// SyncPresence delivers the topic's current presence state to this membership alone, ordered
// with respect to concurrent broadcasts on the topic.
func (m *Membership) SyncPresence() {
	h := m.hub
	unlock := h.lockTopic(m.topic)
	defer unlock()
	h.mu.Lock()
	if m.left {
		h.mu.Unlock()
		return
	}
	state := h.snapshotLocked(m.topic)
	h.mu.Unlock()
	m.sub.DeliverPresenceState(m.topic, state)
}

func sortedMembers(ts *topicState) []*Membership {
	out := make([]*Membership, 0, len(ts.members))
	for _, m := range ts.members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}
