// Package hub is the in-process realtime router: topics, their members, row-change fan-out by
// filter, and per-topic presence. The gateway drives it for websocket clients; LocalTransport
// drives it directly.
package hub

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"bizlinkone/backend/internal/realtime"
)

var (
	// ErrLeft is returned by Track and Untrack on a membership that already left.
	ErrLeft = errors.New("hub: membership left")
	// ErrNoPresenceKey is returned by Track on a membership joined without a presence key.
	ErrNoPresenceKey = errors.New("hub: presence key required to track")
)

// Subscriber receives deliveries for one membership. Methods are called without h.mu held.
// Presence deliveries run under the topic's broadcast lock: they must not block, and must not
// call Track, Untrack or Leave on the same topic.
type Subscriber interface {
	DeliverChange(topic string, ev realtime.ChangeEvent)
	DeliverPresenceState(topic string, state realtime.PresenceSnapshot)
	DeliverPresenceDiff(topic string, joins, leaves realtime.PresenceSnapshot)
}

// JoinOptions configures a membership.
type JoinOptions struct {
	// Filters select change events; a membership without filters receives none.
	Filters []realtime.ChangeFilter
	// PresenceKey groups this membership's tracked meta in the topic presence state.
	PresenceKey string
}

// Option configures a Hub.
type Option func(*Hub)

// WithMeter records hub metrics on meter.
func WithMeter(meter otelmetric.Meter) Option {
	return func(h *Hub) { h.meter = meter }
}

// Hub is safe for concurrent use.
type Hub struct {
	meter otelmetric.Meter

	members   otelmetric.Int64UpDownCounter
	delivered otelmetric.Int64Counter
	published otelmetric.Int64Counter

	mu     sync.Mutex
	topics map[string]*topicState
	locks  map[string]*topicLock
}

// topicLock orders presence mutations and their broadcasts on one topic.
type topicLock struct {
	mu   sync.Mutex
	refs int
}

type topicState struct {
	members map[string]*Membership
}

// New returns an empty hub.
func New(opts ...Option) *Hub {
	h := &Hub{topics: make(map[string]*topicState), locks: make(map[string]*topicLock)}
	for _, opt := range opts {
		opt(h)
	}
	if h.meter == nil {
		h.meter = noop.NewMeterProvider().Meter("bizlinkone/realtime/hub")
	}
	// Instrument creation only fails on invalid names; the noop fallback keeps the hub usable.
	var err error
	if h.members, err = h.meter.Int64UpDownCounter("realtime.hub.members",
		otelmetric.WithDescription("Live topic memberships")); err != nil {
		h.members, _ = noop.NewMeterProvider().Meter("").Int64UpDownCounter("realtime.hub.members")
	}
	if h.delivered, err = h.meter.Int64Counter("realtime.hub.changes_delivered",
		otelmetric.WithDescription("Change events delivered to members")); err != nil {
		h.delivered, _ = noop.NewMeterProvider().Meter("").Int64Counter("realtime.hub.changes_delivered")
	}
	if h.published, err = h.meter.Int64Counter("realtime.hub.changes_published",
		otelmetric.WithDescription("Change events published to the hub")); err != nil {
		h.published, _ = noop.NewMeterProvider().Meter("").Int64Counter("realtime.hub.changes_published")
	}
	return h
}

// Join adds sub to topic. The returned membership must be left with Leave.
func (h *Hub) Join(topic string, sub Subscriber, opts JoinOptions) *Membership {
	m := &Membership{
		hub:         h,
		topic:       topic,
		ref:         uuid.NewString(),
		seq:         joinSeq.Add(1),
		sub:         sub,
		filters:     append([]realtime.ChangeFilter(nil), opts.Filters...),
		presenceKey: opts.PresenceKey,
	}
	h.mu.Lock()
	ts, ok := h.topics[topic]
	if !ok {
		ts = &topicState{members: make(map[string]*Membership)}
		h.topics[topic] = ts
	}
	ts.members[m.ref] = m
	h.mu.Unlock()

	h.members.Add(context.Background(), 1, otelmetric.WithAttributes(topicKindAttr(topic)))
	return m
}

// Publish delivers ev to every membership with a matching filter and returns how many received it.
func (h *Hub) Publish(ev realtime.ChangeEvent) int {
	h.mu.Lock()
	var targets []*Membership
	for _, ts := range h.topics {
		for _, m := range ts.members {
			if m.wants(ev) {
				targets = append(targets, m)
			}
		}
	}
	h.mu.Unlock()

	ctx := context.Background()
	h.published.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("table", ev.Table)))
	for _, m := range targets {
		m.sub.DeliverChange(m.topic, ev)
	}
	if len(targets) > 0 {
		h.delivered.Add(ctx, int64(len(targets)), otelmetric.WithAttributes(attribute.String("table", ev.Table)))
	}
	return len(targets)
}

// PresenceState returns the full presence state of topic.
func (h *Hub) PresenceState(topic string) realtime.PresenceSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshotLocked(topic)
}

// Topics returns the number of topics with at least one member.
func (h *Hub) Topics() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics)
}

// Members returns the number of memberships of topic.
func (h *Hub) Members(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ts, ok := h.topics[topic]; ok {
		return len(ts.members)
	}
	return 0
}

// snapshotLocked groups tracked metas by presence key, ordered by membership join order.
func (h *Hub) snapshotLocked(topic string) realtime.PresenceSnapshot {
	out := realtime.PresenceSnapshot{}
	ts, ok := h.topics[topic]
	if !ok {
		return out
	}
	for _, m := range sortedMembers(ts) {
		if m.meta == nil {
			continue
		}
		out[m.presenceKey] = append(out[m.presenceKey], cloneMeta(m.meta))
	}
	return out
}

// lockTopic serializes presence changes on topic from mutation through delivery, so every
// member receives states in the order they were produced. The returned func releases it.
func (h *Hub) lockTopic(topic string) func() {
	h.mu.Lock()
	tl, ok := h.locks[topic]
	if !ok {
		tl = &topicLock{}
		h.locks[topic] = tl
	}
	tl.refs++
	h.mu.Unlock()

	tl.mu.Lock()
	return func() {
		tl.mu.Unlock()
		h.mu.Lock()
		if tl.refs--; tl.refs == 0 {
			delete(h.locks, topic)
		}
		h.mu.Unlock()
	}
}

// presenceChanged broadcasts a diff followed by the full state to every member of topic.
// Called with the topic lock held and h.mu released.
func (h *Hub) presenceChanged(topic string, joins, leaves realtime.PresenceSnapshot) {
	h.mu.Lock()
	state := h.snapshotLocked(topic)
	var targets []*Membership
	if ts, ok := h.topics[topic]; ok {
		targets = sortedMembers(ts)
	}
	h.mu.Unlock()

	for _, m := range targets {
		m.sub.DeliverPresenceDiff(topic, joins, leaves)
		m.sub.DeliverPresenceState(topic, state)
	}
}

func topicKindAttr(topic string) attribute.KeyValue {
	kind, _, _, err := realtime.ParseTopic(topic)
	if err != nil {
		return attribute.String("topic_kind", "other")
	}
	return attribute.String("topic_kind", string(kind))
}

func cloneMeta(meta realtime.PresenceMeta) realtime.PresenceMeta {
	out := make(realtime.PresenceMeta, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
