package hub

import (
	"context"
	"errors"
	"sort"
	"sync"

	"bizlinkone/backend/internal/realtime"
)

// ErrNotSubscribed is returned by Track on a local channel before Subscribe.
var ErrNotSubscribed = errors.New("hub: channel not subscribed")

// LocalTransport is a realtime.Transport served directly by a Hub, with no network and no
// authorization. Subscribe completes synchronously.
type LocalTransport struct {
	hub *Hub
}

var _ realtime.Transport = (*LocalTransport)(nil)

// NewLocalTransport returns a transport bound to h.
func NewLocalTransport(h *Hub) *LocalTransport {
	return &LocalTransport{hub: h}
}

// OpenChannel returns an unsubscribed channel for topic.
func (t *LocalTransport) OpenChannel(topic string, cfg realtime.ChannelConfig) (realtime.Channel, error) {
	return &localChannel{
		hub:      t.hub,
		topic:    topic,
		cfg:      cfg,
		presence: make(map[realtime.PresenceEventKind][]func(realtime.PresenceEvent)),
		state:    realtime.PresenceSnapshot{},
	}, nil
}

// CloseChannel leaves the hub topic. Closing twice is a no-op.
func (t *LocalTransport) CloseChannel(ch realtime.Channel) error {
	lc, ok := ch.(*localChannel)
	if !ok {
		return errors.New("hub: channel not opened by this transport")
	}
	lc.close()
	return nil
}

type localChange struct {
	filter realtime.ChangeFilter
	fn     func(realtime.ChangeEvent)
}

type localChannel struct {
	hub   *Hub
	topic string
	cfg   realtime.ChannelConfig

	mu         sync.Mutex
	changes    []localChange
	presence   map[realtime.PresenceEventKind][]func(realtime.PresenceEvent)
	state      realtime.PresenceSnapshot
	membership *Membership
	closed     bool
}

func (c *localChannel) Topic() string { return c.topic }

func (c *localChannel) OnChange(filter realtime.ChangeFilter, fn func(realtime.ChangeEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changes = append(c.changes, localChange{filter: filter, fn: fn})
}

func (c *localChannel) OnPresence(kind realtime.PresenceEventKind, fn func(realtime.PresenceEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.presence[kind] = append(c.presence[kind], fn)
}

func (c *localChannel) Subscribe(fn func(realtime.SubscribeState, error)) {
	c.mu.Lock()
	if c.closed || c.membership != nil {
		c.mu.Unlock()
		return
	}
	filters := make([]realtime.ChangeFilter, len(c.changes))
	for i, h := range c.changes {
		filters[i] = h.filter
	}
	c.mu.Unlock()

	m := c.hub.Join(c.topic, c, JoinOptions{Filters: filters, PresenceKey: c.cfg.PresenceKey})
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		m.Leave()
		return
	}
	c.membership = m
	c.mu.Unlock()

	if fn != nil {
		fn(realtime.StateSubscribed, nil)
	}
	m.SyncPresence()
}

func (c *localChannel) Track(ctx context.Context, payload map[string]any) error {
	c.mu.Lock()
	m := c.membership
	c.mu.Unlock()
	if m == nil {
		return ErrNotSubscribed
	}
	return m.Track(payload)
}

func (c *localChannel) Untrack(ctx context.Context) error {
	c.mu.Lock()
	m := c.membership
	c.mu.Unlock()
	if m == nil {
		return nil
	}
	return m.Untrack()
}

func (c *localChannel) PresenceState() realtime.PresenceSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(realtime.PresenceSnapshot, len(c.state))
	for k, metas := range c.state {
		out[k] = append([]realtime.PresenceMeta(nil), metas...)
	}
	return out
}

func (c *localChannel) DeliverChange(topic string, ev realtime.ChangeEvent) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	handlers := append([]localChange(nil), c.changes...)
	c.mu.Unlock()
	for _, h := range handlers {
		if h.filter.Matches(ev) {
			h.fn(ev)
		}
	}
}

func (c *localChannel) DeliverPresenceState(topic string, state realtime.PresenceSnapshot) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.state = state
	handlers := append(([]func(realtime.PresenceEvent))(nil), c.presence[realtime.PresenceSync]...)
	c.mu.Unlock()
	for _, fn := range handlers {
		fn(realtime.PresenceEvent{Kind: realtime.PresenceSync})
	}
}

func (c *localChannel) DeliverPresenceDiff(topic string, joins, leaves realtime.PresenceSnapshot) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	onJoin := append(([]func(realtime.PresenceEvent))(nil), c.presence[realtime.PresenceJoin]...)
	onLeave := append(([]func(realtime.PresenceEvent))(nil), c.presence[realtime.PresenceLeave]...)
	c.mu.Unlock()
	fire(onJoin, realtime.PresenceJoin, joins)
	fire(onLeave, realtime.PresenceLeave, leaves)
}

func fire(handlers []func(realtime.PresenceEvent), kind realtime.PresenceEventKind, diff realtime.PresenceSnapshot) {
	if len(handlers) == 0 || len(diff) == 0 {
		return
	}
	keys := make([]string, 0, len(diff))
	for k := range diff {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		ev := realtime.PresenceEvent{Kind: kind, Key: k, Metas: diff[k]}
		for _, fn := range handlers {
			fn(ev)
		}
	}
}

func (c *localChannel) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	m := c.membership
	c.membership = nil
	c.mu.Unlock()
	if m != nil {
		m.Leave()
	}
}
