// Package realtimetest provides a recording Transport for tests of code built on realtime channels.
package realtimetest

import (
	"context"
	"sync"

	"bizlinkone/backend/internal/realtime"
)

// Transport records every OpenChannel/CloseChannel call and the peak number of live channels.
type Transport struct {
	// OpenErr, when set, is returned by OpenChannel.
	OpenErr error
	// CloseErr, when set, is returned by CloseChannel (the channel is still recorded as closed).
	CloseErr error

	mu      sync.Mutex
	opened  []*Channel
	closed  []*Channel
	live    int
	maxLive int
	events  []string
}

var _ realtime.Transport = (*Transport)(nil)

// NewTransport returns an empty recording transport.
func NewTransport() *Transport {
	return &Transport{}
}

// OpenChannel records the call and returns a new fake channel.
func (t *Transport) OpenChannel(topic string, cfg realtime.ChannelConfig) (realtime.Channel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, "open "+topic)
	if t.OpenErr != nil {
		return nil, t.OpenErr
	}
	ch := &Channel{topic: topic, cfg: cfg, presence: make(map[realtime.PresenceEventKind][]func(realtime.PresenceEvent))}
	t.opened = append(t.opened, ch)
	t.live++
	if t.live > t.maxLive {
		t.maxLive = t.live
	}
	return ch, nil
}

// CloseChannel records the call. Closing the same channel twice counts once.
func (t *Transport) CloseChannel(c realtime.Channel) error {
	ch, ok := c.(*Channel)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, "close "+c.Topic())
	if ok && !ch.isClosed() {
		ch.markClosed()
		t.closed = append(t.closed, ch)
		t.live--
	}
	return t.CloseErr
}

// Opened returns the channels opened so far, oldest first.
func (t *Transport) Opened() []*Channel {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Channel(nil), t.opened...)
}

// Closed returns the channels closed so far, in close order.
func (t *Transport) Closed() []*Channel {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Channel(nil), t.closed...)
}

// OpenCount returns the number of OpenChannel calls that returned a channel.
func (t *Transport) OpenCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.opened)
}

// Live returns the number of channels currently open.
func (t *Transport) Live() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live
}

// MaxLive returns the highest number of simultaneously open channels observed.
func (t *Transport) MaxLive() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.maxLive
}

// Events returns the "open <topic>" / "close <topic>" call log.
func (t *Transport) Events() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.events...)
}

// Last returns the most recently opened channel, or nil.
func (t *Transport) Last() *Channel {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.opened) == 0 {
		return nil
	}
	return t.opened[len(t.opened)-1]
}

type changeHandler struct {
	filter realtime.ChangeFilter
	fn     func(realtime.ChangeEvent)
}

// Channel is a fake realtime.Channel driven by the test through the Emit* methods.
type Channel struct {
	topic string
	cfg   realtime.ChannelConfig

	// TrackErr, when set, is returned by Track.
	TrackErr error

	mu        sync.Mutex
	changes   []changeHandler
	presence  map[realtime.PresenceEventKind][]func(realtime.PresenceEvent)
	statusFn  func(realtime.SubscribeState, error)
	snapshot  realtime.PresenceSnapshot
	tracked   []map[string]any
	untracks  int
	closedFlg bool
}

var _ realtime.Channel = (*Channel)(nil)

func (c *Channel) Topic() string { return c.topic }

// Config returns the config the channel was opened with.
func (c *Channel) Config() realtime.ChannelConfig { return c.cfg }

func (c *Channel) OnChange(filter realtime.ChangeFilter, fn func(realtime.ChangeEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changes = append(c.changes, changeHandler{filter: filter, fn: fn})
}

func (c *Channel) OnPresence(kind realtime.PresenceEventKind, fn func(realtime.PresenceEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.presence[kind] = append(c.presence[kind], fn)
}

func (c *Channel) Subscribe(fn func(realtime.SubscribeState, error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statusFn = fn
}

func (c *Channel) Track(ctx context.Context, payload map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.TrackErr != nil {
		return c.TrackErr
	}
	c.tracked = append(c.tracked, payload)
	return nil
}

func (c *Channel) Untrack(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.untracks++
	return nil
}

func (c *Channel) PresenceState() realtime.PresenceSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

// Subscribed reports whether Subscribe was called.
func (c *Channel) Subscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusFn != nil
}

// Filters returns the change filters registered with OnChange.
func (c *Channel) Filters() []realtime.ChangeFilter {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]realtime.ChangeFilter, len(c.changes))
	for i, h := range c.changes {
		out[i] = h.filter
	}
	return out
}

// Tracked returns the payloads passed to Track.
func (c *Channel) Tracked() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]map[string]any(nil), c.tracked...)
}

// Untracks returns how many times Untrack was called.
func (c *Channel) Untracks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.untracks
}

// EmitStatus invokes the Subscribe callback, if any.
func (c *Channel) EmitStatus(state realtime.SubscribeState, err error) {
	c.mu.Lock()
	fn := c.statusFn
	c.mu.Unlock()
	if fn != nil {
		fn(state, err)
	}
}

// EmitChange invokes every change handler whose filter matches ev.
func (c *Channel) EmitChange(ev realtime.ChangeEvent) {
	c.mu.Lock()
	handlers := append([]changeHandler(nil), c.changes...)
	c.mu.Unlock()
	for _, h := range handlers {
		if h.filter.Matches(ev) {
			h.fn(ev)
		}
	}
}

// SetPresence replaces the snapshot returned by PresenceState.
func (c *Channel) SetPresence(snapshot realtime.PresenceSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshot = snapshot
}

// EmitSync replaces the snapshot and fires sync handlers.
func (c *Channel) EmitSync(snapshot realtime.PresenceSnapshot) {
	c.SetPresence(snapshot)
	c.EmitPresence(realtime.PresenceEvent{Kind: realtime.PresenceSync})
}

// EmitPresence fires the handlers registered for ev.Kind.
func (c *Channel) EmitPresence(ev realtime.PresenceEvent) {
	c.mu.Lock()
	handlers := append(([]func(realtime.PresenceEvent))(nil), c.presence[ev.Kind]...)
	c.mu.Unlock()
	for _, fn := range handlers {
		fn(ev)
	}
}

func (c *Channel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closedFlg
}

func (c *Channel) markClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closedFlg = true
}

// IsClosed reports whether the transport closed this channel.
func (c *Channel) IsClosed() bool { return c.isClosed() }
