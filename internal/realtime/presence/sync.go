// Package presence announces the current user in a workspace presence channel and keeps the
// de-duplicated set of online users, rebuilt from every full snapshot the channel delivers.
package presence

import (
	"context"
	"errors"
	"log"
	"slices"
	"sync"
	"time"

	"bizlinkone/backend/internal/realtime"
)

// DefaultTrackTimeout bounds Track and Untrack calls.
const DefaultTrackTimeout = 5 * time.Second

// ErrClosed is returned by Update and Retry after Close.
var ErrClosed = errors.New("presence: sync closed")

// Self is the identity announced to peers.
type Self struct {
	UserID      string
	DisplayName string
}

// Option configures a Sync.
type Option func(*Sync)

// WithObserver receives join and leave events. They never change the online set.
func WithObserver(fn func(realtime.PresenceEvent)) Option {
	return func(s *Sync) { s.observer = fn }
}

// WithChangeCallback is called with the new online set after it changes.
func WithChangeCallback(fn func([]string)) Option {
	return func(s *Sync) { s.onChange = fn }
}

// WithStatusCallback is called on status transitions of the live handle.
func WithStatusCallback(fn func(realtime.Status, error)) Option {
	return func(s *Sync) { s.onStatus = fn }
}

// WithTrackTimeout overrides DefaultTrackTimeout.
func WithTrackTimeout(d time.Duration) Option {
	return func(s *Sync) {
		if d > 0 {
			s.trackTimeout = d
		}
	}
}

// WithClock sets the clock used for online_at.
func WithClock(now func() time.Time) Option {
	return func(s *Sync) { s.now = now }
}

// Sync owns at most one presence channel. The online set is only ever replaced from a full
// snapshot; it survives connection errors and is emptied on teardown.
type Sync struct {
	transport    realtime.Transport
	observer     func(realtime.PresenceEvent)
	onChange     func([]string)
	onStatus     func(realtime.Status, error)
	trackTimeout time.Duration
	now          func() time.Time

	lifecycle sync.Mutex

	mu          sync.Mutex
	handle      *realtime.Handle
	workspaceID string
	self        Self
	online      []string
	entries     []Entry
	connected   bool
	closed      bool
}

// New returns an idle Sync.
func New(transport realtime.Transport, opts ...Option) *Sync {
	s := &Sync{transport: transport, trackTimeout: DefaultTrackTimeout, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Update points the sync at workspaceID as self. Without a workspace id or a user id the sync
// is disabled and nothing is opened. The same workspace and identity is a no-op; anything else
// tears down the previous channel (untrack, then close) before opening the next.
func (s *Sync) Update(workspaceID string, self Self) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	cur, curWS, curSelf := s.handle, s.workspaceID, s.self
	s.mu.Unlock()

	enabled := workspaceID != "" && self.UserID != ""
	if cur != nil && enabled && curWS == workspaceID && curSelf == self {
		return nil
	}
	if err := s.teardown(true); err != nil {
		log.Printf("presence: teardown %s: %v", curWS, err)
	}
	if !enabled {
		return nil
	}
	return s.open(workspaceID, self)
}

// Retry re-opens the current workspace when its handle is in the error state. The last known
// online set is kept until the next snapshot arrives.
func (s *Sync) Retry() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	cur, ws, self := s.handle, s.workspaceID, s.self
	s.mu.Unlock()

	if cur == nil || cur.Status() != realtime.StatusError {
		return nil
	}
	if err := s.teardown(false); err != nil {
		log.Printf("presence: teardown %s: %v", ws, err)
	}
	return s.open(ws, self)
}

// Close withdraws presence and closes the channel. Safe to call repeatedly.
func (s *Sync) Close() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.teardown(true)
}

// OnlineUsers returns the sorted, de-duplicated online user ids.
func (s *Sync) OnlineUsers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.online)
}

// Entries returns the online users with display data.
func (s *Sync) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.entries)
}

// IsConnected reports whether the channel is subscribed.
func (s *Sync) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Status returns the live handle's status, StatusIdle when disabled, or StatusClosed after Close.
func (s *Sync) Status() realtime.Status {
	s.mu.Lock()
	h, closed := s.handle, s.closed
	s.mu.Unlock()
	if h != nil {
		return h.Status()
	}
	if closed {
		return realtime.StatusClosed
	}
	return realtime.StatusIdle
}

// Err returns the error of the live handle, if any.
func (s *Sync) Err() error {
	s.mu.Lock()
	h := s.handle
	s.mu.Unlock()
	if h == nil {
		return nil
	}
	return h.Err()
}

func (s *Sync) open(workspaceID string, self Self) error {
	h := realtime.NewHandle(workspaceID, s.transport)
	s.mu.Lock()
	s.handle = h
	s.workspaceID = workspaceID
	s.self = self
	s.mu.Unlock()

	cfg := realtime.ChannelConfig{PresenceKey: self.UserID}
	return h.Open(realtime.PresenceTopic(workspaceID), cfg,
		func(ch realtime.Channel) {
			ch.OnPresence(realtime.PresenceSync, func(realtime.PresenceEvent) { s.handleSync(h, ch) })
			ch.OnPresence(realtime.PresenceJoin, func(ev realtime.PresenceEvent) { s.handleObserved(h, ev) })
			ch.OnPresence(realtime.PresenceLeave, func(ev realtime.PresenceEvent) { s.handleObserved(h, ev) })
		},
		func(st realtime.Status, err error) { s.handleStatus(h, self, st, err) },
	)
}

// teardown detaches the current handle, untracks and closes it. With clear the online set is
// emptied as well.
func (s *Sync) teardown(clear bool) error {
	s.mu.Lock()
	h := s.handle
	s.handle = nil
	s.connected = false
	changed := false
	if clear {
		changed = len(s.online) > 0
		s.online = nil
		s.entries = nil
	}
	s.mu.Unlock()

	if changed && s.onChange != nil {
		s.onChange(nil)
	}
	if h == nil {
		return nil
	}
	if ch := h.Channel(); ch != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.trackTimeout)
		if err := ch.Untrack(ctx); err != nil {
			log.Printf("presence: untrack %s: %v", h.Scope(), err)
		}
		cancel()
	}
	return h.Close()
}

func (s *Sync) isCurrent(h *realtime.Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle == h
}

func (s *Sync) handleStatus(h *realtime.Handle, self Self, st realtime.Status, err error) {
	s.mu.Lock()
	if s.handle != h {
		s.mu.Unlock()
		return
	}
	s.connected = st == realtime.StatusConnected
	s.mu.Unlock()

	switch st {
	case realtime.StatusConnected:
		s.track(h, self)
	case realtime.StatusError:
		log.Printf("presence: subscription %s failed: %v", h.Scope(), err)
	}
	if s.onStatus != nil {
		s.onStatus(st, err)
	}
}

func (s *Sync) track(h *realtime.Handle, self Self) {
	ch := h.Channel()
	if ch == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.trackTimeout)
	defer cancel()
	payload := map[string]any{
		FieldUserID:      self.UserID,
		FieldDisplayName: self.DisplayName,
		FieldOnlineAt:    s.now().UTC().Format(time.RFC3339Nano),
	}
	if err := ch.Track(ctx, payload); err != nil {
		log.Printf("presence: track %s: %v", h.Scope(), err)
	}
}

func (s *Sync) handleSync(h *realtime.Handle, ch realtime.Channel) {
	snapshot := ch.PresenceState()
	online := Aggregate(snapshot)
	entries := Entries(snapshot)

	s.mu.Lock()
	if s.handle != h {
		s.mu.Unlock()
		return
	}
	changed := !slices.Equal(s.online, online)
	s.online = online
	s.entries = entries
	s.mu.Unlock()

	if changed && s.onChange != nil {
		s.onChange(slices.Clone(online))
	}
}

func (s *Sync) handleObserved(h *realtime.Handle, ev realtime.PresenceEvent) {
	if !s.isCurrent(h) {
		return
	}
	log.Printf("presence: %s %s (%d metas) on %s", ev.Kind, ev.Key, len(ev.Metas), h.Scope())
	if s.observer != nil {
		s.observer(ev)
	}
}
