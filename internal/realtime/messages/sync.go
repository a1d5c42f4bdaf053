// Package messages keeps a channel's cached message list fresh: it subscribes to row changes for
// one workspace+channel scope and invalidates the cached query on every insert, update or delete.
package messages

import (
	"errors"
	"log"
	"sync"

	"bizlinkone/backend/internal/querycache"
	"bizlinkone/backend/internal/realtime"
)

const (
	schemaPublic  = "public"
	tableMessages = "messages"
)

// ErrClosed is returned by Update and Retry after Close.
var ErrClosed = errors.New("messages: sync closed")

// QueryKey is the cache key of the message list of channelID.
func QueryKey(channelID string) querycache.Key {
	return querycache.Key{"messages", "channel", channelID}
}

// Filter is the change filter for one workspace+channel pair.
func Filter(workspaceID, channelID string) realtime.ChangeFilter {
	return realtime.ChangeFilter{
		Event:  realtime.ChangeAll,
		Schema: schemaPublic,
		Table:  tableMessages,
		Match:  map[string]string{"workspace_id": workspaceID, "channel_id": channelID},
	}
}

// Option configures a Sync.
type Option func(*Sync)

// WithStatusCallback registers fn for status transitions of the live handle.
func WithStatusCallback(fn func(realtime.Status, error)) Option {
	return func(s *Sync) { s.onStatus = fn }
}

// Sync owns at most one live subscription. Update and Close are serialized; transport callbacks
// from a handle that is no longer current are ignored.
type Sync struct {
	transport realtime.Transport
	cache     querycache.Invalidator
	onStatus  func(realtime.Status, error)

	lifecycle sync.Mutex

	mu          sync.Mutex
	handle      *realtime.Handle
	workspaceID string
	channelID   string
	closed      bool
}

// New returns an idle Sync. Nothing is opened until Update is called with a complete scope.
func New(transport realtime.Transport, cache querycache.Invalidator, opts ...Option) *Sync {
	s := &Sync{transport: transport, cache: cache}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func scopeKey(workspaceID, channelID string) string {
	return workspaceID + "/" + channelID
}

// Update points the sync at a new scope. With enabled false or either id empty the sync is
// disabled and no connection is attempted. The same scope is a no-op; a different scope closes
// the previous handle before the next is opened. The returned error is the open failure, if any.
func (s *Sync) Update(workspaceID, channelID string, enabled bool) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	cur := s.handle
	s.mu.Unlock()

	want := ""
	if enabled && workspaceID != "" && channelID != "" {
		want = scopeKey(workspaceID, channelID)
	}
	if cur != nil && want != "" && cur.Scope() == want {
		return nil
	}

	if err := s.teardown(); err != nil {
		log.Printf("messages: teardown %s: %v", cur.Scope(), err)
	}
	if want == "" {
		return nil
	}
	return s.open(workspaceID, channelID)
}

// Retry re-opens the current scope when its handle is in the error state. Otherwise it is a no-op.
func (s *Sync) Retry() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	cur, ws, ch := s.handle, s.workspaceID, s.channelID
	s.mu.Unlock()

	if cur == nil || cur.Status() != realtime.StatusError {
		return nil
	}
	if err := s.teardown(); err != nil {
		log.Printf("messages: teardown %s: %v", cur.Scope(), err)
	}
	return s.open(ws, ch)
}

// Close tears down the live handle, if any. Safe to call repeatedly.
func (s *Sync) Close() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.teardown()
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

// Err returns the error of the live handle, if it is in the error state.
func (s *Sync) Err() error {
	s.mu.Lock()
	h := s.handle
	s.mu.Unlock()
	if h == nil {
		return nil
	}
	return h.Err()
}

func (s *Sync) open(workspaceID, channelID string) error {
	h := realtime.NewHandle(scopeKey(workspaceID, channelID), s.transport)
	s.mu.Lock()
	s.handle = h
	s.workspaceID = workspaceID
	s.channelID = channelID
	s.mu.Unlock()

	key := QueryKey(channelID)
	filter := Filter(workspaceID, channelID)
	return h.Open(realtime.MessagesTopic(workspaceID, channelID), realtime.ChannelConfig{},
		func(ch realtime.Channel) {
			ch.OnChange(filter, func(ev realtime.ChangeEvent) { s.handleChange(h, key, ev) })
		},
		func(st realtime.Status, err error) { s.handleStatus(h, st, err) },
	)
}

func (s *Sync) teardown() error {
	s.mu.Lock()
	h := s.handle
	s.handle = nil
	s.mu.Unlock()
	if h == nil {
		return nil
	}
	return h.Close()
}

func (s *Sync) isCurrent(h *realtime.Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle == h
}

func (s *Sync) handleChange(h *realtime.Handle, key querycache.Key, ev realtime.ChangeEvent) {
	if !s.isCurrent(h) {
		return
	}
	switch ev.Kind {
	case realtime.ChangeInsert, realtime.ChangeUpdate, realtime.ChangeDelete:
		s.cache.Invalidate(key)
	}
}

func (s *Sync) handleStatus(h *realtime.Handle, st realtime.Status, err error) {
	if !s.isCurrent(h) {
		return
	}
	if st == realtime.StatusError {
		log.Printf("messages: subscription %s failed: %v", h.Scope(), err)
	}
	if s.onStatus != nil {
		s.onStatus(st, err)
	}
}
