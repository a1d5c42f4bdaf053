package realtime

import (
	"log"
	"sync"
)

// Handle owns one channel for one scope. It is created idle, opened once, and closed once;
// Close is idempotent and safe on a handle that was never opened.
type Handle struct {
	scope     string
	transport Transport

	mu      sync.Mutex
	status  Status
	err     error
	channel Channel
}

// NewHandle returns an idle handle for scope.
func NewHandle(scope string, transport Transport) *Handle {
	return &Handle{scope: scope, transport: transport, status: StatusIdle}
}

// Scope returns the scope key the handle was created for.
func (h *Handle) Scope() string { return h.scope }

// Status returns the current lifecycle state.
func (h *Handle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Err returns the error that moved the handle to StatusError, or nil.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Channel returns the open channel, or nil before Open or after Close.
func (h *Handle) Channel() Channel {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.channel
}

// Open opens topic on the transport, lets setup register handlers, then subscribes.
// onStatus is called (without locks held) on every accepted status transition caused by the transport.
// A failed OpenChannel leaves the handle in StatusError and returns the error.
func (h *Handle) Open(topic string, cfg ChannelConfig, setup func(Channel), onStatus func(Status, error)) error {
	h.mu.Lock()
	if h.status != StatusIdle {
		h.mu.Unlock()
		return ErrHandleNotIdle
	}
	h.status = StatusConnecting
	h.mu.Unlock()

	ch, err := h.transport.OpenChannel(topic, cfg)
	if err != nil {
		h.mu.Lock()
		moved := h.status == StatusConnecting
		if moved {
			h.status = StatusError
			h.err = err
		}
		h.mu.Unlock()
		if moved && onStatus != nil {
			onStatus(StatusError, err)
		}
		return err
	}

	h.mu.Lock()
	if h.status == StatusClosed {
		// Closed while the transport was opening; release the channel we just got.
		h.mu.Unlock()
		if err := h.transport.CloseChannel(ch); err != nil {
			log.Printf("realtime: close channel %s: %v", topic, err)
		}
		return nil
	}
	h.channel = ch
	h.mu.Unlock()

	if setup != nil {
		setup(ch)
	}
	ch.Subscribe(func(state SubscribeState, cause error) {
		next, ok := h.apply(state, cause)
		if ok && onStatus != nil {
			onStatus(next, h.Err())
		}
	})
	return nil
}

// apply moves the handle according to a transport state. Transitions not allowed from the
// current state (e.g. anything after closed) are dropped.
func (h *Handle) apply(state SubscribeState, cause error) (Status, bool) {
	next, err := statusFor(state, cause)
	if next == "" {
		return "", false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.status.CanTransition(next) {
		return h.status, false
	}
	h.status = next
	h.err = err
	return next, true
}

// Close tears the handle down. Safe to call repeatedly and before Open.
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.status == StatusClosed {
		h.mu.Unlock()
		return nil
	}
	h.status = StatusClosed
	ch := h.channel
	h.channel = nil
	h.mu.Unlock()

	if ch == nil {
		return nil
	}
	return h.transport.CloseChannel(ch)
}
