package realtime

import "errors"

// Status is the lifecycle state of a Handle.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusConnecting Status = "connecting"
	StatusConnected  Status = "connected"
	StatusError      Status = "error"
	StatusClosed     Status = "closed"
)

var (
	// ErrChannelError is reported when the transport signals CHANNEL_ERROR without a cause.
	ErrChannelError = errors.New("realtime: channel error")
	// ErrTimedOut is reported when the join was not acknowledged in time.
	ErrTimedOut = errors.New("realtime: subscribe timed out")
	// ErrChannelClosed is reported when the remote side closed a channel the handle still owned.
	ErrChannelClosed = errors.New("realtime: channel closed by remote")
	// ErrHandleNotIdle is returned by Open on a handle that was already opened or closed.
	ErrHandleNotIdle = errors.New("realtime: handle already used")
)

// transitions lists the allowed next states. closed is terminal.
var transitions = map[Status][]Status{
	StatusIdle:       {StatusConnecting, StatusClosed},
	StatusConnecting: {StatusConnected, StatusError, StatusClosed},
	StatusConnected:  {StatusError, StatusClosed},
	StatusError:      {StatusClosed},
	StatusClosed:     nil,
}

// CanTransition reports whether moving from s to next is allowed.
func (s Status) CanTransition(next Status) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// statusFor maps a transport state to the handle status it produces and the error it carries.
func statusFor(state SubscribeState, cause error) (Status, error) {
	switch state {
	case StateSubscribed:
		return StatusConnected, nil
	case StateChannelError:
		if cause == nil {
			cause = ErrChannelError
		}
		return StatusError, cause
	case StateTimedOut:
		if cause == nil {
			cause = ErrTimedOut
		}
		return StatusError, cause
	case StateClosed:
		if cause == nil {
			cause = ErrChannelClosed
		}
		return StatusError, cause
	default:
		return "", nil
	}
}
