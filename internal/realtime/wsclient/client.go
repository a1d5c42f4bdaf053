// Package wsclient is the websocket realtime.Transport used by clients of the gateway. The
// connection is dialed lazily on the first Subscribe and shared by every channel; each channel
// joins with its own ref, times out when the join is not acknowledged, and reports
// CHANNEL_ERROR when the connection drops. There is no automatic rejoin.
package wsclient

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"bizlinkone/backend/internal/realtime"
	"bizlinkone/backend/internal/realtime/wire"
)

const (
	DefaultJoinTimeout       = 10 * time.Second
	DefaultHeartbeatInterval = 25 * time.Second
)

// ErrClientClosed is returned by OpenChannel after Close.
var ErrClientClosed = errors.New("wsclient: client closed")

// JoinError is the failure reported when the gateway refuses a join.
type JoinError struct {
	Topic  string
	Reason string
}

func (e *JoinError) Error() string {
	return fmt.Sprintf("wsclient: join %s refused: %s", e.Topic, e.Reason)
}

// Option configures a Client.
type Option func(*Client)

// WithAccessToken sets the bearer token sent with every join.
func WithAccessToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithJoinTimeout overrides DefaultJoinTimeout.
func WithJoinTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.joinTimeout = d
		}
	}
}

// WithHeartbeatInterval overrides DefaultHeartbeatInterval.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.heartbeat = d
		}
	}
}

// WithDialer replaces websocket.DefaultDialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// Client is safe for concurrent use.
type Client struct {
	url         string
	token       string
	joinTimeout time.Duration
	heartbeat   time.Duration
	dialer      *websocket.Dialer

	ref atomic.Uint64

	dialMu sync.Mutex

	mu       sync.Mutex
	conn     *connection
	channels map[string]*channel
	closed   bool
}

var _ realtime.Transport = (*Client)(nil)

// New returns a client for the gateway websocket at url. Nothing is dialed yet.
func New(url string, opts ...Option) *Client {
	c := &Client{
		url:         url,
		joinTimeout: DefaultJoinTimeout,
		heartbeat:   DefaultHeartbeatInterval,
		dialer:      websocket.DefaultDialer,
		channels:    make(map[string]*channel),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OpenChannel returns an unjoined channel for topic.
func (c *Client) OpenChannel(topic string, cfg realtime.ChannelConfig) (realtime.Channel, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrClientClosed
	}
	return &channel{
		client:   c,
		topic:    topic,
		cfg:      cfg,
		joinRef:  c.nextRef(),
		presence: make(map[realtime.PresenceEventKind][]func(realtime.PresenceEvent)),
		state:    realtime.PresenceSnapshot{},
	}, nil
}

// CloseChannel leaves the topic. Closing twice is a no-op.
func (c *Client) CloseChannel(ch realtime.Channel) error {
	wc, ok := ch.(*channel)
	if !ok || wc.client != c {
		return errors.New("wsclient: channel not opened by this client")
	}
	wc.close()
	return nil
}

// Close drops the connection. Joined channels see CHANNEL_ERROR.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.shutdown(ErrClientClosed)
	}
	return nil
}

func (c *Client) nextRef() string {
	return strconv.FormatUint(c.ref.Add(1), 10)
}

// connect returns the live connection, dialing one if needed.
func (c *Client) connect(ctx context.Context) (*connection, error) {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}
	if c.conn != nil {
		select {
		case <-c.conn.done:
		default:
			conn := c.conn
			c.mu.Unlock()
			return conn, nil
		}
	}
	c.mu.Unlock()

	ws, resp, err := c.dialer.DialContext(ctx, c.url, http.Header{})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("wsclient: dial %s: %w", c.url, err)
	}
	conn := newConnection(ws)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.shutdown(ErrClientClosed)
		return nil, ErrClientClosed
	}
	c.conn = conn
	c.mu.Unlock()

	go conn.writeLoop(c.heartbeat, c.nextRef)
	go func() {
		conn.readLoop(c.dispatch)
		c.connectionLost(conn)
	}()
	return conn, nil
}

func (c *Client) register(ch *channel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels[ch.joinRef] = ch
}

func (c *Client) unregister(ch *channel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channels[ch.joinRef] == ch {
		delete(c.channels, ch.joinRef)
	}
}

// connectionLost fails every channel that was riding conn.
func (c *Client) connectionLost(conn *connection) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	var lost []*channel
	for ref, ch := range c.channels {
		if ch.onConn(conn) {
			lost = append(lost, ch)
			delete(c.channels, ref)
		}
	}
	c.mu.Unlock()

	cause := conn.err
	if cause == nil {
		cause = ErrConnectionClosed
	}
	for _, ch := range lost {
		ch.fail(realtime.StateChannelError, cause)
	}
}

func (c *Client) dispatch(f wire.Frame) {
	if f.Topic == wire.PhoenixTopic {
		return
	}
	ref := f.JoinRef
	if ref == "" && f.Event == wire.EventReply {
		ref = f.Ref
	}
	c.mu.Lock()
	ch := c.channels[ref]
	c.mu.Unlock()
	if ch == nil || ch.topic != f.Topic {
		return
	}

	switch f.Event {
	case wire.EventReply:
		var reply wire.ReplyPayload
		if err := f.Decode(&reply); err != nil {
			log.Printf("wsclient: %v", err)
			return
		}
		ch.handleReply(f.Ref, reply)
	case wire.EventPostgresChanges:
		var p wire.ChangesPayload
		if err := f.Decode(&p); err != nil {
			log.Printf("wsclient: %v", err)
			return
		}
		ev, err := wire.ChangeFromWire(p.Data)
		if err != nil {
			log.Printf("wsclient: %s: %v", f.Topic, err)
			return
		}
		ch.deliverChange(ev)
	case wire.EventPresenceState:
		var state realtime.PresenceSnapshot
		if err := f.Decode(&state); err != nil {
			log.Printf("wsclient: %v", err)
			return
		}
		ch.deliverState(state)
	case wire.EventPresenceDiff:
		var diff wire.PresenceDiff
		if err := f.Decode(&diff); err != nil {
			log.Printf("wsclient: %v", err)
			return
		}
		ch.deliverDiff(diff)
	case wire.EventError:
		c.unregister(ch)
		ch.fail(realtime.StateChannelError, nil)
	case wire.EventClose:
		c.unregister(ch)
		ch.fail(realtime.StateClosed, nil)
	}
}
