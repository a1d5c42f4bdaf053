package wsclient

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"bizlinkone/backend/internal/realtime"
	"bizlinkone/backend/internal/realtime/wire"
)

// ErrNotJoined is returned by Track before the join was acknowledged.
var ErrNotJoined = errors.New("wsclient: channel not joined")

type phase int

const (
	phaseIdle phase = iota
	phaseJoining
	phaseJoined
	phaseFailed
	phaseClosed
)

// beforeJoinPush runs after a joining channel is registered and before its join frame is sent.
var beforeJoinPush = func() {}

type changeHandler struct {
	filter realtime.ChangeFilter
	fn     func(realtime.ChangeEvent)
}

type channel struct {
	client  *Client
	topic   string
	cfg     realtime.ChannelConfig
	joinRef string

	// sendMu orders the join frame before any leave frame for the same join ref.
	sendMu sync.Mutex

	mu       sync.Mutex
	phase    phase
	conn     *connection
	timer    *time.Timer
	onStatus func(realtime.SubscribeState, error)
	changes  []changeHandler
	presence map[realtime.PresenceEventKind][]func(realtime.PresenceEvent)
	state    realtime.PresenceSnapshot
}

func (ch *channel) Topic() string { return ch.topic }

func (ch *channel) OnChange(filter realtime.ChangeFilter, fn func(realtime.ChangeEvent)) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.changes = append(ch.changes, changeHandler{filter: filter, fn: fn})
}

func (ch *channel) OnPresence(kind realtime.PresenceEventKind, fn func(realtime.PresenceEvent)) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.presence[kind] = append(ch.presence[kind], fn)
}

// Subscribe dials if needed and sends the join in the background. fn receives SUBSCRIBED on an ok
// reply, CHANNEL_ERROR on a refused join or a lost connection, and TIMED_OUT when no reply
// arrives within the join timeout.
func (ch *channel) Subscribe(fn func(realtime.SubscribeState, error)) {
	ch.mu.Lock()
	if ch.phase != phaseIdle {
		ch.mu.Unlock()
		return
	}
	ch.phase = phaseJoining
	ch.onStatus = fn
	filters := make([]wire.PostgresChangesFilter, len(ch.changes))
	for i, h := range ch.changes {
		filters[i] = wire.FilterToWire(h.filter)
	}
	ch.mu.Unlock()

	go ch.join(filters)
}

func (ch *channel) join(filters []wire.PostgresChangesFilter) {
	c := ch.client
	ctx, cancel := context.WithTimeout(context.Background(), c.joinTimeout)
	defer cancel()

	conn, err := c.connect(ctx)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			ch.fail(realtime.StateTimedOut, nil)
			return
		}
		ch.fail(realtime.StateChannelError, err)
		return
	}

	f, err := wire.NewFrame(ch.topic, wire.EventJoin, ch.joinRef, wire.JoinPayload{
		Config: wire.JoinConfig{
			Presence:        wire.PresenceConfig{Key: ch.cfg.PresenceKey},
			PostgresChanges: filters,
		},
		AccessToken: c.token,
	})
	if err != nil {
		ch.fail(realtime.StateChannelError, err)
		return
	}
	f.JoinRef = ch.joinRef

	ch.sendMu.Lock()
	defer ch.sendMu.Unlock()
	ch.mu.Lock()
	if ch.phase != phaseJoining {
		ch.mu.Unlock()
		return
	}
	ch.conn = conn
	ch.timer = time.AfterFunc(c.joinTimeout, ch.joinTimedOut)
	ch.mu.Unlock()
	c.register(ch)
	beforeJoinPush()

	if err := conn.push(ctx, f); err != nil {
		c.unregister(ch)
		ch.fail(realtime.StateChannelError, err)
	}
}

func (ch *channel) joinTimedOut() {
	ch.sendMu.Lock()
	defer ch.sendMu.Unlock()
	ch.mu.Lock()
	if ch.phase != phaseJoining {
		ch.mu.Unlock()
		return
	}
	conn := ch.conn
	ch.mu.Unlock()
	ch.client.unregister(ch)
	ch.sendLeave(conn)
	ch.fail(realtime.StateTimedOut, nil)
}

func (ch *channel) handleReply(ref string, reply wire.ReplyPayload) {
	if ref != ch.joinRef {
		if reply.Status != wire.StatusOK {
			log.Printf("wsclient: %s: push %s rejected: %s", ch.topic, ref, reply.Response)
		}
		return
	}
	ch.mu.Lock()
	if ch.phase != phaseJoining {
		ch.mu.Unlock()
		return
	}
	if ch.timer != nil {
		ch.timer.Stop()
	}
	if reply.Status != wire.StatusOK {
		ch.mu.Unlock()
		var resp wire.ErrorResponse
		_ = wire.Frame{Payload: reply.Response}.Decode(&resp)
		ch.client.unregister(ch)
		ch.fail(realtime.StateChannelError, &JoinError{Topic: ch.topic, Reason: resp.Reason})
		return
	}
	ch.phase = phaseJoined
	fn := ch.onStatus
	ch.mu.Unlock()
	if fn != nil {
		fn(realtime.StateSubscribed, nil)
	}
}

// fail moves a live channel to the failed phase and reports state. Closed or already failed
// channels stay quiet.
func (ch *channel) fail(state realtime.SubscribeState, cause error) {
	ch.mu.Lock()
	if ch.phase != phaseJoining && ch.phase != phaseJoined {
		ch.mu.Unlock()
		return
	}
	ch.phase = phaseFailed
	if ch.timer != nil {
		ch.timer.Stop()
	}
	fn := ch.onStatus
	ch.mu.Unlock()
	if fn != nil {
		fn(state, cause)
	}
}

func (ch *channel) onConn(conn *connection) bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.conn == conn
}

func (ch *channel) close() {
	ch.mu.Lock()
	if ch.phase == phaseClosed {
		ch.mu.Unlock()
		return
	}
	live := ch.phase == phaseJoining || ch.phase == phaseJoined
	ch.phase = phaseClosed
	if ch.timer != nil {
		ch.timer.Stop()
	}
	ch.mu.Unlock()

	// A join in flight finishes registering and pushing before the leave goes out.
	ch.sendMu.Lock()
	defer ch.sendMu.Unlock()
	ch.mu.Lock()
	conn := ch.conn
	ch.mu.Unlock()
	ch.client.unregister(ch)
	if live {
		ch.sendLeave(conn)
	}
}

func (ch *channel) sendLeave(conn *connection) {
	if conn == nil {
		return
	}
	f, _ := wire.NewFrame(ch.topic, wire.EventLeave, ch.client.nextRef(), nil)
	f.JoinRef = ch.joinRef
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := conn.push(ctx, f); err != nil && !errors.Is(err, ErrConnectionClosed) {
		log.Printf("wsclient: leave %s: %v", ch.topic, err)
	}
}

// Track pushes the meta without waiting for an acknowledgement.
func (ch *channel) Track(ctx context.Context, payload map[string]any) error {
	return ch.pushPresence(ctx, wire.PresenceTrack, payload, true)
}

// Untrack is a no-op on a channel that is not joined.
func (ch *channel) Untrack(ctx context.Context) error {
	return ch.pushPresence(ctx, wire.PresenceUntrack, nil, false)
}

func (ch *channel) pushPresence(ctx context.Context, event string, payload map[string]any, strict bool) error {
	ch.mu.Lock()
	joined, conn := ch.phase == phaseJoined, ch.conn
	ch.mu.Unlock()
	if !joined {
		if strict {
			return ErrNotJoined
		}
		return nil
	}
	f, err := wire.NewFrame(ch.topic, wire.EventPresence, ch.client.nextRef(), wire.PresencePayload{
		Type:    wire.EventPresence,
		Event:   event,
		Payload: payload,
	})
	if err != nil {
		return err
	}
	f.JoinRef = ch.joinRef
	return conn.push(ctx, f)
}

func (ch *channel) PresenceState() realtime.PresenceSnapshot {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	out := make(realtime.PresenceSnapshot, len(ch.state))
	for k, metas := range ch.state {
		out[k] = append([]realtime.PresenceMeta(nil), metas...)
	}
	return out
}

func (ch *channel) joined() bool {
	return ch.phase == phaseJoined
}

func (ch *channel) deliverChange(ev realtime.ChangeEvent) {
	ch.mu.Lock()
	if !ch.joined() {
		ch.mu.Unlock()
		return
	}
	handlers := append([]changeHandler(nil), ch.changes...)
	ch.mu.Unlock()
	for _, h := range handlers {
		if h.filter.Matches(ev) {
			h.fn(ev)
		}
	}
}

// deliverState replaces the local presence state; it is the only place the state changes.
func (ch *channel) deliverState(state realtime.PresenceSnapshot) {
	if state == nil {
		state = realtime.PresenceSnapshot{}
	}
	ch.mu.Lock()
	if !ch.joined() {
		ch.mu.Unlock()
		return
	}
	ch.state = state
	handlers := append(([]func(realtime.PresenceEvent))(nil), ch.presence[realtime.PresenceSync]...)
	ch.mu.Unlock()
	for _, fn := range handlers {
		fn(realtime.PresenceEvent{Kind: realtime.PresenceSync})
	}
}

func (ch *channel) deliverDiff(diff wire.PresenceDiff) {
	ch.mu.Lock()
	if !ch.joined() {
		ch.mu.Unlock()
		return
	}
	onJoin := append(([]func(realtime.PresenceEvent))(nil), ch.presence[realtime.PresenceJoin]...)
	onLeave := append(([]func(realtime.PresenceEvent))(nil), ch.presence[realtime.PresenceLeave]...)
	ch.mu.Unlock()
	notify(onJoin, realtime.PresenceJoin, diff.Joins)
	notify(onLeave, realtime.PresenceLeave, diff.Leaves)
}

func notify(handlers []func(realtime.PresenceEvent), kind realtime.PresenceEventKind, diff realtime.PresenceSnapshot) {
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
