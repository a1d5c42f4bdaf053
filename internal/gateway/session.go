package gateway

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"bizlinkone/backend/internal/realtime"
	"bizlinkone/backend/internal/realtime/hub"
	"bizlinkone/backend/internal/realtime/wire"
	"bizlinkone/backend/internal/security"
	"bizlinkone/backend/internal/server/interceptors"
	"bizlinkone/backend/internal/telemetry"
)

const writeWait = 10 * time.Second

// session is one websocket connection. The read loop handles client frames in order; the write
// loop is the only writer of ws.
type session struct {
	srv        *Server
	id         string
	ws         *websocket.Conn
	queryToken string
	clientIP   string

	send      chan wire.Frame
	done      chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	joined map[string]*joinedTopic
}

// joinedTopic is a session's membership of one topic. It receives hub deliveries.
type joinedTopic struct {
	s          *session
	topic      string
	joinRef    string
	kind       realtime.TopicKind
	workspace  string
	channel    string
	principal  security.Principal
	role       string
	membership *hub.Membership
}

func (s *Server) serveWebsocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("gateway: upgrade: %v", err)
		return
	}
	sess := &session{
		srv:        s,
		id:         uuid.NewString(),
		ws:         ws,
		queryToken: r.URL.Query().Get("token"),
		clientIP:   interceptors.ClientIPFromRequest(r),
		send:       make(chan wire.Frame, sessionBuffer),
		done:       make(chan struct{}),
		joined:     make(map[string]*joinedTopic),
	}
	sess.emit(telemetry.EventConnOpened, nil, map[string]string{"client_ip": sess.clientIP})

	go sess.writeLoop()
	sess.readLoop()
	sess.shutdown()
}

func (sess *session) readLoop() {
	timeout := sess.srv.readTimeout
	_ = sess.ws.SetReadDeadline(time.Now().Add(timeout))
	for {
		var f wire.Frame
		if err := sess.ws.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("gateway: session %s read: %v", sess.id, err)
			}
			return
		}
		_ = sess.ws.SetReadDeadline(time.Now().Add(timeout))
		sess.handle(f)
	}
}

func (sess *session) writeLoop() {
	for {
		select {
		case f := <-sess.send:
			_ = sess.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sess.ws.WriteJSON(f); err != nil {
				log.Printf("gateway: session %s write: %v", sess.id, err)
				sess.close()
				return
			}
		case <-sess.done:
			return
		}
	}
}

// enqueue hands f to the write loop. A client that cannot keep up is disconnected rather than
// allowed to block hub delivery.
func (sess *session) enqueue(f wire.Frame) {
	select {
	case <-sess.done:
		return
	default:
	}
	select {
	case sess.send <- f:
	default:
		log.Printf("gateway: session %s send buffer full, closing", sess.id)
		sess.close()
	}
}

func (sess *session) close() {
	sess.closeOnce.Do(func() {
		close(sess.done)
		_ = sess.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = sess.ws.Close()
	})
}

// shutdown leaves every joined topic once the read loop ends.
func (sess *session) shutdown() {
	sess.close()
	sess.mu.Lock()
	joined := sess.joined
	sess.joined = make(map[string]*joinedTopic)
	sess.mu.Unlock()
	for _, jt := range joined {
		jt.membership.Leave()
	}
	sess.emit(telemetry.EventConnClosed, nil, map[string]int{"topics": len(joined)})
}

func (sess *session) handle(f wire.Frame) {
	if f.Topic == wire.PhoenixTopic {
		if f.Event == wire.EventHeartbeat {
			sess.replyOK(f, nil)
		}
		return
	}
	switch f.Event {
	case wire.EventJoin:
		sess.handleJoin(f)
	case wire.EventLeave:
		sess.handleLeave(f)
	case wire.EventPresence:
		sess.handlePresence(f)
	default:
		sess.replyError(f, "unknown event "+f.Event)
	}
}

func (sess *session) handleLeave(f wire.Frame) {
	sess.mu.Lock()
	jt := sess.joined[f.Topic]
	if jt != nil {
		delete(sess.joined, f.Topic)
	}
	sess.mu.Unlock()
	if jt == nil {
		sess.replyOK(f, nil)
		return
	}
	jt.membership.Leave()
	sess.replyOK(f, nil)
	closed, _ := wire.NewFrame(jt.topic, wire.EventClose, f.Ref, nil)
	closed.JoinRef = jt.joinRef
	sess.enqueue(closed)
	sess.emit(telemetry.EventChannelLeft, jt, nil)
}

func (sess *session) handlePresence(f wire.Frame) {
	sess.mu.Lock()
	jt := sess.joined[f.Topic]
	sess.mu.Unlock()
	if jt == nil {
		sess.replyError(f, "not joined")
		return
	}
	var p wire.PresencePayload
	if err := f.Decode(&p); err != nil {
		sess.replyError(f, "malformed presence payload")
		return
	}
	var err error
	switch p.Event {
	case wire.PresenceTrack:
		if reason, ok := sess.authorizeTrack(jt); !ok {
			sess.replyError(f, reason)
			return
		}
		err = jt.membership.Track(p.Payload)
		if err == nil {
			sess.emit(telemetry.EventPresenceTrack, jt, nil)
		}
	case wire.PresenceUntrack:
		err = jt.membership.Untrack()
	default:
		sess.replyError(f, "unknown presence event "+p.Event)
		return
	}
	if err != nil {
		sess.replyError(f, err.Error())
		return
	}
	sess.replyOK(f, nil)
}

func (sess *session) replyOK(f wire.Frame, response any) {
	sess.reply(f, wire.StatusOK, response)
}

func (sess *session) replyError(f wire.Frame, reason string) {
	sess.reply(f, wire.StatusError, wire.ErrorResponse{Reason: reason})
}

func (sess *session) reply(f wire.Frame, status string, response any) {
	if response == nil {
		response = struct{}{}
	}
	resp, err := json.Marshal(response)
	if err != nil {
		log.Printf("gateway: marshal reply: %v", err)
		return
	}
	out, err := wire.NewFrame(f.Topic, wire.EventReply, f.Ref, wire.ReplyPayload{Status: status, Response: resp})
	if err != nil {
		log.Printf("gateway: %v", err)
		return
	}
	out.JoinRef = f.JoinRef
	sess.enqueue(out)
}

func (sess *session) emit(eventType string, jt *joinedTopic, metadata any) {
	ev := telemetry.NewEvent(eventType, "gateway", metadata)
	ev.ConnID = sess.id
	if jt != nil {
		ev.Topic = jt.topic
		ev.WorkspaceID = jt.workspace
		ev.UserID = jt.principal.UserID
	}
	telemetry.EmitAsync(sess.srv.deps.Emitter, context.Background(), ev)
}

func (jt *joinedTopic) push(event string, payload any) {
	f, err := wire.NewFrame(jt.topic, event, "", payload)
	if err != nil {
		log.Printf("gateway: %v", err)
		return
	}
	f.JoinRef = jt.joinRef
	jt.s.enqueue(f)
}

func (jt *joinedTopic) DeliverChange(topic string, ev realtime.ChangeEvent) {
	jt.push(wire.EventPostgresChanges, wire.ChangeToWire(ev))
}

func (jt *joinedTopic) DeliverPresenceState(topic string, state realtime.PresenceSnapshot) {
	jt.push(wire.EventPresenceState, state)
}

func (jt *joinedTopic) DeliverPresenceDiff(topic string, joins, leaves realtime.PresenceSnapshot) {
	if joins == nil {
		joins = realtime.PresenceSnapshot{}
	}
	if leaves == nil {
		leaves = realtime.PresenceSnapshot{}
	}
	jt.push(wire.EventPresenceDiff, wire.PresenceDiff{Joins: joins, Leaves: leaves})
}
