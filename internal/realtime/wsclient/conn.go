package wsclient

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"bizlinkone/backend/internal/realtime/wire"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 64
)

// ErrConnectionClosed is returned when a frame is pushed on a connection that went away.
var ErrConnectionClosed = errors.New("wsclient: connection closed")

// connection owns one websocket. Only the write loop writes to ws; only the read loop reads.
type connection struct {
	ws        *websocket.Conn
	send      chan wire.Frame
	done      chan struct{}
	closeOnce sync.Once
	err       error
}

func newConnection(ws *websocket.Conn) *connection {
	return &connection{
		ws:   ws,
		send: make(chan wire.Frame, sendBuffer),
		done: make(chan struct{}),
	}
}

// push queues f for the write loop.
func (c *connection) push(ctx context.Context, f wire.Frame) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}
	select {
	case c.send <- f:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// shutdown closes the socket once and records why.
func (c *connection) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.err = err
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = c.ws.Close()
	})
}

func (c *connection) writeLoop(heartbeat time.Duration, nextRef func() string) {
	t := time.NewTicker(heartbeat)
	defer t.Stop()
	for {
		select {
		case f := <-c.send:
			if err := c.write(f); err != nil {
				c.shutdown(err)
				return
			}
		case <-t.C:
			f, _ := wire.NewFrame(wire.PhoenixTopic, wire.EventHeartbeat, nextRef(), nil)
			if err := c.write(f); err != nil {
				c.shutdown(err)
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *connection) write(f wire.Frame) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteJSON(f); err != nil {
		return fmt.Errorf("wsclient: write %s: %w", f.Event, err)
	}
	return nil
}

func (c *connection) readLoop(dispatch func(wire.Frame)) {
	for {
		var f wire.Frame
		if err := c.ws.ReadJSON(&f); err != nil {
			select {
			case <-c.done:
			default:
				log.Printf("wsclient: read: %v", err)
			}
			c.shutdown(fmt.Errorf("wsclient: connection lost: %w", err))
			return
		}
		dispatch(f)
	}
}
