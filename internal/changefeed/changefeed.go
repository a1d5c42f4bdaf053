// Package changefeed turns Postgres NOTIFY payloads from the realtime trigger into change
// events and publishes them to the hub.
package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"

	"bizlinkone/backend/internal/realtime"
	"bizlinkone/backend/internal/realtime/wire"
)

// Channel is the NOTIFY channel the trigger publishes on.
const Channel = "realtime_changes"

const (
	minBackoff = 500 * time.Millisecond
	maxBackoff = 30 * time.Second
)

// Publisher receives decoded change events. Implemented by *hub.Hub.
type Publisher interface {
	Publish(ev realtime.ChangeEvent) int
}

// notification is the trigger payload. Oversized rows arrive without their body and with
// Truncated set.
type notification struct {
	wire.ChangeData
	Truncated bool `json:"truncated,omitempty"`
}

// Decode parses one trigger payload.
func Decode(payload string) (realtime.ChangeEvent, error) {
	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return realtime.ChangeEvent{}, fmt.Errorf("changefeed: decode payload: %w", err)
	}
	if n.Table == "" {
		return realtime.ChangeEvent{}, errors.New("changefeed: payload without table")
	}
	ev, err := wire.ChangeFromWire(n.ChangeData)
	if err != nil {
		return realtime.ChangeEvent{}, err
	}
	if n.Truncated {
		log.Printf("changefeed: %s.%s %s arrived truncated", n.Schema, n.Table, n.Type)
	}
	return ev, nil
}

// Listener holds a dedicated connection that LISTENs on Channel.
type Listener struct {
	dsn       string
	publisher Publisher
}

// NewListener returns a listener for dsn. Nothing connects until Run.
func NewListener(dsn string, publisher Publisher) *Listener {
	return &Listener{dsn: dsn, publisher: publisher}
}

// Run listens until ctx is done, reconnecting with exponential backoff after connection loss.
// It returns ctx.Err() on shutdown.
func (l *Listener) Run(ctx context.Context) error {
	if l.dsn == "" {
		return errors.New("changefeed: DATABASE_URL is empty")
	}
	backoff := minBackoff
	for {
		started := time.Now()
		err := l.listen(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Since(started) > maxBackoff {
			backoff = minBackoff
		}
		log.Printf("changefeed: listen: %v; reconnecting in %s", err, backoff)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff = nextBackoff(backoff)
	}
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func (l *Listener) listen(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.dsn)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = conn.Close(closeCtx)
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{Channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	log.Printf("changefeed: listening on %s", Channel)

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		l.handle(n.Payload)
	}
}

// handle publishes one payload. Malformed payloads are logged and skipped.
func (l *Listener) handle(payload string) {
	ev, err := Decode(payload)
	if err != nil {
		log.Printf("changefeed: skip notification: %v", err)
		return
	}
	l.publisher.Publish(ev)
}
