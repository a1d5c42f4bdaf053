// Package watch is the terminal client behind cmd/watch: it follows one channel's messages and
// its workspace's online users, printing localized lines as they change.
package watch

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"bizlinkone/backend/internal/i18n"
	"bizlinkone/backend/internal/querycache"
	"bizlinkone/backend/internal/realtime"
	"bizlinkone/backend/internal/realtime/messages"
	"bizlinkone/backend/internal/realtime/presence"

	msgdomain "bizlinkone/backend/internal/message/domain"
)

// Config selects what to watch.
type Config struct {
	WorkspaceID string
	ChannelID   string
	Self        presence.Self
	// RetryInterval, when positive, re-opens failed subscriptions on that period.
	RetryInterval time.Duration
}

// Deps are the collaborators of a Watcher.
type Deps struct {
	Transport realtime.Transport
	Cache     *querycache.Cache
	Messages  MessageLister
	Strings   *i18n.Resolver
	Out       io.Writer
}

// Watcher prints channel activity until its context ends.
type Watcher struct {
	deps Deps
	cfg  Config

	outMu sync.Mutex
}

// New returns a Watcher. Nothing connects until Run.
func New(deps Deps, cfg Config) *Watcher {
	return &Watcher{deps: deps, cfg: cfg}
}

// Run subscribes, prints the initial message list and then every refresh, and tears both
// subscriptions down when ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	key := messages.QueryKey(w.cfg.ChannelID)
	invalidated, stopWatch := w.deps.Cache.Watch(key)
	defer stopWatch()

	msgSync := messages.New(w.deps.Transport, w.deps.Cache, messages.WithStatusCallback(w.messagesStatus))
	defer msgSync.Close()
	presSync := presence.New(w.deps.Transport,
		presence.WithChangeCallback(w.onlineChanged),
		presence.WithObserver(w.presenceEvent),
	)
	defer presSync.Close()

	w.println(i18n.KeyWatchConnecting, i18n.Params{"channel": w.cfg.ChannelID})
	if err := msgSync.Update(w.cfg.WorkspaceID, w.cfg.ChannelID, true); err != nil {
		return err
	}
	if err := presSync.Update(w.cfg.WorkspaceID, w.cfg.Self); err != nil {
		return err
	}

	w.refresh(ctx, key)

	var retry <-chan time.Time
	if w.cfg.RetryInterval > 0 {
		t := time.NewTicker(w.cfg.RetryInterval)
		defer t.Stop()
		retry = t.C
	}
	for {
		select {
		case <-ctx.Done():
			w.println(i18n.KeyWatchClosed, nil)
			return nil
		case <-invalidated:
			w.refresh(ctx, key)
		case <-retry:
			if err := msgSync.Retry(); err != nil {
				return err
			}
			if err := presSync.Retry(); err != nil {
				return err
			}
		}
	}
}

func (w *Watcher) refresh(ctx context.Context, key querycache.Key) {
	v, err := w.deps.Cache.Get(ctx, key, func(ctx context.Context) (any, error) {
		return w.deps.Messages.ListMessages(ctx, w.cfg.WorkspaceID, w.cfg.ChannelID)
	})
	if err != nil {
		if ctx.Err() == nil {
			w.println(i18n.KeyWatchRefreshFailed, i18n.Params{"error": err})
		}
		return
	}
	msgs, _ := v.([]*msgdomain.Message)

	var b strings.Builder
	if len(msgs) == 0 {
		b.WriteString(w.deps.Strings.T(i18n.KeyWatchEmptyChannel, nil))
		b.WriteByte('\n')
	}
	for _, m := range msgs {
		b.WriteString(w.deps.Strings.T(i18n.KeyWatchMessageLine, i18n.Params{"author": m.UserID, "body": m.Body}))
		b.WriteByte('\n')
	}
	w.write(b.String())
}

func (w *Watcher) messagesStatus(st realtime.Status, err error) {
	switch st {
	case realtime.StatusConnected:
		w.println(i18n.KeyWatchConnected, i18n.Params{"channel": w.cfg.ChannelID})
	case realtime.StatusError:
		w.println(i18n.KeyWatchError, i18n.Params{"error": err})
	}
}

func (w *Watcher) onlineChanged(online []string) {
	others := make([]string, 0, len(online))
	for _, id := range online {
		if id != w.cfg.Self.UserID {
			others = append(others, id)
		}
	}
	if len(others) == 0 {
		w.println(i18n.KeyWatchNobodyOnline, nil)
		return
	}
	w.println(i18n.KeyWatchOnline, i18n.Params{"count": len(others), "users": strings.Join(others, ", ")})
}

func (w *Watcher) presenceEvent(ev realtime.PresenceEvent) {
	if ev.Key == w.cfg.Self.UserID {
		return
	}
	switch ev.Kind {
	case realtime.PresenceJoin:
		w.println(i18n.KeyPresenceJoined, i18n.Params{"user": ev.Key})
	case realtime.PresenceLeave:
		w.println(i18n.KeyPresenceLeft, i18n.Params{"user": ev.Key})
	}
}

func (w *Watcher) println(key i18n.Key, params i18n.Params) {
	w.write(w.deps.Strings.T(key, params) + "\n")
}

func (w *Watcher) write(s string) {
	w.outMu.Lock()
	defer w.outMu.Unlock()
	_, _ = fmt.Fprint(w.deps.Out, s)
}
