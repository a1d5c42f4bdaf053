package watch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"bizlinkone/backend/internal/i18n"
	"bizlinkone/backend/internal/querycache"
	"bizlinkone/backend/internal/realtime"
	"bizlinkone/backend/internal/realtime/presence"
	"bizlinkone/backend/internal/realtime/realtimetest"
	"bizlinkone/backend/internal/security"

	msgdomain "bizlinkone/backend/internal/message/domain"
)

// syncBuffer is a goroutine-safe bytes.Buffer.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// fakeLister returns the current message list and counts calls.
type fakeLister struct {
	mu    sync.Mutex
	msgs  []*msgdomain.Message
	err   error
	calls int32
}

func (f *fakeLister) ListMessages(ctx context.Context, workspaceID, channelID string) ([]*msgdomain.Message, error) {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]*msgdomain.Message(nil), f.msgs...), nil
}

func (f *fakeLister) set(msgs ...*msgdomain.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = msgs
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func channelFor(tr *realtimetest.Transport, topic string) *realtimetest.Channel {
	for _, ch := range tr.Opened() {
		if ch.Topic() == topic {
			return ch
		}
	}
	return nil
}

func newWatcher(t *testing.T, lister *fakeLister) (*Watcher, *realtimetest.Transport, *syncBuffer) {
	t.Helper()
	cache, err := querycache.New(8)
	if err != nil {
		t.Fatalf("querycache.New: %v", err)
	}
	bundles, err := i18n.LoadBundles()
	if err != nil {
		t.Fatalf("LoadBundles: %v", err)
	}
	tr := realtimetest.NewTransport()
	out := &syncBuffer{}
	w := New(Deps{
		Transport: tr,
		Cache:     cache,
		Messages:  lister,
		Strings:   i18n.NewResolver(bundles, nil),
		Out:       out,
	}, Config{WorkspaceID: "ws-1", ChannelID: "ch-1", Self: presence.Self{UserID: "u1", DisplayName: "One"}})
	return w, tr, out
}

func TestWatcher_RefetchesOnChange(t *testing.T) {
	lister := &fakeLister{}
	lister.set(&msgdomain.Message{ID: "m1", UserID: "u2", Body: "hello"})
	w, tr, out := newWatcher(t, lister)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	eventually(t, "initial list", func() bool { return strings.Contains(out.String(), "u2: hello") })
	msgCh := channelFor(tr, realtime.MessagesTopic("ws-1", "ch-1"))
	if msgCh == nil {
		t.Fatal("messages channel not opened")
	}
	if channelFor(tr, realtime.PresenceTopic("ws-1")) == nil {
		t.Fatal("presence channel not opened")
	}

	msgCh.EmitStatus(realtime.StateSubscribed, nil)
	eventually(t, "connected line", func() bool { return strings.Contains(out.String(), "Live: #ch-1") })

	lister.set(
		&msgdomain.Message{ID: "m1", UserID: "u2", Body: "hello"},
		&msgdomain.Message{ID: "m2", UserID: "u1", Body: "hi back"},
	)
	msgCh.EmitChange(realtime.ChangeEvent{
		Kind:   realtime.ChangeInsert,
		Schema: "public",
		Table:  "messages",
		Record: map[string]any{"id": "m2", "workspace_id": "ws-1", "channel_id": "ch-1"},
	})
	eventually(t, "refetched list", func() bool { return strings.Contains(out.String(), "u1: hi back") })
	if n := atomic.LoadInt32(&lister.calls); n != 2 {
		t.Errorf("list calls = %d, want 2", n)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if tr.Live() != 0 {
		t.Errorf("live channels after Run = %d, want 0", tr.Live())
	}
	if !strings.Contains(out.String(), "Disconnected.") {
		t.Errorf("output missing closed line:\n%s", out.String())
	}
}

func TestWatcher_PresenceLines(t *testing.T) {
	w, tr, out := newWatcher(t, &fakeLister{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	eventually(t, "presence subscribe", func() bool {
		ch := channelFor(tr, realtime.PresenceTopic("ws-1"))
		return ch != nil && ch.Subscribed()
	})
	ch := channelFor(tr, realtime.PresenceTopic("ws-1"))

	ch.EmitStatus(realtime.StateSubscribed, nil)
	if tracked := ch.Tracked(); len(tracked) != 1 || tracked[0][presence.FieldUserID] != "u1" {
		t.Errorf("tracked = %v, want one payload for u1", tracked)
	}

	ch.EmitSync(realtime.PresenceSnapshot{"u1": {{presence.FieldUserID: "u1"}}})
	eventually(t, "nobody line", func() bool { return strings.Contains(out.String(), "Nobody else is online.") })

	ch.EmitPresence(realtime.PresenceEvent{Kind: realtime.PresenceJoin, Key: "u2"})
	ch.EmitSync(realtime.PresenceSnapshot{
		"u1": {{presence.FieldUserID: "u1"}},
		"u2": {{presence.FieldUserID: "u2"}, {presence.FieldUserID: "u2"}},
		"u3": {{presence.FieldUserID: "u3"}},
	})
	eventually(t, "online line", func() bool { return strings.Contains(out.String(), "Online (2): u2, u3") })
	if strings.Contains(out.String(), "u1, u2") {
		t.Errorf("online line lists self:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "u2 came online") {
		t.Errorf("output missing join line:\n%s", out.String())
	}
}

func TestWatcher_RefreshFailure(t *testing.T) {
	lister := &fakeLister{err: errors.New("503 Service Unavailable")}
	w, _, out := newWatcher(t, lister)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	eventually(t, "failure line", func() bool {
		return strings.Contains(out.String(), "Could not refresh messages: 503 Service Unavailable")
	})
}

func TestIdentityFromToken(t *testing.T) {
	tp, err := security.NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	tok, _, err := tp.IssueAccess(security.Principal{UserID: "u1", DisplayName: "User One"})
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	self, err := IdentityFromToken(tok)
	if err != nil {
		t.Fatalf("IdentityFromToken: %v", err)
	}
	if self.UserID != "u1" || self.DisplayName != "User One" {
		t.Errorf("self = %+v, want u1/User One", self)
	}
	if _, err := IdentityFromToken("not-a-jwt"); err == nil {
		t.Error("IdentityFromToken should reject a malformed token")
	}
}

func TestRestClient_ListMessages(t *testing.T) {
	var gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		if r.URL.Path == "/rest/v1/workspaces/ws-1/channels/missing/messages" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"channel not found"}`))
			return
		}
		_ = json.NewEncoder(w).Encode([]*msgdomain.Message{{ID: "m1", UserID: "u1", Body: "hi"}})
	}))
	defer srv.Close()

	c, err := NewRestClient(srv.URL+"/rest/v1/", "tok", nil)
	if err != nil {
		t.Fatalf("NewRestClient: %v", err)
	}
	msgs, err := c.ListMessages(context.Background(), "ws-1", "ch-1")
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer tok")
	}
	if gotPath != "/rest/v1/workspaces/ws-1/channels/ch-1/messages" {
		t.Errorf("path = %q", gotPath)
	}
	if len(msgs) != 1 || msgs[0].Body != "hi" {
		t.Errorf("msgs = %+v, want one message with body hi", msgs)
	}

	_, err = c.ListMessages(context.Background(), "ws-1", "missing")
	if err == nil || !strings.Contains(err.Error(), "channel not found") {
		t.Errorf("err = %v, want channel not found", err)
	}

	if _, err := NewRestClient(" ", "tok", nil); err == nil {
		t.Error("NewRestClient with empty URL should fail")
	}
}
