package hub

import (
	"reflect"
	"sync"
	"testing"

	"bizlinkone/backend/internal/querycache"
	"bizlinkone/backend/internal/realtime"
	"bizlinkone/backend/internal/realtime/messages"
	"bizlinkone/backend/internal/realtime/presence"
)

type countingCache struct {
	mu    sync.Mutex
	count map[string]int
}

func (c *countingCache) Invalidate(key querycache.Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.count == nil {
		c.count = make(map[string]int)
	}
	c.count[key.String()]++
}

func (c *countingCache) get(key querycache.Key) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count[key.String()]
}

func TestLocalTransport_MessageSyncInvalidates(t *testing.T) {
	h := New()
	cache := &countingCache{}
	s := messages.New(NewLocalTransport(h), cache)
	if err := s.Update("ws-1", "c1", true); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if s.Status() != realtime.StatusConnected {
		t.Fatalf("status = %q, want connected", s.Status())
	}

	h.Publish(insert("ws-1", "c1"))
	h.Publish(insert("ws-1", "c2"))
	upd := insert("ws-1", "c1")
	upd.Kind = realtime.ChangeUpdate
	h.Publish(upd)
	del := realtime.ChangeEvent{
		Kind: realtime.ChangeDelete, Schema: "public", Table: "messages",
		OldRecord: map[string]any{"id": "m1", "workspace_id": "ws-1", "channel_id": "c1"},
	}
	h.Publish(del)

	if got := cache.get(messages.QueryKey("c1")); got != 3 {
		t.Errorf("invalidations of c1 = %d, want 3", got)
	}
	if got := cache.get(messages.QueryKey("c2")); got != 0 {
		t.Errorf("invalidations of c2 = %d, want 0", got)
	}

	if err := s.Update("ws-1", "c2", true); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if h.Members(realtime.MessagesTopic("ws-1", "c1")) != 0 {
		t.Error("previous topic should have been left")
	}
	_ = s.Close()
	if h.Topics() != 0 {
		t.Errorf("Topics = %d, want 0 after Close", h.Topics())
	}
}

func TestLocalTransport_PresenceAcrossConnections(t *testing.T) {
	h := New()
	tr := NewLocalTransport(h)
	conn1 := presence.New(tr)
	conn2 := presence.New(tr)
	conn3 := presence.New(tr)

	if err := conn1.Update("ws-1", presence.Self{UserID: "u1", DisplayName: "Ann"}); err != nil {
		t.Fatalf("Update conn1: %v", err)
	}
	if err := conn2.Update("ws-1", presence.Self{UserID: "u1", DisplayName: "Ann"}); err != nil {
		t.Fatalf("Update conn2: %v", err)
	}
	if err := conn3.Update("ws-1", presence.Self{UserID: "u2", DisplayName: "Bob"}); err != nil {
		t.Fatalf("Update conn3: %v", err)
	}

	want := []string{"u1", "u2"}
	for i, s := range []*presence.Sync{conn1, conn2, conn3} {
		if !s.IsConnected() {
			t.Errorf("conn%d not connected", i+1)
		}
		if got := s.OnlineUsers(); !reflect.DeepEqual(got, want) {
			t.Errorf("conn%d online = %v, want %v", i+1, got, want)
		}
	}

	_ = conn2.Close()
	if got := conn1.OnlineUsers(); !reflect.DeepEqual(got, want) {
		t.Errorf("after conn2 closed: online = %v, want %v", got, want)
	}
	if got := conn2.OnlineUsers(); len(got) != 0 {
		t.Errorf("closed sync online = %v, want empty", got)
	}

	_ = conn3.Close()
	if got := conn1.OnlineUsers(); !reflect.DeepEqual(got, []string{"u1"}) {
		t.Errorf("after conn3 closed: online = %v, want [u1]", got)
	}
	_ = conn1.Close()
	if h.Topics() != 0 {
		t.Errorf("Topics = %d, want 0", h.Topics())
	}
}

func TestLocalTransport_CloseChannelTwice(t *testing.T) {
	h := New()
	tr := NewLocalTransport(h)
	ch, _ := tr.OpenChannel("presence:ws-1", realtime.ChannelConfig{PresenceKey: "u1"})
	var states []realtime.SubscribeState
	ch.Subscribe(func(st realtime.SubscribeState, err error) { states = append(states, st) })
	if !reflect.DeepEqual(states, []realtime.SubscribeState{realtime.StateSubscribed}) {
		t.Errorf("states = %v, want [SUBSCRIBED]", states)
	}
	if err := tr.CloseChannel(ch); err != nil {
		t.Fatalf("CloseChannel: %v", err)
	}
	if err := tr.CloseChannel(ch); err != nil {
		t.Fatalf("second CloseChannel: %v", err)
	}
	if h.Topics() != 0 {
		t.Errorf("Topics = %d, want 0", h.Topics())
	}
}
