package gateway

import (
	"bytes"
	"errors"
	"net/http"
	"reflect"
	"sync"
	"testing"

	"bizlinkone/backend/internal/querycache"
	"bizlinkone/backend/internal/realtime"
	"bizlinkone/backend/internal/realtime/messages"
	"bizlinkone/backend/internal/realtime/presence"
	"bizlinkone/backend/internal/realtime/wsclient"
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

func postMessage(t *testing.T, f *fixture, token, body string) *http.Response {
	t.Helper()
	url := f.server.URL + RestPrefix + "/workspaces/" + testWorkspace + "/channels/" + testChannel + "/messages"
	req, _ := http.NewRequest(http.MethodPost, url, bytes.NewBufferString(`{"body":"`+body+`"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	return resp
}

func TestGateway_MessageSyncInvalidatesOnWrite(t *testing.T) {
	f := newFixture(t)
	client := wsclient.New(f.wsURL(), wsclient.WithAccessToken(f.token(t, "u1")))
	defer client.Close()

	cache := &countingCache{}
	s := messages.New(client, cache)
	defer s.Close()
	if err := s.Update(testWorkspace, testChannel, true); err != nil {
		t.Fatalf("Update: %v", err)
	}
	eventually(t, "connected", func() bool { return s.Status() == realtime.StatusConnected })

	if resp := postMessage(t, f, f.token(t, "u2"), "hello"); resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST status = %d, want 201", resp.StatusCode)
	}
	key := messages.QueryKey(testChannel)
	eventually(t, "invalidation", func() bool { return cache.get(key) == 1 })
}

func TestGateway_JoinRefusals(t *testing.T) {
	f := newFixture(t)
	testCases := []struct {
		name   string
		user   string
		token  string
		ws     string
		ch     string
		reason string
	}{
		{"invalid token", "", "garbage", testWorkspace, testChannel, reasonInvalidToken},
		{"not a member", "stranger", "", testWorkspace, testChannel, "not a member of this workspace"},
		{"unknown channel", "u1", "", testWorkspace, "nope", "unknown channel"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			token := tc.token
			if token == "" {
				token = f.token(t, tc.user)
			}
			client := wsclient.New(f.wsURL(), wsclient.WithAccessToken(token))
			defer client.Close()

			var mu sync.Mutex
			var gotErr error
			s := messages.New(client, &countingCache{}, messages.WithStatusCallback(func(st realtime.Status, err error) {
				mu.Lock()
				defer mu.Unlock()
				if st == realtime.StatusError {
					gotErr = err
				}
			}))
			defer s.Close()
			_ = s.Update(tc.ws, tc.ch, true)
			eventually(t, "error status", func() bool { return s.Status() == realtime.StatusError })

			mu.Lock()
			defer mu.Unlock()
			var je *wsclient.JoinError
			if !errors.As(gotErr, &je) {
				t.Fatalf("err = %v, want JoinError", gotErr)
			}
			if je.Reason != tc.reason {
				t.Errorf("reason = %q, want %q", je.Reason, tc.reason)
			}
		})
	}
}

func TestGateway_FilterOutsideTopicRefused(t *testing.T) {
	f := newFixture(t)
	client := wsclient.New(f.wsURL(), wsclient.WithAccessToken(f.token(t, "u1")))
	defer client.Close()

	ch, _ := client.OpenChannel(realtime.MessagesTopic(testWorkspace, testChannel), realtime.ChannelConfig{})
	ch.OnChange(realtime.ChangeFilter{Event: realtime.ChangeAll, Schema: "public", Table: "messages",
		Match: map[string]string{"workspace_id": testWorkspace}}, func(realtime.ChangeEvent) {})
	errs := make(chan error, 1)
	ch.Subscribe(func(state realtime.SubscribeState, err error) {
		if state == realtime.StateChannelError {
			errs <- err
		}
	})
	var je *wsclient.JoinError
	if err := <-errs; !errors.As(err, &je) || je.Reason != reasonFilterScope {
		t.Errorf("err = %v, want filter scope refusal", err)
	}
}

func TestGateway_PresenceAcrossConnections(t *testing.T) {
	f := newFixture(t)
	type conn struct {
		client *wsclient.Client
		sync   *presence.Sync
	}
	users := []string{"u1", "u1", "u2"}
	var conns []conn
	for _, u := range users {
		c := wsclient.New(f.wsURL(), wsclient.WithAccessToken(f.token(t, u)))
		s := presence.New(c)
		if err := s.Update(testWorkspace, presence.Self{UserID: u, DisplayName: u}); err != nil {
			t.Fatalf("Update(%s): %v", u, err)
		}
		conns = append(conns, conn{client: c, sync: s})
	}
	defer func() {
		for _, c := range conns {
			_ = c.sync.Close()
			_ = c.client.Close()
		}
	}()

	want := []string{"u1", "u2"}
	for i, c := range conns {
		eventually(t, "online set", func() bool { return reflect.DeepEqual(c.sync.OnlineUsers(), want) })
		if !c.sync.IsConnected() {
			t.Errorf("conn %d not connected", i)
		}
	}

	// u2 leaves; the remaining connections converge to u1 only.
	_ = conns[2].sync.Close()
	for _, c := range conns[:2] {
		eventually(t, "u2 gone", func() bool { return reflect.DeepEqual(c.sync.OnlineUsers(), []string{"u1"}) })
	}
	eventually(t, "hub members", func() bool { return f.hub.Members(realtime.PresenceTopic(testWorkspace)) == 2 })
}

func TestGateway_PresenceKeyMustBeCaller(t *testing.T) {
	f := newFixture(t)
	client := wsclient.New(f.wsURL(), wsclient.WithAccessToken(f.token(t, "u1")))
	defer client.Close()

	s := presence.New(client)
	defer s.Close()
	_ = s.Update(testWorkspace, presence.Self{UserID: "u2"})
	eventually(t, "error status", func() bool { return s.Status() == realtime.StatusError })
	var je *wsclient.JoinError
	if !errors.As(s.Err(), &je) || je.Reason != reasonPresenceKey {
		t.Errorf("err = %v, want presence key refusal", s.Err())
	}
}

func TestGateway_TokenFromQuery(t *testing.T) {
	f := newFixture(t)
	client := wsclient.New(f.wsURL() + "?token=" + f.token(t, "u1"))
	defer client.Close()

	s := presence.New(client)
	defer s.Close()
	_ = s.Update(testWorkspace, presence.Self{UserID: "u1"})
	eventually(t, "connected", func() bool { return s.Status() == realtime.StatusConnected })
}
