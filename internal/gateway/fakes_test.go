package gateway

import (
	"context"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"bizlinkone/backend/internal/policy/engine"
	"bizlinkone/backend/internal/realtime"
	"bizlinkone/backend/internal/realtime/hub"
	"bizlinkone/backend/internal/security"

	memberdomain "bizlinkone/backend/internal/membership/domain"
	msgdomain "bizlinkone/backend/internal/message/domain"
	wsdomain "bizlinkone/backend/internal/workspace/domain"
)

// memberStore implements rbac.MemberGetter.
type memberStore struct {
	members map[string]*memberdomain.Member
	err     error
}

func (s *memberStore) GetMember(ctx context.Context, workspaceID, userID string) (*memberdomain.Member, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.members[workspaceID+"/"+userID], nil
}

// workspaceStore implements the workspace repository.
type workspaceStore struct {
	mu       sync.Mutex
	channels map[string]*wsdomain.Channel
}

func (s *workspaceStore) GetWorkspaceByID(ctx context.Context, id string) (*wsdomain.Workspace, error) {
	return &wsdomain.Workspace{ID: id}, nil
}

func (s *workspaceStore) CreateWorkspace(ctx context.Context, w *wsdomain.Workspace) error {
	return nil
}

func (s *workspaceStore) GetChannel(ctx context.Context, workspaceID, channelID string) (*wsdomain.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channels[workspaceID+"/"+channelID], nil
}

func (s *workspaceStore) ListChannels(ctx context.Context, workspaceID string) ([]*wsdomain.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*wsdomain.Channel
	for _, c := range s.channels {
		if c.WorkspaceID == workspaceID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *workspaceStore) CreateChannel(ctx context.Context, c *wsdomain.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CreatedAt = time.Now().UTC()
	s.channels[c.WorkspaceID+"/"+c.ID] = c
	return nil
}

// messageStore keeps messages in memory and publishes each write to the hub the way the
// database trigger and changefeed do in production.
type messageStore struct {
	hub *hub.Hub

	mu   sync.Mutex
	byID map[string]*msgdomain.Message
	seq  []string
}

func (s *messageStore) publish(kind realtime.ChangeKind, m *msgdomain.Message) {
	if s.hub == nil {
		return
	}
	row := map[string]any{"id": m.ID, "workspace_id": m.WorkspaceID, "channel_id": m.ChannelID, "body": m.Body}
	ev := realtime.ChangeEvent{Kind: kind, Schema: "public", Table: "messages", CommitTimestamp: time.Now().UTC()}
	if kind == realtime.ChangeDelete {
		ev.OldRecord = row
	} else {
		ev.Record = row
	}
	s.hub.Publish(ev)
}

func (s *messageStore) GetByID(ctx context.Context, id string) (*msgdomain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.byID[id]; ok {
		c := *m
		return &c, nil
	}
	return nil, nil
}

func (s *messageStore) ListByChannel(ctx context.Context, workspaceID, channelID string, limit int32) ([]*msgdomain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*msgdomain.Message
	for _, id := range s.seq {
		m, ok := s.byID[id]
		if ok && m.WorkspaceID == workspaceID && m.ChannelID == channelID {
			c := *m
			out = append(out, &c)
		}
	}
	if len(out) > int(limit) {
		out = out[len(out)-int(limit):]
	}
	return out, nil
}

func (s *messageStore) Create(ctx context.Context, m *msgdomain.Message) error {
	s.mu.Lock()
	m.ID = uuid.NewString()
	m.CreatedAt = time.Now().UTC()
	m.UpdatedAt = m.CreatedAt
	c := *m
	s.byID[m.ID] = &c
	s.seq = append(s.seq, m.ID)
	s.mu.Unlock()
	s.publish(realtime.ChangeInsert, m)
	return nil
}

func (s *messageStore) UpdateBody(ctx context.Context, id, body string) (*msgdomain.Message, error) {
	s.mu.Lock()
	m, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return nil, nil
	}
	m.Body = body
	m.UpdatedAt = time.Now().UTC()
	c := *m
	s.mu.Unlock()
	s.publish(realtime.ChangeUpdate, &c)
	return &c, nil
}

func (s *messageStore) Delete(ctx context.Context, id string) (*msgdomain.Message, error) {
	s.mu.Lock()
	m, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return nil, nil
	}
	delete(s.byID, id)
	s.mu.Unlock()
	s.publish(realtime.ChangeDelete, m)
	return m, nil
}

const (
	testWorkspace = "ws-1"
	testChannel   = "ch-1"
)

type fixture struct {
	hub        *hub.Hub
	tokens     *security.TokenProvider
	members    *memberStore
	workspaces *workspaceStore
	messages   *messageStore
	server     *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tokens, err := security.NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	h := hub.New()
	f := &fixture{
		hub:    h,
		tokens: tokens,
		members: &memberStore{members: map[string]*memberdomain.Member{
			testWorkspace + "/u1":   {WorkspaceID: testWorkspace, UserID: "u1", DisplayName: "Ann", Role: memberdomain.RoleMember},
			testWorkspace + "/u2":   {WorkspaceID: testWorkspace, UserID: "u2", DisplayName: "Bo", Role: memberdomain.RoleMember},
			testWorkspace + "/admin": {WorkspaceID: testWorkspace, UserID: "admin", DisplayName: "Ada", Role: memberdomain.RoleAdmin},
		}},
		workspaces: &workspaceStore{channels: map[string]*wsdomain.Channel{
			testWorkspace + "/" + testChannel: {ID: testChannel, WorkspaceID: testWorkspace, Name: "general"},
		}},
		messages: &messageStore{hub: h, byID: make(map[string]*msgdomain.Message)},
	}
	gw := New(Deps{
		Hub:        h,
		Tokens:     tokens,
		Members:    f.members,
		Workspaces: f.workspaces,
		Messages:   f.messages,
		Policy:     engine.NewOPAEvaluator(nil),
	})
	f.server = httptest.NewServer(gw)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fixture) token(t *testing.T, userID string) string {
	t.Helper()
	tok, _, err := f.tokens.IssueAccess(security.Principal{UserID: userID, DisplayName: userID})
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	return tok
}

func (f *fixture) wsURL() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http") + WebsocketPath
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
