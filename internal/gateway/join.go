package gateway

import (
	"context"
	"errors"
	"log"
	"time"

	"bizlinkone/backend/internal/platform/rbac"
	"bizlinkone/backend/internal/policy/engine"
	"bizlinkone/backend/internal/realtime"
	"bizlinkone/backend/internal/realtime/hub"
	"bizlinkone/backend/internal/realtime/wire"
	"bizlinkone/backend/internal/server/interceptors"
	"bizlinkone/backend/internal/telemetry"
)

const authorizeTimeout = 5 * time.Second

// Join refusal reasons sent to clients.
const (
	reasonInvalidToken   = "invalid access token"
	reasonInvalidTopic   = "invalid topic"
	reasonLookupFailed   = "membership lookup failed"
	reasonPolicyFailed   = "policy evaluation failed"
	reasonBadFilter      = "invalid postgres_changes filter"
	reasonFilterScope    = "postgres_changes filter must match the topic's workspace and channel"
	reasonPresenceKey    = "presence key must be the caller's user id"
	reasonMalformedJoin  = "malformed join payload"
	defaultDenyReason    = "not allowed"
	messagesTable        = "messages"
	filterWorkspaceField = "workspace_id"
	filterChannelField   = "channel_id"
)

func (sess *session) handleJoin(f wire.Frame) {
	// Rejoining a topic replaces the previous membership.
	sess.mu.Lock()
	prev := sess.joined[f.Topic]
	delete(sess.joined, f.Topic)
	sess.mu.Unlock()
	if prev != nil {
		prev.membership.Leave()
	}

	var p wire.JoinPayload
	if err := f.Decode(&p); err != nil {
		sess.rejectJoin(f, nil, reasonMalformedJoin)
		return
	}
	joinRef := f.JoinRef
	if joinRef == "" {
		joinRef = f.Ref
	}

	jt, opts, reason := sess.authorizeJoin(f.Topic, p)
	if reason != "" {
		sess.rejectJoin(f, jt, reason)
		return
	}
	jt.joinRef = joinRef

	sess.replyOK(f, nil)
	jt.membership = sess.srv.deps.Hub.Join(f.Topic, jt, opts)
	sess.mu.Lock()
	sess.joined[f.Topic] = jt
	sess.mu.Unlock()
	if jt.kind == realtime.TopicPresence {
		jt.membership.SyncPresence()
	}
	sess.emit(telemetry.EventJoinAccepted, jt, map[string]any{"filters": len(opts.Filters)})
}

func (sess *session) rejectJoin(f wire.Frame, jt *joinedTopic, reason string) {
	sess.replyError(f, reason)
	if jt == nil {
		jt = &joinedTopic{topic: f.Topic}
	}
	sess.emit(telemetry.EventJoinRejected, jt, map[string]string{"reason": reason})
}

// authorizeJoin returns the joined topic and hub options, or a refusal reason.
func (sess *session) authorizeJoin(topic string, p wire.JoinPayload) (*joinedTopic, hub.JoinOptions, string) {
	deps := sess.srv.deps
	token := p.AccessToken
	if token == "" {
		token = sess.queryToken
	}
	principal, err := deps.Tokens.ValidateAccess(token)
	if err != nil {
		return nil, hub.JoinOptions{}, reasonInvalidToken
	}

	kind, workspaceID, channelID, err := realtime.ParseTopic(topic)
	jt := &joinedTopic{
		s:         sess,
		topic:     topic,
		kind:      kind,
		workspace: workspaceID,
		channel:   channelID,
		principal: principal,
	}
	if err != nil {
		return jt, hub.JoinOptions{}, reasonInvalidTopic
	}

	ctx, cancel := context.WithTimeout(context.Background(), authorizeTimeout)
	defer cancel()
	ctx = interceptors.WithIdentity(ctx, principal.UserID, principal.DisplayName, principal.SessionID)

	member, err := rbac.RequireWorkspaceMember(ctx, deps.Members, workspaceID)
	switch {
	case err == nil:
		jt.role = string(member.Role)
	case errors.Is(err, rbac.ErrNotMember):
	default:
		log.Printf("gateway: join %s: %v", topic, err)
		return jt, hub.JoinOptions{}, reasonLookupFailed
	}

	channelExists := false
	if kind == realtime.TopicMessages {
		ch, err := deps.Workspaces.GetChannel(ctx, workspaceID, channelID)
		if err != nil {
			log.Printf("gateway: join %s: get channel: %v", topic, err)
			return jt, hub.JoinOptions{}, reasonLookupFailed
		}
		channelExists = ch != nil
	}

	decision, err := deps.Policy.EvaluateJoin(ctx, engine.JoinInput{
		UserID:        principal.UserID,
		Role:          jt.role,
		Action:        engine.ActionJoin,
		TopicKind:     string(kind),
		WorkspaceID:   workspaceID,
		ChannelID:     channelID,
		ChannelExists: channelExists,
	})
	if err != nil {
		log.Printf("gateway: join %s: policy: %v", topic, err)
		return jt, hub.JoinOptions{}, reasonPolicyFailed
	}
	if !decision.Allow {
		reason := decision.Reason
		if reason == "" {
			reason = defaultDenyReason
		}
		return jt, hub.JoinOptions{}, reason
	}

	filters, err := p.Config.Filters()
	if err != nil {
		return jt, hub.JoinOptions{}, reasonBadFilter
	}
	for _, flt := range filters {
		if !filterInScope(flt, kind, workspaceID, channelID) {
			return jt, hub.JoinOptions{}, reasonFilterScope
		}
	}

	key := p.Config.Presence.Key
	if key != "" && key != principal.UserID {
		return jt, hub.JoinOptions{}, reasonPresenceKey
	}
	return jt, hub.JoinOptions{Filters: filters, PresenceKey: key}, ""
}

// filterInScope reports whether a change filter can only ever match rows of the joined
// workspace and channel. Presence topics carry no change filters.
func filterInScope(f realtime.ChangeFilter, kind realtime.TopicKind, workspaceID, channelID string) bool {
	if kind != realtime.TopicMessages {
		return false
	}
	if f.Table != messagesTable {
		return false
	}
	return f.Match[filterWorkspaceField] == workspaceID && f.Match[filterChannelField] == channelID
}

// authorizeTrack re-checks the policy for a presence track.
func (sess *session) authorizeTrack(jt *joinedTopic) (string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), authorizeTimeout)
	defer cancel()
	decision, err := sess.srv.deps.Policy.EvaluateJoin(ctx, engine.JoinInput{
		UserID:      jt.principal.UserID,
		Role:        jt.role,
		Action:      engine.ActionTrack,
		TopicKind:   string(jt.kind),
		WorkspaceID: jt.workspace,
		ChannelID:   jt.channel,
	})
	if err != nil {
		log.Printf("gateway: track %s: policy: %v", jt.topic, err)
		return reasonPolicyFailed, false
	}
	if !decision.Allow {
		if decision.Reason == "" {
			return defaultDenyReason, false
		}
		return decision.Reason, false
	}
	return "", true
}
