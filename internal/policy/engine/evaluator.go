package engine

import (
	"context"
)

// Actions a join input may carry.
const (
	ActionJoin  = "join"
	ActionTrack = "track"
)

// JoinInput describes one attempt by a user to use a realtime topic.
type JoinInput struct {
	UserID string
	// Role is the caller's workspace role; empty when the caller is not a member.
	Role          string
	Action        string
	TopicKind     string
	WorkspaceID   string
	ChannelID     string
	ChannelExists bool
}

// Decision is the outcome of a join evaluation.
type Decision struct {
	Allow  bool
	Reason string
}

// Evaluator decides whether a realtime channel action is allowed, using OPA or other engines.
type Evaluator interface {
	EvaluateJoin(ctx context.Context, in JoinInput) (Decision, error)
}
