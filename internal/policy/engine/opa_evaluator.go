package engine

import (
	"context"
	"fmt"
	"log"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"

	"bizlinkone/backend/internal/policy/repository"
)

const (
	allowQuery  = "data.bizlinkone.realtime.allow"
	reasonQuery = "data.bizlinkone.realtime.reason"
)

// Default Rego policy: members may join presence of their workspace and the messages topic of an
// existing channel in it.
const defaultRegoPolicy = `package bizlinkone.realtime

default allow := false

default reason := "not allowed"

is_member if {
	input.member.role in {"owner", "admin", "member"}
	input.member.workspace_id == input.topic.workspace_id
}

allow if {
	is_member
	input.topic.kind == "presence"
}

allow if {
	is_member
	input.topic.kind == "messages"
	input.action == "join"
	input.topic.channel_exists
}

reason := "not a member of this workspace" if {
	not is_member
}

reason := "unknown channel" if {
	is_member
	input.topic.kind == "messages"
	not input.topic.channel_exists
}
`

// OPAEvaluator evaluates channel-join policies using OPA Rego.
type OPAEvaluator struct {
	policyRepo repository.Repository
}

// NewOPAEvaluator returns an OPA-based policy evaluator. policyRepo may be nil, in which case
// only the default policy is used.
func NewOPAEvaluator(policyRepo repository.Repository) *OPAEvaluator {
	return &OPAEvaluator{policyRepo: policyRepo}
}

// HealthCheck verifies that the in-process OPA Rego engine can compile and evaluate the default policy.
// Does not call the policy repo or database. Returns nil on success.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	d, err := e.evaluate(ctx, []string{defaultRegoPolicy}, buildInput(JoinInput{
		UserID:      "health",
		Role:        "member",
		Action:      ActionJoin,
		TopicKind:   "presence",
		WorkspaceID: "health",
	}))
	if err != nil {
		return err
	}
	if !d.Allow {
		return fmt.Errorf("default policy denied a member presence join")
	}
	return nil
}

// EvaluateJoin evaluates the workspace's enabled policies, or the default policy when it has none.
// Any evaluation failure denies: the decision is returned together with the error.
func (e *OPAEvaluator) EvaluateJoin(ctx context.Context, in JoinInput) (Decision, error) {
	var policies []string
	if e.policyRepo != nil && in.WorkspaceID != "" {
		enabled, err := e.policyRepo.GetEnabledPoliciesByWorkspace(ctx, in.WorkspaceID)
		if err != nil {
			log.Printf("policy: failed to load policies for workspace %s: %v", in.WorkspaceID, err)
		} else {
			for _, p := range enabled {
				if p.Enabled && p.Rules != "" {
					policies = append(policies, p.Rules)
				}
			}
		}
	}
	if len(policies) == 0 {
		policies = []string{defaultRegoPolicy}
	}

	d, err := e.evaluate(ctx, policies, buildInput(in))
	if err != nil {
		log.Printf("policy: evaluation failed for workspace %s: %v, denying", in.WorkspaceID, err)
		return Decision{Allow: false, Reason: "policy evaluation failed"}, err
	}
	return d, nil
}

func buildInput(in JoinInput) map[string]interface{} {
	var member interface{}
	if in.Role != "" {
		member = map[string]interface{}{
			"role":         in.Role,
			"workspace_id": in.WorkspaceID,
		}
	}
	return map[string]interface{}{
		"user":   map[string]interface{}{"id": in.UserID},
		"member": member,
		"action": in.Action,
		"topic": map[string]interface{}{
			"kind":           in.TopicKind,
			"workspace_id":   in.WorkspaceID,
			"channel_id":     in.ChannelID,
			"channel_exists": in.ChannelExists,
		},
	}
}

func (e *OPAEvaluator) evaluate(ctx context.Context, policies []string, input map[string]interface{}) (Decision, error) {
	modules := make(map[string]string)
	for i, policy := range policies {
		modules[fmt.Sprintf("policy_%d.rego", i)] = policy
	}
	compiler, err := ast.CompileModules(modules)
	if err != nil {
		return Decision{}, fmt.Errorf("compile policies: %w", err)
	}

	rs, err := rego.New(
		rego.Query(allowQuery),
		rego.Compiler(compiler),
		rego.Input(input),
	).Eval(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("eval allow: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return Decision{}, fmt.Errorf("policy query returned no result")
	}
	allow, ok := rs[0].Expressions[0].Value.(bool)
	if !ok {
		return Decision{}, fmt.Errorf("allow is %T, want bool", rs[0].Expressions[0].Value)
	}
	out := Decision{Allow: allow}
	if allow {
		return out, nil
	}

	// The reason is optional; custom policies may not define it.
	reasonRS, err := rego.New(
		rego.Query(reasonQuery),
		rego.Compiler(compiler),
		rego.Input(input),
	).Eval(ctx)
	if err == nil && len(reasonRS) > 0 && len(reasonRS[0].Expressions) > 0 {
		if s, ok := reasonRS[0].Expressions[0].Value.(string); ok {
			out.Reason = s
		}
	}
	if out.Reason == "" {
		out.Reason = "not allowed"
	}
	return out, nil
}
