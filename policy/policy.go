// Package policy defines the pluggable policy-decision function
// evaluated at planner-loop stage 4 (evaluatePolicy). Grounded on
// goa.design/goa-ai's agents/runtime/policy/policy.go (the
// Engine.Decide(ctx, Input) (Decision, error) shape) and
// features/policy/basic/engine.go (a concrete allowlist implementation);
// the Decision verdict itself is redesigned per spec.md §4.1/§4.2 from
// the teacher's allow+caps shape to an allow|rewrite|block verdict with
// a reasonCode and an optional rewritten intent (see the policy section
// of DESIGN.md).
package policy

import (
	"context"

	"github.com/brianchuang/agent-sub000/planner"
)

// Outcome is the three-way policy verdict.
type Outcome string

const (
	OutcomeAllow   Outcome = "allow"
	OutcomeRewrite Outcome = "rewrite"
	OutcomeBlock   Outcome = "block"
)

// Input is the context a policy pack evaluates. TenantID/WorkspaceID
// resolve which pack applies; StepNumber and Intent are the subject of
// the decision.
type Input struct {
	TenantID    string
	WorkspaceID string
	WorkflowID  string
	StepNumber  int
	Intent      planner.Intent
	PolicyPack  Pack
}

// Pack identifies the active policy pack. Resolved per tenant; defaults
// to "<tenantId>-default-policy-pack" version "v1" per spec.md §4.2.
type Pack struct {
	ID      string
	Version string
}

// DefaultPack returns the default pack for a tenant.
func DefaultPack(tenantID string) Pack {
	return Pack{ID: tenantID + "-default-policy-pack", Version: "v1"}
}

// Decision is the engine's verdict. RewrittenIntent is present iff
// Outcome is OutcomeRewrite; the engine re-validates it with
// planner.Intent.Validate before use.
type Decision struct {
	PolicyID        string
	Outcome         Outcome
	ReasonCode      string
	RewrittenIntent *planner.Intent
	Pack            Pack
}

// Engine is the pluggable pure function the loop invokes at stage 4.
// Implementations must be deterministic for a given Input so that replay
// produces byte-identical PolicyDecisionRecords.
type Engine interface {
	Decide(ctx context.Context, in Input) (Decision, error)
}

// ConstraintDescriber is an optional capability an Engine may implement
// to surface the human-readable constraints it enforces into stage 1's
// PlannerInput.PolicyConstraints (spec.md §4.2 point 1: "policy
// constraints list"), so the planner can see what the active policy
// pack disallows before proposing an intent it knows will be blocked.
type ConstraintDescriber interface {
	Describe() []string
}

// Func adapts a plain function to Engine.
type Func func(ctx context.Context, in Input) (Decision, error)

func (f Func) Decide(ctx context.Context, in Input) (Decision, error) { return f(ctx, in) }

// Rule is one entry of the Basic engine's table: a predicate over the
// intent plus the verdict to return when it matches. Implemented as a
// table of predicate+action pairs rather than an if/else cascade, per
// the Design Notes' "tool dispatch as a table" idiom applied here to
// policy rules.
type Rule struct {
	// Name identifies the rule for reasonCode/audit purposes.
	Name string
	// Matches reports whether this rule governs the given intent.
	Matches func(planner.Intent) bool
	// Decide produces the verdict when Matches is true.
	Decide func(planner.Intent) (Outcome, string, *planner.Intent)
}

// Basic is a rule-table policy engine, grounded on
// features/policy/basic/engine.go's allowlist-driven approach but
// generalized to the three-way allow|rewrite|block verdict. Rules are
// evaluated in order; the first match wins. No match allows by default.
type Basic struct {
	Rules []Rule
}

// NewBasic constructs a Basic engine with the given ordered rule table.
func NewBasic(rules ...Rule) *Basic {
	return &Basic{Rules: rules}
}

// Decide implements Engine.
func (b *Basic) Decide(_ context.Context, in Input) (Decision, error) {
	pack := in.PolicyPack
	if pack.ID == "" {
		pack = DefaultPack(in.TenantID)
	}
	for _, r := range b.Rules {
		if r.Matches == nil || !r.Matches(in.Intent) {
			continue
		}
		outcome, reason, rewritten := r.Decide(in.Intent)
		return Decision{
			PolicyID:        r.Name,
			Outcome:         outcome,
			ReasonCode:      reason,
			RewrittenIntent: rewritten,
			Pack:            pack,
		}, nil
	}
	return Decision{
		PolicyID:   "default-allow",
		Outcome:    OutcomeAllow,
		ReasonCode: "no_matching_rule",
		Pack:       pack,
	}, nil
}

// Describe implements ConstraintDescriber: one entry per rule, in
// evaluation order, holding the rule's Name (a BlockTool rule's name
// embeds the blocked tool's name).
func (b *Basic) Describe() []string {
	constraints := make([]string, 0, len(b.Rules))
	for _, r := range b.Rules {
		constraints = append(constraints, r.Name)
	}
	return constraints
}

// BlockTool returns a Rule that blocks any tool_call to the named tool.
func BlockTool(name, reasonCode string) Rule {
	return Rule{
		Name: "block-tool:" + name,
		Matches: func(i planner.Intent) bool {
			return i.Type == planner.IntentToolCall && i.ToolName == name
		},
		Decide: func(planner.Intent) (Outcome, string, *planner.Intent) {
			return OutcomeBlock, reasonCode, nil
		},
	}
}
