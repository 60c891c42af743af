// Package approval defines the pluggable approval-requirement classifier
// evaluated at planner-loop stage 5 (evaluateApproval). The teacher does
// not separate policy and approval into two engines; this package is
// modeled as a sibling of package policy, mirroring its
// Engine.Decide(ctx, Input) (Decision, error) signature convention
// (grounded on agents/runtime/policy/policy.go) since spec.md requires
// the split that the teacher's single Engine does not express.
package approval

import (
	"context"

	"github.com/brianchuang/agent-sub000/planner"
)

// RiskClass is an opaque classification string (e.g. "low", "high",
// "destructive"); the engine does not interpret it beyond carrying it
// through to the ApprovalDecisionRecord and audit trail.
type RiskClass string

// Input is the context an approval classifier evaluates. Only tool_call
// intents are classified; ask_user and complete never require approval.
type Input struct {
	TenantID    string
	WorkspaceID string
	WorkflowID  string
	StepNumber  int
	Intent      planner.Intent
}

// Decision is the classifier's verdict.
type Decision struct {
	RiskClass        RiskClass
	RequiresApproval bool
	ReasonCode       string
}

// Classifier is the pluggable pure function the loop invokes at stage 5.
type Classifier interface {
	Classify(ctx context.Context, in Input) (Decision, error)
}

// Func adapts a plain function to Classifier.
type Func func(ctx context.Context, in Input) (Decision, error)

func (f Func) Classify(ctx context.Context, in Input) (Decision, error) { return f(ctx, in) }

// Never is a Classifier that never requires approval; useful as a
// default for tests and single-tenant deployments with no approval
// workflow configured.
func Never() Classifier {
	return Func(func(context.Context, Input) (Decision, error) {
		return Decision{RiskClass: "low", RequiresApproval: false, ReasonCode: "no_approval_policy"}, nil
	})
}

// ToolNames returns a Classifier that requires approval for any
// tool_call whose ToolName is in names, mirroring policy.BlockTool's
// table-driven style.
func ToolNames(riskClass RiskClass, reasonCode string, names ...string) Classifier {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return Func(func(_ context.Context, in Input) (Decision, error) {
		if in.Intent.Type != planner.IntentToolCall {
			return Decision{RiskClass: "low", RequiresApproval: false, ReasonCode: "not_a_tool_call"}, nil
		}
		if _, ok := set[in.Intent.ToolName]; ok {
			return Decision{RiskClass: riskClass, RequiresApproval: true, ReasonCode: reasonCode}, nil
		}
		return Decision{RiskClass: "low", RequiresApproval: false, ReasonCode: "not_gated"}, nil
	})
}
