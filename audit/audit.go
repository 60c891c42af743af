// Package audit provides scoped audit-trail queries and the Replay
// Trace / diffReplaySnapshot projections described in spec.md §4.7.
// Grounded on runtime/agent/hooks/bus.go's snapshot-then-iterate
// publish idiom (here applied to a read-only scan over a store-backed
// audit log rather than an in-process subscriber list) and
// runtime/a2a's convention of returning a flat, deterministic list of
// named discrepancies from a comparison rather than a nested diff
// tree.
package audit

import (
	"context"
	"fmt"
	"sort"

	"github.com/brianchuang/agent-sub000/planner"
	"github.com/brianchuang/agent-sub000/store"
	"github.com/brianchuang/agent-sub000/workflow"
)

// ListInput parameterizes a scoped audit read.
type ListInput struct {
	ActorScope workflow.Scope
	WorkflowID string
	RequestID  string
}

// List returns the audit trail for the actor's own scope, narrowed by
// WorkflowID/RequestID when non-empty. Cross-tenant reads are never
// permitted here: spec.md §4.7 grants cross-tenant access only to
// Replay, guarded by an explicit capability flag.
func List(ctx context.Context, port store.Port, in ListInput) ([]store.AuditRecord, error) {
	if err := in.ActorScope.Validate(); err != nil {
		return nil, err
	}
	return port.ListAuditRecords(ctx, in.ActorScope, in.WorkflowID, in.RequestID)
}

// TraceStep is one entry of a Replay Trace's steps array.
type TraceStep struct {
	StepNumber    int
	Status        workflow.StepStatus
	PlannerIntent planner.Intent
	PlannerInput  planner.PlannerInput
	ToolResult    *planner.ToolResult
}

// Trace is the deterministic projection described in spec.md §4.7.
type Trace struct {
	TenantID        string
	WorkspaceID     string
	WorkflowID      string
	Request         store.ObjectiveRequest
	Steps           []TraceStep
	Completion      *workflow.Completion
	WaitingQuestion string
}

// ReplayInput parameterizes Replay. TargetScope is the workflow's own
// scope; ActorScope is the caller's. They must match unless
// AllowCrossTenantRead is set.
type ReplayInput struct {
	ActorScope           workflow.Scope
	TargetScope          workflow.Scope
	WorkflowID           string
	RequestID            string
	AllowCrossTenantRead bool
}

// Replay builds a Trace, enforcing the scope-match capability check.
func Replay(ctx context.Context, port store.Port, in ReplayInput) (Trace, error) {
	if !in.AllowCrossTenantRead && !in.ActorScope.Equal(in.TargetScope) {
		return Trace{}, fmt.Errorf("%w: actor scope does not match workflow scope, allowCrossTenantRead is required", workflow.ErrValidation)
	}

	wf, err := port.GetWorkflow(ctx, in.TargetScope, in.WorkflowID)
	if err != nil {
		return Trace{}, err
	}

	var req store.ObjectiveRequest
	if in.RequestID != "" {
		req, err = port.GetObjectiveRequest(ctx, in.TargetScope, in.RequestID)
		if err != nil {
			return Trace{}, err
		}
	}

	steps := make([]TraceStep, 0, len(wf.Steps))
	for _, st := range wf.Steps {
		steps = append(steps, TraceStep{
			StepNumber: st.StepNumber, Status: st.Status,
			PlannerIntent: st.PlannerIntent, PlannerInput: st.PlannerInput,
			ToolResult: st.ToolResult,
		})
	}

	return Trace{
		TenantID: in.TargetScope.TenantID, WorkspaceID: in.TargetScope.WorkspaceID,
		WorkflowID: in.WorkflowID, Request: req, Steps: steps,
		Completion: wf.Completion, WaitingQuestion: wf.WaitingQuestion,
	}, nil
}

// Drift is one discrepancy reported by Diff.
type Drift struct {
	StepNumber int
	Field      string
	Expected   string
	Actual     string
}

// Diff implements diffReplaySnapshot(expected, actual): a deterministic
// per-step drift list (step length mismatch, step status, intent type,
// tool name), per spec.md §4.7.
func Diff(expected, actual Trace) []Drift {
	var drifts []Drift
	if len(expected.Steps) != len(actual.Steps) {
		drifts = append(drifts, Drift{
			StepNumber: -1, Field: "steps.length",
			Expected: fmt.Sprint(len(expected.Steps)), Actual: fmt.Sprint(len(actual.Steps)),
		})
	}
	n := len(expected.Steps)
	if len(actual.Steps) < n {
		n = len(actual.Steps)
	}
	for i := 0; i < n; i++ {
		e, a := expected.Steps[i], actual.Steps[i]
		if e.Status != a.Status {
			drifts = append(drifts, Drift{StepNumber: i, Field: "status", Expected: string(e.Status), Actual: string(a.Status)})
		}
		if e.PlannerIntent.Type != a.PlannerIntent.Type {
			drifts = append(drifts, Drift{StepNumber: i, Field: "intentType", Expected: string(e.PlannerIntent.Type), Actual: string(a.PlannerIntent.Type)})
		}
		if e.PlannerIntent.ToolName != a.PlannerIntent.ToolName {
			drifts = append(drifts, Drift{StepNumber: i, Field: "toolName", Expected: e.PlannerIntent.ToolName, Actual: a.PlannerIntent.ToolName})
		}
	}
	sort.SliceStable(drifts, func(i, j int) bool {
		if drifts[i].StepNumber != drifts[j].StepNumber {
			return drifts[i].StepNumber < drifts[j].StepNumber
		}
		return drifts[i].Field < drifts[j].Field
	})
	return drifts
}
