// Package engine implements the Planner Loop Engine: the transactional
// state machine that drives a workflow through
// buildPlanningContext -> plan -> validateIntent -> evaluatePolicy ->
// evaluateApproval -> executeIntent, per spec.md §4.2. Grounded on
// goa.design/goa-ai's runtime/agent/engine/inmem/engine.go for the
// overall "drive a workflow definition through a sequence of steps"
// shape, and on runtime/agent/runtime/runtime.go's RunOption functional-
// options pattern for the pluggable-stages struct called out in the
// Design Notes ("a stages struct passed through loop execution rather
// than runtime class inheritance").
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"

	"github.com/brianchuang/agent-sub000/approval"
	"github.com/brianchuang/agent-sub000/planner"
	"github.com/brianchuang/agent-sub000/policy"
	"github.com/brianchuang/agent-sub000/store"
	"github.com/brianchuang/agent-sub000/telemetry"
	"github.com/brianchuang/agent-sub000/tools"
	"github.com/brianchuang/agent-sub000/workflow"
)

// ContractVersion is stamped onto every PlannerInput (spec.md §4.2
// stage 1); bump it when the shape of PlannerInput changes in a way the
// planner must be able to detect.
const ContractVersion = "agent-sub000.planner/v1"

// Request is the public input to RunPlannerLoop.
type Request struct {
	Scope           workflow.Scope
	WorkflowID      string
	RequestID       string
	ThreadID        string
	ObjectivePrompt string
	// MaxSteps overrides Deps.MaxSteps / workflow.DefaultMaxSteps for
	// this run when non-zero.
	MaxSteps int
}

// Result is runPlannerLoop's return value: PlannerLoopResult in
// spec.md's terms.
type Result struct {
	WorkflowID      string
	Status          workflow.Status
	Steps           []workflow.PlannerStepRecord
	WaitingQuestion string
	Completion      *workflow.Completion
}

// MemoryProvider supplies the opaque memoryContext object stage 1
// attaches to PlannerInput.
type MemoryProvider func(ctx context.Context, scope workflow.Scope, workflowID string) (any, error)

// ToolExecuteFunc is the fallback tool executor used when Deps has no
// ToolRegistry configured, per spec.md §6's Tool Executor interface.
type ToolExecuteFunc func(ctx context.Context, in ExecuteIntentInput) (planner.ToolResult, error)

// ExecuteIntentInput is stage 6's input.
type ExecuteIntentInput struct {
	Scope      workflow.Scope
	WorkflowID string
	RequestID  string
	StepNumber int
	Intent     planner.Intent
}

// ExecuteIntentOutput is stage 6's output: enough to build both the
// PlannerStepRecord and the workflow.ApplyStepResult transition.
type ExecuteIntentOutput struct {
	Step              workflow.PlannerStepRecord
	NewStatus         workflow.Status
	WaitingQuestion   string
	Completion        *workflow.Completion
	InstallCheckpoint bool
}

// Stages holds the six pluggable pure-ish functions described in
// spec.md §4.2 and the Design Notes' "pluggable stages" guidance.
// Defaults live in stages.go, next to this file, per that same guidance.
type Stages struct {
	BuildPlanningContext func(ctx context.Context, wf workflow.WorkflowInstance, req Request) (planner.PlannerInput, error)
	Plan                 func(ctx context.Context, in planner.PlannerInput) (planner.Intent, error)
	ValidateIntent       func(intent planner.Intent) error
	EvaluatePolicy       func(ctx context.Context, in policy.Input) (policy.Decision, error)
	EvaluateApproval     func(ctx context.Context, in approval.Input) (approval.Decision, error)
	ExecuteIntent        func(ctx context.Context, in ExecuteIntentInput) (ExecuteIntentOutput, error)
}

// Deps is everything RunPlannerLoop needs beyond the Request. NewDeps
// fills Stages with DefaultStages(...) built from its own arguments; a
// Deps assembled by hand gets no default Stages, and callers may
// override any stage individually, per the "overridable individually"
// contract.
type Deps struct {
	Store              store.Port
	Stages             Stages
	MaxSteps           int
	Logger             telemetry.Logger
	Metrics            telemetry.Metrics
	Tracer             telemetry.Tracer
	Clock              func() time.Time
}

func (d Deps) clock() time.Time {
	if d.Clock != nil {
		return d.Clock()
	}
	return time.Now().UTC()
}

func (d Deps) logger() telemetry.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return telemetry.NoopLogger{}
}

func (d Deps) metrics() telemetry.Metrics {
	if d.Metrics != nil {
		return d.Metrics
	}
	return telemetry.NoopMetrics{}
}

func (d Deps) tracer() telemetry.Tracer {
	if d.Tracer != nil {
		return d.Tracer
	}
	return telemetry.NoopTracer{}
}

// NewDeps assembles Deps with DefaultStages wired from planner p,
// policy engine pe, approval classifier ac, tool registry reg (nil
// allowed), and fallback tool executor fallback (nil allowed; at least
// one of reg/fallback must be non-nil for tool_call intents to
// execute, per spec.md §6).
func NewDeps(p planner.Planner, pe policy.Engine, ac approval.Classifier, reg *tools.Registry, fallback ToolExecuteFunc, mem MemoryProvider) Deps {
	return Deps{
		Stages: DefaultStages(p, pe, ac, reg, fallback, mem),
	}
}

// RunPlannerLoop is the public contract described in spec.md §4.2:
// runPlannerLoop(request, deps) -> PlannerLoopResult. It implements the
// loop iteration protocol verbatim:
//  1. pending approval -> return snapshot (waiting_signal)
//  2. rejected approval -> fail, return
//  3. approved approval -> execute the stored intent exactly once, continue
//  4. steps.length >= maxSteps -> fail with max-step error
//  5. otherwise run stages 1-6; if terminal or waiting, return
func RunPlannerLoop(ctx context.Context, req Request, deps Deps) (Result, error) {
	if err := req.Scope.Validate(); err != nil {
		return Result{}, err
	}
	if req.WorkflowID == "" {
		return Result{}, fmt.Errorf("%w: workflowId is required", workflow.ErrValidation)
	}
	maxSteps := req.MaxSteps
	if maxSteps <= 0 {
		maxSteps = deps.MaxSteps
	}
	if maxSteps <= 0 {
		maxSteps = workflow.DefaultMaxSteps
	}

	wf, err := loadOrZero(ctx, deps.Store, req.Scope, req.WorkflowID)
	if err != nil {
		return Result{}, err
	}

	for {
		if wf.Status.IsTerminal() {
			// Terminal is sticky: re-entry returns the current snapshot
			// without further work (spec.md §4.1).
			return snapshotResult(wf), nil
		}

		if wf.PendingApproval != nil {
			switch wf.PendingApproval.Status {
			case workflow.ApprovalPending:
				return snapshotResult(wf), nil
			case workflow.ApprovalRejected:
				// Defensive: the signal-ingestion resume path already
				// transitions the workflow straight to Failed on
				// rejection (see store/inmem's ResumeWithSignal), so this
				// branch is normally unreachable, but the loop protocol
				// names it explicitly (spec.md §4.2 step 2) for stores
				// that do not pre-fail on rejection.
				wf2, ferr := failWorkflowDirect(ctx, deps, req, "approval rejected", store.AuditWorkflowTerminalFailed)
				if ferr != nil {
					return Result{}, ferr
				}
				return snapshotResult(wf2), fmt.Errorf("%w", workflow.ErrApprovalRejected)
			case workflow.ApprovalApproved:
				wf2, serr := withConflictRetry(func() (workflow.WorkflowInstance, error) {
					return executeApprovedIntent(ctx, deps, req)
				})
				if serr != nil {
					return snapshotResult(wf2), serr
				}
				wf = wf2
				continue
			}
		}

		if len(wf.Steps) >= maxSteps {
			wf2, ferr := failWorkflowDirect(ctx, deps, req, fmt.Sprintf("max step guard exceeded at step %d", maxSteps), store.AuditWorkflowTerminalFailed)
			if ferr != nil {
				return Result{}, ferr
			}
			return snapshotResult(wf2), fmt.Errorf("%w: max steps (%d) exceeded", workflow.ErrMaxStepsExceeded, maxSteps)
		}

		wf2, serr := withConflictRetry(func() (workflow.WorkflowInstance, error) {
			return runOneStep(ctx, deps, req)
		})
		wf = wf2
		if serr != nil {
			return snapshotResult(wf), serr
		}
		if wf.Status.IsTerminal() || wf.Status == workflow.StatusWaitingSignal {
			return snapshotResult(wf), nil
		}
		// Otherwise the step was tool_executed and status is still
		// running: loop back to plan the next step.
	}
}

func loadOrZero(ctx context.Context, port store.Port, scope workflow.Scope, workflowID string) (workflow.WorkflowInstance, error) {
	wf, err := port.GetWorkflow(ctx, scope, workflowID)
	if err == nil {
		return wf, nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return workflow.WorkflowInstance{
			TenantID:    scope.TenantID,
			WorkspaceID: scope.WorkspaceID,
			WorkflowID:  workflowID,
			Status:      workflow.StatusRunning,
		}, nil
	}
	return workflow.WorkflowInstance{}, err
}

func snapshotResult(wf workflow.WorkflowInstance) Result {
	return Result{
		WorkflowID:      wf.WorkflowID,
		Status:          wf.Status,
		Steps:           wf.Steps,
		WaitingQuestion: wf.WaitingQuestion,
		Completion:      wf.Completion,
	}
}

// withConflictRetry retries fn while it reports workflow.ErrWorkflowConflict,
// per spec.md §5: "on conflict, one transaction retries or fails with
// WORKFLOW_CONFLICT." Bounded to a small number of attempts since a
// genuinely starved workflow under constant contention is better
// surfaced as an error than retried forever.
func withConflictRetry(fn func() (workflow.WorkflowInstance, error)) (workflow.WorkflowInstance, error) {
	const maxAttempts = 5
	var wf workflow.WorkflowInstance
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		wf, err = fn()
		if err == nil || !errors.Is(err, workflow.ErrWorkflowConflict) {
			return wf, err
		}
	}
	return wf, err
}

// runOneStep executes stages 1-6 inside a single persistence
// transaction, per spec.md §4.1's "all performed inside a single
// persistence transaction." The transaction function itself performs
// the external plan/execute calls; per spec.md §5 this is the one
// legitimate suspension point inside a transaction.
func runOneStep(ctx context.Context, deps Deps, req Request) (workflow.WorkflowInstance, error) {
	ctx, span := deps.tracer().Start(ctx, "engine.runOneStep")
	defer span.End()

	var surfaced error
	fn := func(wf workflow.WorkflowInstance) (store.StepTxResult, error) {
		res, terr := computeStep(ctx, deps, req, wf)
		surfaced = terr
		return res, nil
	}
	wf, err := deps.Store.RunStepTransaction(ctx, req.Scope, req.WorkflowID, req.RequestID, req.ThreadID, fn)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return workflow.WorkflowInstance{}, err
	}
	deps.metrics().IncCounter(telemetry.MetricWorkflowStepsTotal, 1, "workflow_id", req.WorkflowID)
	if surfaced != nil {
		span.RecordError(surfaced)
		span.SetStatus(codes.Error, surfaced.Error())
		deps.logger().Warn(ctx, "planner step failed", "workflow_id", req.WorkflowID, "error", surfaced.Error())
		return wf, surfaced
	}
	return wf, nil
}

// computeStep is the pure(ish) body of stages 1-6, called from inside
// the step transaction. The returned error, when non-nil, is always
// accompanied by a StepTxResult that fails the workflow in the same
// transaction (spec.md §7: "any unhandled exception inside a step
// transaction ... marks the workflow failed").
func computeStep(ctx context.Context, deps Deps, req Request, wf workflow.WorkflowInstance) (store.StepTxResult, error) {
	stepNumber := len(wf.Steps)
	scope := req.Scope

	pin, err := deps.Stages.BuildPlanningContext(ctx, wf, req)
	if err != nil {
		return failStep(scope, req, stepNumber, deps, fmt.Sprintf("build planning context: %v", err)),
			fmt.Errorf("runtime internal error: build planning context: %w", err)
	}

	intent, err := deps.Stages.Plan(ctx, pin)
	if err != nil {
		return failStep(scope, req, stepNumber, deps, fmt.Sprintf("plan: %v", err)),
			fmt.Errorf("runtime internal error: plan: %w", err)
	}

	if verr := deps.Stages.ValidateIntent(intent); verr != nil {
		return failStep(scope, req, stepNumber, deps, verr.Error()), verr
	}

	pack := policy.DefaultPack(scope.TenantID)
	pdec, err := deps.Stages.EvaluatePolicy(ctx, policy.Input{
		TenantID: scope.TenantID, WorkspaceID: scope.WorkspaceID, WorkflowID: req.WorkflowID,
		StepNumber: stepNumber, Intent: intent, PolicyPack: pack,
	})
	if err != nil {
		return failStep(scope, req, stepNumber, deps, fmt.Sprintf("evaluate policy: %v", err)),
			fmt.Errorf("runtime internal error: evaluate policy: %w", err)
	}
	deps.metrics().IncCounter(telemetry.MetricPolicyDecisionsTotal, 1, "outcome", string(pdec.Outcome))

	policyRec := &store.PolicyDecisionRecord{
		TenantID: scope.TenantID, WorkspaceID: scope.WorkspaceID, DecisionID: uuid.NewString(),
		WorkflowID: req.WorkflowID, StepNumber: stepNumber,
		PolicyPackID: pdec.Pack.ID, PolicyPackVersion: pdec.Pack.Version,
		Outcome: pdec.Outcome, ReasonCode: pdec.ReasonCode,
		OriginalIntent: intent, RewrittenIntent: pdec.RewrittenIntent, CreatedAt: deps.clock(),
	}

	effectiveIntent := intent
	switch pdec.Outcome {
	case policy.OutcomeBlock:
		audit := []store.AuditRecord{
			newAudit(scope, req, stepNumber, store.AuditPolicyBlock, map[string]any{"reasonCode": pdec.ReasonCode}, deps),
			newAudit(scope, req, stepNumber, store.AuditWorkflowTerminalFailed, map[string]any{"reasonCode": pdec.ReasonCode}, deps),
		}
		return store.StepTxResult{FailReason: "policy blocked: " + pdec.ReasonCode, PolicyDecision: policyRec, Audit: audit},
			fmt.Errorf("%w: %s", workflow.ErrPolicyBlocked, pdec.ReasonCode)
	case policy.OutcomeRewrite:
		if pdec.RewrittenIntent == nil {
			return failStep(scope, req, stepNumber, deps, "policy outcome=rewrite without a rewrittenIntent"),
				fmt.Errorf("%w: policy outcome=rewrite requires a rewrittenIntent", workflow.ErrValidation)
		}
		if verr := deps.Stages.ValidateIntent(*pdec.RewrittenIntent); verr != nil {
			return failStep(scope, req, stepNumber, deps, "rewritten intent failed validation: "+verr.Error()),
				fmt.Errorf("%w: rewritten intent failed validation: %v", workflow.ErrValidation, verr)
		}
		effectiveIntent = *pdec.RewrittenIntent
	}

	audit := []store.AuditRecord{policyAudit(scope, req, stepNumber, pdec, deps)}

	if effectiveIntent.Type == planner.IntentToolCall {
		adec, err := deps.Stages.EvaluateApproval(ctx, approval.Input{
			TenantID: scope.TenantID, WorkspaceID: scope.WorkspaceID, WorkflowID: req.WorkflowID,
			StepNumber: stepNumber, Intent: effectiveIntent,
		})
		if err != nil {
			return failStep(scope, req, stepNumber, deps, fmt.Sprintf("evaluate approval: %v", err)),
				fmt.Errorf("runtime internal error: evaluate approval: %w", err)
		}
		if adec.RequiresApproval {
			approvalID := uuid.NewString()
			apprRec := &store.ApprovalDecisionRecord{
				TenantID: scope.TenantID, WorkspaceID: scope.WorkspaceID, ApprovalID: approvalID,
				WorkflowID: req.WorkflowID, Status: workflow.ApprovalPending,
				RiskClass: adec.RiskClass, ReasonCode: adec.ReasonCode, Intent: effectiveIntent,
			}
			audit = append(audit, newAudit(scope, req, stepNumber, store.AuditApprovalPending,
				map[string]any{"riskClass": string(adec.RiskClass), "reasonCode": adec.ReasonCode}, deps))
			applyRes := workflow.ApplyStepResult{
				Step: workflow.PlannerStepRecord{
					StepNumber: stepNumber, IntentType: effectiveIntent.Type, Status: workflow.StepWaitingSignal,
					PlannerInput: pin, PlannerIntent: effectiveIntent, CreatedAt: deps.clock(),
				},
				NewStatus:         workflow.StatusWaitingSignal,
				InstallCheckpoint: true,
			}
			return store.StepTxResult{
				Apply: &applyRes, PolicyDecision: policyRec, Approval: apprRec,
				InstallApproval: true, Audit: audit,
			}, nil
		}
	}

	execOut, err := deps.Stages.ExecuteIntent(ctx, ExecuteIntentInput{
		Scope: scope, WorkflowID: req.WorkflowID, RequestID: req.RequestID,
		StepNumber: stepNumber, Intent: effectiveIntent,
	})
	if err != nil {
		return failStep(scope, req, stepNumber, deps, fmt.Sprintf("execute intent: %v", err)),
			fmt.Errorf("tool failure: %w", err)
	}
	execOut.Step.PlannerInput = pin
	if execOut.Step.CreatedAt.IsZero() {
		execOut.Step.CreatedAt = deps.clock()
	}
	if execOut.Step.Status == workflow.StepCompleted {
		audit = append(audit, newAudit(scope, req, stepNumber, store.AuditWorkflowTerminalCompleted, nil, deps))
	}

	applyRes := workflow.ApplyStepResult{
		Step: execOut.Step, NewStatus: execOut.NewStatus,
		WaitingQuestion: execOut.WaitingQuestion, Completion: execOut.Completion,
		InstallCheckpoint: execOut.InstallCheckpoint,
	}
	return store.StepTxResult{Apply: &applyRes, PolicyDecision: policyRec, Audit: audit}, nil
}

// executeApprovedIntent is the step-3 branch of the loop protocol: the
// intent stored on PendingApproval is executed exactly once, in a new
// transaction, and PendingApproval is cleared in the same transaction.
func executeApprovedIntent(ctx context.Context, deps Deps, req Request) (workflow.WorkflowInstance, error) {
	var surfaced error
	fn := func(wf workflow.WorkflowInstance) (store.StepTxResult, error) {
		if wf.PendingApproval == nil || wf.PendingApproval.Status != workflow.ApprovalApproved {
			// A concurrent writer already resolved this; returning a
			// conflict lets the outer loop refetch and decide afresh.
			return store.StepTxResult{}, fmt.Errorf("%w: pending approval is no longer approved", workflow.ErrWorkflowConflict)
		}
		stepNumber := len(wf.Steps)
		intent := wf.PendingApproval.Intent
		execOut, err := deps.Stages.ExecuteIntent(ctx, ExecuteIntentInput{
			Scope: req.Scope, WorkflowID: req.WorkflowID, RequestID: req.RequestID,
			StepNumber: stepNumber, Intent: intent,
		})
		if err != nil {
			surfaced = fmt.Errorf("tool failure: %w", err)
			return store.StepTxResult{
				FailReason: fmt.Sprintf("execute approved intent: %v", err),
				Audit:      []store.AuditRecord{newAudit(req.Scope, req, stepNumber, store.AuditWorkflowTerminalFailed, nil, deps)},
			}, nil
		}
		if execOut.Step.CreatedAt.IsZero() {
			execOut.Step.CreatedAt = deps.clock()
		}
		var audit []store.AuditRecord
		if execOut.Step.Status == workflow.StepCompleted {
			audit = append(audit, newAudit(req.Scope, req, stepNumber, store.AuditWorkflowTerminalCompleted, nil, deps))
		}
		applyRes := workflow.ApplyStepResult{
			Step: execOut.Step, NewStatus: execOut.NewStatus,
			WaitingQuestion: execOut.WaitingQuestion, Completion: execOut.Completion,
			InstallCheckpoint: execOut.InstallCheckpoint,
		}
		return store.StepTxResult{Apply: &applyRes, ClearApproval: true, Audit: audit}, nil
	}
	wf, err := deps.Store.RunStepTransaction(ctx, req.Scope, req.WorkflowID, req.RequestID, req.ThreadID, fn)
	if err != nil {
		return workflow.WorkflowInstance{}, err
	}
	return wf, surfaced
}

// failWorkflowDirect fails the workflow outside the normal step-append
// path (approval rejection, max-step guard).
func failWorkflowDirect(ctx context.Context, deps Deps, req Request, reason string, evType store.AuditEventType) (workflow.WorkflowInstance, error) {
	fn := func(wf workflow.WorkflowInstance) (store.StepTxResult, error) {
		audit := []store.AuditRecord{newAudit(req.Scope, req, len(wf.Steps), evType, map[string]any{"reason": reason}, deps)}
		return store.StepTxResult{FailReason: reason, Audit: audit, ClearApproval: true}, nil
	}
	return deps.Store.RunStepTransaction(ctx, req.Scope, req.WorkflowID, req.RequestID, req.ThreadID, fn)
}

func failStep(scope workflow.Scope, req Request, stepNumber int, deps Deps, reason string) store.StepTxResult {
	audit := []store.AuditRecord{newAudit(scope, req, stepNumber, store.AuditWorkflowTerminalFailed, map[string]any{"reason": reason}, deps)}
	return store.StepTxResult{FailReason: reason, Audit: audit}
}

func newAudit(scope workflow.Scope, req Request, stepNumber int, evType store.AuditEventType, detail map[string]any, deps Deps) store.AuditRecord {
	return store.AuditRecord{
		TenantID: scope.TenantID, WorkspaceID: scope.WorkspaceID, AuditID: uuid.NewString(),
		WorkflowID: req.WorkflowID, RequestID: req.RequestID, StepNumber: stepNumber,
		EventType: evType, Detail: detail, CreatedAt: deps.clock(),
	}
}

func policyAudit(scope workflow.Scope, req Request, stepNumber int, pdec policy.Decision, deps Deps) store.AuditRecord {
	evType := store.AuditPolicyAllow
	if pdec.Outcome == policy.OutcomeRewrite {
		evType = store.AuditPolicyRewrite
	}
	return newAudit(scope, req, stepNumber, evType, map[string]any{"policyId": pdec.PolicyID, "reasonCode": pdec.ReasonCode}, deps)
}
