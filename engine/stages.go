package engine

import (
	"context"
	"fmt"

	"github.com/brianchuang/agent-sub000/approval"
	"github.com/brianchuang/agent-sub000/planner"
	"github.com/brianchuang/agent-sub000/policy"
	"github.com/brianchuang/agent-sub000/tools"
	"github.com/brianchuang/agent-sub000/workflow"
)

// DefaultStages wires the six stages from the given collaborators. Any
// field may be overridden individually after construction, per the
// "pluggable stages" contract in engine.go's doc comment.
func DefaultStages(p planner.Planner, pe policy.Engine, ac approval.Classifier, reg *tools.Registry, fallback ToolExecuteFunc, mem MemoryProvider) Stages {
	return Stages{
		BuildPlanningContext: DefaultBuildPlanningContext(mem, reg, pe),
		Plan:                 p.Plan,
		ValidateIntent:       func(intent planner.Intent) error { return intent.Validate() },
		EvaluatePolicy:       pe.Decide,
		EvaluateApproval:     ac.Classify,
		ExecuteIntent:        DefaultExecuteIntent(reg, fallback),
	}
}

// DefaultBuildPlanningContext implements stage 1: it projects the
// current workflow snapshot and memory context into a PlannerInput,
// grounded on runtime/agent/engine/inmem/engine.go's pattern of
// re-deriving planner-visible state from the durable workflow record
// rather than carrying separate in-memory session state.
func DefaultBuildPlanningContext(mem MemoryProvider, reg *tools.Registry, pe policy.Engine) func(ctx context.Context, wf workflow.WorkflowInstance, req Request) (planner.PlannerInput, error) {
	return func(ctx context.Context, wf workflow.WorkflowInstance, req Request) (planner.PlannerInput, error) {
		var memCtx any
		if mem != nil {
			m, err := mem(ctx, req.Scope, req.WorkflowID)
			if err != nil {
				return planner.PlannerInput{}, fmt.Errorf("memory provider: %w", err)
			}
			memCtx = m
		}

		summaries := make([]planner.StepSummary, 0, len(wf.Steps))
		for _, st := range wf.Steps {
			summaries = append(summaries, planner.StepSummary{
				StepNumber: st.StepNumber,
				IntentType: st.IntentType,
				ToolName:   st.PlannerIntent.ToolName,
				Question:   st.PlannerIntent.Question,
				Output:     st.PlannerIntent.Output,
				ToolResult: st.ToolResult,
			})
		}

		var toolMeta []planner.ToolMetadata
		if reg != nil {
			for _, m := range reg.List(tools.Scope{TenantID: req.Scope.TenantID, WorkspaceID: req.Scope.WorkspaceID}) {
				toolMeta = append(toolMeta, planner.ToolMetadata{Name: m.Name, Description: m.Description})
			}
		}

		pack := policy.DefaultPack(req.Scope.TenantID)
		constraints := []string{fmt.Sprintf("policy pack %s %s active", pack.ID, pack.Version)}
		if describer, ok := pe.(policy.ConstraintDescriber); ok {
			constraints = append(constraints, describer.Describe()...)
		}

		return planner.PlannerInput{
			ContractVersion:    ContractVersion,
			TenantID:           req.Scope.TenantID,
			WorkspaceID:        req.Scope.WorkspaceID,
			WorkflowID:         req.WorkflowID,
			ThreadID:           req.ThreadID,
			ObjectivePrompt:    req.ObjectivePrompt,
			MemoryContext:      memCtx,
			PriorStepSummaries: summaries,
			PolicyConstraints:  constraints,
			AvailableTools:     toolMeta,
			StepIndex:          len(wf.Steps),
		}, nil
	}
}

// DefaultExecuteIntent implements stage 6 for all three intent
// variants, per spec.md §4.2 point 6. A tool_call is dispatched to reg
// when non-nil, falling back to the explicit executor when reg is nil;
// configuring neither is a VALIDATION_ERROR, grounded on
// runtime/toolregistry/executor/executor.go's "no handler registered"
// failure mode.
func DefaultExecuteIntent(reg *tools.Registry, fallback ToolExecuteFunc) func(ctx context.Context, in ExecuteIntentInput) (ExecuteIntentOutput, error) {
	return func(ctx context.Context, in ExecuteIntentInput) (ExecuteIntentOutput, error) {
		switch in.Intent.Type {
		case planner.IntentAskUser:
			return ExecuteIntentOutput{
				Step: workflow.PlannerStepRecord{
					StepNumber:    in.StepNumber,
					IntentType:    in.Intent.Type,
					Status:        workflow.StepWaitingSignal,
					PlannerIntent: in.Intent,
				},
				NewStatus:         workflow.StatusWaitingSignal,
				WaitingQuestion:   in.Intent.Question,
				InstallCheckpoint: true,
			}, nil

		case planner.IntentComplete:
			output := in.Intent.Output
			if output == nil {
				output = map[string]any{}
			}
			return ExecuteIntentOutput{
				Step: workflow.PlannerStepRecord{
					StepNumber:    in.StepNumber,
					IntentType:    in.Intent.Type,
					Status:        workflow.StepCompleted,
					PlannerIntent: in.Intent,
				},
				NewStatus:  workflow.StatusCompleted,
				Completion: &workflow.Completion{Output: output},
			}, nil

		case planner.IntentToolCall:
			var result planner.ToolResult
			var err error
			switch {
			case reg != nil:
				result, err = reg.Execute(ctx, tools.ExecuteInput{
					Scope: tools.Scope{TenantID: in.Scope.TenantID, WorkspaceID: in.Scope.WorkspaceID},
					Name:  in.Intent.ToolName,
					Args:  in.Intent.Args,
				})
			case fallback != nil:
				result, err = fallback(ctx, in)
			default:
				return ExecuteIntentOutput{}, fmt.Errorf("%w: no tool executor configured for tool_call %q", workflow.ErrValidation, in.Intent.ToolName)
			}
			if err != nil {
				return ExecuteIntentOutput{}, err
			}
			return ExecuteIntentOutput{
				Step: workflow.PlannerStepRecord{
					StepNumber:    in.StepNumber,
					IntentType:    in.Intent.Type,
					Status:        workflow.StepToolExecuted,
					PlannerIntent: in.Intent,
					ToolResult:    &result,
				},
				NewStatus: workflow.StatusRunning,
			}, nil

		default:
			return ExecuteIntentOutput{}, fmt.Errorf("%w: unknown intent type %q", workflow.ErrValidation, in.Intent.Type)
		}
	}
}
