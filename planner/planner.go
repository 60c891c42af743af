// Package planner defines the planner's tagged-union intent type and the
// Planner interface the engine treats as a black box. Grounded on
// goa.design/goa-ai's runtime/agent/planner/planner.go, narrowed from its
// richer Await/ClarificationRequest/ExternalToolsRequest shape down to
// the three variants this system's planner loop recognizes.
package planner

import (
	"context"
	"fmt"
)

// IntentType discriminates the PlannerIntent tagged union. Implemented as
// a sum type (via the embedded Type field) rather than an open-ended
// "type: string" bag, per the Design Notes on dynamic intent objects.
type IntentType string

const (
	IntentToolCall IntentType = "tool_call"
	IntentAskUser  IntentType = "ask_user"
	IntentComplete IntentType = "complete"
)

// Intent is the planner's single decision for one loop iteration. Exactly
// one of the variant-specific fields is meaningful, selected by Type;
// validateIntent enforces this exhaustively.
type Intent struct {
	Type IntentType

	// tool_call
	ToolName string
	Args     map[string]any

	// ask_user
	Question string

	// complete
	Output map[string]any
}

// Validate performs stage-3 structural validation only (§4.2). It never
// inspects registry state or policy — that happens in later stages.
func (i Intent) Validate() error {
	switch i.Type {
	case IntentToolCall:
		if i.ToolName == "" {
			return fmt.Errorf("%w: tool_call requires a non-empty toolName", ErrValidation)
		}
		if i.Args == nil {
			return fmt.Errorf("%w: tool_call requires an object args", ErrValidation)
		}
	case IntentAskUser:
		if i.Question == "" {
			return fmt.Errorf("%w: ask_user requires a non-empty question", ErrValidation)
		}
	case IntentComplete:
		// Output is optional; nil is allowed.
	default:
		return fmt.Errorf("%w: unknown intent type %q", ErrValidation, i.Type)
	}
	return nil
}

// Clone returns a deep-enough copy for safe cross-goroutine handoff.
func (i Intent) Clone() Intent {
	out := i
	out.Args = cloneAnyMap(i.Args)
	out.Output = cloneAnyMap(i.Output)
	return out
}

func cloneAnyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// StepSummary is the minimal per-step projection the buildPlanningContext
// stage feeds back to the planner as history; it deliberately excludes
// internal bookkeeping (policy/approval records) that is not the
// planner's concern.
type StepSummary struct {
	StepNumber int
	IntentType IntentType
	ToolName   string
	Question   string
	Output     map[string]any
	ToolResult *ToolResult
}

// PlannerInput is the contract-versioned context passed to the plan
// stage. It must be pure with respect to the persisted workflow
// snapshot: the same snapshot always yields the same PlannerInput.
type PlannerInput struct {
	ContractVersion    string
	TenantID           string
	WorkspaceID        string
	WorkflowID         string
	ThreadID           string
	ObjectivePrompt    string
	MemoryContext      any
	PriorStepSummaries []StepSummary
	PolicyConstraints  []string
	AvailableTools     []ToolMetadata
	StepIndex          int
}

// ToolMetadata is the planner-visible projection of a tool registration
// (name + description only; validation/authorization predicates stay
// server-side).
type ToolMetadata struct {
	Name        string
	Description string
}

// ToolResult is the outcome of executing a tool_call intent.
type ToolResult struct {
	OK      bool
	Output  map[string]any
	Error   string
	Code    string
	Retryable bool
}

// RetryReason classifies why a retry decorator gave up.
type RetryReason string

const (
	RetryNonRetryable        RetryReason = "non_retryable"
	RetryMaxAttemptsExhausted RetryReason = "max_attempts_exhausted"
)

// RetryHint is attached to a failed ToolResult so the side-effect
// adapter layer (package adapter) knows whether to retry, mirroring
// runtime/toolregistry/executor.go's buildRetryHintFromIssues.
type RetryHint struct {
	Retryable bool
	Reason    RetryReason
}

// Planner is the black box the engine drives through stage 2 (plan). Any
// algorithm — a single LLM call, a scripted sequence, a test double — is
// a valid implementation.
type Planner interface {
	Plan(ctx context.Context, in PlannerInput) (Intent, error)
}

// Func adapts a plain function to the Planner interface, matching the
// teacher's convention of exposing functional adapters alongside
// interfaces (see runtime/agent/runtime's RunOption pattern).
type Func func(ctx context.Context, in PlannerInput) (Intent, error)

func (f Func) Plan(ctx context.Context, in PlannerInput) (Intent, error) { return f(ctx, in) }
