// Package signal implements Signal Ingestion and Resume (spec.md
// §4.6): per-type payload validation, provider-thread-to-workflow
// resolution, and the dedup/resume handoff to
// store.Port.ResumeWithSignal. Grounded on
// runtime/agent/interrupt/controller.go's signal vocabulary
// (PauseRequest/ResumeRequest, ClarificationAnswer, ToolResultsSet) —
// ADAPTED from the teacher's ephemeral per-process SignalChannel to
// durable rows, since this system's signals must survive a worker
// restart and be deduplicated by (provider, providerTeamId, eventId)
// rather than delivered to a live goroutine.
package signal

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/brianchuang/agent-sub000/store"
	"github.com/brianchuang/agent-sub000/workflow"
)

// Input is one inbound signal delivery.
type Input struct {
	Scope          workflow.Scope
	WorkflowID     string
	ThreadID       string // used with Provider/ProviderThreadID when WorkflowID is unknown
	Type           store.SignalType
	Payload        map[string]any
	OccurredAt     time.Time
	Provider       string
	ProviderTeamID string
	ProviderThreadID string
	EventID        string
	// FollowUp seeds the queue job enqueued on successful resume. Ingest
	// overwrites its TenantID/WorkspaceID/WorkflowID and fills in
	// ThreadID, RunID and MaxAttempts when unset; the store's
	// ResumeWithSignal sets JobID, Status and AttemptCount.
	FollowUp store.WorkflowQueueJob
}

// Result mirrors store.ResumeResult with the resolved workflow ID
// attached, since callers that resolved it via provider thread
// metadata otherwise have no way to learn it.
type Result struct {
	Outcome     store.ResumeOutcome
	WorkflowID  string
	SignalID    string
	EnqueuedJob *store.WorkflowQueueJob
}

// Ingest validates in's payload, resolves the target workflow, and
// hands off to store.Port.ResumeWithSignal inside that single
// transaction (spec.md §4.6 step 3).
func Ingest(ctx context.Context, port store.Port, in Input) (Result, error) {
	if err := in.Scope.Validate(); err != nil {
		return Result{}, err
	}
	if err := validatePayload(in.Type, in.Payload); err != nil {
		return Result{}, err
	}

	workflowID := in.WorkflowID
	if workflowID == "" {
		if in.Provider == "" || in.ProviderThreadID == "" {
			return Result{}, fmt.Errorf("%w: workflowId or (provider, providerThreadId) is required", workflow.ErrSignalValidation)
		}
		thread, err := port.GetWorkflowMessageThreadByProviderThread(ctx, in.Provider, in.ProviderThreadID)
		if err != nil {
			return Result{}, fmt.Errorf("%w: resolve provider thread: %v", workflow.ErrValidation, err)
		}
		if thread.TenantID != in.Scope.TenantID || thread.WorkspaceID != in.Scope.WorkspaceID {
			return Result{}, fmt.Errorf("%w: workflow not found", workflow.ErrValidation)
		}
		workflowID = thread.WorkflowID
	}

	occurredAt := in.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	followUp := in.FollowUp
	followUp.TenantID = in.Scope.TenantID
	followUp.WorkspaceID = in.Scope.WorkspaceID
	followUp.WorkflowID = workflowID
	if followUp.ThreadID == "" {
		followUp.ThreadID = in.ThreadID
	}
	if followUp.RunID == "" {
		followUp.RunID = uuid.NewString()
	}
	if followUp.MaxAttempts <= 0 {
		followUp.MaxAttempts = 5
	}

	res, err := port.ResumeWithSignal(ctx, store.ResumeInput{
		Scope: in.Scope, WorkflowID: workflowID, Type: in.Type, Payload: in.Payload,
		OccurredAt: occurredAt, Provider: in.Provider, ProviderTeamID: in.ProviderTeamID,
		EventID: in.EventID, NewJob: followUp,
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Outcome: res.Outcome, WorkflowID: workflowID, SignalID: res.SignalID, EnqueuedJob: res.EnqueuedJob}, nil
}

// validatePayload enforces spec.md §4.6's per-type payload shape.
func validatePayload(t store.SignalType, payload map[string]any) error {
	switch t {
	case store.SignalUserInput:
		if _, ok := payload["message"].(string); !ok {
			return fmt.Errorf("%w: user_input_signal requires payload.message: string", workflow.ErrSignalValidation)
		}
	case store.SignalApproval:
		if _, ok := payload["approved"].(bool); !ok {
			return fmt.Errorf("%w: approval_signal requires payload.approved: boolean", workflow.ErrSignalValidation)
		}
		if _, ok := payload["approverId"].(string); !ok {
			return fmt.Errorf("%w: approval_signal requires payload.approverId: string", workflow.ErrSignalValidation)
		}
	case store.SignalExternalEvent:
		if _, ok := payload["eventType"].(string); !ok {
			return fmt.Errorf("%w: external_event_signal requires payload.eventType: string", workflow.ErrSignalValidation)
		}
	case store.SignalTimer:
		v, ok := payload["firedAt"].(string)
		if !ok {
			return fmt.Errorf("%w: timer_signal requires payload.firedAt: ISO datetime", workflow.ErrSignalValidation)
		}
		if _, err := time.Parse(time.RFC3339, v); err != nil {
			return fmt.Errorf("%w: timer_signal payload.firedAt is not a valid ISO datetime: %v", workflow.ErrSignalValidation, err)
		}
	default:
		return fmt.Errorf("%w: unknown signal type %q", workflow.ErrSignalValidation, t)
	}
	return nil
}
