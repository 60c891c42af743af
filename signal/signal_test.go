package signal_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brianchuang/agent-sub000/signal"
	"github.com/brianchuang/agent-sub000/store"
	"github.com/brianchuang/agent-sub000/store/inmem"
	"github.com/brianchuang/agent-sub000/workflow"
)

func scope() workflow.Scope { return workflow.Scope{TenantID: "t1", WorkspaceID: "w1"} }

func waitingWorkflow(t *testing.T, s *inmem.Store, workflowID string) {
	t.Helper()
	_, err := s.RunStepTransaction(context.Background(), scope(), workflowID, "req-1", "th-1", func(wf workflow.WorkflowInstance) (store.StepTxResult, error) {
		return store.StepTxResult{
			Apply: &workflow.ApplyStepResult{
				Step:              workflow.PlannerStepRecord{StepNumber: len(wf.Steps), Status: workflow.StepWaitingSignal},
				NewStatus:         workflow.StatusWaitingSignal,
				WaitingQuestion:   "confirm?",
				InstallCheckpoint: true,
			},
		}, nil
	})
	require.NoError(t, err)
}

func TestIngest_UserInputPayloadValidation(t *testing.T) {
	t.Parallel()

	s := inmem.New()
	waitingWorkflow(t, s, "wf-1")

	_, err := signal.Ingest(context.Background(), s, signal.Input{
		Scope: scope(), WorkflowID: "wf-1", Type: store.SignalUserInput, Payload: map[string]any{},
	})
	require.ErrorIs(t, err, workflow.ErrSignalValidation)

	res, err := signal.Ingest(context.Background(), s, signal.Input{
		Scope: scope(), WorkflowID: "wf-1", Type: store.SignalUserInput, Payload: map[string]any{"message": "yes"},
	})
	require.NoError(t, err)
	require.Equal(t, store.ResumeQueuedSignal, res.Outcome)
}

func TestIngest_ApprovalPayloadValidation(t *testing.T) {
	t.Parallel()

	s := inmem.New()
	waitingWorkflow(t, s, "wf-1")

	_, err := signal.Ingest(context.Background(), s, signal.Input{
		Scope: scope(), WorkflowID: "wf-1", Type: store.SignalApproval, Payload: map[string]any{"approved": true},
	})
	require.ErrorIs(t, err, workflow.ErrSignalValidation, "missing approverId must fail validation")
}

func TestIngest_ExternalEventPayloadValidation(t *testing.T) {
	t.Parallel()

	s := inmem.New()
	waitingWorkflow(t, s, "wf-1")

	_, err := signal.Ingest(context.Background(), s, signal.Input{
		Scope: scope(), WorkflowID: "wf-1", Type: store.SignalExternalEvent, Payload: map[string]any{},
	})
	require.ErrorIs(t, err, workflow.ErrSignalValidation)

	res, err := signal.Ingest(context.Background(), s, signal.Input{
		Scope: scope(), WorkflowID: "wf-1", Type: store.SignalExternalEvent, Payload: map[string]any{"eventType": "payment.captured"},
	})
	require.NoError(t, err)
	require.Equal(t, store.ResumeQueuedSignal, res.Outcome)
}

func TestIngest_TimerPayloadValidation(t *testing.T) {
	t.Parallel()

	s := inmem.New()
	waitingWorkflow(t, s, "wf-1")

	_, err := signal.Ingest(context.Background(), s, signal.Input{
		Scope: scope(), WorkflowID: "wf-1", Type: store.SignalTimer, Payload: map[string]any{"firedAt": "not-a-date"},
	})
	require.ErrorIs(t, err, workflow.ErrSignalValidation)

	res, err := signal.Ingest(context.Background(), s, signal.Input{
		Scope: scope(), WorkflowID: "wf-1", Type: store.SignalTimer, Payload: map[string]any{"firedAt": "2026-07-31T12:00:00Z"},
	})
	require.NoError(t, err)
	require.Equal(t, store.ResumeQueuedSignal, res.Outcome)
}

func TestIngest_DedupByProviderEventID(t *testing.T) {
	t.Parallel()

	s := inmem.New()
	waitingWorkflow(t, s, "wf-1")

	in := signal.Input{
		Scope: scope(), WorkflowID: "wf-1", Type: store.SignalUserInput, Payload: map[string]any{"message": "yes"},
		Provider: "slack", ProviderTeamID: "team-1", EventID: "evt-1",
	}
	res1, err := signal.Ingest(context.Background(), s, in)
	require.NoError(t, err)
	require.Equal(t, store.ResumeQueuedSignal, res1.Outcome)

	res2, err := signal.Ingest(context.Background(), s, in)
	require.NoError(t, err)
	require.Equal(t, store.ResumeDuplicate, res2.Outcome)
}

func TestIngest_CrossScopeProviderThreadIsNotFound(t *testing.T) {
	t.Parallel()

	s := inmem.New()
	waitingWorkflow(t, s, "wf-1")
	require.NoError(t, s.UpsertWorkflowMessageThread(context.Background(), store.WorkflowMessageThread{
		TenantID: "t1", WorkspaceID: "w1", WorkflowID: "wf-1", Provider: "slack", ProviderThreadID: "thread-1",
	}))

	_, err := signal.Ingest(context.Background(), s, signal.Input{
		Scope: workflow.Scope{TenantID: "other-tenant", WorkspaceID: "w1"},
		Type:  store.SignalUserInput, Payload: map[string]any{"message": "yes"},
		Provider: "slack", ProviderThreadID: "thread-1",
	})
	require.Error(t, err)
	require.ErrorContains(t, err, "workflow not found")
}

func TestIngest_ResolvesWorkflowByProviderThread(t *testing.T) {
	t.Parallel()

	s := inmem.New()
	waitingWorkflow(t, s, "wf-1")
	require.NoError(t, s.UpsertWorkflowMessageThread(context.Background(), store.WorkflowMessageThread{
		TenantID: "t1", WorkspaceID: "w1", WorkflowID: "wf-1", Provider: "slack", ProviderThreadID: "thread-1",
	}))

	res, err := signal.Ingest(context.Background(), s, signal.Input{
		Scope: scope(), Type: store.SignalUserInput, Payload: map[string]any{"message": "yes"},
		Provider: "slack", ProviderThreadID: "thread-1",
	})
	require.NoError(t, err)
	require.Equal(t, "wf-1", res.WorkflowID)
}
