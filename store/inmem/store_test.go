package inmem_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/brianchuang/agent-sub000/store"
	"github.com/brianchuang/agent-sub000/store/inmem"
	"github.com/brianchuang/agent-sub000/workflow"
)

func scope() store.Scope {
	return store.Scope{TenantID: "t1", WorkspaceID: "w1"}
}

func appendStep(status workflow.Status) store.StepTxFunc {
	return func(wf workflow.WorkflowInstance) (store.StepTxResult, error) {
		return store.StepTxResult{
			Apply: &workflow.ApplyStepResult{
				Step:      workflow.PlannerStepRecord{StepNumber: len(wf.Steps), Status: workflow.StepToolExecuted},
				NewStatus: status,
			},
		}, nil
	}
}

func TestRunStepTransaction_CreatesWorkflowOnFirstStep(t *testing.T) {
	t.Parallel()

	s := inmem.New()
	wf, err := s.RunStepTransaction(context.Background(), scope(), "wf-1", "req-1", "th-1", appendStep(workflow.StatusRunning))
	require.NoError(t, err)
	require.Equal(t, workflow.StatusRunning, wf.Status)
	require.Len(t, wf.Steps, 1)
	require.Equal(t, 0, wf.Steps[0].StepNumber)

	got, err := s.GetWorkflow(context.Background(), scope(), "wf-1")
	require.NoError(t, err)
	require.Equal(t, wf.Status, got.Status)
}

func TestRunStepTransaction_AppendsDenseSteps(t *testing.T) {
	t.Parallel()

	s := inmem.New()
	_, err := s.RunStepTransaction(context.Background(), scope(), "wf-1", "req-1", "th-1", appendStep(workflow.StatusRunning))
	require.NoError(t, err)
	wf, err := s.RunStepTransaction(context.Background(), scope(), "wf-1", "req-1", "th-1", appendStep(workflow.StatusCompleted))
	require.NoError(t, err)
	require.Len(t, wf.Steps, 2)
	require.Equal(t, 1, wf.Steps[1].StepNumber)
	require.Equal(t, workflow.StatusCompleted, wf.Status)
}

func TestRunStepTransaction_TerminalIsSticky(t *testing.T) {
	t.Parallel()

	s := inmem.New()
	_, err := s.RunStepTransaction(context.Background(), scope(), "wf-1", "req-1", "th-1", appendStep(workflow.StatusCompleted))
	require.NoError(t, err)

	_, err = s.RunStepTransaction(context.Background(), scope(), "wf-1", "req-1", "th-1", appendStep(workflow.StatusRunning))
	require.ErrorIs(t, err, workflow.ErrWorkflowConflict)
}

func TestRunStepTransaction_FailReasonFailsWorkflow(t *testing.T) {
	t.Parallel()

	s := inmem.New()
	wf, err := s.RunStepTransaction(context.Background(), scope(), "wf-1", "req-1", "th-1", func(workflow.WorkflowInstance) (store.StepTxResult, error) {
		return store.StepTxResult{FailReason: "policy blocked"}, nil
	})
	require.NoError(t, err)
	require.Equal(t, workflow.StatusFailed, wf.Status)
}

func TestGetWorkflow_CrossTenantIsNotFound(t *testing.T) {
	t.Parallel()

	s := inmem.New()
	_, err := s.RunStepTransaction(context.Background(), scope(), "wf-1", "req-1", "th-1", appendStep(workflow.StatusRunning))
	require.NoError(t, err)

	_, err = s.GetWorkflow(context.Background(), store.Scope{TenantID: "other", WorkspaceID: "w1"}, "wf-1")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestWaitingCheckpoint_ExistsIffWaitingSignal(t *testing.T) {
	t.Parallel()

	s := inmem.New()
	_, err := s.RunStepTransaction(context.Background(), scope(), "wf-1", "req-1", "th-1", func(wf workflow.WorkflowInstance) (store.StepTxResult, error) {
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

	cp, err := s.GetWaitingCheckpoint(context.Background(), scope(), "wf-1")
	require.NoError(t, err)
	require.NotNil(t, cp)

	_, err = s.RunStepTransaction(context.Background(), scope(), "wf-1", "req-1", "th-1", appendStep(workflow.StatusCompleted))
	require.NoError(t, err)
	cp, err = s.GetWaitingCheckpoint(context.Background(), scope(), "wf-1")
	require.NoError(t, err)
	require.Nil(t, cp, "no checkpoint exists once the workflow is no longer waiting_signal")
}

func waitingWorkflow(t *testing.T, s *inmem.Store) {
	t.Helper()
	_, err := s.RunStepTransaction(context.Background(), scope(), "wf-1", "req-1", "th-1", func(wf workflow.WorkflowInstance) (store.StepTxResult, error) {
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

func TestResumeWithSignal_DedupByProviderEventID(t *testing.T) {
	t.Parallel()

	s := inmem.New()
	waitingWorkflow(t, s)

	in := store.ResumeInput{
		Scope: scope(), WorkflowID: "wf-1", Type: store.SignalUserInput,
		Payload: map[string]any{"text": "yes"}, Provider: "slack", ProviderTeamID: "team-1", EventID: "evt-1",
		NewJob: store.WorkflowQueueJob{TenantID: "t1", WorkspaceID: "w1", WorkflowID: "wf-1", RequestID: "req-1"},
	}

	res1, err := s.ResumeWithSignal(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, store.ResumeQueuedSignal, res1.Outcome)
	require.NotEmpty(t, res1.SignalID)

	res2, err := s.ResumeWithSignal(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, store.ResumeDuplicate, res2.Outcome)
}

func TestResumeWithSignal_NotWaitingWhenNoCheckpoint(t *testing.T) {
	t.Parallel()

	s := inmem.New()
	_, err := s.RunStepTransaction(context.Background(), scope(), "wf-1", "req-1", "th-1", appendStep(workflow.StatusRunning))
	require.NoError(t, err)

	res, err := s.ResumeWithSignal(context.Background(), store.ResumeInput{
		Scope: scope(), WorkflowID: "wf-1", Type: store.SignalUserInput, Payload: map[string]any{"text": "x"},
	})
	require.NoError(t, err)
	require.Equal(t, store.ResumeNotWaiting, res.Outcome)
}

func TestResumeWithSignal_ApprovalRejectionFailsWorkflow(t *testing.T) {
	t.Parallel()

	s := inmem.New()
	_, err := s.RunStepTransaction(context.Background(), scope(), "wf-1", "req-1", "th-1", func(wf workflow.WorkflowInstance) (store.StepTxResult, error) {
		return store.StepTxResult{
			Apply: &workflow.ApplyStepResult{
				Step:              workflow.PlannerStepRecord{StepNumber: len(wf.Steps), Status: workflow.StepWaitingSignal},
				NewStatus:         workflow.StatusWaitingSignal,
				InstallCheckpoint: true,
			},
			Approval:        &store.ApprovalDecisionRecord{ApprovalID: "appr-1", WorkflowID: "wf-1", Status: workflow.ApprovalPending},
			InstallApproval: true,
		}, nil
	})
	require.NoError(t, err)

	res, err := s.ResumeWithSignal(context.Background(), store.ResumeInput{
		Scope: scope(), WorkflowID: "wf-1", Type: store.SignalApproval,
		Payload: map[string]any{"approved": false, "approverId": "u1"},
	})
	require.NoError(t, err)
	require.Equal(t, store.ResumeQueuedSignal, res.Outcome)
	require.Nil(t, res.EnqueuedJob, "a rejected approval fails the workflow instead of enqueueing follow-up work")

	wf, err := s.GetWorkflow(context.Background(), scope(), "wf-1")
	require.NoError(t, err)
	require.Equal(t, workflow.StatusFailed, wf.Status)
}

func TestClaimWorkflowJobs_ExclusiveClaim(t *testing.T) {
	t.Parallel()

	s := inmem.New()
	_, err := s.EnqueueWorkflowJob(context.Background(), store.WorkflowQueueJob{TenantID: "t1", WorkspaceID: "w1", WorkflowID: "wf-1"})
	require.NoError(t, err)

	claimed1, err := s.ClaimWorkflowJobs(context.Background(), store.ClaimInput{TenantID: "t1", Limit: 5, LeaseMs: 30000})
	require.NoError(t, err)
	require.Len(t, claimed1, 1)

	claimed2, err := s.ClaimWorkflowJobs(context.Background(), store.ClaimInput{TenantID: "t1", Limit: 5, LeaseMs: 30000})
	require.NoError(t, err)
	require.Empty(t, claimed2, "an already-claimed job is not claimable again")
}

func TestCompleteWorkflowJob_StaleLeaseIsSilentNoOp(t *testing.T) {
	t.Parallel()

	s := inmem.New()
	j, err := s.EnqueueWorkflowJob(context.Background(), store.WorkflowQueueJob{TenantID: "t1", WorkspaceID: "w1", WorkflowID: "wf-1"})
	require.NoError(t, err)

	claimed, err := s.ClaimWorkflowJobs(context.Background(), store.ClaimInput{TenantID: "t1", Limit: 1, LeaseMs: 30000})
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	err = s.CompleteWorkflowJob(context.Background(), j.JobID, "not-the-real-lease-token")
	require.NoError(t, err, "stale-lease completion is a silent no-op, not an error")

	got, err := s.GetWorkflowJob(context.Background(), scope(), j.JobID)
	require.NoError(t, err)
	require.Equal(t, store.JobClaimed, got.Status, "the job must still be claimed: the stale writer's Complete did not take effect")

	err = s.CompleteWorkflowJob(context.Background(), j.JobID, claimed[0].LeaseToken)
	require.NoError(t, err)
	got, err = s.GetWorkflowJob(context.Background(), scope(), j.JobID)
	require.NoError(t, err)
	require.Equal(t, store.JobCompleted, got.Status)
}

func TestFailWorkflowJob_RetriesUntilMaxAttemptsThenFails(t *testing.T) {
	t.Parallel()

	s := inmem.New()
	j, err := s.EnqueueWorkflowJob(context.Background(), store.WorkflowQueueJob{TenantID: "t1", WorkspaceID: "w1", WorkflowID: "wf-1", MaxAttempts: 2})
	require.NoError(t, err)

	claimed, err := s.ClaimWorkflowJobs(context.Background(), store.ClaimInput{TenantID: "t1", Limit: 1, LeaseMs: 30000})
	require.NoError(t, err)
	require.Equal(t, 1, claimed[0].AttemptCount)

	err = s.FailWorkflowJob(context.Background(), j.JobID, claimed[0].LeaseToken, "boom", time.Now().Add(time.Second))
	require.NoError(t, err)
	got, err := s.GetWorkflowJob(context.Background(), scope(), j.JobID)
	require.NoError(t, err)
	require.Equal(t, store.JobQueued, got.Status, "below MaxAttempts, job goes back to queued for retry")

	claimed2, err := s.ClaimWorkflowJobs(context.Background(), store.ClaimInput{TenantID: "t1", Limit: 1, LeaseMs: 30000})
	require.NoError(t, err)
	require.Len(t, claimed2, 0, "job is not yet available since AvailableAt is in the future")
}
