package runner_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/brianchuang/agent-sub000/queue"
	"github.com/brianchuang/agent-sub000/runner"
	"github.com/brianchuang/agent-sub000/store"
	"github.com/brianchuang/agent-sub000/store/inmem"
)

func enqueueJob(t *testing.T, q *queue.Queue, scope store.Scope) store.WorkflowQueueJob {
	t.Helper()
	job, err := q.Enqueue(context.Background(), store.WorkflowQueueJob{
		TenantID: scope.TenantID, WorkspaceID: scope.WorkspaceID, WorkflowID: "wf-1", RunID: "run-1", MaxAttempts: 5,
	})
	require.NoError(t, err)
	require.Equal(t, store.JobQueued, job.Status)
	require.Equal(t, 0, job.AttemptCount)
	return job
}

func TestRunner_SuccessMarksRunSuccess(t *testing.T) {
	t.Parallel()

	s := inmem.New()
	q := queue.New(s)
	scope := store.Scope{TenantID: "t1", WorkspaceID: "w1"}
	job := enqueueJob(t, q, scope)

	r := &runner.Runner{
		Store: s, Queue: q,
		Execute: func(context.Context, store.WorkflowQueueJob) (runner.ExecuteResult, error) {
			return runner.ExecuteResult{}, nil
		},
	}

	out, err := r.RunOnce(context.Background(), runner.RunInput{TenantID: "t1", WorkspaceID: "w1", Limit: 5, LeaseMs: 30000})
	require.NoError(t, err)
	require.Equal(t, 1, out.Completed)

	run, gerr := s.GetRun(context.Background(), scope, job.RunID)
	require.NoError(t, gerr)
	require.Equal(t, store.RunSuccess, run.Status)
}

type recordingNotifier struct {
	err       error
	delivered []string
}

func (n *recordingNotifier) Notify(_ context.Context, _ store.Scope, workflowID, question string) error {
	n.delivered = append(n.delivered, question)
	return n.err
}

func TestRunner_WaitingSignalNotifiesSuccessfully(t *testing.T) {
	t.Parallel()

	s := inmem.New()
	q := queue.New(s)
	scope := store.Scope{TenantID: "t1", WorkspaceID: "w1"}
	job := enqueueJob(t, q, scope)
	notifier := &recordingNotifier{}

	r := &runner.Runner{
		Store: s, Queue: q, Notifier: notifier,
		Execute: func(context.Context, store.WorkflowQueueJob) (runner.ExecuteResult, error) {
			return runner.ExecuteResult{Status: "waiting_signal", WaitingQuestion: "confirm?"}, nil
		},
	}

	_, err := r.RunOnce(context.Background(), runner.RunInput{TenantID: "t1", WorkspaceID: "w1", Limit: 5, LeaseMs: 30000})
	require.NoError(t, err)

	run, gerr := s.GetRun(context.Background(), scope, job.RunID)
	require.NoError(t, gerr)
	require.Equal(t, store.RunQueued, run.Status)
	require.Equal(t, []string{"confirm?"}, notifier.delivered)

	events, eerr := s.ListRunEvents(context.Background(), scope, job.RunID)
	require.NoError(t, eerr)
	var sawDelivered bool
	for _, e := range events {
		if e.Message == "Waiting question delivered" {
			sawDelivered = true
		}
	}
	require.True(t, sawDelivered)
}

func TestRunner_NotifierFailureTransitionsRunToFailed(t *testing.T) {
	t.Parallel()

	s := inmem.New()
	q := queue.New(s)
	scope := store.Scope{TenantID: "t1", WorkspaceID: "w1"}
	job := enqueueJob(t, q, scope)
	notifier := &recordingNotifier{err: errors.New("webhook unreachable")}

	r := &runner.Runner{
		Store: s, Queue: q, Notifier: notifier,
		Execute: func(context.Context, store.WorkflowQueueJob) (runner.ExecuteResult, error) {
			return runner.ExecuteResult{Status: "waiting_signal", WaitingQuestion: "confirm?"}, nil
		},
	}

	_, err := r.RunOnce(context.Background(), runner.RunInput{TenantID: "t1", WorkspaceID: "w1", Limit: 5, LeaseMs: 30000})
	require.NoError(t, err)

	run, gerr := s.GetRun(context.Background(), scope, job.RunID)
	require.NoError(t, gerr)
	require.Equal(t, store.RunFailed, run.Status, "notifier delivery failure must transition the run to failed, not silently drop the signal")
	require.Contains(t, run.ErrorSummary, "webhook unreachable")
}

func TestRunner_ExecuteTimeoutReconciledAsFailure(t *testing.T) {
	t.Parallel()

	s := inmem.New()
	q := queue.New(s)
	scope := store.Scope{TenantID: "t1", WorkspaceID: "w1"}
	job := enqueueJob(t, q, scope)

	r := &runner.Runner{
		Store: s, Queue: q, ExecuteTimeout: 10 * time.Millisecond,
		Execute: func(ctx context.Context, _ store.WorkflowQueueJob) (runner.ExecuteResult, error) {
			<-ctx.Done()
			return runner.ExecuteResult{}, ctx.Err()
		},
	}

	out, err := r.RunOnce(context.Background(), runner.RunInput{TenantID: "t1", WorkspaceID: "w1", Limit: 5, LeaseMs: 30000})
	require.NoError(t, err)
	require.Equal(t, 0, out.Completed)

	run, gerr := s.GetRun(context.Background(), scope, job.RunID)
	require.NoError(t, gerr)
	require.True(t, run.Status == store.RunFailed || run.Status == store.RunQueued)
	require.Equal(t, 1, run.Retries, "MaxAttempts 5 leaves retries, so the timed-out job is requeued and the run counts one retry")

	got, jerr := s.GetWorkflowJob(context.Background(), scope, job.JobID)
	require.NoError(t, jerr)
	require.NotEmpty(t, got.LastError, "the timeout error is recorded on the requeued job")
}

func TestRunner_StaleLeaseCompletionDoesNotMarkRunSuccess(t *testing.T) {
	t.Parallel()

	s := inmem.New()
	q := queue.New(s)
	scope := store.Scope{TenantID: "t1", WorkspaceID: "w1"}
	job := enqueueJob(t, q, scope)

	r := &runner.Runner{
		Store: s, Queue: q,
		Execute: func(ctx context.Context, j store.WorkflowQueueJob) (runner.ExecuteResult, error) {
			// Simulate another worker reclaiming this job mid-execution:
			// release j's lease and let a second claim assign a fresh
			// lease token before this worker's own execute returns.
			require.NoError(t, s.FailWorkflowJob(ctx, j.JobID, j.LeaseToken, "reclaimed", time.Now().Add(-time.Second)))
			_, cerr := q.Claim(ctx, store.ClaimInput{TenantID: scope.TenantID, Limit: 1, LeaseMs: 30000})
			require.NoError(t, cerr)
			return runner.ExecuteResult{}, nil
		},
	}

	out, err := r.RunOnce(context.Background(), runner.RunInput{TenantID: "t1", WorkspaceID: "w1", Limit: 5, LeaseMs: 30000})
	require.NoError(t, err)
	require.Equal(t, 0, out.Completed, "the original worker's stale-lease Complete must not count as a success")

	got, gerr := s.GetWorkflowJob(context.Background(), scope, job.JobID)
	require.NoError(t, gerr)
	require.Equal(t, store.JobClaimed, got.Status, "the job remains claimed by the worker holding the fresh lease")

	run, rerr := s.GetRun(context.Background(), scope, job.RunID)
	require.NoError(t, rerr)
	require.NotEqual(t, store.RunSuccess, run.Status)
}
