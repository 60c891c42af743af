// Package runner implements the Queue Runner (Worker): runOnce claims
// a bounded batch of jobs and reconciles queue/run state per spec.md
// §4.5's exact step list. The teacher delegates this concern to a
// Temporal worker and to Pulse's distributed scheduling (both dropped,
// see DESIGN.md); this package is grounded instead on
// runtime/agent/engine/inmem/engine.go's goroutine-per-step execution
// idiom (a result channel racing a context timeout) applied to whole
// jobs rather than single planner steps, and on spec.md §4.5's
// reconciliation steps, which are reproduced here close to verbatim
// since the spec is itself the authoritative algorithm for this layer.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/brianchuang/agent-sub000/queue"
	"github.com/brianchuang/agent-sub000/store"
	"github.com/brianchuang/agent-sub000/telemetry"
)

// DefaultExecuteTimeout is the runner's default execute(job) budget
// (spec.md §4.5 step 3b).
const DefaultExecuteTimeout = 120 * time.Second

// DefaultRetryDelay is added to now() to compute failWorkflowJob's
// retryAt (spec.md §4.5 step 3f).
const DefaultRetryDelay = 5 * time.Second

// ExecuteResult is what the user-supplied execute callback reports
// back to the runner. In production, execute invokes the Planner Loop
// Engine and maps its Result onto this shape.
type ExecuteResult struct {
	// Status is "waiting_signal" when the planner loop paused for a
	// signal; any other value (including empty) is treated as success.
	Status string
	// WaitingQuestion is read when Status is waiting_signal, falling
	// back to Result["waitingQuestion"] per spec.md §4.5 step 3d.
	WaitingQuestion string
	Result          map[string]any
}

// ExecuteFunc is the runner's sole collaborator: one job in, one
// result or error out.
type ExecuteFunc func(ctx context.Context, job store.WorkflowQueueJob) (ExecuteResult, error)

// Notifier delivers the waiting question to whatever external surface
// (chat thread, email, webhook) the deployment configures. A nil
// Notifier means waiting_signal jobs skip delivery entirely.
type Notifier interface {
	Notify(ctx context.Context, scope store.Scope, workflowID, question string) error
}

// Runner owns the collaborators runOnce needs.
type Runner struct {
	Store          store.Port
	Queue          *queue.Queue
	Execute        ExecuteFunc
	Notifier       Notifier
	ExecuteTimeout time.Duration
	Clock          func() time.Time
	Logger         telemetry.Logger
	Metrics        telemetry.Metrics
}

func (r *Runner) executeTimeout() time.Duration {
	if r.ExecuteTimeout > 0 {
		return r.ExecuteTimeout
	}
	return DefaultExecuteTimeout
}

func (r *Runner) clock() time.Time {
	if r.Clock != nil {
		return r.Clock()
	}
	return time.Now().UTC()
}

func (r *Runner) logger() telemetry.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return telemetry.NoopLogger{}
}

func (r *Runner) metrics() telemetry.Metrics {
	if r.Metrics != nil {
		return r.Metrics
	}
	return telemetry.NoopMetrics{}
}

// RunInput parameterizes one runOnce call.
type RunInput struct {
	WorkerID    string
	Limit       int
	LeaseMs     int
	TenantID    string
	WorkspaceID string
}

// RunOutput is runOnce's {claimed, completed, failed} counts.
type RunOutput struct {
	Claimed   int
	Completed int
	Failed    int
}

var errScopeCoupling = errors.New("tenantId and workspaceId must be provided together or not at all")

// RunOnce executes exactly one batch per spec.md §4.5.
func (r *Runner) RunOnce(ctx context.Context, in RunInput) (RunOutput, error) {
	if (in.TenantID == "") != (in.WorkspaceID == "") {
		return RunOutput{}, errScopeCoupling
	}

	jobs, err := r.Queue.Claim(ctx, store.ClaimInput{
		WorkerID: in.WorkerID, Limit: in.Limit, LeaseMs: in.LeaseMs,
		TenantID: in.TenantID, WorkspaceID: in.WorkspaceID,
	})
	if err != nil {
		return RunOutput{}, fmt.Errorf("claim workflow jobs: %w", err)
	}

	out := RunOutput{Claimed: len(jobs)}
	r.metrics().IncCounter(telemetry.MetricQueueJobsClaimedTotal, float64(len(jobs)))
	for _, job := range jobs {
		r.processJob(ctx, job, &out)
	}
	return out, nil
}

type execOutcome struct {
	res ExecuteResult
	err error
}

func (r *Runner) processJob(ctx context.Context, job store.WorkflowQueueJob, out *RunOutput) {
	scope := store.Scope{TenantID: job.TenantID, WorkspaceID: job.WorkspaceID}
	now := r.clock()

	run, err := r.Store.GetRun(ctx, scope, job.RunID)
	if err != nil {
		run = store.Run{TenantID: job.TenantID, WorkspaceID: job.WorkspaceID, RunID: job.RunID, AgentID: job.AgentID, WorkflowID: job.WorkflowID}
	}
	run.Status = store.RunRunning
	if run.StartedAt.IsZero() {
		run.StartedAt = now
	}
	_ = r.Store.UpsertRun(ctx, run)
	r.appendEvent(ctx, scope, job.RunID, "Run claimed by worker", nil)

	execCtx, cancel := context.WithTimeout(ctx, r.executeTimeout())
	defer cancel()
	resCh := make(chan execOutcome, 1)
	go func() {
		res, err := r.Execute(execCtx, job)
		resCh <- execOutcome{res: res, err: err}
	}()

	var outcome execOutcome
	select {
	case outcome = <-resCh:
	case <-execCtx.Done():
		outcome = execOutcome{err: fmt.Errorf("execute timed out after %s: %w", r.executeTimeout(), execCtx.Err())}
	}

	if outcome.err != nil {
		r.reconcileFailure(ctx, scope, job, run, outcome.err, out)
		return
	}

	if cerr := r.Queue.Complete(ctx, job.JobID, job.LeaseToken); cerr != nil {
		r.reconcileFailure(ctx, scope, job, run, fmt.Errorf("complete workflow job: %w", cerr), out)
		return
	}
	readBack, rerr := r.Queue.Get(ctx, scope, job.JobID)
	if rerr != nil || readBack.Status != store.JobCompleted {
		r.reconcileFailure(ctx, scope, job, run, fmt.Errorf("stale lease: job %s did not reach completed", job.JobID), out)
		return
	}
	out.Completed++

	if outcome.res.Status == "waiting_signal" {
		r.reconcileWaiting(ctx, scope, job, run, outcome.res)
		return
	}

	run.Status = store.RunSuccess
	run.EndedAt = r.clock()
	if !run.StartedAt.IsZero() {
		run.LatencyMs = run.EndedAt.Sub(run.StartedAt).Milliseconds()
	}
	_ = r.Store.UpsertRun(ctx, run)
	r.appendEvent(ctx, scope, job.RunID, "Run completed", nil)
}

func (r *Runner) reconcileWaiting(ctx context.Context, scope store.Scope, job store.WorkflowQueueJob, run store.Run, res ExecuteResult) {
	run.Status = store.RunQueued
	run.EndedAt = time.Time{}
	run.LatencyMs = 0
	_ = r.Store.UpsertRun(ctx, run)

	question := res.WaitingQuestion
	if question == "" {
		question = resultWaitingQuestion(res.Result)
	}
	if question == "" {
		question = "The workflow is waiting for a signal."
	}

	if r.Notifier != nil {
		if nerr := r.Notifier.Notify(ctx, scope, job.WorkflowID, question); nerr != nil {
			r.appendEvent(ctx, scope, job.RunID, "Waiting question delivery failed", map[string]any{"error": nerr.Error()})
			run.Status = store.RunFailed
			run.ErrorSummary = "notifier: " + nerr.Error()
			run.EndedAt = r.clock()
			_ = r.Store.UpsertRun(ctx, run)
			r.appendEvent(ctx, scope, job.RunID, "Run waiting for signal", nil)
			return
		}
		r.appendEvent(ctx, scope, job.RunID, "Waiting question delivered", map[string]any{"question": question})
	}
	r.appendEvent(ctx, scope, job.RunID, "Run waiting for signal", nil)
}

func (r *Runner) reconcileFailure(ctx context.Context, scope store.Scope, job store.WorkflowQueueJob, run store.Run, execErr error, out *RunOutput) {
	retryAt := r.clock().Add(DefaultRetryDelay)
	_ = r.Queue.Fail(ctx, job.JobID, job.LeaseToken, execErr.Error(), retryAt)

	readBack, rerr := r.Queue.Get(ctx, scope, job.JobID)
	if rerr == nil {
		switch readBack.Status {
		case store.JobFailed:
			run.Status = store.RunFailed
			run.ErrorSummary = execErr.Error()
			run.EndedAt = r.clock()
			out.Failed++
		case store.JobQueued:
			run.Status = store.RunQueued
			run.Retries++
		}
	}
	_ = r.Store.UpsertRun(ctx, run)
	r.logger().Warn(ctx, "job execution failed", "job_id", job.JobID, "error", execErr.Error())
	r.appendEvent(ctx, scope, job.RunID, "Run execution failed", map[string]any{"error": execErr.Error()})
}

func (r *Runner) appendEvent(ctx context.Context, scope store.Scope, runID, message string, payload map[string]any) {
	_ = r.Store.AppendRunEvent(ctx, store.RunEvent{
		ID: uuid.NewString(), RunID: runID, TenantID: scope.TenantID, WorkspaceID: scope.WorkspaceID,
		TS: r.clock(), Type: store.RunEventState, Message: message, Payload: payload,
	})
}

func resultWaitingQuestion(result map[string]any) string {
	if result == nil {
		return ""
	}
	if v, ok := result["waitingQuestion"].(string); ok {
		return v
	}
	return ""
}
