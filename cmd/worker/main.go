// Command worker is the Queue Runner process entrypoint: it polls the
// Workflow Queue, claims a batch of jobs, runs each through the
// Planner Loop Engine, and reconciles the result, per spec.md §4.5.
//
// Grounded on _examples/goadesign-goa-ai/registry/cmd/registry/main.go
// (read in place, not copied): the envOr/envIntOr/envDurationOr helper
// shapes, the doc-comment environment-variable table, and the
// run() error + log.Fatal top-level wiring.
//
// Environment variables:
//
//	WORKER_TENANT_ID        tenant this process polls (required)
//	WORKER_WORKSPACE_ID     workspace this process polls (required)
//	WORKER_ID               worker identity used as the lease claimant (default: hostname)
//	WORKER_BATCH_SIZE       jobs claimed per RunOnce call (default 10)
//	WORKER_LEASE_MS         lease duration in milliseconds (default 30000)
//	WORKER_POLL_MS          delay between RunOnce calls (default 2000)
//	WORKER_EXECUTE_TIMEOUT_MS  per-job execute timeout (default 120000)
//	WORKER_RUN_ONCE         if "true", run a single RunOnce pass and exit
//	MONGO_URI               if set, the durable store.Port backs onto MongoDB; otherwise an in-memory store is used
//	MONGO_DATABASE          database name for the Mongo store (default "agent_sub000")
//	TELEMETRY_BACKEND       "clue" wires goa.design/clue/log + OTEL metrics/tracing; any other value (default) discards telemetry
//
// Tool authors wiring side-effecting tools (as opposed to the built-in
// planner_schedule_workflow, whose effect is the enqueue itself) compose
// package adapter's Idempotent/Retry decorators around their own
// Execute function before registering it; see adapter.Idempotent,
// adapter.Retry, and adapter.NewRedisCache.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/brianchuang/agent-sub000/approval"
	"github.com/brianchuang/agent-sub000/engine"
	"github.com/brianchuang/agent-sub000/planner"
	"github.com/brianchuang/agent-sub000/policy"
	"github.com/brianchuang/agent-sub000/queue"
	"github.com/brianchuang/agent-sub000/runner"
	"github.com/brianchuang/agent-sub000/schedule"
	"github.com/brianchuang/agent-sub000/store"
	"github.com/brianchuang/agent-sub000/store/inmem"
	mongostore "github.com/brianchuang/agent-sub000/store/mongo"
	"github.com/brianchuang/agent-sub000/telemetry"
	"github.com/brianchuang/agent-sub000/tools"
	"github.com/brianchuang/agent-sub000/workflow"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tenantID := os.Getenv("WORKER_TENANT_ID")
	workspaceID := os.Getenv("WORKER_WORKSPACE_ID")
	if tenantID == "" || workspaceID == "" {
		return errors.New("WORKER_TENANT_ID and WORKER_WORKSPACE_ID are required")
	}

	workerID := envOr("WORKER_ID", hostnameOrDefault())
	batchSize := envIntOr("WORKER_BATCH_SIZE", 10)
	leaseMs := envIntOr("WORKER_LEASE_MS", 30_000)
	pollInterval := envDurationOr("WORKER_POLL_MS", 2*time.Second)
	executeTimeout := envDurationOr("WORKER_EXECUTE_TIMEOUT_MS", runner.DefaultExecuteTimeout)
	runOnce := envOr("WORKER_RUN_ONCE", "false") == "true"

	port, closeStore, err := buildStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	reg := tools.New()
	q := queue.New(port)
	clock := func() time.Time { return time.Now().UTC() }
	if err := reg.Register(schedule.Registration(q, clock)); err != nil {
		return err
	}
	reg.Freeze()

	logger, metrics, tracer := buildTelemetry()

	deps := engine.NewDeps(referencePlanner(), policy.NewBasic(), approval.Never(), reg, nil, nil)
	deps.Store = port
	deps.Logger = logger
	deps.Metrics = metrics
	deps.Tracer = tracer

	executeFn := func(ctx context.Context, job store.WorkflowQueueJob) (runner.ExecuteResult, error) {
		result, err := engine.RunPlannerLoop(ctx, engine.Request{
			Scope:           store.Scope{TenantID: job.TenantID, WorkspaceID: job.WorkspaceID},
			WorkflowID:      job.WorkflowID,
			RequestID:       job.RequestID,
			ThreadID:        job.ThreadID,
			ObjectivePrompt: job.ObjectivePrompt,
		}, deps)
		if err != nil {
			return runner.ExecuteResult{}, err
		}
		return toExecuteResult(result)
	}

	run := &runner.Runner{
		Store:          port,
		Queue:          q,
		Execute:        executeFn,
		Notifier:       logNotifier{logger: logger},
		ExecuteTimeout: executeTimeout,
		Clock:          clock,
		Logger:         logger,
		Metrics:        metrics,
	}

	in := runner.RunInput{WorkerID: workerID, Limit: batchSize, LeaseMs: leaseMs, TenantID: tenantID, WorkspaceID: workspaceID}

	if runOnce {
		out, err := run.RunOnce(ctx, in)
		if err != nil {
			return err
		}
		logger.Info(ctx, "run once complete", "claimed", out.Claimed, "completed", out.Completed, "failed", out.Failed)
		return nil
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			out, err := run.RunOnce(ctx, in)
			if err != nil {
				logger.Error(ctx, "run once failed", "error", err)
				continue
			}
			if out.Claimed > 0 {
				logger.Info(ctx, "run once complete", "claimed", out.Claimed, "completed", out.Completed, "failed", out.Failed)
			}
		}
	}
}

// buildTelemetry selects the Logger/Metrics/Tracer backend per
// TELEMETRY_BACKEND. "clue" wires goa.design/clue/log and OTEL (the
// caller is responsible for configuring the global
// MeterProvider/TracerProvider beforehand, e.g. via
// clue.ConfigureOpenTelemetry); anything else discards telemetry, which
// is the right default for the in-process/test path.
func buildTelemetry() (telemetry.Logger, telemetry.Metrics, telemetry.Tracer) {
	if envOr("TELEMETRY_BACKEND", "noop") == "clue" {
		return telemetry.NewClueLogger(), telemetry.NewClueMetrics(), telemetry.NewClueTracer()
	}
	return telemetry.NewNoopLogger(), telemetry.NewNoopMetrics(), telemetry.NewNoopTracer()
}

func buildStore(ctx context.Context) (store.Port, func(), error) {
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		return inmem.New(), func() {}, nil
	}
	client, err := mongodriver.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, err
	}
	db := envOr("MONGO_DATABASE", "agent_sub000")
	s, err := mongostore.New(ctx, mongostore.Options{Client: client, Database: db})
	if err != nil {
		return nil, nil, err
	}
	return s, func() { _ = client.Disconnect(context.Background()) }, nil
}

// toExecuteResult maps an engine.Result onto runner.ExecuteResult.
//
// A Failed status must become an error here even though
// engine.RunPlannerLoop can return one with a nil err: the
// terminal-sticky re-entry path (a job reclaimed after the workflow
// already failed in an earlier attempt) reports the persisted Failed
// snapshot without re-raising the original failure. Forwarding that as
// a non-erroring status string would let runner.processJob's success
// branch mark the Run successful for a workflow that is genuinely,
// terminally failed (spec.md §7's errorSummary contract on the Run
// aggregate).
func toExecuteResult(result engine.Result) (runner.ExecuteResult, error) {
	if result.Status == workflow.StatusFailed {
		return runner.ExecuteResult{}, fmt.Errorf("workflow %s is failed", result.WorkflowID)
	}
	out := runner.ExecuteResult{Status: string(result.Status)}
	if result.WaitingQuestion != "" {
		out.WaitingQuestion = result.WaitingQuestion
		out.Result = map[string]any{"waitingQuestion": result.WaitingQuestion}
	}
	if result.Completion != nil {
		out.Result = result.Completion.Output
	}
	return out, nil
}

// referencePlanner is a minimal planner.Planner: it immediately
// completes the workflow, echoing the objective prompt as output. Real
// deployments supply their own Planner backed by an LLM; planner
// reasoning itself is outside this runtime's scope.
func referencePlanner() planner.Planner {
	return planner.Func(func(_ context.Context, in planner.PlannerInput) (planner.Intent, error) {
		return planner.Intent{
			Type:   planner.IntentComplete,
			Output: map[string]any{"objectivePrompt": in.ObjectivePrompt},
		}, nil
	})
}

type logNotifier struct {
	logger telemetry.Logger
}

func (n logNotifier) Notify(ctx context.Context, scope store.Scope, workflowID, question string) error {
	n.logger.Info(ctx, "workflow waiting for signal", "tenantId", scope.TenantID, "workspaceId", scope.WorkspaceID, "workflowId", workflowID, "question", question)
	return nil
}

func hostnameOrDefault() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "worker"
	}
	return h
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}
