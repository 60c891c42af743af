// Package queue is a thin facade over store.Port's queue operations,
// kept separate from package store per spec.md §2's component list
// ("5. Workflow Queue" as a component distinct from "1. Persistence
// Port"). The teacher pushes this concern onto Temporal/Pulse (both
// dropped, see DESIGN.md); there is no single teacher file this
// wraps, so the facade shape instead mirrors the narrow,
// single-purpose service wrappers the teacher favors elsewhere (e.g.
// registry/service.go wrapping a store behind a handful of named
// operations rather than exposing the store directly to callers).
package queue

import (
	"context"
	"time"

	"github.com/brianchuang/agent-sub000/store"
)

// Queue is the Workflow Queue's public surface (spec.md §4.5).
type Queue struct {
	store store.Port
}

// New wraps a persistence port as a Queue.
func New(port store.Port) *Queue {
	return &Queue{store: port}
}

// Enqueue submits a new job with status=queued, attemptCount=0.
func (q *Queue) Enqueue(ctx context.Context, job store.WorkflowQueueJob) (store.WorkflowQueueJob, error) {
	job.Status = store.JobQueued
	job.AttemptCount = 0
	return q.store.EnqueueWorkflowJob(ctx, job)
}

// Claim selects up to in.Limit queued, available jobs and atomically
// leases them to the calling worker.
func (q *Queue) Claim(ctx context.Context, in store.ClaimInput) ([]store.WorkflowQueueJob, error) {
	return q.store.ClaimWorkflowJobs(ctx, in)
}

// Complete transitions a claimed job to completed, fenced by leaseToken.
func (q *Queue) Complete(ctx context.Context, jobID, leaseToken string) error {
	return q.store.CompleteWorkflowJob(ctx, jobID, leaseToken)
}

// Fail reschedules or terminally fails a claimed job, fenced by
// leaseToken, per the attemptCount/maxAttempts branching in spec.md
// §4.5.
func (q *Queue) Fail(ctx context.Context, jobID, leaseToken, errMsg string, retryAt time.Time) error {
	return q.store.FailWorkflowJob(ctx, jobID, leaseToken, errMsg, retryAt)
}

// Get reads a job back by ID, scoped.
func (q *Queue) Get(ctx context.Context, scope store.Scope, jobID string) (store.WorkflowQueueJob, error) {
	return q.store.GetWorkflowJob(ctx, scope, jobID)
}

// List lists jobs in a given status, scoped.
func (q *Queue) List(ctx context.Context, scope store.Scope, status store.JobStatus) ([]store.WorkflowQueueJob, error) {
	return q.store.ListWorkflowJobs(ctx, scope, status)
}
