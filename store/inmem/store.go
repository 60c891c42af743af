// Package inmem provides an in-memory implementation of store.Port.
//
// Grounded on goa.design/goa-ai's runtime/agent/session/inmem/store.go:
// a single mutex protecting plain maps, clone-on-read/write to prevent
// callers from mutating shared state, and explicit immutability checks
// (e.g. ThreadID) returning a plain error rather than panicking. It is
// intended for tests and local development, per the teacher's own
// doc-comment convention; production deployments use store/mongo.
package inmem

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/brianchuang/agent-sub000/store"
	"github.com/brianchuang/agent-sub000/workflow"
)

// Store is an in-memory store.Port implementation. Safe for concurrent
// use: every operation holds a single mutex for its duration, which
// trivially satisfies spec.md §5's "no two step transactions for the
// same workflowId may commit concurrently" (it over-serializes across
// unrelated workflows too, an acceptable tradeoff for a reference/test
// store).
type Store struct {
	mu sync.Mutex

	requests    map[string]store.ObjectiveRequest
	workflows   map[string]workflow.WorkflowInstance
	checkpoints map[string]workflow.WaitingCheckpoint
	signals     map[string]store.WorkflowSignalRecord
	receipts    map[string]store.InboundMessageReceipt
	threads     map[string]store.WorkflowMessageThread
	threadsByProvider map[string]string // provider|providerThreadID -> thread key
	policies    map[string]store.PolicyDecisionRecord
	approvals   map[string]store.ApprovalDecisionRecord
	audits      []store.AuditRecord
	agents      map[string]store.Agent
	runs        map[string]store.Run
	runEvents   map[string][]store.RunEvent
	jobs        map[string]store.WorkflowQueueJob
	settings    map[string]store.TenantMessagingSettings
	snapshots   map[string]store.WorkflowRuntimeSnapshot

	entropy *ulid.MonotonicEntropy
	now     func() time.Time
}

// New returns an empty Store whose clock is time.Now.
func New() *Store {
	return &Store{
		requests:          make(map[string]store.ObjectiveRequest),
		workflows:         make(map[string]workflow.WorkflowInstance),
		checkpoints:       make(map[string]workflow.WaitingCheckpoint),
		signals:           make(map[string]store.WorkflowSignalRecord),
		receipts:          make(map[string]store.InboundMessageReceipt),
		threads:           make(map[string]store.WorkflowMessageThread),
		threadsByProvider: make(map[string]string),
		policies:          make(map[string]store.PolicyDecisionRecord),
		approvals:         make(map[string]store.ApprovalDecisionRecord),
		agents:            make(map[string]store.Agent),
		runs:              make(map[string]store.Run),
		runEvents:         make(map[string][]store.RunEvent),
		jobs:              make(map[string]store.WorkflowQueueJob),
		settings:          make(map[string]store.TenantMessagingSettings),
		snapshots:         make(map[string]store.WorkflowRuntimeSnapshot),
		entropy:           ulid.Monotonic(newEntropySource(), 0),
		now:               time.Now,
	}
}

func newEntropySource() *mathRandReader { return &mathRandReader{seed: uint64(time.Now().UnixNano())} }

// mathRandReader is a tiny deterministic xorshift reader so ULID
// generation needs no extra dependency beyond math/rand's algorithm
// shape; ULIDs only need monotonicity within this process, not
// cryptographic randomness.
type mathRandReader struct{ seed uint64 }

func (r *mathRandReader) Read(p []byte) (int, error) {
	for i := range p {
		r.seed ^= r.seed << 13
		r.seed ^= r.seed >> 7
		r.seed ^= r.seed << 17
		p[i] = byte(r.seed)
	}
	return len(p), nil
}

func (s *Store) newID() string {
	return ulid.MustNew(ulid.Timestamp(s.now()), s.entropy).String()
}

func wfKey(tenantID, workspaceID, workflowID string) string {
	return tenantID + "/" + workspaceID + "/" + workflowID
}

func scopeWfKey(scope store.Scope, workflowID string) string {
	return wfKey(scope.TenantID, scope.WorkspaceID, workflowID)
}

// CreateObjectiveRequest implements store.Port.
func (s *Store) CreateObjectiveRequest(_ context.Context, req store.ObjectiveRequest) (store.ObjectiveRequest, error) {
	if req.RequestID == "" {
		return store.ObjectiveRequest{}, fmt.Errorf("%w: requestId is required", workflow.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := req.TenantID + "/" + req.WorkspaceID + "/" + req.RequestID
	if existing, ok := s.requests[key]; ok {
		return existing, nil
	}
	if req.OccurredAt.IsZero() {
		req.OccurredAt = s.now().UTC()
	}
	s.requests[key] = req
	return req, nil
}

// GetObjectiveRequest implements store.Port.
func (s *Store) GetObjectiveRequest(_ context.Context, scope store.Scope, requestID string) (store.ObjectiveRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := scope.TenantID + "/" + scope.WorkspaceID + "/" + requestID
	req, ok := s.requests[key]
	if !ok {
		return store.ObjectiveRequest{}, fmt.Errorf("%w: objective request %q", store.ErrNotFound, requestID)
	}
	return req, nil
}

// GetWorkflow implements store.Port.
func (s *Store) GetWorkflow(_ context.Context, scope store.Scope, workflowID string) (workflow.WorkflowInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[scopeWfKey(scope, workflowID)]
	if !ok {
		return workflow.WorkflowInstance{}, fmt.Errorf("%w: workflow %q", store.ErrNotFound, workflowID)
	}
	return wf.Clone(), nil
}

// RunStepTransaction implements store.Port. It loads (or creates) the
// workflow, invokes fn with a defensive clone, and applies the result
// atomically under the store's lock.
func (s *Store) RunStepTransaction(_ context.Context, scope store.Scope, workflowID, requestID, threadID string, fn store.StepTxFunc) (workflow.WorkflowInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := scopeWfKey(scope, workflowID)
	wf, ok := s.workflows[key]
	if !ok {
		wf = workflow.WorkflowInstance{
			TenantID:    scope.TenantID,
			WorkspaceID: scope.WorkspaceID,
			WorkflowID:  workflowID,
			ThreadID:    threadID,
			Status:      workflow.StatusRunning,
			UpdatedAt:   s.now().UTC(),
		}
	} else if threadID != "" && wf.ThreadID != "" && wf.ThreadID != threadID {
		return workflow.WorkflowInstance{}, fmt.Errorf("%w: threadId is immutable for workflow %q", workflow.ErrValidation, workflowID)
	}

	res, err := fn(wf.Clone())
	if err != nil {
		return workflow.WorkflowInstance{}, err
	}

	if res.Apply != nil {
		if err := wf.Transition(*res.Apply); err != nil {
			return workflow.WorkflowInstance{}, err
		}
		if res.Apply.InstallCheckpoint {
			s.checkpoints[key] = workflow.WaitingCheckpoint{
				TenantID: scope.TenantID, WorkspaceID: scope.WorkspaceID, WorkflowID: workflowID, CreatedAt: s.now().UTC(),
			}
		}
	} else {
		wf.Fail(res.FailReason)
	}
	if wf.Status != workflow.StatusWaitingSignal {
		delete(s.checkpoints, key)
	}

	if res.InstallApproval && res.Approval != nil {
		wf.PendingApproval = &workflow.PendingApproval{
			Status:     workflow.ApprovalPending,
			ApprovalID: res.Approval.ApprovalID,
			RiskClass:  string(res.Approval.RiskClass),
			ReasonCode: res.Approval.ReasonCode,
			Intent:     res.Approval.Intent,
		}
	}
	if res.ClearApproval {
		wf.PendingApproval = nil
	}

	wf.UpdatedAt = s.now().UTC()
	s.workflows[key] = wf

	if res.PolicyDecision != nil {
		pKey := scope.TenantID + "/" + scope.WorkspaceID + "/" + res.PolicyDecision.DecisionID
		s.policies[pKey] = *res.PolicyDecision
	}
	if res.Approval != nil {
		aKey := scope.TenantID + "/" + scope.WorkspaceID + "/" + res.Approval.ApprovalID
		s.approvals[aKey] = *res.Approval
	}
	for _, a := range res.Audit {
		s.audits = append(s.audits, a)
	}

	return wf.Clone(), nil
}

// GetWaitingCheckpoint implements store.Port.
func (s *Store) GetWaitingCheckpoint(_ context.Context, scope store.Scope, workflowID string) (*workflow.WaitingCheckpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.checkpoints[scopeWfKey(scope, workflowID)]
	if !ok {
		return nil, nil
	}
	out := cp
	return &out, nil
}

// ResumeWithSignal implements store.Port: the single transaction
// described in spec.md §4.6 (dedup, checkpoint consumption, signal
// record+ack, approval resolution, follow-up job enqueue).
func (s *Store) ResumeWithSignal(_ context.Context, in store.ResumeInput) (store.ResumeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if in.Provider != "" || in.EventID != "" {
		rKey := in.Provider + "/" + in.ProviderTeamID + "/" + in.EventID
		if _, dup := s.receipts[rKey]; dup {
			return store.ResumeResult{Outcome: store.ResumeDuplicate}, nil
		}
		s.receipts[rKey] = store.InboundMessageReceipt{
			Provider: in.Provider, ProviderTeamID: in.ProviderTeamID, EventID: in.EventID, ReceivedAt: s.now().UTC(),
		}
	}

	key := scopeWfKey(in.Scope, in.WorkflowID)
	wf, ok := s.workflows[key]
	if !ok {
		return store.ResumeResult{}, fmt.Errorf("%w: workflow not found", workflow.ErrValidation)
	}
	if wf.Status != workflow.StatusWaitingSignal {
		return store.ResumeResult{Outcome: store.ResumeNotWaiting}, nil
	}
	if _, hasCheckpoint := s.checkpoints[key]; !hasCheckpoint {
		return store.ResumeResult{Outcome: store.ResumeNotWaiting}, nil
	}
	delete(s.checkpoints, key)

	signalID := s.newID()
	occurredAt := in.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = s.now().UTC()
	}
	sig := store.WorkflowSignalRecord{
		TenantID: in.Scope.TenantID, WorkspaceID: in.Scope.WorkspaceID, SignalID: signalID,
		WorkflowID: in.WorkflowID, Type: in.Type, Payload: in.Payload, OccurredAt: occurredAt,
		SignalStatus: store.SignalAcknowledged, AcknowledgedAt: occurredAt,
	}
	s.signals[in.Scope.TenantID+"/"+in.Scope.WorkspaceID+"/"+signalID] = sig

	wf.WaitingQuestion = ""
	wf.Status = workflow.StatusRunning

	if in.Type == store.SignalApproval && wf.PendingApproval != nil {
		approved, _ := in.Payload["approved"].(bool)
		approverID, _ := in.Payload["approverId"].(string)
		if approved {
			wf.PendingApproval.Status = workflow.ApprovalApproved
		} else {
			wf.PendingApproval.Status = workflow.ApprovalRejected
		}
		wf.PendingApproval.ApproverID = approverID
		wf.PendingApproval.ResolvedAt = occurredAt
		wf.PendingApproval.SignalID = signalID

		aKey := in.Scope.TenantID + "/" + in.Scope.WorkspaceID + "/" + wf.PendingApproval.ApprovalID
		if rec, ok := s.approvals[aKey]; ok {
			rec.Status = wf.PendingApproval.Status
			rec.ApproverID = approverID
			rec.ResolvedAt = occurredAt
			rec.SignalID = signalID
			s.approvals[aKey] = rec
		}
		if !approved {
			wf.Status = workflow.StatusFailed
		}
	}

	wf.Version++
	wf.UpdatedAt = s.now().UTC()
	s.workflows[key] = wf

	if wf.Status == workflow.StatusFailed {
		s.workflows[key] = wf
		return store.ResumeResult{Outcome: store.ResumeQueuedSignal, SignalID: signalID}, nil
	}

	job := in.NewJob
	job.JobID = s.newID()
	job.AttemptCount = 0
	job.Status = store.JobQueued
	if job.AvailableAt.IsZero() {
		job.AvailableAt = s.now().UTC()
	}
	s.jobs[job.TenantID+"/"+job.WorkspaceID+"/"+job.JobID] = job
	jobOut := job

	return store.ResumeResult{Outcome: store.ResumeQueuedSignal, SignalID: signalID, EnqueuedJob: &jobOut}, nil
}

// ListPendingWorkflowSignals implements store.Port.
func (s *Store) ListPendingWorkflowSignals(_ context.Context, scope store.Scope, workflowID string) ([]store.WorkflowSignalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.WorkflowSignalRecord
	for _, sig := range s.signals {
		if sig.TenantID != scope.TenantID || sig.WorkspaceID != scope.WorkspaceID || sig.WorkflowID != workflowID {
			continue
		}
		if sig.SignalStatus == store.SignalReceived {
			out = append(out, sig)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SignalID < out[j].SignalID })
	return out, nil
}

// UpsertWorkflowMessageThread implements store.Port.
func (s *Store) UpsertWorkflowMessageThread(_ context.Context, t store.WorkflowMessageThread) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := t.TenantID + "/" + t.WorkspaceID + "/" + t.WorkflowID
	s.threads[key] = t
	s.threadsByProvider[t.Provider+"|"+t.ProviderThreadID] = key
	return nil
}

// GetWorkflowMessageThreadByProviderThread implements store.Port.
func (s *Store) GetWorkflowMessageThreadByProviderThread(_ context.Context, provider, providerThreadID string) (store.WorkflowMessageThread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.threadsByProvider[provider+"|"+providerThreadID]
	if !ok {
		return store.WorkflowMessageThread{}, fmt.Errorf("%w: thread for provider %q/%q", store.ErrNotFound, provider, providerThreadID)
	}
	return s.threads[key], nil
}

// AppendAuditRecord implements store.Port.
func (s *Store) AppendAuditRecord(_ context.Context, rec store.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audits = append(s.audits, rec)
	return nil
}

// ListAuditRecords implements store.Port. Cross-tenant reads return
// empty, per spec.md §4.7.
func (s *Store) ListAuditRecords(_ context.Context, scope store.Scope, workflowID, requestID string) ([]store.AuditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.AuditRecord
	for _, a := range s.audits {
		if a.TenantID != scope.TenantID || a.WorkspaceID != scope.WorkspaceID {
			continue
		}
		if workflowID != "" && a.WorkflowID != workflowID {
			continue
		}
		if requestID != "" && a.RequestID != requestID {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// UpsertAgent implements store.Port.
func (s *Store) UpsertAgent(_ context.Context, a store.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[a.TenantID+"/"+a.WorkspaceID+"/"+a.AgentID] = a
	return nil
}

// GetAgent implements store.Port.
func (s *Store) GetAgent(_ context.Context, scope store.Scope, agentID string) (store.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[scope.TenantID+"/"+scope.WorkspaceID+"/"+agentID]
	if !ok {
		return store.Agent{}, fmt.Errorf("%w: agent %q", store.ErrNotFound, agentID)
	}
	return a, nil
}

// ListAgents implements store.Port.
func (s *Store) ListAgents(_ context.Context, scope store.Scope) ([]store.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Agent
	for _, a := range s.agents {
		if a.TenantID == scope.TenantID && a.WorkspaceID == scope.WorkspaceID {
			out = append(out, a)
		}
	}
	return out, nil
}

// UpsertRun implements store.Port.
func (s *Store) UpsertRun(_ context.Context, r store.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[r.TenantID+"/"+r.WorkspaceID+"/"+r.RunID] = r
	return nil
}

// GetRun implements store.Port.
func (s *Store) GetRun(_ context.Context, scope store.Scope, runID string) (store.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[scope.TenantID+"/"+scope.WorkspaceID+"/"+runID]
	if !ok {
		return store.Run{}, fmt.Errorf("%w: run %q", store.ErrNotFound, runID)
	}
	return r, nil
}

// ListRuns implements store.Port.
func (s *Store) ListRuns(_ context.Context, scope store.Scope, workflowID string) ([]store.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Run
	for _, r := range s.runs {
		if r.TenantID != scope.TenantID || r.WorkspaceID != scope.WorkspaceID {
			continue
		}
		if workflowID != "" && r.WorkflowID != workflowID {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// AppendRunEvent implements store.Port.
func (s *Store) AppendRunEvent(_ context.Context, e store.RunEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = s.newID()
	}
	key := e.TenantID + "/" + e.WorkspaceID + "/" + e.RunID
	s.runEvents[key] = append(s.runEvents[key], e)
	return nil
}

// ListRunEvents implements store.Port, totally ordered by append order.
func (s *Store) ListRunEvents(_ context.Context, scope store.Scope, runID string) ([]store.RunEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.runEvents[scope.TenantID+"/"+scope.WorkspaceID+"/"+runID]
	return append([]store.RunEvent(nil), events...), nil
}

// EnqueueWorkflowJob implements store.Port.
func (s *Store) EnqueueWorkflowJob(_ context.Context, j store.WorkflowQueueJob) (store.WorkflowQueueJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j.JobID == "" {
		j.JobID = s.newID()
	}
	j.Status = store.JobQueued
	j.AttemptCount = 0
	if j.MaxAttempts == 0 {
		j.MaxAttempts = 5
	}
	if j.AvailableAt.IsZero() {
		j.AvailableAt = s.now().UTC()
	}
	s.jobs[j.TenantID+"/"+j.WorkspaceID+"/"+j.JobID] = j
	return j, nil
}

// ListWorkflowJobs implements store.Port.
func (s *Store) ListWorkflowJobs(_ context.Context, scope store.Scope, status store.JobStatus) ([]store.WorkflowQueueJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.WorkflowQueueJob
	for _, j := range s.jobs {
		if scope.TenantID != "" && j.TenantID != scope.TenantID {
			continue
		}
		if scope.WorkspaceID != "" && j.WorkspaceID != scope.WorkspaceID {
			continue
		}
		if status != "" && j.Status != status {
			continue
		}
		out = append(out, j)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JobID < out[j].JobID })
	return out, nil
}

// ClaimWorkflowJobs implements store.Port: atomically transitions up to
// limit queued-and-available jobs to claimed, assigning a fresh lease.
// Safe under concurrent claims because the whole operation holds the
// store's single mutex.
func (s *Store) ClaimWorkflowJobs(_ context.Context, in store.ClaimInput) ([]store.WorkflowQueueJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	var candidates []string
	for key, j := range s.jobs {
		if j.Status != store.JobQueued {
			continue
		}
		if j.AvailableAt.After(now) {
			continue
		}
		if in.TenantID != "" && j.TenantID != in.TenantID {
			continue
		}
		if in.WorkspaceID != "" && j.WorkspaceID != in.WorkspaceID {
			continue
		}
		candidates = append(candidates, key)
	}
	sort.Strings(candidates)

	limit := in.Limit
	if limit <= 0 || limit > len(candidates) {
		limit = len(candidates)
	}

	leaseMs := in.LeaseMs
	if leaseMs <= 0 {
		leaseMs = 30_000
	}

	out := make([]store.WorkflowQueueJob, 0, limit)
	for _, key := range candidates[:limit] {
		j := s.jobs[key]
		j.Status = store.JobClaimed
		j.LeaseToken = s.newID()
		j.LeaseExpiresAt = now.Add(time.Duration(leaseMs) * time.Millisecond)
		j.AttemptCount++
		s.jobs[key] = j
		out = append(out, j)
	}
	return out, nil
}

// CompleteWorkflowJob implements store.Port: a no-op unless leaseToken
// matches (the fencing token), per spec.md §4.5.
func (s *Store) CompleteWorkflowJob(_ context.Context, jobID, leaseToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, j, ok := s.findJob(jobID)
	if !ok {
		return fmt.Errorf("%w: job %q", store.ErrNotFound, jobID)
	}
	if j.Status != store.JobClaimed || j.LeaseToken != leaseToken {
		return nil // stale lease: silent no-op, per spec.md §4.5
	}
	j.Status = store.JobCompleted
	j.LeaseToken = ""
	s.jobs[key] = j
	return nil
}

// FailWorkflowJob implements store.Port.
func (s *Store) FailWorkflowJob(_ context.Context, jobID, leaseToken, errMsg string, retryAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, j, ok := s.findJob(jobID)
	if !ok {
		return fmt.Errorf("%w: job %q", store.ErrNotFound, jobID)
	}
	if j.Status != store.JobClaimed || j.LeaseToken != leaseToken {
		return nil // stale lease: silent no-op
	}
	j.LastError = errMsg
	if j.AttemptCount < j.MaxAttempts {
		j.Status = store.JobQueued
		j.AvailableAt = retryAt
		j.LeaseToken = ""
	} else {
		j.Status = store.JobFailed
		j.LeaseToken = ""
	}
	s.jobs[key] = j
	return nil
}

// GetWorkflowJob implements store.Port.
func (s *Store) GetWorkflowJob(_ context.Context, scope store.Scope, jobID string) (store.WorkflowQueueJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, j, ok := s.findJob(jobID)
	if !ok || (scope.TenantID != "" && j.TenantID != scope.TenantID) {
		return store.WorkflowQueueJob{}, fmt.Errorf("%w: job %q", store.ErrNotFound, jobID)
	}
	return j, nil
}

func (s *Store) findJob(jobID string) (string, store.WorkflowQueueJob, bool) {
	for key, j := range s.jobs {
		if j.JobID == jobID {
			return key, j, true
		}
	}
	return "", store.WorkflowQueueJob{}, false
}

// RecordInboundMessageReceipt implements store.Port's dedup receipt
// check, keyed by (provider, providerTeamId, eventId) per spec.md §4.6.
func (s *Store) RecordInboundMessageReceipt(_ context.Context, r store.InboundMessageReceipt) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := r.Provider + "/" + r.ProviderTeamID + "/" + r.EventID
	if _, dup := s.receipts[key]; dup {
		return true, nil
	}
	if r.ReceivedAt.IsZero() {
		r.ReceivedAt = s.now().UTC()
	}
	s.receipts[key] = r
	return false, nil
}

// GetTenantMessagingSettings implements store.Port.
func (s *Store) GetTenantMessagingSettings(_ context.Context, scope store.Scope) (store.TenantMessagingSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.settings[scope.TenantID+"/"+scope.WorkspaceID]
	if !ok {
		return store.TenantMessagingSettings{TenantID: scope.TenantID, WorkspaceID: scope.WorkspaceID}, nil
	}
	return v, nil
}

// UpsertTenantMessagingSettings implements store.Port.
func (s *Store) UpsertTenantMessagingSettings(_ context.Context, set store.TenantMessagingSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[set.TenantID+"/"+set.WorkspaceID] = set
	return nil
}

// GetWorkflowRuntimeSnapshot implements store.Port.
func (s *Store) GetWorkflowRuntimeSnapshot(_ context.Context, scope store.Scope, workflowID string) (store.WorkflowRuntimeSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.snapshots[scopeWfKey(scope, workflowID)]
	if !ok {
		return store.WorkflowRuntimeSnapshot{}, fmt.Errorf("%w: snapshot for workflow %q", store.ErrNotFound, workflowID)
	}
	return v, nil
}

// UpsertWorkflowRuntimeSnapshot implements store.Port.
func (s *Store) UpsertWorkflowRuntimeSnapshot(_ context.Context, snap store.WorkflowRuntimeSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[scopeWfKey(store.Scope{TenantID: snap.TenantID, WorkspaceID: snap.WorkspaceID}, snap.WorkflowID)] = snap
	return nil
}
