// Package store defines the Persistence Port: the transactional store
// of objective requests, workflow instances, planner steps, signals,
// policy/approval decisions, audit records, and queue jobs that the
// rest of the module depends on (spec.md §2 item 1, §6). Grounded on
// goa.design/goa-ai's runtime/agent/session (the Store interface shape
// and its in-memory reference implementation) and
// features/session/mongo/clients/mongo/client.go (the durable
// implementation's transactional/idempotent-write idioms); the
// interface surface here is the union spec.md §6 enumerates rather than
// the teacher's narrower session/run split, since this system has no
// separate "session" concept.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/brianchuang/agent-sub000/approval"
	"github.com/brianchuang/agent-sub000/planner"
	"github.com/brianchuang/agent-sub000/policy"
	"github.com/brianchuang/agent-sub000/workflow"
)

// Scope re-exports workflow.Scope so callers of this package do not need
// to import package workflow solely for scoping.
type Scope = workflow.Scope

// ErrNotFound is returned by any lookup operation that finds no matching
// row within the caller's scope.
var ErrNotFound = errors.New("not found")

// ObjectiveRequest is immutable after insert; requestId is globally
// unique and time-ordered (spec.md §3).
type ObjectiveRequest struct {
	TenantID        string
	WorkspaceID     string
	RequestID       string
	WorkflowID      string
	ThreadID        string
	SchemaVersion   string
	ObjectivePrompt string
	OccurredAt      time.Time
}

// AuditEventType enumerates spec.md §3's AuditRecord.eventType values.
type AuditEventType string

const (
	AuditPolicyAllow               AuditEventType = "policy_allow"
	AuditPolicyRewrite             AuditEventType = "policy_rewrite"
	AuditPolicyBlock               AuditEventType = "policy_block"
	AuditApprovalPending           AuditEventType = "approval_pending"
	AuditApprovalApproved          AuditEventType = "approval_approved"
	AuditApprovalRejected          AuditEventType = "approval_rejected"
	AuditWorkflowTerminalCompleted AuditEventType = "workflow_terminal_completed"
	AuditWorkflowTerminalFailed    AuditEventType = "workflow_terminal_failed"
)

// AuditRecord is an append-only row written inside the transaction of
// the event that caused it (spec.md §3, §4.7).
type AuditRecord struct {
	TenantID              string
	WorkspaceID           string
	AuditID               string
	WorkflowID            string
	RequestID             string
	StepNumber            int
	EventType             AuditEventType
	SignalCorrelationID   string
	Detail                map[string]any
	CreatedAt             time.Time
}

// PolicyDecisionRecord ties a step's policy verdict, per spec.md §3.
type PolicyDecisionRecord struct {
	TenantID          string
	WorkspaceID       string
	DecisionID        string
	WorkflowID        string
	StepNumber        int
	PolicyPackID      string
	PolicyPackVersion string
	Outcome           policy.Outcome
	ReasonCode        string
	OriginalIntent    planner.Intent
	RewrittenIntent   *planner.Intent
	CreatedAt         time.Time
}

// ApprovalDecisionRecord is one pending row per workflow at a time; its
// resolution fills ApproverID/ResolvedAt/SignalID (spec.md §3).
type ApprovalDecisionRecord struct {
	TenantID    string
	WorkspaceID string
	ApprovalID  string
	WorkflowID  string
	Status      workflow.ApprovalStatus
	RiskClass   approval.RiskClass
	ReasonCode  string
	Intent      planner.Intent
	ApproverID  string
	ResolvedAt  time.Time
	SignalID    string
}

// SignalType enumerates spec.md §3's WorkflowSignalRecord.type values.
type SignalType string

const (
	SignalUserInput     SignalType = "user_input"
	SignalApproval      SignalType = "approval"
	SignalExternalEvent SignalType = "external_event"
	SignalTimer         SignalType = "timer"
)

// SignalStatus enumerates spec.md §3's WorkflowSignalRecord.signalStatus
// values.
type SignalStatus string

const (
	SignalReceived     SignalStatus = "received"
	SignalAcknowledged SignalStatus = "acknowledged"
)

// WorkflowSignalRecord is keyed by (tenantId, workspaceId, signalId);
// signalId is time-ordered and globally unique (spec.md §3).
type WorkflowSignalRecord struct {
	TenantID       string
	WorkspaceID    string
	SignalID       string
	WorkflowID     string
	Type           SignalType
	Payload        map[string]any
	OccurredAt     time.Time
	SignalStatus   SignalStatus
	AcknowledgedAt time.Time
}

// JobStatus enumerates spec.md §3's WorkflowQueueJob.status values.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobClaimed   JobStatus = "claimed"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// WorkflowQueueJob is the durable unit the Workflow Queue hands to
// workers (spec.md §3, §4.5).
type WorkflowQueueJob struct {
	TenantID        string
	WorkspaceID     string
	JobID           string
	RunID           string
	AgentID         string
	WorkflowID      string
	RequestID       string
	ThreadID        string
	ObjectivePrompt string
	Status          JobStatus
	AttemptCount    int
	MaxAttempts     int
	AvailableAt     time.Time
	LeaseToken      string
	LeaseExpiresAt  time.Time
	LastError       string
}

// RunEventType enumerates spec.md §3's RunEvent.type values.
type RunEventType string

const (
	RunEventState RunEventType = "state"
	RunEventLog   RunEventType = "log"
)

// RunEvent is append-only, totally ordered per runId by (ts, id)
// (spec.md §3).
type RunEvent struct {
	ID            string
	RunID         string
	TenantID      string
	WorkspaceID   string
	TS            time.Time
	Type          RunEventType
	Level         string
	Message       string
	Payload       map[string]any
	CorrelationID string
	CausationID   string
}

// RunStatus enumerates a Run aggregate's user-visible status values, a
// superset of the RunEvent-observable lifecycle needed by the runner
// (spec.md §4.5 reconciliation steps reference queued/running/success/
// waiting/failed).
type RunStatus string

const (
	RunQueued  RunStatus = "queued"
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunWaiting RunStatus = "waiting"
	RunFailed  RunStatus = "failed"
)

// Run is the user-visible aggregate summarizing the latest execution
// attempt of a workflow (Glossary: "Run").
type Run struct {
	TenantID     string
	WorkspaceID  string
	RunID        string
	AgentID      string
	WorkflowID   string
	Status       RunStatus
	StartedAt    time.Time
	EndedAt      time.Time
	LatencyMs    int64
	Retries      int
	ErrorSummary string
}

// Agent is a minimal registration record for the agents the runtime
// executes workflows on behalf of; carried as ambient bookkeeping
// (listAgents/getAgent/upsertAgent are part of the capability list in
// spec.md §6 even though agent definition itself is out of scope).
type Agent struct {
	TenantID    string
	WorkspaceID string
	AgentID     string
	Name        string
	Metadata    map[string]any
}

// WorkflowMessageThread maps a provider thread (e.g., a chat thread ID)
// to the workflow it carries on behalf of, per spec.md §4.6 step 1 and
// the Notifier's non-void return value (spec.md §6).
type WorkflowMessageThread struct {
	TenantID         string
	WorkspaceID      string
	WorkflowID       string
	Provider         string
	ProviderTeamID   string
	ProviderThreadID string
	ChannelID        string
	MessageID        string
}

// InboundMessageReceipt is the dedup receipt keyed by (provider,
// providerTeamId, eventId) described in spec.md §4.6.
type InboundMessageReceipt struct {
	Provider       string
	ProviderTeamID string
	EventID        string
	ReceivedAt     time.Time
}

// TenantMessagingSettings holds per-tenant notifier configuration
// (credentials/targets resolution is out of scope; this is the
// persisted toggle/settings row the port exposes per spec.md §6).
type TenantMessagingSettings struct {
	TenantID    string
	WorkspaceID string
	Settings    map[string]any
}

// WorkflowRuntimeSnapshot is an opaque, store-owned cache of the latest
// computed WorkflowInstance projection, exposed via
// getWorkflowRuntimeSnapshot/upsertWorkflowRuntimeSnapshot in spec.md
// §6 for callers (e.g. a dashboard) that want a fast read without
// replaying the full step history.
type WorkflowRuntimeSnapshot struct {
	TenantID    string
	WorkspaceID string
	WorkflowID  string
	Snapshot    workflow.WorkflowInstance
	ComputedAt  time.Time
}

// StepTxResult is what a planner-loop step transaction produces; the
// store applies it to the workflow via workflow.WorkflowInstance.Transition
// (or .Fail) and persists everything in one transaction, per spec.md
// §4.1's "all performed inside a single persistence transaction."
type StepTxResult struct {
	Apply              *workflow.ApplyStepResult // nil if this tx only fails the workflow
	FailReason         string                    // non-empty iff Apply is nil
	PolicyDecision     *PolicyDecisionRecord
	Approval           *ApprovalDecisionRecord
	InstallApproval     bool
	ClearApproval       bool
	Audit              []AuditRecord
}

// StepTxFunc is invoked by RunStepTransaction with the current workflow
// snapshot; it returns the mutation to apply atomically.
type StepTxFunc func(wf workflow.WorkflowInstance) (StepTxResult, error)

// ClaimInput parameterizes ClaimWorkflowJobs (spec.md §4.5).
type ClaimInput struct {
	WorkerID    string
	Limit       int
	LeaseMs     int
	TenantID    string
	WorkspaceID string
}

// ResumeInput parameterizes ResumeWithSignal (spec.md §4.6). Exactly one
// atomic transaction performs: dedup check, checkpoint consumption,
// signal record+ack, inbox append, approval resolution (if applicable),
// and follow-up job enqueue.
type ResumeInput struct {
	Scope          Scope
	WorkflowID     string
	Type           SignalType
	Payload        map[string]any
	OccurredAt     time.Time
	Provider       string
	ProviderTeamID string
	EventID        string
	// NewJob is filled in by the caller (signal package) with the
	// follow-up job to enqueue when the resume is not a duplicate and
	// the workflow was actually waiting.
	NewJob WorkflowQueueJob
}

// ResumeOutcome is ResumeWithSignal's result discriminant.
type ResumeOutcome string

const (
	ResumeQueuedSignal ResumeOutcome = "queued_signal"
	ResumeDuplicate    ResumeOutcome = "duplicate"
	ResumeNotWaiting   ResumeOutcome = "not_waiting"
)

// ResumeResult is returned by ResumeWithSignal.
type ResumeResult struct {
	Outcome    ResumeOutcome
	SignalID   string
	EnqueuedJob *WorkflowQueueJob
}

// Port is the full Persistence Port surface: every non-read operation
// is transactional, per spec.md §6.
type Port interface {
	// ObjectiveRequest
	CreateObjectiveRequest(ctx context.Context, req ObjectiveRequest) (ObjectiveRequest, error)
	GetObjectiveRequest(ctx context.Context, scope Scope, requestID string) (ObjectiveRequest, error)

	// WorkflowInstance
	GetWorkflow(ctx context.Context, scope Scope, workflowID string) (workflow.WorkflowInstance, error)
	// RunStepTransaction loads the current workflow snapshot (creating
	// it if this is the first iteration for workflowID), invokes fn,
	// and atomically persists the resulting mutation plus any
	// PolicyDecisionRecord/ApprovalDecisionRecord/AuditRecords in one
	// transaction. Returns workflow.ErrWorkflowConflict if a concurrent
	// writer won the race (the engine retries).
	RunStepTransaction(ctx context.Context, scope Scope, workflowID string, requestID, threadID string, fn StepTxFunc) (workflow.WorkflowInstance, error)

	// WaitingCheckpoint
	GetWaitingCheckpoint(ctx context.Context, scope Scope, workflowID string) (*workflow.WaitingCheckpoint, error)

	// Signals
	ResumeWithSignal(ctx context.Context, in ResumeInput) (ResumeResult, error)
	ListPendingWorkflowSignals(ctx context.Context, scope Scope, workflowID string) ([]WorkflowSignalRecord, error)
	UpsertWorkflowMessageThread(ctx context.Context, t WorkflowMessageThread) error
	GetWorkflowMessageThreadByProviderThread(ctx context.Context, provider, providerThreadID string) (WorkflowMessageThread, error)

	// Audit
	AppendAuditRecord(ctx context.Context, rec AuditRecord) error
	ListAuditRecords(ctx context.Context, scope Scope, workflowID, requestID string) ([]AuditRecord, error)

	// Agents
	UpsertAgent(ctx context.Context, a Agent) error
	GetAgent(ctx context.Context, scope Scope, agentID string) (Agent, error)
	ListAgents(ctx context.Context, scope Scope) ([]Agent, error)

	// Runs
	UpsertRun(ctx context.Context, r Run) error
	GetRun(ctx context.Context, scope Scope, runID string) (Run, error)
	ListRuns(ctx context.Context, scope Scope, workflowID string) ([]Run, error)
	AppendRunEvent(ctx context.Context, e RunEvent) error
	ListRunEvents(ctx context.Context, scope Scope, runID string) ([]RunEvent, error)

	// Queue
	EnqueueWorkflowJob(ctx context.Context, j WorkflowQueueJob) (WorkflowQueueJob, error)
	ListWorkflowJobs(ctx context.Context, scope Scope, status JobStatus) ([]WorkflowQueueJob, error)
	ClaimWorkflowJobs(ctx context.Context, in ClaimInput) ([]WorkflowQueueJob, error)
	CompleteWorkflowJob(ctx context.Context, jobID, leaseToken string) error
	FailWorkflowJob(ctx context.Context, jobID, leaseToken, errMsg string, retryAt time.Time) error
	GetWorkflowJob(ctx context.Context, scope Scope, jobID string) (WorkflowQueueJob, error)

	// Messaging / settings
	RecordInboundMessageReceipt(ctx context.Context, r InboundMessageReceipt) (duplicate bool, err error)
	GetTenantMessagingSettings(ctx context.Context, scope Scope) (TenantMessagingSettings, error)
	UpsertTenantMessagingSettings(ctx context.Context, s TenantMessagingSettings) error

	// Runtime snapshot
	GetWorkflowRuntimeSnapshot(ctx context.Context, scope Scope, workflowID string) (WorkflowRuntimeSnapshot, error)
	UpsertWorkflowRuntimeSnapshot(ctx context.Context, s WorkflowRuntimeSnapshot) error
}
