package mongo

import (
	"time"

	"github.com/brianchuang/agent-sub000/store"
	"github.com/brianchuang/agent-sub000/workflow"
)

// Each *Doc type adds the query-path key fields ensureIndexes relies
// on; the domain value itself is embedded verbatim and round-trips
// through the driver's default (tag-less) struct codec, mirroring how
// the teacher's session/mongo client stores its Session/Run values
// directly rather than hand-flattening every field into bson tags.

type workflowDoc struct {
	TenantID    string                    `bson:"tenant_id"`
	WorkspaceID string                    `bson:"workspace_id"`
	WorkflowID  string                    `bson:"workflow_id"`
	Instance    workflow.WorkflowInstance `bson:"instance"`
}

type requestDoc struct {
	TenantID    string                 `bson:"tenant_id"`
	WorkspaceID string                 `bson:"workspace_id"`
	RequestID   string                 `bson:"request_id"`
	Request     store.ObjectiveRequest `bson:"request"`
}

type checkpointDoc struct {
	TenantID    string                    `bson:"tenant_id"`
	WorkspaceID string                    `bson:"workspace_id"`
	WorkflowID  string                    `bson:"workflow_id"`
	Checkpoint  workflow.WaitingCheckpoint `bson:"checkpoint"`
}

type signalDoc struct {
	TenantID    string                      `bson:"tenant_id"`
	WorkspaceID string                      `bson:"workspace_id"`
	SignalID    string                      `bson:"signal_id"`
	WorkflowID  string                      `bson:"workflow_id"`
	Signal      store.WorkflowSignalRecord `bson:"signal"`
}

type receiptDoc struct {
	Provider       string                        `bson:"provider"`
	ProviderTeamID string                        `bson:"provider_team_id"`
	EventID        string                        `bson:"event_id"`
	Receipt        store.InboundMessageReceipt `bson:"receipt"`
}

type threadDoc struct {
	Provider         string                      `bson:"provider"`
	ProviderThreadID string                      `bson:"provider_thread_id"`
	TenantID         string                      `bson:"tenant_id"`
	WorkspaceID      string                      `bson:"workspace_id"`
	WorkflowID       string                      `bson:"workflow_id"`
	Thread           store.WorkflowMessageThread `bson:"thread"`
}

type policyDoc struct {
	TenantID    string                     `bson:"tenant_id"`
	WorkspaceID string                     `bson:"workspace_id"`
	DecisionID  string                     `bson:"decision_id"`
	WorkflowID  string                     `bson:"workflow_id"`
	Record      store.PolicyDecisionRecord `bson:"record"`
}

type approvalDoc struct {
	TenantID    string                       `bson:"tenant_id"`
	WorkspaceID string                       `bson:"workspace_id"`
	ApprovalID  string                       `bson:"approval_id"`
	WorkflowID  string                       `bson:"workflow_id"`
	Record      store.ApprovalDecisionRecord `bson:"record"`
}

type auditDoc struct {
	TenantID    string            `bson:"tenant_id"`
	WorkspaceID string            `bson:"workspace_id"`
	WorkflowID  string            `bson:"workflow_id"`
	RequestID   string            `bson:"request_id"`
	AuditID     string            `bson:"audit_id"`
	Record      store.AuditRecord `bson:"record"`
}

type agentDoc struct {
	TenantID    string      `bson:"tenant_id"`
	WorkspaceID string      `bson:"workspace_id"`
	AgentID     string      `bson:"agent_id"`
	Agent       store.Agent `bson:"agent"`
}

type runDoc struct {
	TenantID    string    `bson:"tenant_id"`
	WorkspaceID string    `bson:"workspace_id"`
	RunID       string    `bson:"run_id"`
	WorkflowID  string    `bson:"workflow_id"`
	Run         store.Run `bson:"run"`
}

type runEventDoc struct {
	RunID       string         `bson:"run_id"`
	TenantID    string         `bson:"tenant_id"`
	WorkspaceID string         `bson:"workspace_id"`
	TS          time.Time      `bson:"ts"`
	Event       store.RunEvent `bson:"event"`
}

type jobDoc struct {
	JobID       string                 `bson:"job_id"`
	TenantID    string                 `bson:"tenant_id"`
	WorkspaceID string                 `bson:"workspace_id"`
	Status      store.JobStatus        `bson:"status"`
	AvailableAt time.Time              `bson:"available_at"`
	Job         store.WorkflowQueueJob `bson:"job"`
}

type settingsDoc struct {
	TenantID    string                        `bson:"tenant_id"`
	WorkspaceID string                        `bson:"workspace_id"`
	Settings    store.TenantMessagingSettings `bson:"settings"`
}

type snapshotDoc struct {
	TenantID    string                        `bson:"tenant_id"`
	WorkspaceID string                        `bson:"workspace_id"`
	WorkflowID  string                        `bson:"workflow_id"`
	Snapshot    store.WorkflowRuntimeSnapshot `bson:"snapshot"`
}
