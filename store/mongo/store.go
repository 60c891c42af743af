package mongo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/brianchuang/agent-sub000/store"
	"github.com/brianchuang/agent-sub000/workflow"
)

func (s *Store) clockNow() time.Time { return time.Now().UTC() }

func (s *Store) newID() string {
	return ulid.Make().String()
}

func notFound(err error) bool {
	return errors.Is(err, mongodriver.ErrNoDocuments)
}

// CreateObjectiveRequest implements store.Port with the teacher's
// $setOnInsert-only idempotent-insert pattern: concurrent retries of
// the same requestId settle on whichever insert wins the race instead
// of overwriting it.
func (s *Store) CreateObjectiveRequest(ctx context.Context, req store.ObjectiveRequest) (store.ObjectiveRequest, error) {
	if req.RequestID == "" {
		return store.ObjectiveRequest{}, fmt.Errorf("%w: requestId is required", workflow.ErrValidation)
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if req.OccurredAt.IsZero() {
		req.OccurredAt = s.clockNow()
	}
	filter := bson.M{"tenant_id": req.TenantID, "workspace_id": req.WorkspaceID, "request_id": req.RequestID}
	update := bson.M{"$setOnInsert": requestDoc{TenantID: req.TenantID, WorkspaceID: req.WorkspaceID, RequestID: req.RequestID, Request: req}}
	opts := options.UpdateOne().SetUpsert(true)
	if _, err := s.coll(collRequests).UpdateOne(ctx, filter, update, opts); err != nil {
		return store.ObjectiveRequest{}, err
	}
	return s.GetObjectiveRequest(ctx, store.Scope{TenantID: req.TenantID, WorkspaceID: req.WorkspaceID}, req.RequestID)
}

// GetObjectiveRequest implements store.Port.
func (s *Store) GetObjectiveRequest(ctx context.Context, scope store.Scope, requestID string) (store.ObjectiveRequest, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc requestDoc
	filter := bson.M{"tenant_id": scope.TenantID, "workspace_id": scope.WorkspaceID, "request_id": requestID}
	if err := s.coll(collRequests).FindOne(ctx, filter).Decode(&doc); err != nil {
		if notFound(err) {
			return store.ObjectiveRequest{}, fmt.Errorf("%w: objective request %q", store.ErrNotFound, requestID)
		}
		return store.ObjectiveRequest{}, err
	}
	return doc.Request, nil
}

// GetWorkflow implements store.Port.
func (s *Store) GetWorkflow(ctx context.Context, scope store.Scope, workflowID string) (workflow.WorkflowInstance, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc workflowDoc
	filter := bson.M{"tenant_id": scope.TenantID, "workspace_id": scope.WorkspaceID, "workflow_id": workflowID}
	if err := s.coll(collWorkflows).FindOne(ctx, filter).Decode(&doc); err != nil {
		if notFound(err) {
			return workflow.WorkflowInstance{}, fmt.Errorf("%w: workflow %q", store.ErrNotFound, workflowID)
		}
		return workflow.WorkflowInstance{}, err
	}
	return doc.Instance, nil
}

// RunStepTransaction implements store.Port, using a Mongo multi-document
// transaction for the step mutation plus its policy/approval/checkpoint/
// audit side effects, and an optimistic version filter on the workflow
// document's replace to detect concurrent writers (mirrors the
// in-memory store's single-mutex serialization, but at the document
// level since Mongo has no equivalent global lock).
func (s *Store) RunStepTransaction(ctx context.Context, scope store.Scope, workflowID, requestID, threadID string, fn store.StepTxFunc) (workflow.WorkflowInstance, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	sess, err := s.mongo.StartSession()
	if err != nil {
		return workflow.WorkflowInstance{}, err
	}
	defer sess.EndSession(ctx)

	var result workflow.WorkflowInstance
	_, err = sess.WithTransaction(ctx, func(sc context.Context) (any, error) {
		filter := bson.M{"tenant_id": scope.TenantID, "workspace_id": scope.WorkspaceID, "workflow_id": workflowID}

		var doc workflowDoc
		found := true
		if err := s.coll(collWorkflows).FindOne(sc, filter).Decode(&doc); err != nil {
			if !notFound(err) {
				return nil, err
			}
			found = false
		}

		wf := doc.Instance
		expectedVersion := wf.Version
		if !found {
			wf = workflow.WorkflowInstance{
				TenantID: scope.TenantID, WorkspaceID: scope.WorkspaceID, WorkflowID: workflowID,
				ThreadID: threadID, Status: workflow.StatusRunning, UpdatedAt: s.clockNow(),
			}
		} else if threadID != "" && wf.ThreadID != "" && wf.ThreadID != threadID {
			return nil, fmt.Errorf("%w: threadId is immutable for workflow %q", workflow.ErrValidation, workflowID)
		}

		res, err := fn(wf.Clone())
		if err != nil {
			return nil, err
		}

		if res.Apply != nil {
			if err := wf.Transition(*res.Apply); err != nil {
				return nil, err
			}
		} else {
			wf.Fail(res.FailReason)
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
		wf.UpdatedAt = s.clockNow()

		newDoc := workflowDoc{TenantID: scope.TenantID, WorkspaceID: scope.WorkspaceID, WorkflowID: workflowID, Instance: wf}
		if found {
			versionFilter := bson.M{"tenant_id": scope.TenantID, "workspace_id": scope.WorkspaceID, "workflow_id": workflowID, "instance.version": expectedVersion}
			r, err := s.coll(collWorkflows).ReplaceOne(sc, versionFilter, newDoc)
			if err != nil {
				return nil, err
			}
			if r.MatchedCount == 0 {
				return nil, workflow.ErrWorkflowConflict
			}
		} else {
			if _, err := s.coll(collWorkflows).InsertOne(sc, newDoc); err != nil {
				return nil, err
			}
		}

		if res.Apply != nil && res.Apply.InstallCheckpoint {
			cp := workflow.WaitingCheckpoint{TenantID: scope.TenantID, WorkspaceID: scope.WorkspaceID, WorkflowID: workflowID, CreatedAt: s.clockNow()}
			cDoc := checkpointDoc{TenantID: scope.TenantID, WorkspaceID: scope.WorkspaceID, WorkflowID: workflowID, Checkpoint: cp}
			cFilter := bson.M{"tenant_id": scope.TenantID, "workspace_id": scope.WorkspaceID, "workflow_id": workflowID}
			if _, err := s.coll(collCheckpoints).ReplaceOne(sc, cFilter, cDoc, options.Replace().SetUpsert(true)); err != nil {
				return nil, err
			}
		}
		if wf.Status != workflow.StatusWaitingSignal {
			cFilter := bson.M{"tenant_id": scope.TenantID, "workspace_id": scope.WorkspaceID, "workflow_id": workflowID}
			if _, err := s.coll(collCheckpoints).DeleteOne(sc, cFilter); err != nil {
				return nil, err
			}
		}

		if res.PolicyDecision != nil {
			pDoc := policyDoc{TenantID: scope.TenantID, WorkspaceID: scope.WorkspaceID, DecisionID: res.PolicyDecision.DecisionID, WorkflowID: workflowID, Record: *res.PolicyDecision}
			if _, err := s.coll(collPolicyDecisions).InsertOne(sc, pDoc); err != nil {
				return nil, err
			}
		}

		if res.Approval != nil {
			aDoc := approvalDoc{TenantID: scope.TenantID, WorkspaceID: scope.WorkspaceID, ApprovalID: res.Approval.ApprovalID, WorkflowID: workflowID, Record: *res.Approval}
			aFilter := bson.M{"tenant_id": scope.TenantID, "workspace_id": scope.WorkspaceID, "approval_id": res.Approval.ApprovalID}
			if _, err := s.coll(collApprovals).ReplaceOne(sc, aFilter, aDoc, options.Replace().SetUpsert(true)); err != nil {
				return nil, err
			}
		}

		for _, a := range res.Audit {
			if a.AuditID == "" {
				a.AuditID = s.newID()
			}
			if a.RequestID == "" {
				a.RequestID = requestID
			}
			aDoc := auditDoc{TenantID: a.TenantID, WorkspaceID: a.WorkspaceID, WorkflowID: a.WorkflowID, RequestID: a.RequestID, AuditID: a.AuditID, Record: a}
			if _, err := s.coll(collAudit).InsertOne(sc, aDoc); err != nil {
				return nil, err
			}
		}

		result = wf.Clone()
		return nil, nil
	})
	if err != nil {
		if errors.Is(err, workflow.ErrWorkflowConflict) {
			return workflow.WorkflowInstance{}, workflow.ErrWorkflowConflict
		}
		return workflow.WorkflowInstance{}, err
	}
	return result, nil
}

// GetWaitingCheckpoint implements store.Port.
func (s *Store) GetWaitingCheckpoint(ctx context.Context, scope store.Scope, workflowID string) (*workflow.WaitingCheckpoint, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc checkpointDoc
	filter := bson.M{"tenant_id": scope.TenantID, "workspace_id": scope.WorkspaceID, "workflow_id": workflowID}
	if err := s.coll(collCheckpoints).FindOne(ctx, filter).Decode(&doc); err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, err
	}
	out := doc.Checkpoint
	return &out, nil
}

// ResumeWithSignal implements store.Port's single resume transaction:
// dedup receipt check, checkpoint consumption, signal record+ack,
// approval resolution, and follow-up job enqueue, all inside one Mongo
// transaction (spec.md §4.6).
func (s *Store) ResumeWithSignal(ctx context.Context, in store.ResumeInput) (store.ResumeResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	sess, err := s.mongo.StartSession()
	if err != nil {
		return store.ResumeResult{}, err
	}
	defer sess.EndSession(ctx)

	var result store.ResumeResult
	_, err = sess.WithTransaction(ctx, func(sc context.Context) (any, error) {
		result = store.ResumeResult{}

		if in.Provider != "" || in.EventID != "" {
			rDoc := receiptDoc{Provider: in.Provider, ProviderTeamID: in.ProviderTeamID, EventID: in.EventID, Receipt: store.InboundMessageReceipt{
				Provider: in.Provider, ProviderTeamID: in.ProviderTeamID, EventID: in.EventID, ReceivedAt: s.clockNow(),
			}}
			_, insErr := s.coll(collReceipts).InsertOne(sc, rDoc)
			if insErr != nil {
				if mongodriver.IsDuplicateKeyError(insErr) {
					result = store.ResumeResult{Outcome: store.ResumeDuplicate}
					return nil, nil
				}
				return nil, insErr
			}
		}

		wfFilter := bson.M{"tenant_id": in.Scope.TenantID, "workspace_id": in.Scope.WorkspaceID, "workflow_id": in.WorkflowID}
		var wfDoc workflowDoc
		if err := s.coll(collWorkflows).FindOne(sc, wfFilter).Decode(&wfDoc); err != nil {
			if notFound(err) {
				return nil, fmt.Errorf("%w: workflow not found", workflow.ErrValidation)
			}
			return nil, err
		}
		wf := wfDoc.Instance
		if wf.Status != workflow.StatusWaitingSignal {
			result = store.ResumeResult{Outcome: store.ResumeNotWaiting}
			return nil, nil
		}

		cpFilter := bson.M{"tenant_id": in.Scope.TenantID, "workspace_id": in.Scope.WorkspaceID, "workflow_id": in.WorkflowID}
		delRes, err := s.coll(collCheckpoints).DeleteOne(sc, cpFilter)
		if err != nil {
			return nil, err
		}
		if delRes.DeletedCount == 0 {
			result = store.ResumeResult{Outcome: store.ResumeNotWaiting}
			return nil, nil
		}

		signalID := s.newID()
		occurredAt := in.OccurredAt
		if occurredAt.IsZero() {
			occurredAt = s.clockNow()
		}
		sig := store.WorkflowSignalRecord{
			TenantID: in.Scope.TenantID, WorkspaceID: in.Scope.WorkspaceID, SignalID: signalID,
			WorkflowID: in.WorkflowID, Type: in.Type, Payload: in.Payload, OccurredAt: occurredAt,
			SignalStatus: store.SignalAcknowledged, AcknowledgedAt: occurredAt,
		}
		sDoc := signalDoc{TenantID: in.Scope.TenantID, WorkspaceID: in.Scope.WorkspaceID, SignalID: signalID, WorkflowID: in.WorkflowID, Signal: sig}
		if _, err := s.coll(collSignals).InsertOne(sc, sDoc); err != nil {
			return nil, err
		}

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

			aFilter := bson.M{"tenant_id": in.Scope.TenantID, "workspace_id": in.Scope.WorkspaceID, "approval_id": wf.PendingApproval.ApprovalID}
			var aDoc approvalDoc
			if err := s.coll(collApprovals).FindOne(sc, aFilter).Decode(&aDoc); err == nil {
				aDoc.Record.Status = wf.PendingApproval.Status
				aDoc.Record.ApproverID = approverID
				aDoc.Record.ResolvedAt = occurredAt
				aDoc.Record.SignalID = signalID
				if _, err := s.coll(collApprovals).ReplaceOne(sc, aFilter, aDoc); err != nil {
					return nil, err
				}
			} else if !notFound(err) {
				return nil, err
			}

			if !approved {
				wf.Status = workflow.StatusFailed
			}
		}

		wf.Version++
		wf.UpdatedAt = s.clockNow()
		if _, err := s.coll(collWorkflows).ReplaceOne(sc, wfFilter, workflowDoc{TenantID: in.Scope.TenantID, WorkspaceID: in.Scope.WorkspaceID, WorkflowID: in.WorkflowID, Instance: wf}); err != nil {
			return nil, err
		}

		if wf.Status == workflow.StatusFailed {
			result = store.ResumeResult{Outcome: store.ResumeQueuedSignal, SignalID: signalID}
			return nil, nil
		}

		job := in.NewJob
		job.JobID = s.newID()
		job.AttemptCount = 0
		job.Status = store.JobQueued
		if job.AvailableAt.IsZero() {
			job.AvailableAt = s.clockNow()
		}
		jDoc := jobDoc{JobID: job.JobID, TenantID: job.TenantID, WorkspaceID: job.WorkspaceID, Status: job.Status, AvailableAt: job.AvailableAt, Job: job}
		if _, err := s.coll(collQueueJobs).InsertOne(sc, jDoc); err != nil {
			return nil, err
		}

		jobOut := job
		result = store.ResumeResult{Outcome: store.ResumeQueuedSignal, SignalID: signalID, EnqueuedJob: &jobOut}
		return nil, nil
	})
	if err != nil {
		return store.ResumeResult{}, err
	}
	return result, nil
}

// ListPendingWorkflowSignals implements store.Port.
func (s *Store) ListPendingWorkflowSignals(ctx context.Context, scope store.Scope, workflowID string) ([]store.WorkflowSignalRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"tenant_id": scope.TenantID, "workspace_id": scope.WorkspaceID, "workflow_id": workflowID, "signal.signalstatus": store.SignalReceived}
	cur, err := s.coll(collSignals).Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []store.WorkflowSignalRecord
	for cur.Next(ctx) {
		var doc signalDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.Signal)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SignalID < out[j].SignalID })
	return out, cur.Err()
}

// UpsertWorkflowMessageThread implements store.Port.
func (s *Store) UpsertWorkflowMessageThread(ctx context.Context, t store.WorkflowMessageThread) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	doc := threadDoc{Provider: t.Provider, ProviderThreadID: t.ProviderThreadID, TenantID: t.TenantID, WorkspaceID: t.WorkspaceID, WorkflowID: t.WorkflowID, Thread: t}
	filter := bson.M{"tenant_id": t.TenantID, "workspace_id": t.WorkspaceID, "workflow_id": t.WorkflowID}
	_, err := s.coll(collMessageThreads).ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	return err
}

// GetWorkflowMessageThreadByProviderThread implements store.Port.
func (s *Store) GetWorkflowMessageThreadByProviderThread(ctx context.Context, provider, providerThreadID string) (store.WorkflowMessageThread, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc threadDoc
	filter := bson.M{"provider": provider, "provider_thread_id": providerThreadID}
	if err := s.coll(collMessageThreads).FindOne(ctx, filter).Decode(&doc); err != nil {
		if notFound(err) {
			return store.WorkflowMessageThread{}, fmt.Errorf("%w: thread for provider %q/%q", store.ErrNotFound, provider, providerThreadID)
		}
		return store.WorkflowMessageThread{}, err
	}
	return doc.Thread, nil
}

// AppendAuditRecord implements store.Port.
func (s *Store) AppendAuditRecord(ctx context.Context, rec store.AuditRecord) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if rec.AuditID == "" {
		rec.AuditID = s.newID()
	}
	doc := auditDoc{TenantID: rec.TenantID, WorkspaceID: rec.WorkspaceID, WorkflowID: rec.WorkflowID, RequestID: rec.RequestID, AuditID: rec.AuditID, Record: rec}
	_, err := s.coll(collAudit).InsertOne(ctx, doc)
	return err
}

// ListAuditRecords implements store.Port.
func (s *Store) ListAuditRecords(ctx context.Context, scope store.Scope, workflowID, requestID string) ([]store.AuditRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"tenant_id": scope.TenantID, "workspace_id": scope.WorkspaceID}
	if workflowID != "" {
		filter["workflow_id"] = workflowID
	}
	if requestID != "" {
		filter["request_id"] = requestID
	}
	cur, err := s.coll(collAudit).Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []store.AuditRecord
	for cur.Next(ctx) {
		var doc auditDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.Record)
	}
	return out, cur.Err()
}

// UpsertAgent implements store.Port.
func (s *Store) UpsertAgent(ctx context.Context, a store.Agent) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	doc := agentDoc{TenantID: a.TenantID, WorkspaceID: a.WorkspaceID, AgentID: a.AgentID, Agent: a}
	filter := bson.M{"tenant_id": a.TenantID, "workspace_id": a.WorkspaceID, "agent_id": a.AgentID}
	_, err := s.coll(collAgents).ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	return err
}

// GetAgent implements store.Port.
func (s *Store) GetAgent(ctx context.Context, scope store.Scope, agentID string) (store.Agent, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc agentDoc
	filter := bson.M{"tenant_id": scope.TenantID, "workspace_id": scope.WorkspaceID, "agent_id": agentID}
	if err := s.coll(collAgents).FindOne(ctx, filter).Decode(&doc); err != nil {
		if notFound(err) {
			return store.Agent{}, fmt.Errorf("%w: agent %q", store.ErrNotFound, agentID)
		}
		return store.Agent{}, err
	}
	return doc.Agent, nil
}

// ListAgents implements store.Port.
func (s *Store) ListAgents(ctx context.Context, scope store.Scope) ([]store.Agent, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"tenant_id": scope.TenantID, "workspace_id": scope.WorkspaceID}
	cur, err := s.coll(collAgents).Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []store.Agent
	for cur.Next(ctx) {
		var doc agentDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.Agent)
	}
	return out, cur.Err()
}

// UpsertRun implements store.Port.
func (s *Store) UpsertRun(ctx context.Context, r store.Run) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	doc := runDoc{TenantID: r.TenantID, WorkspaceID: r.WorkspaceID, RunID: r.RunID, WorkflowID: r.WorkflowID, Run: r}
	filter := bson.M{"tenant_id": r.TenantID, "workspace_id": r.WorkspaceID, "run_id": r.RunID}
	_, err := s.coll(collRuns).ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	return err
}

// GetRun implements store.Port.
func (s *Store) GetRun(ctx context.Context, scope store.Scope, runID string) (store.Run, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc runDoc
	filter := bson.M{"tenant_id": scope.TenantID, "workspace_id": scope.WorkspaceID, "run_id": runID}
	if err := s.coll(collRuns).FindOne(ctx, filter).Decode(&doc); err != nil {
		if notFound(err) {
			return store.Run{}, fmt.Errorf("%w: run %q", store.ErrNotFound, runID)
		}
		return store.Run{}, err
	}
	return doc.Run, nil
}

// ListRuns implements store.Port.
func (s *Store) ListRuns(ctx context.Context, scope store.Scope, workflowID string) ([]store.Run, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"tenant_id": scope.TenantID, "workspace_id": scope.WorkspaceID}
	if workflowID != "" {
		filter["workflow_id"] = workflowID
	}
	cur, err := s.coll(collRuns).Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []store.Run
	for cur.Next(ctx) {
		var doc runDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.Run)
	}
	return out, cur.Err()
}

// AppendRunEvent implements store.Port.
func (s *Store) AppendRunEvent(ctx context.Context, e store.RunEvent) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if e.ID == "" {
		e.ID = s.newID()
	}
	if e.TS.IsZero() {
		e.TS = s.clockNow()
	}
	doc := runEventDoc{RunID: e.RunID, TenantID: e.TenantID, WorkspaceID: e.WorkspaceID, TS: e.TS, Event: e}
	_, err := s.coll(collRunEvents).InsertOne(ctx, doc)
	return err
}

// ListRunEvents implements store.Port, totally ordered by (ts, id).
func (s *Store) ListRunEvents(ctx context.Context, scope store.Scope, runID string) ([]store.RunEvent, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"tenant_id": scope.TenantID, "workspace_id": scope.WorkspaceID, "run_id": runID}
	findOpts := options.Find().SetSort(bson.D{{Key: "ts", Value: 1}, {Key: "event.id", Value: 1}})
	cur, err := s.coll(collRunEvents).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []store.RunEvent
	for cur.Next(ctx) {
		var doc runEventDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.Event)
	}
	return out, cur.Err()
}

// EnqueueWorkflowJob implements store.Port.
func (s *Store) EnqueueWorkflowJob(ctx context.Context, j store.WorkflowQueueJob) (store.WorkflowQueueJob, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if j.JobID == "" {
		j.JobID = s.newID()
	}
	j.Status = store.JobQueued
	j.AttemptCount = 0
	if j.MaxAttempts == 0 {
		j.MaxAttempts = 5
	}
	if j.AvailableAt.IsZero() {
		j.AvailableAt = s.clockNow()
	}
	doc := jobDoc{JobID: j.JobID, TenantID: j.TenantID, WorkspaceID: j.WorkspaceID, Status: j.Status, AvailableAt: j.AvailableAt, Job: j}
	if _, err := s.coll(collQueueJobs).InsertOne(ctx, doc); err != nil {
		return store.WorkflowQueueJob{}, err
	}
	return j, nil
}

// ListWorkflowJobs implements store.Port.
func (s *Store) ListWorkflowJobs(ctx context.Context, scope store.Scope, status store.JobStatus) ([]store.WorkflowQueueJob, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{}
	if scope.TenantID != "" {
		filter["tenant_id"] = scope.TenantID
	}
	if scope.WorkspaceID != "" {
		filter["workspace_id"] = scope.WorkspaceID
	}
	if status != "" {
		filter["status"] = status
	}
	findOpts := options.Find().SetSort(bson.D{{Key: "job_id", Value: 1}})
	cur, err := s.coll(collQueueJobs).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []store.WorkflowQueueJob
	for cur.Next(ctx) {
		var doc jobDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.Job)
	}
	return out, cur.Err()
}

// ClaimWorkflowJobs implements store.Port. Each candidate job is claimed
// with an individual FindOneAndUpdate filtered on status=queued, so a
// racing worker that already claimed the job simply fails to match and
// is skipped, the Mongo-level equivalent of the in-memory store's
// single critical section.
func (s *Store) ClaimWorkflowJobs(ctx context.Context, in store.ClaimInput) ([]store.WorkflowQueueJob, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	now := s.clockNow()
	filter := bson.M{"status": store.JobQueued, "available_at": bson.M{"$lte": now}}
	if in.TenantID != "" {
		filter["tenant_id"] = in.TenantID
	}
	if in.WorkspaceID != "" {
		filter["workspace_id"] = in.WorkspaceID
	}

	limit := in.Limit
	if limit <= 0 {
		limit = 50
	}
	leaseMs := in.LeaseMs
	if leaseMs <= 0 {
		leaseMs = 30_000
	}
	findOpts := options.Find().SetSort(bson.D{{Key: "job_id", Value: 1}}).SetLimit(int64(limit))
	cur, err := s.coll(collQueueJobs).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, err
	}
	var candidates []jobDoc
	for cur.Next(ctx) {
		var doc jobDoc
		if err := cur.Decode(&doc); err != nil {
			cur.Close(ctx)
			return nil, err
		}
		candidates = append(candidates, doc)
	}
	cur.Close(ctx)
	if err := cur.Err(); err != nil {
		return nil, err
	}

	out := make([]store.WorkflowQueueJob, 0, len(candidates))
	for _, cand := range candidates {
		leaseToken := s.newID()
		leaseExpiresAt := now.Add(time.Duration(leaseMs) * time.Millisecond)
		claimFilter := bson.M{"job_id": cand.JobID, "status": store.JobQueued}
		update := bson.M{"$set": bson.M{
			"status":          store.JobClaimed,
			"job.status":      store.JobClaimed,
			"job.leasetoken":  leaseToken,
			"job.leaseexpiresat": leaseExpiresAt,
		}, "$inc": bson.M{"job.attemptcount": 1}}
		var updated jobDoc
		res := s.coll(collQueueJobs).FindOneAndUpdate(ctx, claimFilter, update, options.FindOneAndUpdate().SetReturnDocument(options.After))
		if err := res.Decode(&updated); err != nil {
			if notFound(err) {
				continue // lost the race to another worker
			}
			return nil, err
		}
		out = append(out, updated.Job)
	}
	return out, nil
}

// CompleteWorkflowJob implements store.Port: a no-op unless leaseToken
// matches (the fencing token), per spec.md §4.5.
func (s *Store) CompleteWorkflowJob(ctx context.Context, jobID, leaseToken string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"job_id": jobID, "status": store.JobClaimed, "job.leasetoken": leaseToken}
	update := bson.M{"$set": bson.M{"status": store.JobCompleted, "job.status": store.JobCompleted, "job.leasetoken": ""}}
	_, err := s.coll(collQueueJobs).UpdateOne(ctx, filter, update)
	return err // stale lease: UpdateOne matches zero documents, silent no-op
}

// FailWorkflowJob implements store.Port.
func (s *Store) FailWorkflowJob(ctx context.Context, jobID, leaseToken, errMsg string, retryAt time.Time) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var doc jobDoc
	filter := bson.M{"job_id": jobID, "status": store.JobClaimed, "job.leasetoken": leaseToken}
	if err := s.coll(collQueueJobs).FindOne(ctx, filter).Decode(&doc); err != nil {
		if notFound(err) {
			return nil // stale lease: silent no-op
		}
		return err
	}

	set := bson.M{"job.lasterror": errMsg}
	if doc.Job.AttemptCount < doc.Job.MaxAttempts {
		set["status"] = store.JobQueued
		set["job.status"] = store.JobQueued
		set["job.availableat"] = retryAt
		set["available_at"] = retryAt
		set["job.leasetoken"] = ""
	} else {
		set["status"] = store.JobFailed
		set["job.status"] = store.JobFailed
		set["job.leasetoken"] = ""
	}
	_, err := s.coll(collQueueJobs).UpdateOne(ctx, filter, bson.M{"$set": set})
	return err
}

// GetWorkflowJob implements store.Port.
func (s *Store) GetWorkflowJob(ctx context.Context, scope store.Scope, jobID string) (store.WorkflowQueueJob, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"job_id": jobID}
	if scope.TenantID != "" {
		filter["tenant_id"] = scope.TenantID
	}
	var doc jobDoc
	if err := s.coll(collQueueJobs).FindOne(ctx, filter).Decode(&doc); err != nil {
		if notFound(err) {
			return store.WorkflowQueueJob{}, fmt.Errorf("%w: job %q", store.ErrNotFound, jobID)
		}
		return store.WorkflowQueueJob{}, err
	}
	return doc.Job, nil
}

// RecordInboundMessageReceipt implements store.Port's dedup receipt
// check, keyed by (provider, providerTeamId, eventId) per spec.md §4.6.
func (s *Store) RecordInboundMessageReceipt(ctx context.Context, r store.InboundMessageReceipt) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if r.ReceivedAt.IsZero() {
		r.ReceivedAt = s.clockNow()
	}
	doc := receiptDoc{Provider: r.Provider, ProviderTeamID: r.ProviderTeamID, EventID: r.EventID, Receipt: r}
	_, err := s.coll(collReceipts).InsertOne(ctx, doc)
	if err != nil {
		if mongodriver.IsDuplicateKeyError(err) {
			return true, nil
		}
		return false, err
	}
	return false, nil
}

// GetTenantMessagingSettings implements store.Port.
func (s *Store) GetTenantMessagingSettings(ctx context.Context, scope store.Scope) (store.TenantMessagingSettings, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc settingsDoc
	filter := bson.M{"tenant_id": scope.TenantID, "workspace_id": scope.WorkspaceID}
	if err := s.coll(collMessagingSettings).FindOne(ctx, filter).Decode(&doc); err != nil {
		if notFound(err) {
			return store.TenantMessagingSettings{TenantID: scope.TenantID, WorkspaceID: scope.WorkspaceID}, nil
		}
		return store.TenantMessagingSettings{}, err
	}
	return doc.Settings, nil
}

// UpsertTenantMessagingSettings implements store.Port.
func (s *Store) UpsertTenantMessagingSettings(ctx context.Context, set store.TenantMessagingSettings) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	doc := settingsDoc{TenantID: set.TenantID, WorkspaceID: set.WorkspaceID, Settings: set}
	filter := bson.M{"tenant_id": set.TenantID, "workspace_id": set.WorkspaceID}
	_, err := s.coll(collMessagingSettings).ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	return err
}

// GetWorkflowRuntimeSnapshot implements store.Port.
func (s *Store) GetWorkflowRuntimeSnapshot(ctx context.Context, scope store.Scope, workflowID string) (store.WorkflowRuntimeSnapshot, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc snapshotDoc
	filter := bson.M{"tenant_id": scope.TenantID, "workspace_id": scope.WorkspaceID, "workflow_id": workflowID}
	if err := s.coll(collRuntimeSnapshots).FindOne(ctx, filter).Decode(&doc); err != nil {
		if notFound(err) {
			return store.WorkflowRuntimeSnapshot{}, fmt.Errorf("%w: snapshot for workflow %q", store.ErrNotFound, workflowID)
		}
		return store.WorkflowRuntimeSnapshot{}, err
	}
	return doc.Snapshot, nil
}

// UpsertWorkflowRuntimeSnapshot implements store.Port.
func (s *Store) UpsertWorkflowRuntimeSnapshot(ctx context.Context, snap store.WorkflowRuntimeSnapshot) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	doc := snapshotDoc{TenantID: snap.TenantID, WorkspaceID: snap.WorkspaceID, WorkflowID: snap.WorkflowID, Snapshot: snap}
	filter := bson.M{"tenant_id": snap.TenantID, "workspace_id": snap.WorkspaceID, "workflow_id": snap.WorkflowID}
	_, err := s.coll(collRuntimeSnapshots).ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	return err
}

var _ store.Port = (*Store)(nil)
