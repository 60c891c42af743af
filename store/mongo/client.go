// Package mongo is the durable store.Port implementation backed by
// MongoDB. Grounded on
// features/session/mongo/clients/mongo/client.go: the thin
// interface-wrapped collection layer (so the store can be exercised
// against a fake in tests without a live server), ensureIndexes run at
// construction, withTimeout wrapping every operation, and the
// $setOnInsert-only idempotent-insert pattern for create-if-absent
// semantics. Upgraded from the teacher's go.mongodb.org/mongo-driver to
// go.mongodb.org/mongo-driver/v2, per SPEC_FULL.md's Domain Stack.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

const (
	defaultOpTimeout = 5 * time.Second

	collWorkflows         = "workflows"
	collRequests          = "objective_requests"
	collCheckpoints       = "waiting_checkpoints"
	collSignals           = "workflow_signals"
	collReceipts          = "inbound_receipts"
	collPolicyDecisions   = "policy_decisions"
	collApprovals         = "approval_decisions"
	collAudit             = "audit_records"
	collAgents            = "agents"
	collRuns              = "runs"
	collRunEvents         = "run_events"
	collQueueJobs         = "workflow_queue_jobs"
	collMessageThreads    = "workflow_message_threads"
	collMessagingSettings = "tenant_messaging_settings"
	collRuntimeSnapshots  = "workflow_runtime_snapshots"
)

// Options configures the Mongo-backed store.
type Options struct {
	Client   *mongodriver.Client
	Database string
	Timeout  time.Duration
}

// Store is the durable store.Port implementation. Every exported
// method other than Ping corresponds 1:1 to a store.Port method.
type Store struct {
	mongo   *mongodriver.Client
	db      *mongodriver.Database
	timeout time.Duration
}

// New constructs a Store, running ensureIndexes before returning.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	db := opts.Client.Database(opts.Database)
	s := &Store{mongo: opts.Client, db: db, timeout: timeout}
	ctxWithTimeout, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.ensureIndexes(ctxWithTimeout); err != nil {
		return nil, err
	}
	return s, nil
}

// Ping satisfies goa.design/clue/health.Pinger, matching the teacher's
// Client interface convention.
func (s *Store) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.mongo.Ping(ctx, readpref.Primary())
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Store) coll(name string) *mongodriver.Collection {
	return s.db.Collection(name)
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	type idx struct {
		coll string
		keys bson.D
		opts *options.IndexOptions
	}
	indexes := []idx{
		{collWorkflows, bson.D{{Key: "tenant_id", Value: 1}, {Key: "workspace_id", Value: 1}, {Key: "workflow_id", Value: 1}}, options.Index().SetUnique(true)},
		{collRequests, bson.D{{Key: "tenant_id", Value: 1}, {Key: "workspace_id", Value: 1}, {Key: "request_id", Value: 1}}, options.Index().SetUnique(true)},
		{collCheckpoints, bson.D{{Key: "tenant_id", Value: 1}, {Key: "workspace_id", Value: 1}, {Key: "workflow_id", Value: 1}}, options.Index().SetUnique(true)},
		{collSignals, bson.D{{Key: "tenant_id", Value: 1}, {Key: "workspace_id", Value: 1}, {Key: "signal_id", Value: 1}}, options.Index().SetUnique(true)},
		{collSignals, bson.D{{Key: "tenant_id", Value: 1}, {Key: "workspace_id", Value: 1}, {Key: "workflow_id", Value: 1}}, options.Index()},
		{collReceipts, bson.D{{Key: "provider", Value: 1}, {Key: "provider_team_id", Value: 1}, {Key: "event_id", Value: 1}}, options.Index().SetUnique(true)},
		{collPolicyDecisions, bson.D{{Key: "tenant_id", Value: 1}, {Key: "workspace_id", Value: 1}, {Key: "workflow_id", Value: 1}}, options.Index()},
		{collApprovals, bson.D{{Key: "tenant_id", Value: 1}, {Key: "workspace_id", Value: 1}, {Key: "approval_id", Value: 1}}, options.Index().SetUnique(true)},
		{collAudit, bson.D{{Key: "tenant_id", Value: 1}, {Key: "workspace_id", Value: 1}, {Key: "workflow_id", Value: 1}, {Key: "request_id", Value: 1}}, options.Index()},
		{collAgents, bson.D{{Key: "tenant_id", Value: 1}, {Key: "workspace_id", Value: 1}, {Key: "agent_id", Value: 1}}, options.Index().SetUnique(true)},
		{collRuns, bson.D{{Key: "tenant_id", Value: 1}, {Key: "workspace_id", Value: 1}, {Key: "run_id", Value: 1}}, options.Index().SetUnique(true)},
		{collRunEvents, bson.D{{Key: "run_id", Value: 1}, {Key: "ts", Value: 1}}, options.Index()},
		{collQueueJobs, bson.D{{Key: "job_id", Value: 1}}, options.Index().SetUnique(true)},
		{collQueueJobs, bson.D{{Key: "status", Value: 1}, {Key: "available_at", Value: 1}}, options.Index()},
		{collMessageThreads, bson.D{{Key: "provider", Value: 1}, {Key: "provider_thread_id", Value: 1}}, options.Index().SetUnique(true)},
		{collMessagingSettings, bson.D{{Key: "tenant_id", Value: 1}, {Key: "workspace_id", Value: 1}}, options.Index().SetUnique(true)},
		{collRuntimeSnapshots, bson.D{{Key: "tenant_id", Value: 1}, {Key: "workspace_id", Value: 1}, {Key: "workflow_id", Value: 1}}, options.Index().SetUnique(true)},
	}
	for _, ix := range indexes {
		model := mongodriver.IndexModel{Keys: ix.keys, Options: ix.opts}
		if _, err := s.coll(ix.coll).Indexes().CreateOne(ctx, model); err != nil {
			return err
		}
	}
	return nil
}
