// Command replaytool loads two Replay Traces for the same workflow
// from a store.Port — typically an "expected" trace recorded earlier
// and an "actual" trace produced by a later replay — and prints the
// deterministic drift list audit.Diff computes between them, per
// spec.md §4.7's diffReplaySnapshot.
//
// Grounded on _examples/goadesign-goa-ai/registry/cmd/registry/main.go's
// run() error + log.Fatal top-level wiring and flag-parsing shape,
// adapted from an HTTP service entrypoint to a one-shot CLI.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/brianchuang/agent-sub000/audit"
	"github.com/brianchuang/agent-sub000/store"
	mongostore "github.com/brianchuang/agent-sub000/store/mongo"
	"github.com/brianchuang/agent-sub000/workflow"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("replaytool", flag.ContinueOnError)
	tenantID := fs.String("tenant", "", "tenant ID to read from (required)")
	workspaceID := fs.String("workspace", "", "workspace ID to read from (required)")
	workflowID := fs.String("workflow", "", "workflow ID to replay (required)")
	expectedRequestID := fs.String("expected-request", "", "requestId whose replay trace is the expected baseline (optional)")
	actualRequestID := fs.String("actual-request", "", "requestId whose replay trace is compared against the baseline (optional)")
	mongoURI := fs.String("mongo-uri", os.Getenv("MONGO_URI"), "MongoDB connection URI (required; defaults to $MONGO_URI)")
	mongoDatabase := fs.String("mongo-database", envOr("MONGO_DATABASE", "agent_sub000"), "MongoDB database name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *tenantID == "" || *workspaceID == "" || *workflowID == "" {
		return fmt.Errorf("%w: -tenant, -workspace, and -workflow are required", workflow.ErrValidation)
	}
	if *mongoURI == "" {
		return fmt.Errorf("%w: -mongo-uri (or MONGO_URI) is required: replaytool reads an existing durable workflow history", workflow.ErrValidation)
	}

	ctx := context.Background()
	client, err := mongodriver.Connect(options.Client().ApplyURI(*mongoURI))
	if err != nil {
		return err
	}
	defer func() { _ = client.Disconnect(ctx) }()

	port, err := mongostore.New(ctx, mongostore.Options{Client: client, Database: *mongoDatabase})
	if err != nil {
		return err
	}

	scope := store.Scope{TenantID: *tenantID, WorkspaceID: *workspaceID}

	expected, err := audit.Replay(ctx, port, audit.ReplayInput{
		ActorScope: scope, TargetScope: scope, WorkflowID: *workflowID, RequestID: *expectedRequestID,
	})
	if err != nil {
		return fmt.Errorf("replay expected trace: %w", err)
	}
	actual, err := audit.Replay(ctx, port, audit.ReplayInput{
		ActorScope: scope, TargetScope: scope, WorkflowID: *workflowID, RequestID: *actualRequestID,
	})
	if err != nil {
		return fmt.Errorf("replay actual trace: %w", err)
	}

	drifts := audit.Diff(expected, actual)
	return printDrifts(os.Stdout, *workflowID, expected, drifts)
}

func printDrifts(w *os.File, workflowID string, expected audit.Trace, drifts []audit.Drift) error {
	if len(drifts) == 0 {
		_, err := fmt.Fprintf(w, "workflow %s: no drift across %d steps\n", workflowID, len(expected.Steps))
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	fmt.Fprintf(w, "workflow %s: %d drift(s) found\n", workflowID, len(drifts))
	for _, d := range drifts {
		if err := enc.Encode(d); err != nil {
			return err
		}
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
