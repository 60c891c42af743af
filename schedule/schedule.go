// Package schedule implements the planner_schedule_workflow tool: a
// Registration (package tools) that lets a planner intent defer a
// workflow's next job to a future time, after a delay, or on a cron
// schedule. The teacher has no scheduling tool of its own; this is
// grounded on the `robfig/cron` dependency already present indirectly
// in the teacher's go.mod, upgraded to the actively maintained
// github.com/robfig/cron/v3 for the cron-field parser rather than
// hand-rolling one (the "never fall back to stdlib where the
// ecosystem shows a way" rule), and on tools/registry.go's
// Registration shape for how a tool is wired into the registry.
package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/brianchuang/agent-sub000/planner"
	"github.com/brianchuang/agent-sub000/queue"
	"github.com/brianchuang/agent-sub000/store"
	"github.com/brianchuang/agent-sub000/tools"
)

// ToolName is the registry key planner intents target.
const ToolName = "planner_schedule_workflow"

// DefaultMaxAttempts is used when the args omit maxAttempts.
const DefaultMaxAttempts = 5

var argsSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"workflowId": {"type": "string"},
		"objectivePrompt": {"type": "string"},
		"threadId": {"type": "string"},
		"runAt": {"type": "string"},
		"delaySeconds": {"type": "number"},
		"cron": {"type": "string"},
		"maxAttempts": {"type": "integer"}
	},
	"required": ["workflowId", "objectivePrompt"]
}`)

// cronParser accepts standard 5-field cron with minute granularity
// ("*", ranges, lists, "/n" steps), per spec.md's minute-granularity
// UTC requirement.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Registration builds a tools.Registration for planner_schedule_workflow,
// wired to enqueue a follow-up WorkflowQueueJob through q. clock
// defaults to time.Now when nil (tests supply a fixed clock).
//
// A cron schedule is NOT self-perpetuated by this tool: recurrence
// comes from the planner re-issuing the same tool_call with the same
// cron expression on the next loop iteration after the scheduled job
// fires, exactly as it would re-plan any other recurring action. This
// keeps all scheduling state inside the ordinary planner-step history
// instead of inventing a second durable "schedule" entity alongside
// WorkflowQueueJob.
func Registration(q *queue.Queue, clock func() time.Time) tools.Registration {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return tools.Registration{
		Name:         ToolName,
		Description:  "Schedules a workflow's next job to run at a future time, after a delay, or on the next occurrence of a cron expression.",
		ArgsSchema:   argsSchema,
		ValidateArgs: validateArgs,
		Execute: func(ctx context.Context, scope tools.Scope, args map[string]any) (planner.ToolResult, error) {
			return execute(ctx, q, clock, scope, args)
		},
	}
}

func validateArgs(args map[string]any) []tools.Issue {
	var issues []tools.Issue

	if s, _ := args["workflowId"].(string); s == "" {
		issues = append(issues, tools.Issue{Field: "workflowId", Message: "required"})
	}
	if s, _ := args["objectivePrompt"].(string); s == "" {
		issues = append(issues, tools.Issue{Field: "objectivePrompt", Message: "required"})
	}

	_, hasRunAt := args["runAt"]
	_, hasDelay := args["delaySeconds"]
	_, hasCron := args["cron"]
	present := 0
	for _, ok := range []bool{hasRunAt, hasDelay, hasCron} {
		if ok {
			present++
		}
	}
	if present != 1 {
		issues = append(issues, tools.Issue{Field: "runAt|delaySeconds|cron", Message: "exactly one of runAt, delaySeconds, cron is required"})
		return issues
	}

	switch {
	case hasRunAt:
		s, ok := args["runAt"].(string)
		if !ok {
			issues = append(issues, tools.Issue{Field: "runAt", Message: "must be a string"})
		} else if _, err := time.Parse(time.RFC3339, s); err != nil {
			issues = append(issues, tools.Issue{Field: "runAt", Message: "must be an ISO datetime: " + err.Error()})
		}
	case hasDelay:
		if _, ok := args["delaySeconds"].(float64); !ok {
			issues = append(issues, tools.Issue{Field: "delaySeconds", Message: "must be a number"})
		}
	case hasCron:
		expr, ok := args["cron"].(string)
		if !ok {
			issues = append(issues, tools.Issue{Field: "cron", Message: "must be a string"})
		} else if _, err := cronParser.Parse(expr); err != nil {
			issues = append(issues, tools.Issue{Field: "cron", Message: err.Error()})
		}
	}
	return issues
}

func execute(ctx context.Context, q *queue.Queue, clock func() time.Time, scope tools.Scope, args map[string]any) (planner.ToolResult, error) {
	workflowID, _ := args["workflowId"].(string)
	objective, _ := args["objectivePrompt"].(string)
	threadID, _ := args["threadId"].(string)

	maxAttempts := DefaultMaxAttempts
	if v, ok := args["maxAttempts"].(float64); ok && v > 0 {
		maxAttempts = int(v)
	}

	now := clock()
	availableAt, err := resolveAvailableAt(now, args)
	if err != nil {
		return planner.ToolResult{}, err
	}

	job, err := q.Enqueue(ctx, store.WorkflowQueueJob{
		TenantID: scope.TenantID, WorkspaceID: scope.WorkspaceID,
		WorkflowID: workflowID, ObjectivePrompt: objective, ThreadID: threadID,
		AvailableAt: availableAt, MaxAttempts: maxAttempts,
	})
	if err != nil {
		return planner.ToolResult{}, fmt.Errorf("enqueue scheduled workflow job: %w", err)
	}

	return planner.ToolResult{
		OK: true,
		Output: map[string]any{
			"jobId":       job.JobID,
			"availableAt": availableAt.Format(time.RFC3339),
		},
	}, nil
}

func resolveAvailableAt(now time.Time, args map[string]any) (time.Time, error) {
	if s, ok := args["runAt"].(string); ok {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: invalid runAt: %v", planner.ErrValidation, err)
		}
		return t.UTC(), nil
	}
	if d, ok := args["delaySeconds"].(float64); ok {
		return now.Add(time.Duration(d) * time.Second), nil
	}
	if expr, ok := args["cron"].(string); ok {
		sched, err := cronParser.Parse(expr)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: invalid cron: %v", planner.ErrValidation, err)
		}
		return sched.Next(now).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%w: exactly one of runAt, delaySeconds, cron is required", planner.ErrValidation)
}
