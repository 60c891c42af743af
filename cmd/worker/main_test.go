package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brianchuang/agent-sub000/engine"
	"github.com/brianchuang/agent-sub000/workflow"
)

func TestToExecuteResult_FailedStatusIsAlwaysAnError(t *testing.T) {
	// Covers the terminal-sticky re-entry path: RunPlannerLoop returns
	// a nil error together with Status=Failed when a job is reclaimed
	// after the workflow already failed on a prior attempt.
	res, err := toExecuteResult(engine.Result{WorkflowID: "wf-1", Status: workflow.StatusFailed})
	require.Error(t, err)
	require.Equal(t, engine.Result{}.Status, res.Status)
	require.Empty(t, res.Status)
}

func TestToExecuteResult_CompletedCarriesCompletionOutput(t *testing.T) {
	res, err := toExecuteResult(engine.Result{
		WorkflowID: "wf-1", Status: workflow.StatusCompleted,
		Completion: &workflow.Completion{Output: map[string]any{"ok": true}},
	})
	require.NoError(t, err)
	require.Equal(t, "completed", res.Status)
	require.Equal(t, map[string]any{"ok": true}, res.Result)
}

func TestToExecuteResult_WaitingSignalCarriesQuestion(t *testing.T) {
	res, err := toExecuteResult(engine.Result{
		WorkflowID: "wf-1", Status: workflow.StatusWaitingSignal, WaitingQuestion: "Which interviewer?",
	})
	require.NoError(t, err)
	require.Equal(t, "waiting_signal", res.Status)
	require.Equal(t, "Which interviewer?", res.WaitingQuestion)
	require.Equal(t, map[string]any{"waitingQuestion": "Which interviewer?"}, res.Result)
}
