package workflow_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brianchuang/agent-sub000/planner"
	"github.com/brianchuang/agent-sub000/workflow"
)

func TestStatus_IsTerminal(t *testing.T) {
	t.Parallel()

	require.False(t, workflow.StatusRunning.IsTerminal())
	require.False(t, workflow.StatusWaitingSignal.IsTerminal())
	require.True(t, workflow.StatusCompleted.IsTerminal())
	require.True(t, workflow.StatusFailed.IsTerminal())
}

func TestScope_Validate(t *testing.T) {
	t.Parallel()

	require.NoError(t, workflow.Scope{TenantID: "t1", WorkspaceID: "w1"}.Validate())
	require.ErrorIs(t, workflow.Scope{WorkspaceID: "w1"}.Validate(), workflow.ErrValidation)
	require.ErrorIs(t, workflow.Scope{TenantID: "t1"}.Validate(), workflow.ErrValidation)
}

func TestScope_Equal(t *testing.T) {
	t.Parallel()

	a := workflow.Scope{TenantID: "t1", WorkspaceID: "w1"}
	b := workflow.Scope{TenantID: "t1", WorkspaceID: "w1"}
	c := workflow.Scope{TenantID: "t2", WorkspaceID: "w1"}
	require.True(t, a.Equal(b))
	require.False(t, a.Equal(c))
}

func newRunningWorkflow() workflow.WorkflowInstance {
	return workflow.WorkflowInstance{
		TenantID:    "t1",
		WorkspaceID: "w1",
		WorkflowID:  "wf-1",
		Status:      workflow.StatusRunning,
	}
}

func TestTransition_AppendsDenseSteps(t *testing.T) {
	t.Parallel()

	wf := newRunningWorkflow()
	step0 := workflow.PlannerStepRecord{StepNumber: 0, Status: workflow.StepToolExecuted}
	require.NoError(t, wf.Transition(workflow.ApplyStepResult{Step: step0, NewStatus: workflow.StatusRunning}))
	require.Len(t, wf.Steps, 1)
	require.Equal(t, 1, wf.Version)

	step1 := workflow.PlannerStepRecord{StepNumber: 1, Status: workflow.StepCompleted}
	require.NoError(t, wf.Transition(workflow.ApplyStepResult{
		Step: step1, NewStatus: workflow.StatusCompleted,
		Completion: &workflow.Completion{Output: map[string]any{"ok": true}},
	}))
	require.Equal(t, workflow.StatusCompleted, wf.Status)
	require.Len(t, wf.Steps, 2)
	require.Equal(t, 2, wf.Version)
}

func TestTransition_RejectsNonDenseStepNumber(t *testing.T) {
	t.Parallel()

	wf := newRunningWorkflow()
	step := workflow.PlannerStepRecord{StepNumber: 5, Status: workflow.StepToolExecuted}
	err := wf.Transition(workflow.ApplyStepResult{Step: step, NewStatus: workflow.StatusRunning})
	require.ErrorIs(t, err, workflow.ErrValidation)
	require.Empty(t, wf.Steps)
}

func TestTransition_TerminalIsSticky(t *testing.T) {
	t.Parallel()

	wf := newRunningWorkflow()
	wf.Status = workflow.StatusCompleted
	wf.Steps = []workflow.PlannerStepRecord{{StepNumber: 0}}

	err := wf.Transition(workflow.ApplyStepResult{
		Step:      workflow.PlannerStepRecord{StepNumber: 1},
		NewStatus: workflow.StatusRunning,
	})
	require.ErrorIs(t, err, workflow.ErrWorkflowConflict)
	require.Len(t, wf.Steps, 1, "terminal is sticky: no step appended past a terminal state")
}

func TestTransition_WaitingSignalInstallsWaitingQuestion(t *testing.T) {
	t.Parallel()

	wf := newRunningWorkflow()
	err := wf.Transition(workflow.ApplyStepResult{
		Step: workflow.PlannerStepRecord{
			StepNumber: 0, Status: workflow.StepWaitingSignal,
			PlannerIntent: planner.Intent{Type: planner.IntentAskUser, Question: "Which interviewer?"},
		},
		NewStatus:         workflow.StatusWaitingSignal,
		WaitingQuestion:   "Which interviewer?",
		InstallCheckpoint: true,
	})
	require.NoError(t, err)
	require.Equal(t, workflow.StatusWaitingSignal, wf.Status)
	require.Equal(t, "Which interviewer?", wf.WaitingQuestion)
}

func TestTransition_RunningClearsWaitingQuestion(t *testing.T) {
	t.Parallel()

	wf := newRunningWorkflow()
	wf.Status = workflow.StatusWaitingSignal
	wf.WaitingQuestion = "Which interviewer?"
	wf.Steps = []workflow.PlannerStepRecord{{StepNumber: 0}}

	err := wf.Transition(workflow.ApplyStepResult{
		Step:      workflow.PlannerStepRecord{StepNumber: 1, Status: workflow.StepToolExecuted},
		NewStatus: workflow.StatusRunning,
	})
	require.NoError(t, err)
	require.Empty(t, wf.WaitingQuestion)
}

func TestFail_IsSticky(t *testing.T) {
	t.Parallel()

	wf := newRunningWorkflow()
	wf.Fail("boom")
	require.Equal(t, workflow.StatusFailed, wf.Status)
	require.Equal(t, 1, wf.Version)

	wf.Fail("boom again")
	require.Equal(t, 1, wf.Version, "Fail on an already-terminal workflow is a no-op")
}

func TestClone_IsDefensive(t *testing.T) {
	t.Parallel()

	wf := newRunningWorkflow()
	wf.Steps = []workflow.PlannerStepRecord{{StepNumber: 0}}
	wf.Completion = &workflow.Completion{Output: map[string]any{"k": "v"}}
	wf.PendingApproval = &workflow.PendingApproval{Status: workflow.ApprovalPending}

	clone := wf.Clone()
	clone.Steps[0].StepNumber = 99
	clone.Completion.Output["k"] = "mutated"
	clone.PendingApproval.Status = workflow.ApprovalApproved

	require.Equal(t, 0, wf.Steps[0].StepNumber)
	require.Equal(t, "v", wf.Completion.Output["k"])
	require.Equal(t, workflow.ApprovalPending, wf.PendingApproval.Status)
}

func TestSentinelErrors_AreDistinct(t *testing.T) {
	t.Parallel()

	sentinels := []error{
		workflow.ErrValidation, workflow.ErrPolicyBlocked, workflow.ErrWorkflowConflict,
		workflow.ErrSignalValidation, workflow.ErrWorkflowNotFound, workflow.ErrApprovalRejected,
		workflow.ErrMaxStepsExceeded,
	}
	for i, a := range sentinels {
		for j, b := range sentinels {
			if i == j {
				continue
			}
			require.False(t, errors.Is(a, b), "sentinel %v must not satisfy errors.Is against %v", a, b)
		}
	}
}
