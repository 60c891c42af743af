package approval_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brianchuang/agent-sub000/approval"
	"github.com/brianchuang/agent-sub000/planner"
)

func TestNever_NeverRequiresApproval(t *testing.T) {
	t.Parallel()

	dec, err := approval.Never().Classify(context.Background(), approval.Input{
		Intent: planner.Intent{Type: planner.IntentToolCall, ToolName: "message.send"},
	})
	require.NoError(t, err)
	require.False(t, dec.RequiresApproval)
}

func TestToolNames_GatesNamedTools(t *testing.T) {
	t.Parallel()

	classifier := approval.ToolNames("high", "destructive_tool", "message.send", "calendar.delete_event")

	dec, err := classifier.Classify(context.Background(), approval.Input{
		Intent: planner.Intent{Type: planner.IntentToolCall, ToolName: "message.send"},
	})
	require.NoError(t, err)
	require.True(t, dec.RequiresApproval)
	require.Equal(t, approval.RiskClass("high"), dec.RiskClass)
	require.Equal(t, "destructive_tool", dec.ReasonCode)

	dec, err = classifier.Classify(context.Background(), approval.Input{
		Intent: planner.Intent{Type: planner.IntentToolCall, ToolName: "calendar.find_slots"},
	})
	require.NoError(t, err)
	require.False(t, dec.RequiresApproval)
	require.Equal(t, "not_gated", dec.ReasonCode)
}

func TestToolNames_NeverGatesNonToolCallIntents(t *testing.T) {
	t.Parallel()

	classifier := approval.ToolNames("high", "destructive_tool", "message.send")

	dec, err := classifier.Classify(context.Background(), approval.Input{
		Intent: planner.Intent{Type: planner.IntentAskUser, Question: "q"},
	})
	require.NoError(t, err)
	require.False(t, dec.RequiresApproval)
	require.Equal(t, "not_a_tool_call", dec.ReasonCode)
}
