package policy_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brianchuang/agent-sub000/planner"
	"github.com/brianchuang/agent-sub000/policy"
)

func TestDefaultPack(t *testing.T) {
	t.Parallel()

	pack := policy.DefaultPack("tenant-1")
	require.Equal(t, "tenant-1-default-policy-pack", pack.ID)
	require.Equal(t, "v1", pack.Version)
}

func TestBasic_NoMatchingRuleAllows(t *testing.T) {
	t.Parallel()

	eng := policy.NewBasic()
	dec, err := eng.Decide(context.Background(), policy.Input{
		TenantID: "t1", Intent: planner.Intent{Type: planner.IntentComplete},
	})
	require.NoError(t, err)
	require.Equal(t, policy.OutcomeAllow, dec.Outcome)
	require.Equal(t, "no_matching_rule", dec.ReasonCode)
	require.Equal(t, "t1-default-policy-pack", dec.Pack.ID)
}

func TestBasic_BlockTool(t *testing.T) {
	t.Parallel()

	eng := policy.NewBasic(policy.BlockTool("message.send", "external_messaging_disabled"))
	intent := planner.Intent{Type: planner.IntentToolCall, ToolName: "message.send", Args: map[string]any{}}

	dec, err := eng.Decide(context.Background(), policy.Input{TenantID: "t1", Intent: intent})
	require.NoError(t, err)
	require.Equal(t, policy.OutcomeBlock, dec.Outcome)
	require.Equal(t, "external_messaging_disabled", dec.ReasonCode)
	require.Nil(t, dec.RewrittenIntent)
}

func TestBasic_BlockTool_DoesNotMatchOtherTools(t *testing.T) {
	t.Parallel()

	eng := policy.NewBasic(policy.BlockTool("message.send", "external_messaging_disabled"))
	intent := planner.Intent{Type: planner.IntentToolCall, ToolName: "calendar.find_slots", Args: map[string]any{}}

	dec, err := eng.Decide(context.Background(), policy.Input{TenantID: "t1", Intent: intent})
	require.NoError(t, err)
	require.Equal(t, policy.OutcomeAllow, dec.Outcome)
}

func TestBasic_FirstMatchWins(t *testing.T) {
	t.Parallel()

	rewritten := planner.Intent{Type: planner.IntentComplete}
	eng := policy.NewBasic(
		policy.Rule{
			Name:    "rewrite-everything",
			Matches: func(planner.Intent) bool { return true },
			Decide: func(planner.Intent) (policy.Outcome, string, *planner.Intent) {
				return policy.OutcomeRewrite, "rewritten_for_safety", &rewritten
			},
		},
		policy.BlockTool("message.send", "unreachable"),
	)

	dec, err := eng.Decide(context.Background(), policy.Input{
		TenantID: "t1", Intent: planner.Intent{Type: planner.IntentToolCall, ToolName: "message.send"},
	})
	require.NoError(t, err)
	require.Equal(t, policy.OutcomeRewrite, dec.Outcome)
	require.Equal(t, "rewritten_for_safety", dec.ReasonCode)
	require.Equal(t, planner.IntentComplete, dec.RewrittenIntent.Type)
}

func TestFunc_AdaptsPlainFunctionToEngine(t *testing.T) {
	t.Parallel()

	eng := policy.Func(func(_ context.Context, in policy.Input) (policy.Decision, error) {
		return policy.Decision{Outcome: policy.OutcomeAllow, PolicyID: "custom"}, nil
	})
	dec, err := eng.Decide(context.Background(), policy.Input{})
	require.NoError(t, err)
	require.Equal(t, "custom", dec.PolicyID)
}
