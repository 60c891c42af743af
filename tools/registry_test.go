package tools_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brianchuang/agent-sub000/planner"
	"github.com/brianchuang/agent-sub000/tools"
)

func TestRegister_DuplicateFails(t *testing.T) {
	t.Parallel()

	reg := tools.New()
	require.NoError(t, reg.Register(tools.Registration{Name: "calendar.find_slots"}))
	err := reg.Register(tools.Registration{Name: "calendar.find_slots"})
	require.ErrorIs(t, err, planner.ErrValidation)
}

func TestRegister_EmptyNameFails(t *testing.T) {
	t.Parallel()

	reg := tools.New()
	require.ErrorIs(t, reg.Register(tools.Registration{}), planner.ErrValidation)
}

func TestRegister_AfterFreezeFails(t *testing.T) {
	t.Parallel()

	reg := tools.New()
	reg.Freeze()
	err := reg.Register(tools.Registration{Name: "late.tool"})
	require.ErrorIs(t, err, planner.ErrValidation)
}

func TestList_FiltersByAuthorization(t *testing.T) {
	t.Parallel()

	reg := tools.New()
	require.NoError(t, reg.Register(tools.Registration{Name: "open.tool", Description: "always visible"}))
	require.NoError(t, reg.Register(tools.Registration{
		Name:        "gated.tool",
		IsAuthorized: func(s tools.Scope) bool { return s.TenantID == "t-allowed" },
	}))

	allowed := reg.List(tools.Scope{TenantID: "t-allowed"})
	require.Len(t, allowed, 2)

	denied := reg.List(tools.Scope{TenantID: "t-other"})
	require.Len(t, denied, 1)
	require.Equal(t, "open.tool", denied[0].Name)
}

func TestExecute_UnknownToolIsValidationError(t *testing.T) {
	t.Parallel()

	reg := tools.New()
	_, err := reg.Execute(context.Background(), tools.ExecuteInput{Name: "nope"})
	require.ErrorIs(t, err, planner.ErrValidation)
}

func TestExecute_UnauthorizedScopeIsValidationError(t *testing.T) {
	t.Parallel()

	reg := tools.New()
	require.NoError(t, reg.Register(tools.Registration{
		Name:         "gated.tool",
		IsAuthorized: func(tools.Scope) bool { return false },
		Execute: func(context.Context, tools.Scope, map[string]any) (planner.ToolResult, error) {
			return planner.ToolResult{OK: true}, nil
		},
	}))
	_, err := reg.Execute(context.Background(), tools.ExecuteInput{Name: "gated.tool"})
	require.ErrorIs(t, err, planner.ErrValidation)
}

func TestExecute_ValidateArgsIssuesBlockExecution(t *testing.T) {
	t.Parallel()

	reg := tools.New()
	var executed bool
	require.NoError(t, reg.Register(tools.Registration{
		Name: "needs.args",
		ValidateArgs: func(args map[string]any) []tools.Issue {
			if _, ok := args["to"]; !ok {
				return []tools.Issue{{Field: "to", Message: "required"}}
			}
			return nil
		},
		Execute: func(context.Context, tools.Scope, map[string]any) (planner.ToolResult, error) {
			executed = true
			return planner.ToolResult{OK: true}, nil
		},
	}))

	_, err := reg.Execute(context.Background(), tools.ExecuteInput{Name: "needs.args", Args: map[string]any{}})
	require.ErrorIs(t, err, planner.ErrValidation)
	require.False(t, executed)

	res, err := reg.Execute(context.Background(), tools.ExecuteInput{Name: "needs.args", Args: map[string]any{"to": "x"}})
	require.NoError(t, err)
	require.True(t, executed)
	require.True(t, res.OK)
}

func TestExecute_JSONSchemaValidation(t *testing.T) {
	t.Parallel()

	schema := json.RawMessage(`{
		"type": "object",
		"properties": {"to": {"type": "string"}},
		"required": ["to"]
	}`)
	reg := tools.New()
	require.NoError(t, reg.Register(tools.Registration{
		Name:       "message.send",
		ArgsSchema: schema,
		Execute: func(context.Context, tools.Scope, map[string]any) (planner.ToolResult, error) {
			return planner.ToolResult{OK: true}, nil
		},
	}))

	_, err := reg.Execute(context.Background(), tools.ExecuteInput{Name: "message.send", Args: map[string]any{}})
	require.ErrorIs(t, err, planner.ErrValidation)

	res, err := reg.Execute(context.Background(), tools.ExecuteInput{Name: "message.send", Args: map[string]any{"to": "sam@example.com"}})
	require.NoError(t, err)
	require.True(t, res.OK)
}

func TestExecute_NoExecuteFunctionIsValidationError(t *testing.T) {
	t.Parallel()

	reg := tools.New()
	require.NoError(t, reg.Register(tools.Registration{Name: "noop.tool"}))
	_, err := reg.Execute(context.Background(), tools.ExecuteInput{Name: "noop.tool"})
	require.ErrorIs(t, err, planner.ErrValidation)
}
