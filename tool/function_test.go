package tool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/auditmesh/core"
)

func newToolContext() *core.ToolContext {
	emit := make(chan core.Event, 1)
	rc := core.NewRunContext(
		context.Background(), "s1", "r1",
		core.AgentInfo{Name: "auditor", Type: "model"},
		core.NewTextContent(core.RoleUser, "hi"),
		0, emit, nil, nil, nil, nil,
	)
	return core.NewToolContext(rc, "fc-1")
}

type lookupArgs struct {
	Claim string `json:"claim" jsonschema:"description=Claim to verify"`
	Limit int    `json:"limit,omitempty"`
}

func TestFunctionTool_Call(t *testing.T) {
	ft := NewFunctionToolFromStruct("lookup", "Look up a claim", lookupArgs{},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			tc.SetState("last_claim", args["claim"])
			return map[string]any{"verified": true}, nil
		})

	assert.Equal(t, "lookup", ft.Name())
	assert.Equal(t, "Look up a claim", ft.Description())

	tc := newToolContext()
	out, err := ft.Call(tc, map[string]any{"claim": "water is wet"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"verified": true}, out)
	assert.Equal(t, "water is wet", tc.Actions().StateDelta["last_claim"])
}

func TestFunctionTool_ValidationError(t *testing.T) {
	ft := NewFunctionToolFromStruct("lookup", "", lookupArgs{},
		func(*core.ToolContext, map[string]any) (any, error) { return nil, nil })

	_, err := ft.Call(newToolContext(), map[string]any{})
	require.Error(t, err)

	var te *ToolError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, CodeValidation, te.Code)
	assert.Equal(t, "lookup", te.Tool)
}

func TestFunctionTool_ExecutionError(t *testing.T) {
	ft := NewFunctionTool("boom", "", map[string]any{"type": "object"},
		func(*core.ToolContext, map[string]any) (any, error) { return nil, errors.New("kaput") })

	_, err := ft.Call(newToolContext(), map[string]any{})

	var te *ToolError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, CodeExecution, te.Code)
	assert.Contains(t, te.Error(), "kaput")
}

func TestFunctionTool_ForwardsToolError(t *testing.T) {
	ft := NewFunctionTool("remote", "", map[string]any{"type": "object"},
		func(*core.ToolContext, map[string]any) (any, error) {
			return nil, NewToolError("remote", "unavailable", CodeRemote)
		})

	_, err := ft.Call(newToolContext(), map[string]any{})

	var te *ToolError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, CodeRemote, te.Code)
}
