package model

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/auditmesh/core"
)

func TestMockModel_StreamingThenFinal(t *testing.T) {
	m := NewMockModel("mock", "test")
	m.AddResponse("hi", "yo")

	respCh, errCh := m.Generate(context.Background(), Request{
		Contents: []core.Content{core.NewTextContent(core.RoleUser, "hi")},
		Stream:   true,
	})

	var partials []string
	var final Response
	for r := range respCh {
		if r.Partial {
			partials = append(partials, r.Content.Text())
			continue
		}
		final = r
	}
	require.NoError(t, <-errCh)

	assert.Equal(t, []string{"y", "o"}, partials)
	assert.Equal(t, "yo", final.Content.Text())
	assert.Equal(t, "stop", final.FinishReason)
}

func TestMockModel_Script(t *testing.T) {
	m := NewMockModel("mock", "test")
	m.Script(
		Response{Content: core.Content{Parts: []core.Part{core.FunctionCallPart{FunctionCall: core.FunctionCall{ID: "1", Name: "lookup"}}}}},
		Response{Content: core.NewTextContent(core.RoleAssistant, "done")},
	)

	req := Request{Contents: []core.Content{core.NewTextContent(core.RoleUser, "q")}}

	first, err := Collect(context.Background(), m, req)
	require.NoError(t, err)
	assert.Equal(t, core.RoleAssistant, first.Content.Role)
	require.Len(t, first.Content.Parts, 1)

	second, err := Collect(context.Background(), m, req)
	require.NoError(t, err)
	assert.Equal(t, "done", second.Content.Text())
	assert.Len(t, m.Requests(), 2)
}

func TestCollect_Error(t *testing.T) {
	m := NewMockModel("mock", "test")
	boom := errors.New("boom")
	m.FailWith(boom)

	_, err := Collect(context.Background(), m, Request{})
	assert.ErrorIs(t, err, boom)
}

func TestRequest_SystemPrompt(t *testing.T) {
	req := Request{
		Instructions: "Be strict.",
		Contents: []core.Content{
			core.NewTextContent(core.RoleSystem, "Answer in JSON."),
			core.NewTextContent(core.RoleUser, "q"),
		},
	}
	assert.Equal(t, "Be strict.\n\nAnswer in JSON.", req.SystemPrompt())
}
