package model

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/hupe1980/auditmesh/core"
)

// ToolCall is a function call request surfaced by a provider.
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"` // "function"
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction is the target of a ToolCall.
type ToolCallFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolDefinition exposes a callable function to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes one function. Parameters is a JSON Schema object.
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// GenerationOptions override the adapter defaults for a single request.
// Nil fields keep the defaults.
type GenerationOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int64   `json:"max_tokens,omitempty"`
	// TopK is only sent by the Anthropic adapter. The OpenAI chat
	// completions API has no top-k parameter.
	TopK *int64 `json:"top_k,omitempty"`
	// Seed is only sent by the OpenAI adapter.
	Seed *int64 `json:"seed,omitempty"`
	// JSONMode asks the provider for a JSON object response when supported.
	JSONMode bool `json:"json_mode,omitempty"`
}

// Request is the provider independent model input.
type Request struct {
	Instructions string            `json:"instructions"`
	Contents     []core.Content    `json:"contents"`
	Tools        []ToolDefinition  `json:"tools,omitempty"`
	Stream       bool              `json:"stream,omitempty"`
	Options      GenerationOptions `json:"options"`
}

// SystemPrompt joins Instructions with the text of any system role contents.
func (r Request) SystemPrompt() string {
	var parts []string
	if r.Instructions != "" {
		parts = append(parts, r.Instructions)
	}
	for _, c := range r.Contents {
		if c.Role == core.RoleSystem {
			if t := c.Text(); t != "" {
				parts = append(parts, t)
			}
		}
	}
	return strings.Join(parts, "\n\n")
}

// TokenUsage holds token counts of a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a partial or final chunk. The final response carries the
// complete text and every tool call of the turn.
type Response struct {
	ID           string       `json:"id"`
	Partial      bool         `json:"partial"`
	Content      core.Content `json:"content"`
	FinishReason string       `json:"finish_reason"`
	Usage        *TokenUsage  `json:"usage,omitempty"`
}

// Info describes a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"`
	SupportsTools bool   `json:"supports_tools"`
}

// Model drives generation. Implementations close both channels when done and
// send at most one error.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)
	Info() Info
}

// Collect drains a Generate call and returns the final response.
func Collect(ctx context.Context, m Model, req Request) (Response, error) {
	respCh, errCh := m.Generate(ctx, req)

	var final Response
	var got bool
	for respCh != nil || errCh != nil {
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case r, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if !r.Partial {
				final, got = r, true
			}
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return Response{}, err
			}
		}
	}

	if !got {
		return Response{}, ErrNoResponse
	}

	return final, nil
}
