// Package tool lets model agents call structured capabilities: plain Go
// functions (FunctionTool) and tools served by MCP servers (MCPToolset).
package tool

import (
	"context"
	"fmt"

	"github.com/hupe1980/auditmesh/core"
	"github.com/hupe1980/auditmesh/internal/util"
)

// Error codes carried by ToolError.
const (
	CodeValidation = "VALIDATION_ERROR"
	CodeExecution  = "EXECUTION_ERROR"
	CodeRemote     = "REMOTE_ERROR"
)

// Tool is a callable capability exposed to a model.
//
// Parameters returns a JSON schema. Call receives arguments decoded from the
// model's JSON and must be safe for concurrent use.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Call(toolCtx *core.ToolContext, args map[string]any) (any, error)
}

// Toolset produces tools lazily, e.g. after connecting to a server.
type Toolset interface {
	Name() string
	Tools(ctx context.Context) ([]Tool, error)
	Close() error
}

// ValidationError describes an argument that failed schema validation.
type ValidationError = util.ValidationError

// ToolError is returned by tools for categorized failures.
type ToolError struct {
	Tool    string `json:"tool"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a ToolError.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{Tool: tool, Message: message, Code: code}
}
