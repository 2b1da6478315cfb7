package core

import "errors"

var (
	// ErrStoreNotConfigured is returned when a RunContext helper needs a
	// store that was not supplied.
	ErrStoreNotConfigured = errors.New("store not configured")

	// ErrModelLimit is returned once a run exhausted its model call budget.
	ErrModelLimit = errors.New("model call limit exceeded")
)

// Error codes attached to error events.
const (
	ErrorCodeAgent = "AGENT_ERROR"
	ErrorCodeModel = "MODEL_ERROR"
	ErrorCodeTool  = "TOOL_ERROR"
	ErrorCodeA2A   = "A2A_ERROR"
)
