package core

import (
	"time"

	"github.com/google/uuid"
)

// EventActions are side effects attached to an event. The runner applies
// StateDelta to the session once the event is persisted.
type EventActions struct {
	StateDelta      map[string]any `json:"state_delta,omitempty"`
	ArtifactDelta   map[string]int `json:"artifact_delta,omitempty"`
	TransferToAgent *string        `json:"transfer_to_agent,omitempty"`
	Escalate        *bool          `json:"escalate,omitempty"`
}

// Event is the record agents emit while running. Treat it as immutable once
// emitted. Content is nil for control-only and error-only events.
type Event struct {
	ID             string            `json:"id"`
	InvocationID   string            `json:"invocation_id"`
	Author         string            `json:"author"`
	Actions        EventActions      `json:"actions"`
	Branch         *string           `json:"branch,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
	Content        *Content          `json:"content,omitempty"`
	Partial        *bool             `json:"partial,omitempty"`
	TurnComplete   *bool             `json:"turn_complete,omitempty"`
	ErrorCode      *string           `json:"error_code,omitempty"`
	ErrorMessage   *string           `json:"error_message,omitempty"`
	CustomMetadata map[string]string `json:"custom_metadata,omitempty"`
}

// NewEvent creates a bare event authored by author within an invocation.
func NewEvent(invocationID, author string) Event {
	return Event{
		ID:           NewID(),
		InvocationID: invocationID,
		Author:       author,
		Timestamp:    time.Now().UTC(),
	}
}

// NewMessageEvent creates an assistant text message event.
func NewMessageEvent(invocationID, author, message string) Event {
	e := NewEvent(invocationID, author)
	c := NewTextContent(RoleAssistant, message)
	e.Content = &c
	return e
}

// NewUserMessageEvent creates a user-authored text message event.
func NewUserMessageEvent(invocationID, message string) Event {
	e := NewEvent(invocationID, RoleUser)
	c := NewTextContent(RoleUser, message)
	e.Content = &c
	return e
}

// NewUserContentEvent creates a user-authored event with arbitrary content.
func NewUserContentEvent(invocationID string, content *Content) Event {
	e := NewEvent(invocationID, RoleUser)
	e.Content = content
	return e
}

// NewFunctionCallEvent records a model requesting the given tool calls.
func NewFunctionCallEvent(invocationID, author string, calls ...FunctionCall) Event {
	e := NewEvent(invocationID, author)
	parts := make([]Part, 0, len(calls))
	for _, fc := range calls {
		parts = append(parts, FunctionCallPart{FunctionCall: fc})
	}
	e.Content = &Content{Role: RoleAssistant, Parts: parts}
	return e
}

// NewFunctionResponseEvent records tool results. A non-nil error on a
// response is carried in its Error field.
func NewFunctionResponseEvent(invocationID, author string, responses ...FunctionResponse) Event {
	e := NewEvent(invocationID, author)
	parts := make([]Part, 0, len(responses))
	for _, fr := range responses {
		parts = append(parts, FunctionResponsePart{FunctionResponse: fr})
	}
	e.Content = &Content{Role: RoleTool, Parts: parts}
	return e
}

// NewErrorEvent creates a terminal event describing a failure.
func NewErrorEvent(invocationID, author, code string, err error) Event {
	e := NewEvent(invocationID, author)
	msg := err.Error()
	e.ErrorCode = &code
	e.ErrorMessage = &msg
	return e
}

// NewID returns a new random identifier.
func NewID() string { return uuid.NewString() }

// IsPartial reports whether the event is a streaming fragment.
func (e Event) IsPartial() bool { return e.Partial != nil && *e.Partial }

// IsError reports whether the event carries an error code.
func (e Event) IsError() bool { return e.ErrorCode != nil }

// ErrorText returns the error message, or the code when no message is set.
func (e Event) ErrorText() string {
	switch {
	case e.ErrorMessage != nil && *e.ErrorMessage != "":
		return *e.ErrorMessage
	case e.ErrorCode != nil:
		return *e.ErrorCode
	default:
		return ""
	}
}

// Text returns the concatenated text of the event content.
func (e Event) Text() string {
	if e.Content == nil {
		return ""
	}
	return e.Content.Text()
}

// GetFunctionCalls returns the function call parts in order.
func (e Event) GetFunctionCalls() []FunctionCall {
	if e.Content == nil {
		return nil
	}
	var calls []FunctionCall
	for _, p := range e.Content.Parts {
		if fc, ok := p.(FunctionCallPart); ok {
			calls = append(calls, fc.FunctionCall)
		}
	}
	return calls
}

// GetFunctionResponses returns the function response parts in order.
func (e Event) GetFunctionResponses() []FunctionResponse {
	if e.Content == nil {
		return nil
	}
	var responses []FunctionResponse
	for _, p := range e.Content.Parts {
		if fr, ok := p.(FunctionResponsePart); ok {
			responses = append(responses, fr.FunctionResponse)
		}
	}
	return responses
}

// IsFinalResponse reports whether the event completes an assistant turn:
// not partial and without pending tool traffic.
func (e Event) IsFinalResponse() bool {
	return !e.IsPartial() &&
		len(e.GetFunctionCalls()) == 0 &&
		len(e.GetFunctionResponses()) == 0
}

// WithBranch returns a copy of the event tagged with branch. An empty branch
// leaves the event untouched.
func (e Event) WithBranch(branch string) Event {
	if branch != "" {
		e.Branch = &branch
	}
	return e
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }
