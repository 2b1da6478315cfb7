package testutil

import (
	"github.com/hupe1980/auditmesh/core"
)

// EventBuilder constructs session events for history and executor tests:
//
//	ev := NewEventBuilder("critic").Invocation("run-1").AssistantText("verified").Build()
type EventBuilder struct {
	author    string
	runID     string
	role      string
	parts     []core.Part
	partial   bool
	errorCode string
}

// NewEventBuilder creates a builder for events authored by author.
func NewEventBuilder(author string) *EventBuilder { return &EventBuilder{author: author} }

func (b *EventBuilder) Invocation(runID string) *EventBuilder { b.runID = runID; return b }
func (b *EventBuilder) Partial() *EventBuilder { b.partial = true; return b }

// UserText appends a text part authored by the user.
func (b *EventBuilder) UserText(t string) *EventBuilder {
	b.role = core.RoleUser
	b.parts = append(b.parts, core.TextPart{Text: t})
	return b
}

// AssistantText appends a text part of a model answer.
func (b *EventBuilder) AssistantText(t string) *EventBuilder {
	b.role = core.RoleAssistant
	b.parts = append(b.parts, core.TextPart{Text: t})
	return b
}

// FunctionCall appends a tool call with raw JSON arguments.
func (b *EventBuilder) FunctionCall(id, name, args string) *EventBuilder {
	b.role = core.RoleAssistant
	b.parts = append(b.parts, core.FunctionCallPart{
		FunctionCall: core.FunctionCall{ID: id, Name: name, Arguments: args},
	})
	return b
}

// FunctionResponse appends the result of call id and marks the event as a
// tool message.
func (b *EventBuilder) FunctionResponse(id, name string, result any) *EventBuilder {
	b.role = core.RoleTool
	b.parts = append(b.parts, core.FunctionResponsePart{
		FunctionResponse: core.FunctionResponse{ID: id, Name: name, Response: result},
	})
	return b
}

// ErrorCode sets only the code, leaving the message empty.
func (b *EventBuilder) ErrorCode(code string) *EventBuilder { b.errorCode = code; return b }

// Build returns the event.
func (b *EventBuilder) Build() core.Event {
	ev := core.NewEvent(b.runID, b.author)

	if len(b.parts) > 0 {
		ev.Content = &core.Content{Role: b.role, Parts: b.parts}
	}

	if b.partial {
		ev.Partial = core.Ptr(true)
	}

	if b.errorCode != "" {
		ev.ErrorCode = core.Ptr(b.errorCode)
	}

	return ev
}
