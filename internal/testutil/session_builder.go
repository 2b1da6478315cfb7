package testutil

import (
	"github.com/hupe1980/auditmesh/core"
)

// SessionBuilder constructs sessions with pre-populated state and history:
//
//	sess := NewSessionBuilder("sess-1").State("critic_result", "ok").Events(ev).Build()
type SessionBuilder struct {
	id     string
	state  map[string]any
	events []core.Event
}

// NewSessionBuilder creates a builder for session id.
func NewSessionBuilder(id string) *SessionBuilder {
	return &SessionBuilder{id: id, state: map[string]any{}}
}

func (b *SessionBuilder) State(key string, val any) *SessionBuilder {
	b.state[key] = val
	return b
}

func (b *SessionBuilder) Events(evs ...core.Event) *SessionBuilder {
	b.events = append(b.events, evs...)
	return b
}

// Build returns the session.
func (b *SessionBuilder) Build() *core.Session {
	s := core.NewSession(b.id)
	s.ApplyStateDelta(b.state)

	for _, ev := range b.events {
		s.AddEvent(ev)
	}

	return s
}

// Seed writes the builder's state and events into store.
func (b *SessionBuilder) Seed(store core.SessionStore) error {
	if _, err := store.Create(b.id); err != nil {
		return err
	}

	if len(b.state) > 0 {
		if err := store.ApplyDelta(b.id, b.state); err != nil {
			return err
		}
	}

	for _, ev := range b.events {
		if err := store.AppendEvent(b.id, ev); err != nil {
			return err
		}
	}

	return nil
}
