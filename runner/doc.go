// Package runner drives one agent against a session store.
//
// A run appends the user content to the session, executes the agent in a
// goroutine and processes every emitted event: state deltas are applied to
// the store, non-partial events are appended to the history and all events
// are forwarded to the caller. Runs are traced with OpenTelemetry and
// counted in Prometheus metrics.
package runner
