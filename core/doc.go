// Package core holds the domain types shared by every auditmesh package:
// agents, events, content parts, sessions and the per-run execution context.
//
// Persistence and concrete agents live elsewhere. core only defines the small
// interfaces (SessionStore, ArtifactStore, Agent) they plug into.
package core
