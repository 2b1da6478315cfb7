// Package agent provides the building blocks for agent trees: ModelAgent
// drives a language model through the flow package, SequentialAgent and
// ParallelAgent compose children.
//
// Agents report results by emitting core.Event values through the
// core.RunContext they receive. State written by one child is visible to
// the next child of a sequential agent, which is how the auditor hands the
// critic's verdict to the reviser.
package agent
