// Package a2a connects agents to the agent-to-agent protocol.
//
// ProxyAgent delegates a run to a remote peer. Executor and Server expose
// a local agent to remote callers over JSON-RPC.
package a2a
