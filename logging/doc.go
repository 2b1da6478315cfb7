// Package logging defines the minimal structured Logger interface used across
// auditmesh, plus slog and zap backed implementations.
//
// Usage:
//
//	logger, err := logging.New(logging.Config{Level: logging.LogLevelInfo, Format: "json"})
//	r := runner.New(agent, runner.WithLogger(logger))
//
// All methods take a message followed by alternating key/value pairs.
package logging
