// Package sinks implements progress consumers for structured logging and
// Prometheus. Each satisfies progress.Sink.
package sinks
