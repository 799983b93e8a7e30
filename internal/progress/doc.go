// Package progress reports request milestones (start, per-site completion,
// finish) through a non-blocking hub that batches events on a background
// goroutine and hands them to pluggable sinks.
package progress
