// Package progress provides the event primitives, non-blocking hub, and emitter
// interfaces that the engine uses to report action progress. It batches events
// on a background goroutine and fans them out to pluggable sinks such as
// Prometheus metrics, structured logs, or the recent-actions store.
package progress
