// Package progress carries prefetch session events from the scheduler and the
// coordinator to pluggable sinks. Emitters never block: a single goroutine
// batches events and hands them to Prometheus or log sinks.
package progress
