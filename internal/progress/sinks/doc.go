// Package sinks implements progress consumers: structured logs, Prometheus
// collectors and an in-memory per-site summary served by the API.
package sinks
