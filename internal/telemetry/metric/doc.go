// Package metric provides Prometheus metrics for snapfn.
//
// This package implements metrics collection and exposition:
//
//   - prometheus.go: registry, instruments and the HTTP handler
//   - collector.go: a collector that reads execution environment stats
//
// Metrics include invocation counts and latency by route and outcome,
// durable store operations and retries, boot duration by path
// (cold or restore) and the lifecycle state of the environment.
//
// Metrics are exposed at /metrics in Prometheus format.
package metric
