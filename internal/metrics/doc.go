// Package metrics collects Prometheus metrics for the memory substrate:
// packet writes and searches, cache hits and misses, backend latencies,
// secondary-projection failures, feedback processing outcomes, optimistic
// conflict retries, maintenance job runs, and database pool gauges. All
// vectors are registered through promauto under a configurable namespace.
package metrics
