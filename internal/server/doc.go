// Package server manages an HTTP listener's lifecycle: non-blocking start,
// graceful shutdown with a bounded drain, and SIGINT/SIGTERM handling.
// memflowd serves its operational endpoints (metrics, health, readiness)
// through a Manager.
package server
