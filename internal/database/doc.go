// Package database manages the PostgreSQL connection pool behind the memory
// store. It configures the sql.DB pool from config.DatabaseConfig, runs a
// background health check that reports connection gauges to the metrics
// collector, and provides transaction helpers with retry on transient
// failures such as deadlocks and serialization conflicts.
package database
