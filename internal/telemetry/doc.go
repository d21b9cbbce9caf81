// Package telemetry wraps OpenTelemetry SDK initialization, providing a
// centrally configured TracerProvider for the memory service. When telemetry
// is disabled the globals stay noop and no external connection is made.
package telemetry
