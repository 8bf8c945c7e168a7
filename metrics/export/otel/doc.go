// Package otel exposes engine counters as OpenTelemetry observable
// instruments. The caller owns the MeterProvider; one callback reads
// Engine.MetricsSnapshot on every collection.
package otel
