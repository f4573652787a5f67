// Package otel publishes controller metrics through an OpenTelemetry meter.
//
// Counters become Int64ObservableCounters. Resolve latency is one bucket gauge
// with an "le" attribute plus a count gauge, and audit drops are split by
// "event_type". A single callback reads the snapshot on each collection.
// Callers own the MeterProvider.
package otel
