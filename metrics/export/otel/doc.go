// Package otel publishes goBankID client metrics through an OpenTelemetry
// Meter.
//
// [NewOTelExporter] registers one Int64ObservableCounter per client counter and
// bucket, count and sum gauges for the latency histograms, labelled by call. A single callback reads
// [goBankID.Client.MetricsSnapshot] on each collection. The caller owns the
// MeterProvider.
package otel
