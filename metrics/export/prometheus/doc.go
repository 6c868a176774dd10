// Package prometheus renders goBankID client metrics in Prometheus text
// exposition format.
//
// [NewPrometheusExporter] wraps a [goBankID.Client] and serves every counter
// (bankid_*_total) plus the bankid_request_duration_seconds histogram, split by
// a call label into order and collect round trips, through
// [PrometheusExporter.Handler]. Nothing is registered globally; callers mount
// the handler themselves.
package prometheus
