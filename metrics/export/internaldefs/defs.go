package internaldefs

import (
	goBankID "github.com/MrEthical07/goBankID"
)

// CounterDef names one client counter for export.
type CounterDef struct {
	ID   goBankID.MetricID
	Name string
	Help string
}

// HistogramDef names one client histogram for export. Every histogram shares
// the LatencyFamily metric name and is told apart by its Call label.
type HistogramDef struct {
	ID   goBankID.MetricID
	Call string
}

// CounterDefs lists every exported counter in render order.
var CounterDefs = []CounterDef{
	{ID: goBankID.MetricAuthStarted, Name: "bankid_auth_started_total", Help: "Authentication orders accepted by the authority."},
	{ID: goBankID.MetricSignStarted, Name: "bankid_sign_started_total", Help: "Signing orders accepted by the authority."},
	{ID: goBankID.MetricValidationRejected, Name: "bankid_validation_rejected_total", Help: "Calls rejected before any network access."},
	{ID: goBankID.MetricProtocolError, Name: "bankid_protocol_error_total", Help: "Structured error responses from the authority."},
	{ID: goBankID.MetricTransportError, Name: "bankid_transport_error_total", Help: "Requests that produced no usable response."},
	{ID: goBankID.MetricCollectPending, Name: "bankid_collect_pending_total", Help: "Collect results with status pending."},
	{ID: goBankID.MetricOrderComplete, Name: "bankid_order_complete_total", Help: "Awaited orders that completed."},
	{ID: goBankID.MetricOrderFailed, Name: "bankid_order_failed_total", Help: "Awaited orders that failed."},
	{ID: goBankID.MetricPollStarted, Name: "bankid_poll_started_total", Help: "Order polling loops started."},
	{ID: goBankID.MetricPollAborted, Name: "bankid_poll_aborted_total", Help: "Order polling loops ended by a collect error."},
	{ID: goBankID.MetricPollStopped, Name: "bankid_poll_stopped_total", Help: "Order polling loops stopped by the caller."},
	{ID: goBankID.MetricCancelSuccess, Name: "bankid_cancel_success_total", Help: "Orders cancelled at the authority."},
	{ID: goBankID.MetricCancelRepeated, Name: "bankid_cancel_repeated_total", Help: "Cancel calls for an order already cancelled."},
	{ID: goBankID.MetricQRSeedStored, Name: "bankid_qr_seed_stored_total", Help: "QR seeds written to the cache."},
	{ID: goBankID.MetricQRSeedFailure, Name: "bankid_qr_seed_failure_total", Help: "QR seed cache writes that failed."},
	{ID: goBankID.MetricQRCodeIssued, Name: "bankid_qr_code_issued_total", Help: "QR codes generated."},
}

// LatencyFamily is the exported name of the authority round-trip histograms.
const (
	LatencyFamily = "bankid_request_duration_seconds"
	LatencyHelp   = "Authority round-trip latency. call=order covers auth, sign and cancel; call=collect covers polling."
	CallLabel     = "call"
)

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: goBankID.MetricRequestLatency, Call: "order"},
	{ID: goBankID.MetricCollectLatency, Call: "collect"},
}

// HistogramBounds are the bucket upper bounds in seconds, matching the
// client's millisecond buckets. Collect usually lands in the first three and
// auth or sign in the middle ones.
var HistogramBounds = []string{
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"1",
	"2.5",
	"+Inf",
}

// NormalizeBuckets copies raw into a fixed array, zero-filling missing buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
