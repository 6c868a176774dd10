package goBankID

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one counter (or the latency histogram) in a Metrics set.
type MetricID uint16

const (
	// MetricAuthStarted counts authentication orders accepted by the authority.
	MetricAuthStarted MetricID = iota
	// MetricSignStarted counts signing orders accepted by the authority.
	MetricSignStarted
	// MetricValidationRejected counts calls rejected before any network access.
	MetricValidationRejected
	// MetricProtocolError counts structured rejections returned by the authority.
	MetricProtocolError
	// MetricTransportError counts requests that received no usable response.
	MetricTransportError
	// MetricCollectPending counts collect results with status pending.
	MetricCollectPending
	// MetricOrderComplete counts awaited orders that reached complete.
	MetricOrderComplete
	// MetricOrderFailed counts awaited orders that reached failed.
	MetricOrderFailed
	// MetricPollStarted counts lifecycle controllers started.
	MetricPollStarted
	// MetricPollAborted counts lifecycle controllers ended by a collect error.
	MetricPollAborted
	// MetricPollStopped counts lifecycle controllers stopped locally by the caller.
	MetricPollStopped
	// MetricCancelSuccess counts remote cancellations.
	MetricCancelSuccess
	// MetricCancelRepeated counts cancel calls short-circuited for an already cancelled order.
	MetricCancelRepeated
	// MetricQRSeedStored counts QR seeds written to the cache.
	MetricQRSeedStored
	// MetricQRSeedFailure counts QR seed cache writes that failed.
	MetricQRSeedFailure
	// MetricQRCodeIssued counts QR codes yielded by generators.
	MetricQRCodeIssued
	// MetricRequestLatency is the latency histogram of auth, sign and cancel round trips.
	MetricRequestLatency
	// MetricCollectLatency is the latency histogram of collect round trips,
	// kept apart because polling issues them continuously.
	MetricCollectLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
	sumNs   uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is a fixed set of lock-free counters plus one latency histogram.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of a Metrics set. LatencySums holds
// the total observed duration per histogram.
type MetricsSnapshot struct {
	Counters    map[MetricID]uint64
	Histograms  map[MetricID][]uint64
	LatencySums map[MetricID]time.Duration
}

// NewMetrics returns a Metrics set configured by cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether counters are recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// LatencyEnabled reports whether the latency histogram is recorded.
func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to counter id.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// HistogramIDs lists the metrics that carry a latency histogram.
var HistogramIDs = []MetricID{MetricRequestLatency, MetricCollectLatency}

func isHistogram(id MetricID) bool {
	return id == MetricRequestLatency || id == MetricCollectLatency
}

// Observe records d in the histogram of id. Counters ignore it.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || !isHistogram(id) {
		return
	}
	if d < 0 {
		d = 0
	}

	h := &m.histograms[id]
	atomic.AddUint64(&h.buckets[bucketIndex(d)], 1)
	atomic.AddUint64(&h.sumNs, uint64(d))
}

// Value returns the current value of counter id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter and, when enabled, the latency histogram.
// A disabled set yields empty maps.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return emptySnapshot()
	}

	s := MetricsSnapshot{
		Counters:    make(map[MetricID]uint64, int(metricIDCount)),
		Histograms:  make(map[MetricID][]uint64, len(HistogramIDs)),
		LatencySums: make(map[MetricID]time.Duration, len(HistogramIDs)),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if isHistogram(id) {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		for _, id := range HistogramIDs {
			h := &m.histograms[id]
			buckets := make([]uint64, histBucketCount)
			for i := range buckets {
				buckets[i] = atomic.LoadUint64(&h.buckets[i])
			}
			s.Histograms[id] = buckets
			s.LatencySums[id] = time.Duration(atomic.LoadUint64(&h.sumNs))
		}
	}

	return s
}

func emptySnapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Counters:    map[MetricID]uint64{},
		Histograms:  map[MetricID][]uint64{},
		LatencySums: map[MetricID]time.Duration{},
	}
}

// Round trips to the authority are slower than in-process work, so buckets
// span 25ms to 2.5s.
func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 25:
		return 0
	case ms <= 50:
		return 1
	case ms <= 100:
		return 2
	case ms <= 250:
		return 3
	case ms <= 500:
		return 4
	case ms <= 1000:
		return 5
	case ms <= 2500:
		return 6
	default:
		return 7
	}
}
