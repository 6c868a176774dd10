package otel

import (
	"context"
	"errors"
	"fmt"

	goBankID "github.com/MrEthical07/goBankID"
	"github.com/MrEthical07/goBankID/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() goBankID.MetricsSnapshot
	AuditDropped() uint64
}

type observedCounter struct {
	id         goBankID.MetricID
	instrument metric.Int64ObservableCounter
}

// latencySeries is one call label of the latency family with its
// precomputed attribute sets.
type latencySeries struct {
	id      goBankID.MetricID
	call    metric.MeasurementOption
	buckets []metric.MeasurementOption
}

// OTelExporter keeps the instruments and callback registration alive until Close.
//
// OTel has no asynchronous histogram, so each latency histogram is observed
// as cumulative bucket gauges labelled call and le, plus count and sum gauges
// labelled call.
type OTelExporter struct {
	source       metricsSource
	registration metric.Registration
	counters     []observedCounter
	series       []latencySeries
	bucket       metric.Int64ObservableGauge
	count        metric.Int64ObservableGauge
	sum          metric.Float64ObservableGauge
	auditDropped metric.Int64ObservableCounter
}

// NewOTelExporter registers the client's metrics on meter.
func NewOTelExporter(meter metric.Meter, client *goBankID.Client) (*OTelExporter, error) {
	if client == nil {
		return nil, ErrNilSource
	}
	return NewOTelExporterFromSource(meter, client)
}

func NewOTelExporterFromSource(meter metric.Meter, source metricsSource) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &OTelExporter{source: source}
	observables := make([]metric.Observable, 0, len(internaldefs.CounterDefs)+4)

	for _, def := range internaldefs.CounterDefs {
		ins, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("create observable counter %s: %w", def.Name, err)
		}
		e.counters = append(e.counters, observedCounter{id: def.ID, instrument: ins})
		observables = append(observables, ins)
	}

	var err error
	family := internaldefs.LatencyFamily
	if e.bucket, err = meter.Int64ObservableGauge(family+"_bucket", metric.WithDescription(internaldefs.LatencyHelp)); err != nil {
		return nil, fmt.Errorf("create latency bucket gauge: %w", err)
	}
	if e.count, err = meter.Int64ObservableGauge(family+"_count", metric.WithDescription("Authority round trips observed.")); err != nil {
		return nil, fmt.Errorf("create latency count gauge: %w", err)
	}
	if e.sum, err = meter.Float64ObservableGauge(family+"_sum", metric.WithDescription("Total authority round-trip time."), metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("create latency sum gauge: %w", err)
	}
	observables = append(observables, e.bucket, e.count, e.sum)

	for _, def := range internaldefs.HistogramDefs {
		call := attribute.String(internaldefs.CallLabel, def.Call)
		s := latencySeries{
			id:   def.ID,
			call: metric.WithAttributes(call),
		}
		for _, le := range internaldefs.HistogramBounds {
			s.buckets = append(s.buckets, metric.WithAttributes(call, attribute.String("le", le)))
		}
		e.series = append(e.series, s)
	}

	if e.auditDropped, err = meter.Int64ObservableCounter(
		"bankid_audit_dropped_total",
		metric.WithDescription("Audit events the dispatcher dropped, including events left unflushed at Close."),
	); err != nil {
		return nil, fmt.Errorf("create audit dropped counter: %w", err)
	}
	observables = append(observables, e.auditDropped)

	registration, err := meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	e.registration = registration
	return e, nil
}

func (e *OTelExporter) observe(_ context.Context, observer metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()
	for _, c := range e.counters {
		observer.ObserveInt64(c.instrument, int64(snapshot.Counters[c.id]))
	}

	for _, s := range e.series {
		raw, ok := snapshot.Histograms[s.id]
		if !ok {
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		for i, opt := range s.buckets {
			observer.ObserveInt64(e.bucket, int64(cumulative[i]), opt)
		}
		observer.ObserveInt64(e.count, int64(cumulative[len(cumulative)-1]), s.call)
		observer.ObserveFloat64(e.sum, snapshot.LatencySums[s.id].Seconds(), s.call)
	}

	observer.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))
	return nil
}

// Close unregisters the collection callback.
func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
