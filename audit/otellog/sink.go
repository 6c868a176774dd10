// Package otellog forwards goBankID audit events to OpenTelemetry as log
// records.
package otellog

import (
	"context"
	"time"

	goBankID "github.com/MrEthical07/goBankID"
	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// ScopeName is the instrumentation scope of the records.
const ScopeName = "github.com/MrEthical07/goBankID"

// Emitter is the subset of otellog.Logger the sink needs.
type Emitter interface {
	Emit(ctx context.Context, record otellog.Record)
}

// Sink is a goBankID.AuditSink writing one log record per event.
type Sink struct {
	logger Emitter
}

// NewSink returns a sink logging through provider. A nil provider yields a
// sink that drops everything.
func NewSink(provider *sdklog.LoggerProvider) goBankID.AuditSink {
	if provider == nil {
		return goBankID.NoOpSink{}
	}
	return &Sink{logger: provider.Logger(ScopeName)}
}

func NewSinkWithLogger(logger Emitter) *Sink {
	return &Sink{logger: logger}
}

func (s *Sink) Emit(ctx context.Context, event goBankID.AuditEvent) {
	if s == nil || s.logger == nil {
		return
	}

	rec := otellog.Record{}
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	rec.SetTimestamp(ts)
	rec.SetObservedTimestamp(time.Now().UTC())
	rec.SetEventName("bankid." + event.EventType)
	rec.SetBody(otellog.StringValue(event.EventType))

	if event.Success {
		rec.SetSeverity(otellog.SeverityInfo)
		rec.SetSeverityText("INFO")
	} else {
		rec.SetSeverity(otellog.SeverityWarn)
		rec.SetSeverityText("WARN")
	}

	rec.AddAttributes(
		otellog.String("event_type", event.EventType),
		otellog.Bool("success", event.Success),
	)
	if event.Method != "" {
		rec.AddAttributes(otellog.String("method", string(event.Method)))
	}
	if event.OrderRef != "" {
		rec.AddAttributes(otellog.String("order_ref", event.OrderRef))
	}
	if event.EndUserIP != "" {
		rec.AddAttributes(otellog.String("end_user_ip", event.EndUserIP))
	}
	if event.HintCode != "" {
		rec.AddAttributes(otellog.String("hint_code", string(event.HintCode)))
	}
	if event.Error != "" {
		rec.AddAttributes(otellog.String("error", event.Error))
	}
	for k, v := range event.Metadata {
		rec.AddAttributes(otellog.String("meta."+k, v))
	}

	s.logger.Emit(ctx, rec)
}
