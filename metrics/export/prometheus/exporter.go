package prometheus

import (
	"net/http"
	"strconv"
	"strings"

	goBankID "github.com/MrEthical07/goBankID"
	"github.com/MrEthical07/goBankID/metrics/export/internaldefs"
)

type metricsSource interface {
	MetricsSnapshot() goBankID.MetricsSnapshot
	AuditDropped() uint64
}

// PrometheusExporter renders client metrics in Prometheus text exposition format.
type PrometheusExporter struct {
	source metricsSource
}

// NewPrometheusExporter returns an exporter reading from client.
func NewPrometheusExporter(client *goBankID.Client) *PrometheusExporter {
	return &PrometheusExporter{source: client}
}

// NewPrometheusExporterFromSource returns an exporter reading from any value
// that exposes a metrics snapshot and an audit drop count.
func NewPrometheusExporterFromSource(source metricsSource) *PrometheusExporter {
	return &PrometheusExporter{source: source}
}

// Handler serves Render.
func (p *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(p.Render()))
	})
}

// Render returns the current metrics, or "" when metrics are disabled and no
// audit event was dropped.
func (p *PrometheusExporter) Render() string {
	if p == nil || p.source == nil {
		return ""
	}

	snapshot := p.source.MetricsSnapshot()
	dropped := p.source.AuditDropped()
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && dropped == 0 {
		return ""
	}

	var b strings.Builder
	b.Grow(4096)

	for _, def := range internaldefs.CounterDefs {
		writeCounter(&b, def.Name, def.Help, snapshot.Counters[def.ID])
	}

	writeLatency(&b, snapshot)

	writeCounter(&b, "bankid_audit_dropped_total", "Audit events the dispatcher dropped, including events left unflushed at Close.", dropped)

	return b.String()
}

func writeCounter(b *strings.Builder, name, help string, value uint64) {
	b.WriteString("# HELP ")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(escapeHelp(help))
	b.WriteByte('\n')
	b.WriteString("# TYPE ")
	b.WriteString(name)
	b.WriteString(" counter\n")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(strconv.FormatUint(value, 10))
	b.WriteByte('\n')
}

// writeLatency renders every latency histogram present in snapshot as one
// family labelled by call.
func writeLatency(b *strings.Builder, snapshot goBankID.MetricsSnapshot) {
	name := internaldefs.LatencyFamily
	header := false

	for _, def := range internaldefs.HistogramDefs {
		raw, ok := snapshot.Histograms[def.ID]
		if !ok {
			continue
		}
		if !header {
			b.WriteString("# HELP " + name + " " + escapeHelp(internaldefs.LatencyHelp) + "\n")
			b.WriteString("# TYPE " + name + " histogram\n")
			header = true
		}

		call := internaldefs.CallLabel + "=\"" + def.Call + "\""
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		for i, le := range internaldefs.HistogramBounds {
			b.WriteString(name + "_bucket{" + call + ",le=\"" + le + "\"} ")
			b.WriteString(strconv.FormatUint(cumulative[i], 10))
			b.WriteByte('\n')
		}
		b.WriteString(name + "_sum{" + call + "} ")
		b.WriteString(strconv.FormatFloat(snapshot.LatencySums[def.ID].Seconds(), 'g', -1, 64))
		b.WriteByte('\n')
		b.WriteString(name + "_count{" + call + "} ")
		b.WriteString(strconv.FormatUint(cumulative[len(cumulative)-1], 10))
		b.WriteByte('\n')
	}
}

func escapeHelp(help string) string {
	help = strings.ReplaceAll(help, "\\", "\\\\")
	help = strings.ReplaceAll(help, "\n", "\\n")
	return help
}
