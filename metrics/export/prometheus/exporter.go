package prometheus

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rankwatch/authcore"
	"github.com/rankwatch/authcore/metrics/export/internaldefs"
)

// metricsSource is the engine surface the exporter reads. *authcore.Engine
// satisfies it.
type metricsSource interface {
	MetricsSnapshot() authcore.MetricsSnapshot
	AuditDropped() uint64
	CounterFallbacks() uint64
}

// PrometheusExporter renders engine metrics in the Prometheus text
// exposition format. It holds no state of its own; every render reads a
// fresh snapshot.
type PrometheusExporter struct {
	source metricsSource
}

// NewPrometheusExporter creates an exporter that reads from the given
// engine.
func NewPrometheusExporter(engine *authcore.Engine) *PrometheusExporter {
	return &PrometheusExporter{source: engine}
}

// NewPrometheusExporterFromSource creates an exporter over a custom source,
// useful for aggregating several engines behind one endpoint.
func NewPrometheusExporterFromSource(source metricsSource) *PrometheusExporter {
	return &PrometheusExporter{source: source}
}

// Handler returns an http.Handler that streams the rendered metrics.
func (p *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = p.WriteTo(w)
	})
}

// Render returns the current metrics as a string. An engine with metrics
// disabled renders as the empty string.
func (p *PrometheusExporter) Render() string {
	var b strings.Builder
	b.Grow(8192)
	_, _ = p.WriteTo(&b)
	return b.String()
}

// WriteTo streams the current metrics in text exposition format without
// buffering the whole payload, satisfying [io.WriterTo].
func (p *PrometheusExporter) WriteTo(w io.Writer) (int64, error) {
	if p == nil || p.source == nil {
		return 0, nil
	}

	snapshot := p.source.MetricsSnapshot()
	dropped := p.source.AuditDropped()
	fallbacks := p.source.CounterFallbacks()
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && dropped == 0 && fallbacks == 0 {
		return 0, nil
	}

	e := &emitter{w: w}
	for _, def := range internaldefs.CounterDefs {
		e.counter(def.Name, def.Help, snapshot.Counters[def.ID])
	}
	for _, def := range internaldefs.HistogramDefs {
		buckets := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snapshot.Histograms[def.ID]))
		e.histogram(def.Name, def.Help, buckets)
	}
	e.counter(internaldefs.AuditDroppedName, internaldefs.AuditDroppedHelp, dropped)
	e.counter(internaldefs.CounterFallbackName, internaldefs.CounterFallbackHelp, fallbacks)
	return e.n, e.err
}

// emitter accumulates bytes written and the first write error so the render
// loops stay flat.
type emitter struct {
	w   io.Writer
	n   int64
	err error
}

func (e *emitter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	n, err := fmt.Fprintf(e.w, format, args...)
	e.n += int64(n)
	e.err = err
}

func (e *emitter) counter(name, help string, value uint64) {
	e.printf("# HELP %s %s\n# TYPE %s counter\n%s %d\n", name, helpEscaper.Replace(help), name, name, value)
}

func (e *emitter) histogram(name, help string, cumulative [8]uint64) {
	e.printf("# HELP %s %s\n# TYPE %s histogram\n", name, helpEscaper.Replace(help), name)
	for i, le := range internaldefs.HistogramBounds {
		e.printf("%s_bucket{le=%q} %d\n", name, le, cumulative[i])
	}
	// The engine tracks bucket counts only; the sum stays a stable zero.
	e.printf("%s_count %d\n%s_sum 0\n", name, cumulative[len(cumulative)-1], name)
}

var helpEscaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`)
