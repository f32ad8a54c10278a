package otel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/metric"

	"github.com/rankwatch/authcore"
	"github.com/rankwatch/authcore/metrics/export/internaldefs"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// metricsSource is the engine surface the exporter observes. *authcore.Engine
// satisfies it.
type metricsSource interface {
	MetricsSnapshot() authcore.MetricsSnapshot
	AuditDropped() uint64
	CounterFallbacks() uint64
}

type observedCounter struct {
	id         authcore.MetricID
	instrument metric.Int64ObservableCounter
}

// observedHistogram flattens one engine histogram into per-bucket gauges.
// The metric SDK owns bucketing for its own histogram instruments, so
// pre-bucketed counts are exported as cumulative gauges instead.
type observedHistogram struct {
	id      authcore.MetricID
	buckets [8]metric.Int64ObservableGauge
	count   metric.Int64ObservableGauge
}

// OTelExporter bridges engine metrics into an OpenTelemetry meter via
// observable instruments. Collection is pull-based: the SDK invokes one
// callback per reader cycle and the exporter reads a fresh snapshot.
type OTelExporter struct {
	source           metricsSource
	registration     metric.Registration
	counters         []observedCounter
	histograms       []observedHistogram
	auditDropped     metric.Int64ObservableCounter
	counterFallbacks metric.Int64ObservableCounter
}

// NewOTelExporter registers engine metrics on the meter.
func NewOTelExporter(meter metric.Meter, engine *authcore.Engine) (*OTelExporter, error) {
	return NewOTelExporterFromSource(meter, engine)
}

// NewOTelExporterFromSource registers metrics from a custom source.
func NewOTelExporterFromSource(meter metric.Meter, source metricsSource) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	set := &instrumentSet{meter: meter}
	exporter := &OTelExporter{source: source}

	for _, def := range internaldefs.CounterDefs {
		exporter.counters = append(exporter.counters, observedCounter{
			id:         def.ID,
			instrument: set.counter(def.Name, def.Help),
		})
	}

	for _, def := range internaldefs.HistogramDefs {
		h := observedHistogram{id: def.ID}
		for i, suffix := range internaldefs.HistogramBoundSuffix {
			h.buckets[i] = set.gauge(def.Name+"_bucket_le_"+suffix, "Cumulative histogram bucket count.")
		}
		h.count = set.gauge(def.Name+"_count", "Histogram total sample count.")
		exporter.histograms = append(exporter.histograms, h)
	}

	exporter.auditDropped = set.counter(internaldefs.AuditDroppedName, internaldefs.AuditDroppedHelp)
	exporter.counterFallbacks = set.counter(internaldefs.CounterFallbackName, internaldefs.CounterFallbackHelp)
	if set.err != nil {
		return nil, set.err
	}

	registration, err := meter.RegisterCallback(exporter.observe, set.observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	exporter.registration = registration

	return exporter, nil
}

// observe feeds one collection cycle from a fresh snapshot.
func (e *OTelExporter) observe(_ context.Context, observer metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()

	for _, c := range e.counters {
		observer.ObserveInt64(c.instrument, int64(snapshot.Counters[c.id]))
	}
	for _, h := range e.histograms {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snapshot.Histograms[h.id]))
		for i, v := range cumulative {
			observer.ObserveInt64(h.buckets[i], int64(v))
		}
		observer.ObserveInt64(h.count, int64(cumulative[len(cumulative)-1]))
	}
	observer.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))
	observer.ObserveInt64(e.counterFallbacks, int64(e.source.CounterFallbacks()))

	return nil
}

// Close detaches the exporter from the meter. Safe on a nil receiver.
func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}

// instrumentSet creates instruments and accumulates them for callback
// registration, holding the first creation error so call sites stay flat.
type instrumentSet struct {
	meter       metric.Meter
	observables []metric.Observable
	err         error
}

func (s *instrumentSet) counter(name, help string) metric.Int64ObservableCounter {
	if s.err != nil {
		return nil
	}
	ins, err := s.meter.Int64ObservableCounter(name, metric.WithDescription(help))
	if err != nil {
		s.err = fmt.Errorf("create observable counter %s: %w", name, err)
		return nil
	}
	s.observables = append(s.observables, ins)
	return ins
}

func (s *instrumentSet) gauge(name, help string) metric.Int64ObservableGauge {
	if s.err != nil {
		return nil
	}
	ins, err := s.meter.Int64ObservableGauge(name, metric.WithDescription(help))
	if err != nil {
		s.err = fmt.Errorf("create observable gauge %s: %w", name, err)
		return nil
	}
	s.observables = append(s.observables, ins)
	return ins
}
