// Package otel bridges engine metrics into an OpenTelemetry meter.
//
// All instruments are observable: the SDK pulls a snapshot once per reader
// cycle instead of the engine pushing on every increment, so the hot path
// stays free of OpenTelemetry calls. Engine histograms arrive pre-bucketed
// and are exported as cumulative per-bucket gauges plus a count gauge.
//
//	exp, err := otel.NewOTelExporter(meter, engine)
//	defer exp.Close()
package otel
