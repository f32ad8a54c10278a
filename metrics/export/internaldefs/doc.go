// Package internaldefs holds the shared metric name table used by the
// exporter packages. It maps engine MetricIDs to stable exported names so
// the Prometheus and OpenTelemetry exporters cannot drift apart.
//
// The package is internal to metrics/export; applications consume metrics
// through one of the exporter packages, never through these tables.
package internaldefs
