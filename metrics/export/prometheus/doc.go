// Package prometheus exposes engine metrics in the Prometheus text
// exposition format without importing the Prometheus client library.
//
// Mount the handler on a scrape endpoint:
//
//	exp := prometheus.NewPrometheusExporter(engine)
//	mux.Handle("/metrics", exp.Handler())
//
// Rendering reads one snapshot per scrape; nothing is cached between
// scrapes and nothing runs in the background.
package prometheus
