// Package metrics exposes cairnq's Prometheus metrics over HTTP.
//
// Per-operation counters and latency histograms are registered at package
// init. Gauge-shaped state (visibility index depth, vacant slots,
// suspension flags) is sampled off a running *queue.Queue by a Collector;
// counter and histogram series are updated inline by pkg/api and
// pkg/queue as requests and flushes happen:
//
//	c := metrics.NewCollector(q)
//	c.Start()
//	defer c.Stop()
//
//	http.Handle("/metrics", metrics.Handler())
//
// healthz/readyz are served by pkg/api, not this package — readyz checks
// *queue.Queue directly rather than through a separate registry.
package metrics
