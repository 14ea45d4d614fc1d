/*
Package metrics exposes the proxy's Prometheus metrics.

A Collector owns its own registry, so several proxies can run in one process
(as the tests do) without clashing on the global default registry. It
records three groups of series:

	activestorage_http_*            request count, latency and inflight gauge
	activestorage_reductions_total  reductions by operation, dtype and outcome
	activestorage_upstream_*        byte range requests and bytes read upstream

Usage:

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled: true,
		Path:    "/metrics",
	})
	if err != nil {
		return err
	}
	router.Use(collector.Middleware)
	router.Handle(collector.Path(), collector.Handler())

Collector satisfies both fetch.Recorder and pipeline.Recorder. A nil
*Collector is a valid no-op recorder, which is what NewCollector returns
when metrics are disabled.
*/
package metrics
