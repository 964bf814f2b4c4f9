/*
Package metrics provides Prometheus instrumentation for the content storage
engine.

The engine never exposes an HTTP endpoint itself (that is a front-end
concern), but it exports package-level prometheus.Collector values and a
Handler for a front-end to mount, plus a lightweight HealthChecker for
internal component status (store open, asset root writable).

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Metric Types                   │          │
	│  │  Gauge: page/asset/lock counts by state     │          │
	│  │  Counter: op totals by kind and outcome     │          │
	│  │  Histogram: page write transaction latency  │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │        pkg/storage.Collector                │          │
	│  │  - Polls Manager.ListPages/Assets/...       │          │
	│  │  - Updates gauges on a ticker               │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

The periodic gauge collector lives in pkg/storage, not here, because it
needs to read *storage.Manager state; keeping it there avoids a storage↔
metrics import cycle while this package stays a pure leaf.

# Usage

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	timer := metrics.NewTimer()
	err := mgr.PutPage(...)
	metrics.PageWriteDuration.WithLabelValues("put_page").Observe(timer.Duration().Seconds())
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.PageWritesTotal.WithLabelValues("put_page", result).Inc()
*/
package metrics
