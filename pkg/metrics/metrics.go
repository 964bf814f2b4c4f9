package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PagesTotal counts pages by state: "live", "draft" or "tombstoned".
	PagesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "luwiki_pages_total",
			Help: "Total number of pages by state",
		},
		[]string{"state"},
	)

	// AssetsTotal counts assets by state: "live", "zombie" or "deleted".
	AssetsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "luwiki_assets_total",
			Help: "Total number of assets by state",
		},
		[]string{"state"},
	)

	UsersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "luwiki_users_total",
			Help: "Total number of registered users",
		},
	)

	LocksActiveTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "luwiki_locks_active_total",
			Help: "Number of non-expired page locks",
		},
	)

	// PageWritesTotal counts page-store write operations by kind and
	// outcome, e.g. {"op":"put_page","result":"ok"}.
	PageWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "luwiki_page_writes_total",
			Help: "Total number of page store write operations",
		},
		[]string{"op", "result"},
	)

	PageWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "luwiki_page_write_duration_seconds",
			Help:    "Latency of page store write transactions",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// AssetOpsTotal counts asset-store operations by kind and outcome.
	AssetOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "luwiki_asset_ops_total",
			Help: "Total number of asset store operations",
		},
		[]string{"op", "result"},
	)

	AssetBytesWrittenTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "luwiki_asset_bytes_written_total",
			Help: "Total number of asset bytes written to disk",
		},
	)

	// LockOpsTotal counts lock store operations by kind and outcome.
	LockOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "luwiki_lock_ops_total",
			Help: "Total number of lock store operations",
		},
		[]string{"op", "result"},
	)

	LockSweepRemovedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "luwiki_lock_sweep_removed_total",
			Help: "Total number of expired locks removed by the sweep",
		},
	)
)

func init() {
	prometheus.MustRegister(PagesTotal)
	prometheus.MustRegister(AssetsTotal)
	prometheus.MustRegister(UsersTotal)
	prometheus.MustRegister(LocksActiveTotal)
	prometheus.MustRegister(PageWritesTotal)
	prometheus.MustRegister(PageWriteDuration)
	prometheus.MustRegister(AssetOpsTotal)
	prometheus.MustRegister(AssetBytesWrittenTotal)
	prometheus.MustRegister(LockOpsTotal)
	prometheus.MustRegister(LockSweepRemovedTotal)
}

// Handler returns the Prometheus HTTP handler. The engine itself never
// mounts it; a front-end that wants /metrics wires this in.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
