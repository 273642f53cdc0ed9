package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pagedesk"

var (
	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "render_cache_lookups_total",
			Help:      "Thumbnail requests by outcome (hit, miss, pending, failed)",
		},
		[]string{"result"},
	)

	renders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "renders_total",
			Help:      "Background renders by result (ready, stale, failed, skipped, preview)",
		},
		[]string{"result"},
	)

	renderLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "render_duration_seconds",
			Help:      "Duration of background page renders",
			Buckets:   prometheus.DefBuckets,
		},
	)

	evictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "render_cache_evictions_total",
			Help:      "Cache entries evicted by the size bound",
		},
	)

	residentBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "render_cache_bytes",
			Help:      "Raster bytes currently held by the render cache",
		},
	)

	renderJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "render_jobs_queued",
			Help:      "Render jobs waiting for a worker",
		},
	)

	operations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Document operations by name and result",
		},
		[]string{"op", "result"},
	)

	exports = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exports_total",
			Help:      "Exports by destination scheme and result",
		},
		[]string{"dest", "result"},
	)

	exportLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "export_duration_seconds",
			Help:      "Duration of document flatten and write",
			Buckets:   prometheus.DefBuckets,
		},
	)

	openDocuments = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_documents",
			Help:      "Documents currently open in the session",
		},
	)
)

var once sync.Once

// Init registers collectors. Repeated calls are ignored.
func Init() {
	once.Do(func() {
		prometheus.MustRegister(cacheLookups, renders, renderLatency, evictions, residentBytes, renderJobs, operations, exports, exportLatency, openDocuments)
	})
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

func IncLookup(result string) { cacheLookups.WithLabelValues(result).Inc() }

func ObserveRender(result string, dur time.Duration) {
	renders.WithLabelValues(result).Inc()
	if dur > 0 {
		renderLatency.Observe(dur.Seconds())
	}
}

func IncEviction()             { evictions.Inc() }
func SetResidentBytes(n int64) { residentBytes.Set(float64(n)) }
func SetQueuedJobs(n int)      { renderJobs.Set(float64(n)) }
func SetOpenDocuments(n int)   { openDocuments.Set(float64(n)) }

// IncOperation counts a document operation; err == nil counts as success.
func IncOperation(op string, err error) {
	operations.WithLabelValues(op, resultOf(err)).Inc()
}

func ObserveExport(dest string, err error, dur time.Duration) {
	exports.WithLabelValues(dest, resultOf(err)).Inc()
	exportLatency.Observe(dur.Seconds())
}

func resultOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
