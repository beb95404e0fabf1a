package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pricelist"

var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

var ExtractionResults = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "extraction_results_total",
		Help:      "Extraction results by mode",
	},
	[]string{"mode", "override"},
)

var ExtractionErrors = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "extraction_errors_total",
		Help:      "Failed extractions by status",
	},
	[]string{"status"},
)

var FingerprintDrift = promauto.With(Registry).NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fingerprint_drift_total",
		Help:      "Matched templates whose stored hash differs from the computed one",
	},
)

// StoreDegraded counts record-store failures that were absorbed instead of
// failing the extraction.
var StoreDegraded = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_degraded_total",
		Help:      "Record store failures degraded to no-match",
	},
	[]string{"operation"},
)

var AnalyzerDuration = promauto.With(Registry).NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "analyzer_request_duration_seconds",
		Help:      "Document analyzer call latency in seconds",
		Buckets:   []float64{.25, .5, 1, 2.5, 5, 10, 30, 60},
	},
	[]string{"operation", "outcome"},
)

var TemplatesRetired = promauto.With(Registry).NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "templates_retired_total",
		Help:      "Duplicate ACTIVE templates retired by reconciliation",
	},
)

var ListenerFilesProcessed = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "listener_files_processed_total",
		Help:      "Files processed by the folder listener, by resulting status",
	},
	[]string{"supplier", "status"},
)

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
