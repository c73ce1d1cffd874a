package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	IntentIssuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upload_intents_total",
			Help: "Upload intents by outcome",
		},
		[]string{"outcome"},
	)

	FinalizeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finalize_requests_total",
			Help: "Finalize requests by outcome (accepted, duplicate, rejected)",
		},
		[]string{"outcome"},
	)

	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_jobs_total",
			Help: "Processed ingest jobs by outcome and classification",
		},
		[]string{"outcome", "kind"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingest_job_duration_seconds",
			Help:    "End-to-end ingest job duration in seconds",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300},
		},
		[]string{"kind"},
	)

	TransformDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "transform_duration_seconds",
			Help:    "Transform pool task duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	TransformPoolSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "transform_pool_size",
			Help: "Number of transform workers",
		},
	)

	TransformQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "transform_queue_depth",
			Help: "Tasks waiting for a transform worker",
		},
	)

	TransformWorkerRestarts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "transform_worker_restarts_total",
			Help: "Transform workers restarted after a panic",
		},
	)

	VariantBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "variant_bytes_total",
			Help: "Bytes written to the processed store by tier and encoding",
		},
		[]string{"tier", "encoding"},
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Notification deliveries by event type and result",
		},
		[]string{"type", "result"},
	)

	StorageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storage_operation_duration_seconds",
			Help:    "Object storage operation duration in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"operation", "status"},
	)

	appInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_info",
			Help: "Build and deployment info",
		},
		[]string{"version", "environment", "service"},
	)
)

func SetAppInfo(version, environment, service string) {
	appInfo.WithLabelValues(version, environment, service).Set(1)
}

func RecordJob(outcome, kind string, seconds float64) {
	JobsTotal.WithLabelValues(outcome, kind).Inc()
	JobDuration.WithLabelValues(kind).Observe(seconds)
}

func RecordNotification(eventType, result string) {
	NotificationsTotal.WithLabelValues(eventType, result).Inc()
}
