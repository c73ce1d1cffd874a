package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkerPoolSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_pool_size",
			Help: "Configured queue worker concurrency",
		},
	)

	WorkerPoolActiveJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_pool_active_jobs",
			Help: "Jobs currently being processed",
		},
	)

	QueueJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_jobs_total",
			Help: "Queue deliveries by job type and result",
		},
		[]string{"type", "result"},
	)

	QueueJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "queue_job_duration_seconds",
			Help:    "Queue delivery duration in seconds",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300},
		},
		[]string{"type"},
	)
)

func SetWorkerPoolSize(size int) {
	WorkerPoolSize.Set(float64(size))
}

// PrometheusCollector implements the job-queue MetricsCollector interface.
type PrometheusCollector struct{}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{}
}

func (c *PrometheusCollector) JobStarted(jobType, queue string) {
	WorkerPoolActiveJobs.Inc()
}

func (c *PrometheusCollector) JobCompleted(jobType, queue string, duration time.Duration) {
	WorkerPoolActiveJobs.Dec()
	QueueJobsTotal.WithLabelValues(jobType, "success").Inc()
	QueueJobDuration.WithLabelValues(jobType).Observe(duration.Seconds())
}

func (c *PrometheusCollector) JobFailed(jobType, queue string, duration time.Duration) {
	WorkerPoolActiveJobs.Dec()
	QueueJobsTotal.WithLabelValues(jobType, "error").Inc()
	QueueJobDuration.WithLabelValues(jobType).Observe(duration.Seconds())
}

func (c *PrometheusCollector) JobRetrying(jobType, queue string, attempt int) {
	QueueJobsTotal.WithLabelValues(jobType, "retry").Inc()
}
