package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the process-wide Prometheus collectors.
type Metrics struct {
	RowsProcessed   *prometheus.CounterVec
	RowDuration     *prometheus.HistogramVec
	CarrierRequests *prometheus.CounterVec
	CarrierLatency  *prometheus.HistogramVec
	JobsActive      prometheus.Gauge
	WriteBackQueue  prometheus.Gauge
	ProgressDropped *prometheus.CounterVec
}

// NewMetrics registers and returns the application's collectors against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RowsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shipagent_rows_processed_total",
			Help: "Batch rows processed, labeled by outcome.",
		}, []string{"outcome"}),
		RowDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shipagent_row_duration_seconds",
			Help:    "Wall-clock time to process a single row end to end.",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
		CarrierRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shipagent_carrier_requests_total",
			Help: "Carrier API calls, labeled by operation and result.",
		}, []string{"operation", "result"}),
		CarrierLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shipagent_carrier_latency_seconds",
			Help:    "Carrier API call latency by operation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		JobsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "shipagent_jobs_active",
			Help: "Jobs currently in the running state.",
		}),
		WriteBackQueue: factory.NewGauge(prometheus.GaugeOpts{
			Name: "shipagent_writeback_queue_depth",
			Help: "Pending write-back tasks across all jobs.",
		}),
		ProgressDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shipagent_progress_events_dropped_total",
			Help: "Progress events dropped because a subscriber's queue was full.",
		}, []string{"job_id"}),
	}
}
