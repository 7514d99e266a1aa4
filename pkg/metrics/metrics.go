package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Operation outcome totals, labeled by op and outcome
	// (successful/suspended/missing). queue.Suspension is the single
	// source of truth for these counts; the collector mirrors its
	// atomic snapshot into these gauges on each tick rather than having
	// pkg/api increment a second, independently-counted series.
	OperationsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cairnq_operations_total",
			Help: "Total number of queue operations by op and outcome",
		},
		[]string{"op", "outcome"},
	)

	EmptyPollsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cairnq_empty_polls_total",
			Help: "Total number of poll requests that returned no message",
		},
	)

	OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cairnq_operation_duration_seconds",
			Help:    "Queue operation duration in seconds by op",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	SyncBarrierDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cairnq_sync_barrier_duration_seconds",
			Help:    "Time spent waiting on the durability barrier (fsync) per flush",
			Buckets: prometheus.DefBuckets,
		},
	)

	VisibilityIndexDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cairnq_visibility_index_depth",
			Help: "Number of messages currently tracked by the visibility index",
		},
	)

	VacantSlotsDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cairnq_vacant_slots_depth",
			Help: "Number of reclaimable slots in the slot-file vacant set",
		},
	)

	SuspendedOps = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cairnq_op_suspended",
			Help: "Whether an operation is currently suspended (1) or not (0)",
		},
		[]string{"op"},
	)

	// HTTP transport metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cairnq_api_requests_total",
			Help: "Total number of API requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cairnq_api_request_duration_seconds",
			Help:    "API request duration in seconds by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(OperationsTotal)
	prometheus.MustRegister(EmptyPollsTotal)
	prometheus.MustRegister(OperationDuration)
	prometheus.MustRegister(SyncBarrierDuration)
	prometheus.MustRegister(VisibilityIndexDepth)
	prometheus.MustRegister(VacantSlotsDepth)
	prometheus.MustRegister(SuspendedOps)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler, mounted at /metrics.
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

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
