package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dispatchd_tasks_total",
			Help: "Total number of known tasks by status",
		},
		[]string{"status"},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatchd_queue_depth",
			Help: "Number of tasks currently waiting for an idle worker",
		},
	)

	DeadLetterDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatchd_dead_letter_depth",
			Help: "Number of tasks currently quarantined in the dead-letter queue",
		},
	)

	WorkersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dispatchd_workers_total",
			Help: "Total number of connected workers by status",
		},
		[]string{"status"},
	)

	DispatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatchd_dispatch_duration_seconds",
			Help:    "Time taken to hand a task to an idle worker, from queue head to send",
			Buckets: prometheus.DefBuckets,
		},
	)

	HeartbeatEvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatchd_heartbeat_evictions_total",
			Help: "Total number of workers evicted for missing their heartbeat deadline",
		},
	)

	TasksRetriedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatchd_tasks_retried_total",
			Help: "Total number of tasks re-enqueued after a worker failure",
		},
	)

	TasksDeadLetteredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatchd_tasks_dead_lettered_total",
			Help: "Total number of tasks moved to the dead-letter queue after exhausting retries or being unroutable",
		},
	)

	PersistenceOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatchd_persistence_op_duration_seconds",
			Help:    "Time taken by persistence store operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)
)

func init() {
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(DeadLetterDepth)
	prometheus.MustRegister(WorkersTotal)
	prometheus.MustRegister(DispatchDuration)
	prometheus.MustRegister(HeartbeatEvictionsTotal)
	prometheus.MustRegister(TasksRetriedTotal)
	prometheus.MustRegister(TasksDeadLetteredTotal)
	prometheus.MustRegister(PersistenceOpDuration)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer, started now.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
