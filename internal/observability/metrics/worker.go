package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type WorkerMetrics struct {
	registry *prometheus.Registry
	service  string

	taskTotal     *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec
	taskInFlight  prometheus.Gauge
	queueLag      *prometheus.HistogramVec
	stageRetries  *prometheus.CounterVec
	taskRedeliver *prometheus.CounterVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	taskTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docscan",
			Subsystem: "worker",
			Name:      "task_total",
			Help:      "Total handled tasks by task name and outcome.",
		},
		[]string{"service", "task", "outcome"},
	)
	taskDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docscan",
			Subsystem: "worker",
			Name:      "task_duration_seconds",
			Help:      "Task handling duration in seconds by task name and outcome.",
			Buckets:   []float64{0.05, 0.25, 1, 2.5, 5, 10, 30, 60, 120, 300, 900},
		},
		[]string{"service", "task", "outcome"},
	)
	taskInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "docscan",
			Subsystem: "worker",
			Name:      "task_in_flight",
			Help:      "Number of tasks currently being handled.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docscan",
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between task dispatch and handling start.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service", "task"},
	)
	stageRetries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docscan",
			Subsystem: "worker",
			Name:      "stage_retries_total",
			Help:      "Total stage retry attempts by operation.",
		},
		[]string{"service", "operation"},
	)
	taskRedeliver := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docscan",
			Subsystem: "worker",
			Name:      "task_redeliver_total",
			Help:      "Total tasks handed back to the queue for redelivery.",
		},
		[]string{"service", "task"},
	)

	registry.MustRegister(taskTotal, taskDuration, taskInFlight, queueLag, stageRetries, taskRedeliver)

	return &WorkerMetrics{
		registry:      registry,
		service:       service,
		taskTotal:     taskTotal,
		taskDuration:  taskDuration,
		taskInFlight:  taskInFlight,
		queueLag:      queueLag,
		stageRetries:  stageRetries,
		taskRedeliver: taskRedeliver,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartTask() {
	m.taskInFlight.Inc()
}

// FinishTask records a handled task. A non-nil err means the task goes back to the queue.
func (m *WorkerMetrics) FinishTask(task, outcome string, duration time.Duration, err error) {
	m.taskInFlight.Dec()

	if err != nil {
		outcome = "error"
		m.taskRedeliver.WithLabelValues(m.service, task).Inc()
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.taskTotal.WithLabelValues(m.service, task, outcome).Inc()
	m.taskDuration.WithLabelValues(m.service, task, outcome).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveQueueLag(task string, lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(m.service, task).Observe(lag.Seconds())
}

// RecordRetry matches resilience.RetryObserver.
func (m *WorkerMetrics) RecordRetry(operation string, _ int, _ error) {
	m.stageRetries.WithLabelValues(m.service, operation).Inc()
}
