package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "villaops"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_transitions_total",
			Help:      "Committed task transitions by task type and target status.",
		},
		[]string{"type", "to"},
	)

	sweepRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_runs_total",
			Help:      "Sweep invocations by sweep and outcome.",
		},
		[]string{"sweep", "result"},
	)

	sweepMutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_mutations_total",
			Help:      "Records changed by sweeps.",
		},
		[]string{"sweep", "kind"},
	)

	sweepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Time spent in one sweep run.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"sweep"},
	)

	alerts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_raised_total",
			Help:      "Operator alerts by type and severity.",
		},
		[]string{"type", "severity"},
	)

	deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_deliveries_total",
			Help:      "Notification channel deliveries by outcome.",
		},
		[]string{"channel", "result"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, transitions, sweepRuns, sweepMutations, sweepDuration, alerts, deliveries)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

func IncTransition(taskType, to string) {
	transitions.WithLabelValues(taskType, to).Inc()
}

// ObserveSweep records one sweep run.
func ObserveSweep(sweep string, started time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	sweepRuns.WithLabelValues(sweep, result).Inc()
	sweepDuration.WithLabelValues(sweep).Observe(time.Since(started).Seconds())
}

func AddSweepMutations(sweep, kind string, n int) {
	if n > 0 {
		sweepMutations.WithLabelValues(sweep, kind).Add(float64(n))
	}
}

func IncAlert(alertType, severity string) {
	alerts.WithLabelValues(alertType, severity).Inc()
}

func IncDelivery(channel, result string) {
	deliveries.WithLabelValues(channel, result).Inc()
}
