package eval

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus metrics for the evaluation core, all
// namespaced "evalcore":
//
//   - submissions_created_total (counter, label status): submissions
//     persisted by the orchestrator, by initial aggregate status
//   - dispatch_attempts_total (counter): broker publish attempts
//   - dispatch_failures_total (counter): publish retry exhaustions
//   - publish_latency_seconds (histogram): successful publish latency
//   - results_received_total (counter, label outcome): listener
//     deliveries by transition outcome (applied, already_terminal,
//     not_found)
//   - pending_task_results (gauge): task results awaiting a runner
//     reply, as observed by this process
//
// A nil *Metrics is valid and records nothing, so wiring metrics stays
// optional.
type Metrics struct {
	submissionsCreated *prometheus.CounterVec
	dispatchAttempts   prometheus.Counter
	dispatchFailures   prometheus.Counter
	publishLatency     prometheus.Histogram
	resultsReceived    *prometheus.CounterVec
	pendingResults     prometheus.Gauge
}

// NewMetrics creates and registers the collectors with registry
// (prometheus.DefaultRegisterer when nil).
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		submissionsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "evalcore",
			Name:      "submissions_created_total",
			Help:      "Submissions persisted by the orchestrator, by initial status.",
		}, []string{"status"}),
		dispatchAttempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "evalcore",
			Name:      "dispatch_attempts_total",
			Help:      "Broker publish attempts for runner requests.",
		}),
		dispatchFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "evalcore",
			Name:      "dispatch_failures_total",
			Help:      "Runner request dispatches that exhausted all retries.",
		}),
		publishLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "evalcore",
			Name:      "publish_latency_seconds",
			Help:      "Latency of successful broker publishes.",
			Buckets:   prometheus.DefBuckets,
		}),
		resultsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "evalcore",
			Name:      "results_received_total",
			Help:      "Runner results processed by the listener, by transition outcome.",
		}, []string{"outcome"}),
		pendingResults: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "evalcore",
			Name:      "pending_task_results",
			Help:      "Task results awaiting a runner reply, as observed by this process.",
		}),
	}
}

func (m *Metrics) submissionCreated(status SubmissionStatus, pendingDelta int) {
	if m == nil {
		return
	}
	m.submissionsCreated.WithLabelValues(string(status)).Inc()
	m.pendingResults.Add(float64(pendingDelta))
}

func (m *Metrics) dispatchAttempt() {
	if m == nil {
		return
	}
	m.dispatchAttempts.Inc()
}

func (m *Metrics) dispatchFailure() {
	if m == nil {
		return
	}
	m.dispatchFailures.Inc()
}

func (m *Metrics) publishSucceeded(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.publishLatency.Observe(elapsed.Seconds())
}

func (m *Metrics) resultReceived(outcome string, applied bool) {
	if m == nil {
		return
	}
	m.resultsReceived.WithLabelValues(outcome).Inc()
	if applied {
		m.pendingResults.Dec()
	}
}
