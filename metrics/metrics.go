package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder is what the relay client, the settlement tracker and the
// orchestrator report to.
type Recorder interface {
	IncRelayCall(method, status string)
	IncEstimateFallback(version string)
	IncPollAttempt(outcome string)
	IncOutcome(state string)
	ObserveRunDuration(seconds float64)
}

// RelayMetrics is the prometheus backed Recorder.
type RelayMetrics struct {
	relayCalls       *prometheus.CounterVec
	estimateFallback *prometheus.CounterVec
	pollAttempts     *prometheus.CounterVec
	outcomes         *prometheus.CounterVec
	runDuration      prometheus.Histogram
}

const relayNamespace = "userop_relay"

func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	return &RelayMetrics{
		relayCalls: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: relayNamespace,
				Name:      "relay_calls_total",
				Help:      "JSON-RPC calls issued to the relay, by method and status (ok, rejected, transport_error)",
			}, []string{"method", "status"}),

		estimateFallback: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: relayNamespace,
				Name:      "estimate_fallback_total",
				Help:      "Gas estimations that failed and were answered with hardcoded values or nothing",
			}, []string{"version"}),

		pollAttempts: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: relayNamespace,
				Name:      "receipt_poll_attempts_total",
				Help:      "Receipt polls performed while waiting for settlement, by outcome (pending, settled, error)",
			}, []string{"outcome"}),

		outcomes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: relayNamespace,
				Name:      "operations_total",
				Help:      "UserOperations driven to a terminal state",
			}, []string{"state"}),

		runDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: relayNamespace,
				Name:      "run_duration_seconds",
				Help:      "Wall time from validation to terminal state",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			}),
	}
}

func (m *RelayMetrics) IncRelayCall(method, status string) {
	m.relayCalls.WithLabelValues(method, status).Inc()
}

func (m *RelayMetrics) IncEstimateFallback(version string) {
	m.estimateFallback.WithLabelValues(version).Inc()
}

func (m *RelayMetrics) IncPollAttempt(outcome string) {
	m.pollAttempts.WithLabelValues(outcome).Inc()
}

func (m *RelayMetrics) IncOutcome(state string) {
	m.outcomes.WithLabelValues(state).Inc()
}

func (m *RelayMetrics) ObserveRunDuration(seconds float64) {
	m.runDuration.Observe(seconds)
}

type noopRecorder struct{}

func (noopRecorder) IncRelayCall(string, string) {}
func (noopRecorder) IncEstimateFallback(string)  {}
func (noopRecorder) IncPollAttempt(string)       {}
func (noopRecorder) IncOutcome(string)           {}
func (noopRecorder) ObserveRunDuration(float64)  {}

// NewNoopRecorder returns a Recorder that drops everything.
func NewNoopRecorder() Recorder {
	return noopRecorder{}
}

// EnsureRecorder returns r, or a no-op recorder when r is nil.
func EnsureRecorder(r Recorder) Recorder {
	if r == nil {
		return noopRecorder{}
	}
	return r
}
