package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recall_turns_total",
			Help: "Total number of processed user turns",
		},
		[]string{"status"},
	)

	turnDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "recall_turn_duration_seconds",
			Help:    "End-to-end turn duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	summarizationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recall_summarizations_total",
			Help: "Total number of summarization attempts",
		},
		[]string{"trigger", "outcome"},
	)

	understandingTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recall_understanding_total",
			Help: "Total number of query analyses by source and ambiguity",
		},
		[]string{"source", "ambiguous"},
	)

	windowTokens = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "recall_window_tokens",
			Help:    "Measured token count of the recent message window",
			Buckets: []float64{50, 100, 250, 500, 750, 1000, 1500, 2500, 5000},
		},
	)

	llmCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recall_llm_call_duration_seconds",
			Help:    "Language model call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"call", "status"},
	)

	persistenceErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recall_persistence_errors_total",
			Help: "Total number of failed memory store operations",
		},
		[]string{"op"},
	)

	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "recall_active_sessions",
			Help: "Number of sessions held in memory",
		},
	)

	initOnce sync.Once
)

// InitMetrics registers the collectors with the default registry
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			turnsTotal,
			turnDuration,
			summarizationsTotal,
			understandingTotal,
			windowTokens,
			llmCallDuration,
			persistenceErrorsTotal,
			activeSessions,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordTurn records a finished turn; status is "ok" or "error".
func RecordTurn(status string, duration time.Duration) {
	turnsTotal.WithLabelValues(status).Inc()
	turnDuration.Observe(duration.Seconds())
}

// RecordSummarization records a summarization attempt.
// trigger is "threshold" or "manual"; outcome is "validated", "degraded" or "error".
func RecordSummarization(trigger, outcome string) {
	summarizationsTotal.WithLabelValues(trigger, outcome).Inc()
}

// RecordUnderstanding records the source of a query analysis
func RecordUnderstanding(source string, ambiguous bool) {
	label := "false"
	if ambiguous {
		label = "true"
	}
	understandingTotal.WithLabelValues(source, label).Inc()
}

// ObserveWindowTokens records a window token measurement
func ObserveWindowTokens(tokens int) {
	windowTokens.Observe(float64(tokens))
}

// RecordLLMCall records a model call; call names the purpose
// ("summarize", "understand", "respond").
func RecordLLMCall(call, status string, duration time.Duration) {
	llmCallDuration.WithLabelValues(call, status).Observe(duration.Seconds())
}

// RecordPersistenceError counts a failed store operation
func RecordPersistenceError(op string) {
	persistenceErrorsTotal.WithLabelValues(op).Inc()
}

// SetActiveSessions sets the active sessions gauge
func SetActiveSessions(count int) {
	activeSessions.Set(float64(count))
}
