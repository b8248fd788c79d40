package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	retryClicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grokretry_clicks_total",
			Help: "Submit click attempts by result",
		},
		[]string{"result"}, // "attempted", "deferred", "blocked", "no_target"
	)

	failures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grokretry_failures_total",
			Help: "Moderation failures by layer classification",
		},
		[]string{"layer"}, // "1", "2", "3", or FailureTimeout
	)

	signals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grokretry_signals_total",
			Help: "Correlated failure/success signals by source channel",
		},
		[]string{"channel", "kind"}, // channel: "text"/"stream", kind: "moderation"/"ratelimit"/"success"
	)

	migrations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grokretry_identity_migrations_total",
			Help: "Session identity migrations by deciding rule",
		},
		[]string{"rule"},
	)

	sessions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grokretry_sessions_total",
			Help: "Ended sessions by outcome",
		},
		[]string{"outcome"},
	)

	creditsUsed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "grokretry_credits_used_total",
			Help: "Site credits charged (completed renders, moderated or not)",
		},
	)

	storeVersion = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "grokretry_event_store_version",
			Help: "Current event store snapshot version",
		},
	)
)

// FailureTimeout labels a session that expired with no signal at all
const FailureTimeout = "timeout"

// Collector provides convenience methods for recording metrics
type Collector struct{}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	return &Collector{}
}

// RecordClick records a submit click attempt outcome
func (c *Collector) RecordClick(result string) {
	retryClicks.WithLabelValues(result).Inc()
}

// RecordFailure records a classified moderation failure
func (c *Collector) RecordFailure(layer string) {
	failures.WithLabelValues(layer).Inc()
}

// RecordSignal records a correlated signal firing
func (c *Collector) RecordSignal(channel, kind string) {
	signals.WithLabelValues(channel, kind).Inc()
}

// RecordMigration records an identity migration and the rule that decided it
func (c *Collector) RecordMigration(rule string) {
	migrations.WithLabelValues(rule).Inc()
}

// RecordSessionEnd records a session outcome
func (c *Collector) RecordSessionEnd(outcome string) {
	sessions.WithLabelValues(outcome).Inc()
}

// AddCredits records consumed site credits
func (c *Collector) AddCredits(n int) {
	creditsUsed.Add(float64(n))
}

// SetStoreVersion publishes the event store version
func (c *Collector) SetStoreVersion(v uint64) {
	storeVersion.Set(float64(v))
}
