package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Placement outcomes.
const (
	OutcomeSuccess    = "success"
	OutcomeValidation = "validation"
	OutcomeConflict   = "conflict"
	OutcomeCooldown   = "cooldown"
	OutcomeError      = "error"
)

var (
	placementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "placements_total",
			Help:      "Placement attempts by outcome.",
		},
		[]string{"outcome"},
	)

	cooldownChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cooldown_checks_total",
			Help:      "Cooldown status queries by result.",
		},
		[]string{"result"},
	)

	cooldownWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cooldown_write_failures_total",
			Help:      "Committed placements whose cooldown record could not be written.",
		},
	)

	rateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-client rate limiter.",
		},
		[]string{"route"},
	)

	streamViewers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_viewers",
			Help:      "Connected live canvas viewers.",
		},
	)
)

// RecordPlacement counts one placement attempt.
func RecordPlacement(outcome string) {
	placementsTotal.WithLabelValues(outcome).Inc()
}

// RecordCooldownCheck counts one cooldown query; result is "eligible" or "cooling".
func RecordCooldownCheck(eligible bool) {
	result := "cooling"
	if eligible {
		result = "eligible"
	}
	cooldownChecksTotal.WithLabelValues(result).Inc()
}

func RecordCooldownWriteFailure() {
	cooldownWriteFailures.Inc()
}

func RecordRateLimited(route string) {
	rateLimitedTotal.WithLabelValues(route).Inc()
}

// StreamViewerConnected increments the viewer gauge and returns the matching decrement.
func StreamViewerConnected() func() {
	streamViewers.Inc()
	return streamViewers.Dec
}
