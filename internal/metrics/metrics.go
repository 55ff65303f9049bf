package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Scheduler metrics
	SweepsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "viewpulse_sweeps_total",
			Help: "Total number of completed sweeps",
		},
	)

	SweepsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "viewpulse_sweeps_skipped_total",
			Help: "Ticks skipped because the previous sweep was still running",
		},
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "viewpulse_sweep_duration_seconds",
			Help:    "Time taken by one sweep over all active items",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	ItemRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewpulse_item_runs_total",
			Help: "Per-item pipeline runs by final stage",
		},
		[]string{"stage"}, // stage: fetch_failed, store_failed, classified, panic
	)

	ItemTiers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewpulse_item_tiers_total",
			Help: "Tier assigned to items on each run",
		},
		[]string{"tier"},
	)

	RateAnomalies = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "viewpulse_rate_anomalies_total",
			Help: "Runs where the measurement decreased between samples",
		},
	)

	// Alerting metrics
	AlertAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewpulse_alert_attempts_total",
			Help: "Notification send attempts",
		},
		[]string{"channel", "outcome", "kind"},
	)

	AlertsSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewpulse_alerts_suppressed_total",
			Help: "Alerts suppressed by the cooldown window",
		},
		[]string{"tier", "reason"}, // reason: cooldown, lookup_failed
	)

	AlertLogErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "viewpulse_alert_log_errors_total",
			Help: "Failures to persist alert records",
		},
	)

	EventPublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewpulse_event_publish_errors_total",
			Help: "Failures to publish alert events",
		},
		[]string{"sink"},
	)

	// Panic recovery
	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewpulse_panics_recovered_total",
			Help: "Total number of panics recovered",
		},
		[]string{"component"},
	)
)
