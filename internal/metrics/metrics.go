package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FlowsStarted counts authorization flows started per provider.
	FlowsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keymint_flows_started_total",
			Help: "The total number of authorization flows started.",
		},
		[]string{"provider"},
	)

	// FlowsCompleted counts flows that ended with a stored credential.
	FlowsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keymint_flows_completed_total",
			Help: "The total number of authorization flows completed successfully.",
		},
		[]string{"provider"},
	)

	// FlowsFailed counts flows that ended in a terminal failure.
	FlowsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keymint_flows_failed_total",
			Help: "The total number of authorization flows that failed.",
		},
		[]string{"provider", "reason"},
	)

	// ExchangeDuration is a histogram of outbound exchange call durations.
	ExchangeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "keymint_exchange_duration_seconds",
			Help:    "A histogram of token exchange and key issuance call durations.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "endpoint"},
	)

	// PendingWebLogins tracks web logins awaiting external completion.
	PendingWebLogins = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "keymint_pending_web_logins",
			Help: "The number of web logins currently awaiting completion.",
		},
	)

	// EntriesReaped counts expired entries removed by the background reaper.
	EntriesReaped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keymint_entries_reaped_total",
			Help: "The total number of expired entries removed by the reaper.",
		},
		[]string{"target"},
	)
)
