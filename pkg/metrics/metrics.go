package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records authentication attempts by method (password|google) and result (success|failure).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schoolhub_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"method", "result"},
	)

	// RoleChecks counts role-gate evaluations and their outcome (allowed|denied).
	RoleChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schoolhub_role_checks_total",
			Help: "Total number of role authorization checks",
		},
		[]string{"result"},
	)

	// ActiveSessions tracks live session rows (not expired, not logged out).
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "schoolhub_active_sessions",
			Help: "Number of active sessions",
		},
	)

	// SessionRotations counts in-place session identifier rotations.
	SessionRotations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "schoolhub_session_rotations_total",
			Help: "Total number of session identifier rotations",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "schoolhub_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
