// Package metrics exposes Prometheus instrumentation for the approvals engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsSubmitted counts requests created through Submit.
	RequestsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "approvals_requests_submitted_total",
		Help: "Approval requests created.",
	})

	// RequestsResolved counts terminal transitions by final status.
	RequestsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "approvals_requests_resolved_total",
		Help: "Approval requests reaching a terminal status.",
	}, []string{"status"})

	// Decisions counts decisions applied, by action.
	Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "approvals_decisions_total",
		Help: "Decisions applied to approval requests.",
	}, []string{"action"})

	// DecisionRejections counts decisions refused, by error code.
	DecisionRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "approvals_decision_rejections_total",
		Help: "Decision submissions refused, by error code.",
	}, []string{"code"})

	// SweepDuration observes scheduler sweep wall time.
	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "approvals_scheduler_sweep_duration_seconds",
		Help:    "Duration of scheduler sweeps over pending requests.",
		Buckets: prometheus.DefBuckets,
	})

	// TimerTransitions counts scheduler-driven transitions by kind.
	TimerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "approvals_timer_transitions_total",
		Help: "Timer-driven transitions (expiry, escalation, reminder).",
	}, []string{"kind"})

	// NotificationsPublished counts notification instructions handed to the sink.
	NotificationsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "approvals_notifications_published_total",
		Help: "Notification instructions emitted, by kind.",
	}, []string{"kind"})
)
