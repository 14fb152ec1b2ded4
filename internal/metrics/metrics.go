// Package metrics provides Prometheus metrics for the governance pipeline.
// Labels stay low-cardinality: mode, status, rule, phase. Never session_id
// or event_id.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsTotal counts validated events by enforcement mode and outcome.
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alg_events_total",
		Help: "Total number of validated events, by enforcement mode and outcome status.",
	}, []string{"mode", "status"})

	// ViolationsTotal counts rule violations by rule id and severity.
	ViolationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alg_violations_total",
		Help: "Total number of rule violations recorded during validation, by rule and severity.",
	}, []string{"rule", "severity"})

	// TransitionsTotal counts accepted lifecycle transitions by edge.
	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alg_transitions_total",
		Help: "Total number of accepted session state transitions, by from and to state.",
	}, []string{"from", "to"})

	// TransitionRejectsTotal counts rejected transitions by rule.
	TransitionRejectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alg_transition_rejects_total",
		Help: "Total number of rejected session transitions, by rule.",
	}, []string{"rule"})

	// BudgetSignalsTotal counts budget boundary crossings by signal kind.
	BudgetSignalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alg_budget_signals_total",
		Help: "Total number of repair budget signals raised by session machines, by kind and strategy.",
	}, []string{"kind", "strategy"})

	// FailoverResolutionsTotal counts failover reconciliations by decision.
	FailoverResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alg_failover_resolutions_total",
		Help: "Total number of failover reconciliation resolutions, by decision.",
	}, []string{"decision"})

	// DerivedEventsTotal counts engine-materialized events by event type.
	DerivedEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alg_derived_events_total",
		Help: "Total number of events materialized by the engine itself, by event type.",
	}, []string{"event_type"})

	// SessionsClosedTotal counts terminal sessions by closing reason.
	SessionsClosedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alg_sessions_closed_total",
		Help: "Total number of sessions reaching a terminal state, by reason.",
	}, []string{"reason"})

	// ActiveSessions tracks sessions currently tracked by the registry.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "alg_active_sessions",
		Help: "Current number of open sessions tracked by the session registry.",
	})
)
