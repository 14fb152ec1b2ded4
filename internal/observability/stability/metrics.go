// Package stability computes the post-hoc stability metrics of validated
// session logs: post-repair drift recurrence (PRDR), validated recovery
// latency (VRL), and failover recurrence (FR).
package stability

import (
	"math"
	"sort"
	"time"

	"github.com/tiger/agent-lifecycle-governor/api/lifecycle"
)

// Options tunes metric eligibility and windows. The zero value computes over
// every accepted event with unbounded windows.
type Options struct {
	// RecurrenceWindow bounds PRDR recurrence to drift events within this many
	// turns of a prior repair. Zero means unbounded.
	RecurrenceWindow int64
	// RecoveryCutoff excludes recoveries slower than this from VRL; affected
	// sessions contribute NaN and drop out of the mean. Zero means no cutoff.
	RecoveryCutoff time.Duration
	// ExcludeProvisional drops events whose codes the registry classified
	// provisional.
	ExcludeProvisional bool
	// ExcludeNormalized drops events rewritten by normalize mode, computing
	// metrics over strictly-accepted events only.
	ExcludeNormalized bool
	// ExcludeDerived drops engine-materialized events such as deferred
	// reentry records.
	ExcludeDerived bool
}

// Report is one deterministic metrics computation over a validated log.
// Ratio metrics are NaN when their denominator is empty, never zero.
type Report struct {
	PRDR float64 `json:"prdr"`
	VRL  float64 `json:"vrl_seconds"`
	FR   float64 `json:"fr"`

	Sessions          int `json:"sessions"`
	RepairedSessions  int `json:"repaired_sessions"`
	RecurredSessions  int `json:"recurred_sessions"`
	RecoveredSessions int `json:"recovered_sessions"`
	LifecycleEvents   int `json:"lifecycle_events"`
	FailoverEvents    int `json:"failover_events"`

	EventTypeCounts map[lifecycle.EventType]int `json:"event_type_counts"`
	PhaseCounts     map[lifecycle.Phase]int     `json:"phase_counts"`
}

// Compute derives the stability report for a validated, accepted-only log.
// Identical input yields an identical report: events are grouped per session
// and ordered by turn_sequence, which is authoritative over timestamps.
func Compute(entries []lifecycle.LogEntry, opts Options) Report {
	sessions := groupSessions(entries, opts)

	report := Report{
		PRDR:            math.NaN(),
		VRL:             math.NaN(),
		FR:              math.NaN(),
		Sessions:        len(sessions),
		EventTypeCounts: make(map[lifecycle.EventType]int),
		PhaseCounts:     make(map[lifecycle.Phase]int),
	}

	var recoverySum time.Duration
	for _, log := range sessions {
		repaired, recurred := driftRecurrence(log, opts.RecurrenceWindow)
		if repaired {
			report.RepairedSessions++
			if recurred {
				report.RecurredSessions++
			}
		}
		if latency, ok := recoveryLatency(log, opts.RecoveryCutoff); ok {
			report.RecoveredSessions++
			recoverySum += latency
		}
		for _, entry := range log {
			report.EventTypeCounts[entry.Event.EventType]++
			report.PhaseCounts[entry.Event.Phase]++
			if entry.Event.Phase != lifecycle.PhaseNone {
				report.LifecycleEvents++
			}
			if entry.Event.EventType == lifecycle.EventFailoverTriggered {
				report.FailoverEvents++
			}
		}
	}

	if report.RepairedSessions > 0 {
		report.PRDR = 100 * float64(report.RecurredSessions) / float64(report.RepairedSessions)
	}
	if report.RecoveredSessions > 0 {
		report.VRL = recoverySum.Seconds() / float64(report.RecoveredSessions)
	}
	if report.LifecycleEvents > 0 {
		report.FR = float64(report.FailoverEvents) / float64(report.LifecycleEvents)
	}
	return report
}

// groupSessions partitions eligible entries per session with each log ordered
// by turn_sequence. Iteration order over the result map does not influence
// any metric; every aggregate is commutative.
func groupSessions(entries []lifecycle.LogEntry, opts Options) map[string][]lifecycle.LogEntry {
	sessions := make(map[string][]lifecycle.LogEntry)
	for _, entry := range entries {
		if entry.Event == nil {
			continue
		}
		if opts.ExcludeProvisional && entry.Provisional {
			continue
		}
		if opts.ExcludeNormalized && entry.Normalized {
			continue
		}
		if opts.ExcludeDerived && entry.Derived {
			continue
		}
		sessions[entry.Event.SessionID] = append(sessions[entry.Event.SessionID], entry)
	}
	for id := range sessions {
		log := sessions[id]
		sort.SliceStable(log, func(i, j int) bool {
			return log[i].Event.TurnSequence < log[j].Event.TurnSequence
		})
	}
	return sessions
}

// driftRecurrence reports whether the session has any repair event and, if
// so, whether a later drift event recurs within the turn window.
func driftRecurrence(log []lifecycle.LogEntry, window int64) (repaired, recurred bool) {
	firstRepairTurn := int64(-1)
	lastRepairTurn := int64(-1)
	for _, entry := range log {
		switch entry.Event.Phase {
		case lifecycle.PhaseRepair:
			repaired = true
			if firstRepairTurn < 0 {
				firstRepairTurn = entry.Event.TurnSequence
			}
			lastRepairTurn = entry.Event.TurnSequence
		case lifecycle.PhaseDrift:
			if firstRepairTurn < 0 || entry.Event.TurnSequence <= firstRepairTurn {
				continue
			}
			if window > 0 && entry.Event.TurnSequence-lastRepairTurn > window {
				continue
			}
			recurred = true
		}
	}
	return repaired, recurred
}

// recoveryLatency measures the initial drift event to the first recovery
// event (continue_allowed or reentry_observed). Sessions that never drift,
// never recover, or recover past the cutoff are excluded, not counted as 0.
func recoveryLatency(log []lifecycle.LogEntry, cutoff time.Duration) (time.Duration, bool) {
	var driftAt time.Time
	drifted := false
	for _, entry := range log {
		ev := entry.Event
		if !drifted {
			if ev.Phase == lifecycle.PhaseDrift {
				driftAt = ev.Timestamp
				drifted = true
			}
			continue
		}
		isRecovery := (ev.EventType == lifecycle.EventContinueAllowed && ev.Phase == lifecycle.PhaseContinue) ||
			(ev.EventType == lifecycle.EventReentryObserved && ev.Phase == lifecycle.PhaseReentry)
		if !isRecovery {
			continue
		}
		latency := ev.Timestamp.Sub(driftAt)
		if cutoff > 0 && latency > cutoff {
			return 0, false
		}
		return latency, true
	}
	return 0, false
}
