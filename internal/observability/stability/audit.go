package stability

import (
	"fmt"
	"sort"

	"github.com/tiger/agent-lifecycle-governor/api/lifecycle"
)

// Audit rule identifiers, stable like the validation rule ids.
const (
	RuleAuditOrdering      = "AUD-001"
	RuleAuditPostClosure   = "AUD-002"
	RuleAuditFailoverOpen  = "AUD-003"
	RuleAuditDoubleClosure = "AUD-004"
	RuleAuditFailoverDrift = "AUD-005"
)

// Finding is one sequence-audit defect.
type Finding struct {
	RuleID       string `json:"rule_id"`
	SessionID    string `json:"session_id"`
	TurnSequence int64  `json:"turn_sequence,omitempty"`
	Message      string `json:"message"`
}

func (f Finding) String() string {
	return fmt.Sprintf("%s session=%s turn=%d: %s", f.RuleID, f.SessionID, f.TurnSequence, f.Message)
}

// AuditSequences checks per-session logs for structural defects that point at
// an upstream producer or ingestion bug: ordering breaks, traffic after
// closure, unresolved or drift-polluted failovers, duplicate closures.
// Sessions are audited in sorted id order so output is deterministic.
func AuditSequences(logs map[string][]lifecycle.LogEntry) []Finding {
	ids := make([]string, 0, len(logs))
	for id := range logs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var findings []Finding
	for _, id := range ids {
		findings = append(findings, auditSession(id, logs[id])...)
	}
	return findings
}

func auditSession(id string, log []lifecycle.LogEntry) []Finding {
	var findings []Finding
	var lastTurn int64
	closed := false
	closures := 0
	failoverOpen := false
	var failoverTurn int64

	prevDerivedTurn := int64(-1)
	for _, entry := range log {
		ev := entry.Event

		// Derived records share the turn of the event that resolved them,
		// and the engine appends the derived record first. Either member of
		// such a pair is exempt from the ordering rule.
		sharedTurn := entry.Derived || ev.TurnSequence == prevDerivedTurn
		if ev.TurnSequence < lastTurn || (ev.TurnSequence == lastTurn && !sharedTurn && lastTurn != 0) {
			findings = append(findings, Finding{
				RuleID:       RuleAuditOrdering,
				SessionID:    id,
				TurnSequence: ev.TurnSequence,
				Message:      fmt.Sprintf("turn_sequence %d does not advance past %d", ev.TurnSequence, lastTurn),
			})
		}
		if ev.TurnSequence > lastTurn {
			lastTurn = ev.TurnSequence
		}
		if entry.Derived {
			prevDerivedTurn = ev.TurnSequence
		} else {
			prevDerivedTurn = -1
		}

		if closed && ev.Phase != lifecycle.PhaseNone {
			findings = append(findings, Finding{
				RuleID:       RuleAuditPostClosure,
				SessionID:    id,
				TurnSequence: ev.TurnSequence,
				Message:      fmt.Sprintf("lifecycle event %q recorded after session closure", ev.EventType),
			})
		}

		switch {
		case ev.EventType == lifecycle.EventSessionClosed:
			closures++
			if closures > 1 {
				findings = append(findings, Finding{
					RuleID:       RuleAuditDoubleClosure,
					SessionID:    id,
					TurnSequence: ev.TurnSequence,
					Message:      fmt.Sprintf("session closed %d times", closures),
				})
			}
			closed = true
			failoverOpen = false
		case ev.Phase == lifecycle.PhaseOutcome:
			closed = true
			failoverOpen = false
		case ev.EventType == lifecycle.EventFailoverTriggered:
			failoverOpen = true
			failoverTurn = ev.TurnSequence
		case failoverOpen && ev.Phase == lifecycle.PhaseDrift:
			findings = append(findings, Finding{
				RuleID:       RuleAuditFailoverDrift,
				SessionID:    id,
				TurnSequence: ev.TurnSequence,
				Message:      fmt.Sprintf("drift recorded during failover opened at turn %d", failoverTurn),
			})
		case failoverOpen && (ev.Phase == lifecycle.PhaseReentry || ev.Phase == lifecycle.PhaseContinue):
			failoverOpen = false
		}
	}

	if failoverOpen {
		findings = append(findings, Finding{
			RuleID:       RuleAuditFailoverOpen,
			SessionID:    id,
			TurnSequence: failoverTurn,
			Message:      "failover never resolved by reentry, continue, or closure",
		})
	}
	return findings
}
