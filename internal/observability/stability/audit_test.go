package stability

import (
	"testing"
	"time"

	"github.com/tiger/agent-lifecycle-governor/api/lifecycle"
)

func findRule(findings []Finding, rule string) []Finding {
	var out []Finding
	for _, f := range findings {
		if f.RuleID == rule {
			out = append(out, f)
		}
	}
	return out
}

func TestAuditCleanSession(t *testing.T) {
	t.Parallel()
	logs := map[string][]lifecycle.LogEntry{"a": stableSession("a")}
	if findings := AuditSequences(logs); len(findings) != 0 {
		t.Fatalf("clean session produced findings: %v", findings)
	}
}

func TestAuditOrdering(t *testing.T) {
	t.Parallel()
	logs := map[string][]lifecycle.LogEntry{"a": {
		logEntry("a", 3, lifecycle.EventDriftDetected, lifecycle.PhaseDrift, 0),
		logEntry("a", 3, lifecycle.EventRepairTriggered, lifecycle.PhaseRepair, time.Second),
		logEntry("a", 2, lifecycle.EventContinueAllowed, lifecycle.PhaseContinue, 2*time.Second),
	}}
	findings := findRule(AuditSequences(logs), RuleAuditOrdering)
	if len(findings) != 2 {
		t.Fatalf("ordering findings = %d, want 2: %v", len(findings), findings)
	}
}

func TestAuditDerivedSharesTurn(t *testing.T) {
	t.Parallel()
	derived := logEntry("a", 3, lifecycle.EventReentryObserved, lifecycle.PhaseReentry, 2*time.Second)
	derived.Derived = true
	logs := map[string][]lifecycle.LogEntry{"a": {
		logEntry("a", 1, lifecycle.EventDriftDetected, lifecycle.PhaseDrift, 0),
		logEntry("a", 2, lifecycle.EventRepairTriggered, lifecycle.PhaseRepair, time.Second),
		derived,
		logEntry("a", 3, lifecycle.EventContinueAllowed, lifecycle.PhaseContinue, 2*time.Second),
	}}
	if findings := AuditSequences(logs); len(findings) != 0 {
		t.Fatalf("derived same-turn record flagged: %v", findings)
	}
}

func TestAuditPostClosureAndDoubleClosure(t *testing.T) {
	t.Parallel()
	logs := map[string][]lifecycle.LogEntry{"a": {
		logEntry("a", 1, lifecycle.EventContinueAllowed, lifecycle.PhaseContinue, 0),
		logEntry("a", 2, lifecycle.EventSessionClosed, lifecycle.PhaseOutcome, time.Second),
		logEntry("a", 3, lifecycle.EventDriftDetected, lifecycle.PhaseDrift, 2*time.Second),
		logEntry("a", 4, lifecycle.EventInfo, lifecycle.PhaseNone, 3*time.Second),
		logEntry("a", 5, lifecycle.EventSessionClosed, lifecycle.PhaseOutcome, 4*time.Second),
	}}
	findings := AuditSequences(logs)
	post := findRule(findings, RuleAuditPostClosure)
	// The drift and the second closure are both post-closure lifecycle
	// events; the info event is tolerated.
	if len(post) != 2 {
		t.Fatalf("post-closure findings = %d, want 2: %v", len(post), post)
	}
	if double := findRule(findings, RuleAuditDoubleClosure); len(double) != 1 {
		t.Fatalf("double-closure findings = %d, want 1", len(double))
	}
}

func TestAuditFailoverNeverResolved(t *testing.T) {
	t.Parallel()
	logs := map[string][]lifecycle.LogEntry{"a": {
		logEntry("a", 1, lifecycle.EventDriftDetected, lifecycle.PhaseDrift, 0),
		logEntry("a", 2, lifecycle.EventFailoverTriggered, lifecycle.PhaseFailover, time.Second),
	}}
	if findings := findRule(AuditSequences(logs), RuleAuditFailoverOpen); len(findings) != 1 {
		t.Fatalf("open-failover findings = %d, want 1", len(findings))
	}

	resolved := map[string][]lifecycle.LogEntry{"a": {
		logEntry("a", 1, lifecycle.EventDriftDetected, lifecycle.PhaseDrift, 0),
		logEntry("a", 2, lifecycle.EventFailoverTriggered, lifecycle.PhaseFailover, time.Second),
		logEntry("a", 3, lifecycle.EventContinueAllowed, lifecycle.PhaseContinue, 2*time.Second),
	}}
	if findings := AuditSequences(resolved); len(findings) != 0 {
		t.Fatalf("resolved failover produced findings: %v", findings)
	}
}

func TestAuditDriftDuringFailover(t *testing.T) {
	t.Parallel()
	logs := map[string][]lifecycle.LogEntry{"a": {
		logEntry("a", 1, lifecycle.EventDriftDetected, lifecycle.PhaseDrift, 0),
		logEntry("a", 2, lifecycle.EventFailoverTriggered, lifecycle.PhaseFailover, time.Second),
		logEntry("a", 3, lifecycle.EventDriftDetected, lifecycle.PhaseDrift, 2*time.Second),
		logEntry("a", 4, lifecycle.EventContinueAllowed, lifecycle.PhaseContinue, 3*time.Second),
	}}
	if findings := findRule(AuditSequences(logs), RuleAuditFailoverDrift); len(findings) != 1 {
		t.Fatalf("failover-drift findings = %d, want 1", len(findings))
	}
}
