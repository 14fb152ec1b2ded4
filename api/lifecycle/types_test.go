package lifecycle

import (
	"testing"
	"time"
)

func validEvent() *Event {
	return &Event{
		SchemaVersion: "2.0",
		EventID:       "evt-001",
		Timestamp:     time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		SessionID:     "sess-001",
		TurnSequence:  1,
		Source:        "runtime",
		EventType:     EventDriftDetected,
		Phase:         PhaseDrift,
		Code:          "D4_tool_error",
	}
}

func TestValidateCollectsAllFailures(t *testing.T) {
	t.Parallel()

	ev := &Event{}
	violations := ev.Validate()
	if len(violations) < 7 {
		t.Fatalf("expected every missing field reported, got %d: %v", len(violations), violations)
	}
	for _, v := range violations {
		if v.Severity != SeverityMust {
			t.Fatalf("envelope violations must carry MUST severity, got %+v", v)
		}
	}
}

func TestValidateAcceptsWellFormedEvent(t *testing.T) {
	t.Parallel()

	if violations := validEvent().Validate(); len(violations) != 0 {
		t.Fatalf("expected no violations, got %v", violations)
	}
}

func TestCodeSyntax(t *testing.T) {
	t.Parallel()

	valid := []string{"D4_tool_error", "R1_local_repair", "RE2_checkpoint", "C0_normal", "O1", "SYS_session_init", "M1_prdr", "INFO_note"}
	for _, code := range valid {
		if !IsCodeSyntax(code) {
			t.Fatalf("expected %q to be valid code syntax", code)
		}
	}
	invalid := []string{"", "d4_tool_error", "D4_Tool", "_leading", "D4__double", "D4_", "4D_code"}
	for _, code := range invalid {
		if IsCodeSyntax(code) {
			t.Fatalf("expected %q to be invalid code syntax", code)
		}
	}
}

func TestCodePrefixAndClassifier(t *testing.T) {
	t.Parallel()

	cases := []struct {
		code       string
		prefix     string
		classifier string
	}{
		{"D4_tool_error", "D", "4"},
		{"RE2_checkpoint", "RE", "2"},
		{"R1_local_repair", "R", "1"},
		{"SYS_session_init", "SYS", ""},
		{"O2", "O", "2"},
		{"F1_handoff", "F", "1"},
	}
	for _, tc := range cases {
		if got := CodePrefix(tc.code); got != tc.prefix {
			t.Fatalf("CodePrefix(%q) = %q, want %q", tc.code, got, tc.prefix)
		}
		if got := CodeClassifier(tc.code); got != tc.classifier {
			t.Fatalf("CodeClassifier(%q) = %q, want %q", tc.code, got, tc.classifier)
		}
	}
}

func TestCloneIsolation(t *testing.T) {
	t.Parallel()

	ev := validEvent()
	ev.Extensions = map[string]any{"k": "v"}
	dup := ev.Clone()
	dup.Phase = PhaseRepair
	dup.Extensions["k"] = "changed"

	if ev.Phase != PhaseDrift {
		t.Fatalf("clone mutated original phase: %s", ev.Phase)
	}
	if ev.Extensions["k"] != "v" {
		t.Fatalf("clone mutated original extensions: %v", ev.Extensions)
	}
}

func TestHasMust(t *testing.T) {
	t.Parallel()

	onlyShould := []Violation{{RuleID: RuleSemanticEventTypeRec, Severity: SeverityShould}}
	if HasMust(onlyShould) {
		t.Fatal("SHOULD-only list reported as MUST")
	}
	mixed := append(onlyShould, Violation{RuleID: RuleSemanticPrefixPhase, Severity: SeverityMust})
	if !HasMust(mixed) {
		t.Fatal("MUST violation not detected")
	}
}
