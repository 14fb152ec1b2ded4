package ingest

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/tiger/agent-lifecycle-governor/internal/governor/enforcement"
	"github.com/tiger/agent-lifecycle-governor/internal/governor/envelope"
	"github.com/tiger/agent-lifecycle-governor/internal/governor/session"
	"github.com/tiger/agent-lifecycle-governor/internal/observability/trace"
)

func testPipeline(t *testing.T, mode enforcement.Mode, buffer *trace.Buffer) (*Pipeline, *session.Registry) {
	t.Helper()
	ev, err := envelope.NewValidator(envelope.Config{})
	if err != nil {
		t.Fatalf("envelope.NewValidator: %v", err)
	}
	controller, err := enforcement.New(enforcement.Config{Mode: mode, Envelope: ev})
	if err != nil {
		t.Fatalf("enforcement.New: %v", err)
	}
	registry := session.NewRegistry(session.Config{
		Now: func() time.Time { return time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC) },
	})
	pipeline, err := New(Config{Controller: controller, Registry: registry, Trace: buffer, Workers: 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return pipeline, registry
}

func rawEvent(session string, turn int, eventType, phase, code string) string {
	return fmt.Sprintf(`{"schema_version":"2.0","event_id":"%s-ev-%d","timestamp":"2026-03-14T09:%02d:00Z","session_id":"%s","turn_sequence":%d,"source":"agent-runtime","event_type":"%s","phase":"%s","code":"%s"}`,
		session, turn, turn, session, turn, eventType, phase, code)
}

func TestRunHealthyCorpus(t *testing.T) {
	t.Parallel()
	buffer, err := trace.NewBuffer(16)
	if err != nil {
		t.Fatalf("trace.NewBuffer: %v", err)
	}
	pipeline, registry := testPipeline(t, enforcement.ModeStrict, buffer)

	corpus := strings.Join([]string{
		rawEvent("s1", 1, "drift_detected", "drift", "D1_instruction"),
		rawEvent("s1", 2, "repair_triggered", "repair", "R1_local_repair"),
		rawEvent("s1", 3, "reentry_observed", "reentry", "RE1_validated"),
		rawEvent("s1", 4, "continue_allowed", "continue", "C0_normal"),
		rawEvent("s1", 5, "session_closed", "outcome", "O0_closed"),
		"",
		rawEvent("s2", 1, "continue_allowed", "continue", "C0_normal"),
	}, "\n")

	summary, err := pipeline.Run(context.Background(), strings.NewReader(corpus))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Lines != 6 {
		t.Fatalf("lines = %d, want 6 (blank line skipped)", summary.Lines)
	}
	if summary.Accepted != 6 || summary.Rejected != 0 || summary.TransitionRejects != 0 {
		t.Fatalf("summary = %+v", summary)
	}

	machine, err := registry.Session("s1")
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if !machine.Closed() {
		t.Fatal("session s1 not closed")
	}
	if got := len(machine.Log()); got != 5 {
		t.Fatalf("s1 log = %d entries, want 5", got)
	}
	if buffer.Len() != 6 {
		t.Fatalf("trace records = %d, want 6", buffer.Len())
	}
}

func TestRunRejectsMalformedAndIllegal(t *testing.T) {
	t.Parallel()
	pipeline, registry := testPipeline(t, enforcement.ModeStrict, nil)

	corpus := strings.Join([]string{
		rawEvent("s1", 1, "drift_detected", "drift", "D1_instruction"),
		// Envelope rejection: not an object.
		`"just a string"`,
		// Semantic rejection: repair event carrying phase drift.
		rawEvent("s1", 2, "repair_triggered", "drift", "R1_local_repair"),
		// Transition rejection: continue straight from drift.
		rawEvent("s1", 3, "continue_allowed", "continue", "C0_normal"),
	}, "\n")

	summary, err := pipeline.Run(context.Background(), strings.NewReader(corpus))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Rejected != 2 {
		t.Fatalf("rejected = %d, want 2", summary.Rejected)
	}
	if summary.TransitionRejects != 1 {
		t.Fatalf("transition rejects = %d, want 1", summary.TransitionRejects)
	}

	machine, err := registry.Session("s1")
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if got := len(machine.Log()); got != 1 {
		t.Fatalf("s1 log = %d entries, want only the drift event", got)
	}
}

func TestRunNormalizeMode(t *testing.T) {
	t.Parallel()
	pipeline, registry := testPipeline(t, enforcement.ModeNormalize, nil)

	corpus := strings.Join([]string{
		rawEvent("s1", 1, "drift_detected", "drift", "D1_instruction"),
		// Wrong phase for a repair event with an R-prefixed code: normalize
		// mode rewrites the phase instead of rejecting.
		rawEvent("s1", 2, "repair_triggered", "drift", "R2_guided_repair"),
	}, "\n")

	summary, err := pipeline.Run(context.Background(), strings.NewReader(corpus))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Normalized != 1 {
		t.Fatalf("normalized = %d, want 1: %+v", summary.Normalized, summary)
	}

	machine, err := registry.Session("s1")
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if got := machine.State(); got != session.StateRepair {
		t.Fatalf("state = %s, want repair", got)
	}
	log := machine.Log()
	if len(log) != 2 || !log[1].Normalized {
		t.Fatalf("log = %d entries, last Normalized=%v", len(log), log[len(log)-1].Normalized)
	}
}

func TestRunHonorsContext(t *testing.T) {
	t.Parallel()
	pipeline, _ := testPipeline(t, enforcement.ModeStrict, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := pipeline.Run(ctx, strings.NewReader(rawEvent("s1", 1, "info", "none", "INFO_note"))); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}
