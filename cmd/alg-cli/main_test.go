package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/tiger/agent-lifecycle-governor/internal/config"
	"github.com/tiger/agent-lifecycle-governor/internal/observability/stability"
)

const sampleCorpus = `{"schema_version":"2.0","event_id":"e1","timestamp":"2026-03-14T09:01:00Z","session_id":"s1","turn_sequence":1,"source":"agent-runtime","event_type":"drift_detected","phase":"drift","code":"D1_instruction"}
{"schema_version":"2.0","event_id":"e2","timestamp":"2026-03-14T09:02:00Z","session_id":"s1","turn_sequence":2,"source":"agent-runtime","event_type":"repair_triggered","phase":"repair","code":"R1_local_repair"}
{"schema_version":"2.0","event_id":"e3","timestamp":"2026-03-14T09:03:00Z","session_id":"s1","turn_sequence":3,"source":"agent-runtime","event_type":"reentry_observed","phase":"reentry","code":"RE1_validated"}
{"schema_version":"2.0","event_id":"e4","timestamp":"2026-03-14T09:04:00Z","session_id":"s1","turn_sequence":4,"source":"agent-runtime","event_type":"session_closed","phase":"outcome","code":"O0_closed"}
`

func writeCorpus(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.jsonl")
	if err := os.WriteFile(path, []byte(sampleCorpus), 0o644); err != nil {
		t.Fatalf("write corpus: %v", err)
	}
	return path
}

func TestBuildPipelineFromDefaults(t *testing.T) {
	t.Parallel()

	pipeline, registry, err := buildPipeline(config.Default())
	if err != nil {
		t.Fatalf("buildPipeline: %v", err)
	}
	if pipeline == nil || registry == nil {
		t.Fatal("buildPipeline returned nil components")
	}
}

func TestRunPipelineOverSampleCorpus(t *testing.T) {
	t.Parallel()

	summary, registry, err := runPipeline(context.Background(), config.Default(), writeCorpus(t))
	if err != nil {
		t.Fatalf("runPipeline: %v", err)
	}
	if summary.Lines != 4 || summary.Accepted != 4 {
		t.Fatalf("summary = %+v, want 4 accepted lines", summary)
	}

	report := stability.Compute(registry.Logs(), config.Default().MetricOptions())
	if report.Sessions != 1 || report.RepairedSessions != 1 || report.RecurredSessions != 0 {
		t.Fatalf("report = %+v", report)
	}
	if findings := stability.AuditSequences(registry.SessionLogs()); len(findings) != 0 {
		t.Fatalf("audit findings on clean corpus: %v", findings)
	}
}

func TestRunPipelineMissingCorpus(t *testing.T) {
	t.Parallel()

	if _, _, err := runPipeline(context.Background(), config.Default(), filepath.Join(t.TempDir(), "absent.jsonl")); err == nil {
		t.Fatal("expected error for missing corpus file")
	}
}
