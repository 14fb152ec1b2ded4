package trace

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/tiger/agent-lifecycle-governor/api/lifecycle"
)

func record(session string, turn int64) Record {
	return Record{
		SessionID: session,
		Status:    lifecycle.StatusAccepted,
		Entry: lifecycle.LogEntry{Event: &lifecycle.Event{
			SchemaVersion: "2.0",
			EventID:       fmt.Sprintf("%s-%d", session, turn),
			Timestamp:     time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
			SessionID:     session,
			TurnSequence:  turn,
			Source:        "agent-runtime",
			EventType:     lifecycle.EventContinueAllowed,
			Phase:         lifecycle.PhaseContinue,
			Code:          "C0_normal",
		}},
	}
}

func TestBufferBoundsPerSession(t *testing.T) {
	t.Parallel()
	b, err := NewBuffer(3)
	if err != nil {
		t.Fatalf("NewBuffer: %v", err)
	}
	for turn := int64(1); turn <= 10; turn++ {
		b.Add(record("a", turn))
	}
	b.Add(record("b", 1))

	tail := b.Session("a")
	if len(tail) != 3 {
		t.Fatalf("session a tail = %d records, want 3", len(tail))
	}
	if got := tail[0].Entry.Event.TurnSequence; got != 8 {
		t.Fatalf("oldest retained turn = %d, want 8", got)
	}
	if b.Len() != 4 {
		t.Fatalf("Len = %d, want 4", b.Len())
	}
}

func TestBufferRejectsZeroCapacity(t *testing.T) {
	t.Parallel()
	if _, err := NewBuffer(0); err == nil {
		t.Fatal("expected error for zero capacity")
	}
}

func TestExportJSONL(t *testing.T) {
	t.Parallel()
	b, err := NewBuffer(10)
	if err != nil {
		t.Fatalf("NewBuffer: %v", err)
	}
	b.Add(record("b", 1))
	b.Add(record("a", 1))
	b.Add(record("a", 2))

	var out bytes.Buffer
	if err := b.Export(&out); err != nil {
		t.Fatalf("Export: %v", err)
	}

	var sessions []string
	scanner := bufio.NewScanner(&out)
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("line not valid JSON: %v", err)
		}
		sessions = append(sessions, rec.SessionID)
	}
	want := []string{"a", "a", "b"}
	if len(sessions) != len(want) {
		t.Fatalf("exported %d lines, want %d", len(sessions), len(want))
	}
	for i, session := range want {
		if sessions[i] != session {
			t.Fatalf("line %d session = %s, want %s (sorted session order)", i, sessions[i], session)
		}
	}
}

func TestDrop(t *testing.T) {
	t.Parallel()
	b, err := NewBuffer(5)
	if err != nil {
		t.Fatalf("NewBuffer: %v", err)
	}
	b.Add(record("a", 1))
	b.Drop("a")
	if b.Len() != 0 {
		t.Fatalf("Len after drop = %d, want 0", b.Len())
	}
}
