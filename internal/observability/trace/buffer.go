// Package trace keeps a bounded in-memory tail of governed events per
// session for incident inspection, with a JSONL export surface.
package trace

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/tiger/agent-lifecycle-governor/api/lifecycle"
)

// Record is one traced governance decision.
type Record struct {
	SessionID string                  `json:"session_id"`
	Status    lifecycle.OutcomeStatus `json:"status"`
	Entry     lifecycle.LogEntry      `json:"entry"`
	// Violations carries the defects of rejected events, which never reach
	// the session log but still matter in incident review.
	Violations []lifecycle.Violation `json:"violations,omitempty"`
}

// Buffer retains the most recent records per session, dropping the oldest
// once a session exceeds its capacity.
type Buffer struct {
	mu       sync.Mutex
	capacity int
	sessions map[string][]Record
}

// NewBuffer builds a buffer holding up to capacity records per session.
func NewBuffer(capacity int) (*Buffer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("trace capacity must be positive, got %d", capacity)
	}
	return &Buffer{
		capacity: capacity,
		sessions: make(map[string][]Record),
	}, nil
}

// Add appends one record to its session's tail.
func (b *Buffer) Add(rec Record) {
	b.mu.Lock()
	defer b.mu.Unlock()
	tail := append(b.sessions[rec.SessionID], rec)
	if len(tail) > b.capacity {
		tail = tail[len(tail)-b.capacity:]
	}
	b.sessions[rec.SessionID] = tail
}

// Session returns a copy of one session's retained tail.
func (b *Buffer) Session(id string) []Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	tail := b.sessions[id]
	out := make([]Record, len(tail))
	copy(out, tail)
	return out
}

// Len reports the total retained record count across sessions.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := 0
	for _, tail := range b.sessions {
		total += len(tail)
	}
	return total
}

// Export writes every retained record as JSONL, sessions in sorted id order.
func (b *Buffer) Export(w io.Writer) error {
	b.mu.Lock()
	ids := make([]string, 0, len(b.sessions))
	for id := range b.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	snapshot := make([][]Record, len(ids))
	for i, id := range ids {
		tail := make([]Record, len(b.sessions[id]))
		copy(tail, b.sessions[id])
		snapshot[i] = tail
	}
	b.mu.Unlock()

	buffered := bufio.NewWriter(w)
	enc := json.NewEncoder(buffered)
	for _, tail := range snapshot {
		for _, rec := range tail {
			if err := enc.Encode(rec); err != nil {
				return fmt.Errorf("encode trace record: %w", err)
			}
		}
	}
	return buffered.Flush()
}

// Drop releases one session's retained tail.
func (b *Buffer) Drop(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, id)
}
