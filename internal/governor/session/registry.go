package session

import (
	"sort"
	"sync"
	"time"

	"github.com/tiger/agent-lifecycle-governor/api/lifecycle"
	"github.com/tiger/agent-lifecycle-governor/internal/metrics"
)

// Registry owns every live session machine, keyed by session_id. Machines are
// created lazily on first event; events for distinct sessions apply
// concurrently while each session stays strictly serialized.
type Registry struct {
	mu       sync.Mutex
	template Config
	sessions map[string]*Machine
}

// NewRegistry builds a registry; template supplies budgets and policy flags
// for every machine it creates (SessionID is filled per session).
func NewRegistry(template Config) *Registry {
	return &Registry{
		template: template,
		sessions: make(map[string]*Machine),
	}
}

// Session returns the machine for id, creating it on first use.
func (r *Registry) Session(id string) (*Machine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.sessions[id]; ok {
		return m, nil
	}
	cfg := r.template
	cfg.SessionID = id
	m, err := NewMachine(cfg)
	if err != nil {
		return nil, err
	}
	r.sessions[id] = m
	metrics.ActiveSessions.Inc()
	return m, nil
}

// Apply routes one validated event to its session machine.
func (r *Registry) Apply(entry lifecycle.LogEntry) (Result, error) {
	m, err := r.Session(entry.Event.SessionID)
	if err != nil {
		return Result{}, err
	}
	return m.Apply(entry), nil
}

// SessionIDs returns every known session id in sorted order.
func (r *Registry) SessionIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Logs flattens every session's accepted log, sessions in sorted id order.
func (r *Registry) Logs() []lifecycle.LogEntry {
	var out []lifecycle.LogEntry
	for _, id := range r.SessionIDs() {
		r.mu.Lock()
		m := r.sessions[id]
		r.mu.Unlock()
		out = append(out, m.Log()...)
	}
	return out
}

// SessionLogs returns per-session accepted logs keyed by session id.
func (r *Registry) SessionLogs() map[string][]lifecycle.LogEntry {
	out := make(map[string][]lifecycle.LogEntry)
	for _, id := range r.SessionIDs() {
		r.mu.Lock()
		m := r.sessions[id]
		r.mu.Unlock()
		out[id] = m.Log()
	}
	return out
}

// ResolveExpired sweeps every session for deferred verdicts past their
// deadline and resolves them to failed. Returns the ids of affected sessions.
func (r *Registry) ResolveExpired(now time.Time) []string {
	var expired []string
	for _, id := range r.SessionIDs() {
		r.mu.Lock()
		m := r.sessions[id]
		r.mu.Unlock()
		if m.ResolveExpired(now) {
			expired = append(expired, id)
		}
	}
	return expired
}

// Remove drops a session machine, releasing its log. Used by retention sweeps
// after a session's terminal state has been exported.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; ok {
		delete(r.sessions, id)
		metrics.ActiveSessions.Dec()
	}
}
