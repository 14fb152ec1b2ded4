// Package session owns the one stateful piece of the engine: per-session
// lifecycle state with bounded repair budgets and legal-transition checking.
// All other components are pure functions over events.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tiger/agent-lifecycle-governor/api/lifecycle"
)

// State is the session lifecycle state.
type State string

const (
	StateNotStarted State = "not_started"
	StateDrift      State = "drift"
	StateRepair     State = "repair"
	StateReentry    State = "reentry"
	StateContinue   State = "continue"
	StateOutcome    State = "outcome"
	StateFailover   State = "failover"
)

// Strategy identifies a repair strategy tier, ordered static < guided <
// human_in_the_loop.
type Strategy string

const (
	StrategyStatic Strategy = "static"
	StrategyGuided Strategy = "guided"
	StrategyHuman  Strategy = "human_in_the_loop"
)

var strategyOrder = []Strategy{StrategyStatic, StrategyGuided, StrategyHuman}

func strategyRank(s Strategy) int {
	for i, candidate := range strategyOrder {
		if candidate == s {
			return i
		}
	}
	return -1
}

// StrategyFromCode derives the repair strategy tier from a repair code's
// numeric classifier ("R2_guided_repair" -> guided). The classifier segments
// strategy selection only; it never influences phase resolution.
func StrategyFromCode(code string) Strategy {
	switch lifecycle.CodeClassifier(code) {
	case "2":
		return StrategyGuided
	case "3":
		return StrategyHuman
	default:
		return StrategyStatic
	}
}

// Budgets configures repair attempt thresholds. A strategy absent from
// PerStrategy is not available to the session. Global, when positive, bounds
// total repair attempts across all strategies and overrides them on exhaustion.
type Budgets struct {
	PerStrategy map[Strategy]int
	Global      int
}

// DefaultBudgets allows three attempts per strategy with no global bound.
func DefaultBudgets() Budgets {
	return Budgets{PerStrategy: map[Strategy]int{
		StrategyStatic: 3,
		StrategyGuided: 3,
		StrategyHuman:  3,
	}}
}

func (b Budgets) threshold(s Strategy) (int, bool) {
	limit, ok := b.PerStrategy[s]
	return limit, ok && limit > 0
}

// higher returns the next configured strategy above s.
func (b Budgets) higher(s Strategy) (Strategy, bool) {
	for _, candidate := range strategyOrder {
		if strategyRank(candidate) <= strategyRank(s) {
			continue
		}
		if _, ok := b.threshold(candidate); ok {
			return candidate, true
		}
	}
	return "", false
}

// Config assembles a session machine.
type Config struct {
	SessionID string
	Budgets   Budgets
	// DeferReentry enables the normalize-mode deferred reentry flow: a repair
	// turn's verdict stays pending until the next turn or DeferTimeout.
	DeferReentry bool
	DeferTimeout time.Duration
	// RequireSessionInit enforces the first-turn whitelist: sessions must open
	// with continue_allowed or an info event carrying SYS_session_init.
	RequireSessionInit bool
	Now                func() time.Time
	NewID              func() string
}

// SignalKind classifies budget signals raised toward the failover orchestrator.
type SignalKind string

const (
	SignalEscalationRequired SignalKind = "escalation_required"
	SignalFailoverRequired   SignalKind = "failover_required"
	SignalFailoverTriggered  SignalKind = "failover_triggered"
)

// BudgetSignal reports a budget boundary crossing.
type BudgetSignal struct {
	Kind     SignalKind
	Strategy Strategy
	Attempts int
}

// Result reports the effect of applying one event to a session.
type Result struct {
	From       State
	To         State
	Rejected   bool
	Violations []lifecycle.Violation
	// Materialized holds derived events appended before the applied event,
	// such as the reentry_observed record resolving a deferred verdict.
	Materialized []lifecycle.LogEntry
	Signal       *BudgetSignal
	Reason       string
}

type pendingVerdict struct {
	strategy      Strategy
	repairEventID string
	deadline      time.Time
}

// Machine is the per-session lifecycle state machine. All mutations within a
// session are serialized by its mutex; distinct sessions are independent.
type Machine struct {
	mu  sync.Mutex
	cfg Config

	state           State
	closed          bool
	oneWay          bool
	failoverActive  bool
	failovers       int
	lastTurn        int64
	usage           map[Strategy]int
	globalUsed      int
	currentStrategy Strategy
	hasStrategy     bool
	escalationOnly  bool
	initialized     bool
	pending         *pendingVerdict
	log             []lifecycle.LogEntry
}

// NewMachine constructs an empty session machine.
func NewMachine(cfg Config) (*Machine, error) {
	if cfg.SessionID == "" {
		return nil, fmt.Errorf("session_id is required")
	}
	if cfg.Budgets.PerStrategy == nil {
		cfg.Budgets = DefaultBudgets()
	}
	if cfg.DeferTimeout <= 0 {
		cfg.DeferTimeout = 2 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Machine{
		cfg:   cfg,
		state: StateNotStarted,
		usage: map[Strategy]int{},
	}, nil
}

// SessionID returns the machine's session scope.
func (m *Machine) SessionID() string {
	return m.cfg.SessionID
}

// State returns the current lifecycle state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Closed reports whether the session reached a terminal state.
func (m *Machine) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Failovers returns the count of accepted failover_triggered events.
func (m *Machine) Failovers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failovers
}

// Log returns a copy of the session's accepted, append-only event log.
func (m *Machine) Log() []lifecycle.LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]lifecycle.LogEntry, len(m.log))
	copy(out, m.log)
	return out
}

// Apply consumes one validated event in turn order. Rejections leave session
// state untouched; the event is not appended.
func (m *Machine) Apply(entry lifecycle.LogEntry) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev := entry.Event
	from := m.state

	if ev.SessionID != m.cfg.SessionID {
		return m.reject(from, lifecycle.RuleTransitionIllegal, "event session_id %q does not match session %q", ev.SessionID, m.cfg.SessionID)
	}
	if ev.TurnSequence <= m.lastTurn {
		return m.reject(from, lifecycle.RuleTransitionOrdering, "turn_sequence %d does not advance past %d", ev.TurnSequence, m.lastTurn)
	}

	// A pending deferred verdict expires if its deadline passed before this
	// turn arrived; expiry resolves to failed, never silently. Expiry is
	// time-driven, so it commits regardless of what happens to this event.
	expired := ""
	if m.pending != nil && m.cfg.Now().After(m.pending.deadline) {
		m.failDeferred()
		expired = "deferred_verdict_expired"
	}

	if ev.Phase == lifecycle.PhaseNone {
		// Observability events never transition; they are tolerated even
		// after closure and recorded for audit.
		if ev.EventType == lifecycle.EventInfo && ev.Code == "SYS_session_init" {
			m.initialized = true
		}
		m.append(entry)
		m.lastTurn = ev.TurnSequence
		return Result{From: from, To: m.state, Reason: "observability"}
	}

	if m.closed {
		return m.reject(from, lifecycle.RuleTransitionTerminal, "lifecycle event %q after terminal state %s", ev.EventType, m.state)
	}

	if m.cfg.RequireSessionInit && m.state == StateNotStarted && !m.initialized {
		if v := m.checkSessionInit(ev); v != nil {
			return Result{From: from, To: m.state, Rejected: true, Violations: []lifecycle.Violation{*v}}
		}
	}

	// Event-driven resolution of a pending verdict is only a plan here; it
	// commits once the event is accepted, so a rejection cannot consume it.
	var plan *deferredPlan
	if m.pending != nil {
		plan = m.planDeferred(ev)
	}
	if plan != nil && plan.state != "" {
		m.state = plan.state
	}

	var result Result
	switch ev.Phase {
	case lifecycle.PhaseDrift:
		result = m.applyDrift(from, ev)
	case lifecycle.PhaseRepair:
		result = m.applyRepair(from, ev)
	case lifecycle.PhaseReentry:
		result = m.applyReentry(from, ev)
	case lifecycle.PhaseContinue:
		result = m.applyContinue(from, ev)
	case lifecycle.PhaseOutcome:
		result = m.applyOutcome(from, ev)
	case lifecycle.PhaseFailover:
		result = m.applyFailover(from, ev)
	default:
		result = m.reject(from, lifecycle.RuleTransitionIllegal, "unhandled phase %q", ev.Phase)
	}

	if result.Rejected {
		// A rejection leaves session state untouched, including any
		// prospective deferred resolution.
		m.state = from
		result.To = from
		return result
	}

	m.commitDeferred(plan)
	if expired != "" {
		result.Reason = expired
	}
	if plan != nil {
		m.log = append(m.log, plan.derived...)
		result.Materialized = plan.derived
		if plan.reason != "" {
			result.Reason = plan.reason
		}
	}
	m.append(entry)
	m.lastTurn = ev.TurnSequence
	return result
}

func (m *Machine) applyDrift(from State, ev *lifecycle.Event) Result {
	if m.oneWay {
		return m.reject(from, lifecycle.RuleTransitionOneWay, "drift after budget-exhaustion failover/outcome is illegal")
	}
	if m.failoverActive {
		return m.reject(from, lifecycle.RuleTransitionIllegal, "drift during active failover is illegal")
	}
	if m.state == StateRepair {
		// Without a deferred verdict there is no legal Repair -> Drift edge;
		// drift recurrence is observed through reentry failure.
		return m.reject(from, lifecycle.RuleTransitionIllegal, "drift directly from repair requires a deferred verdict")
	}
	m.state = StateDrift
	return Result{From: from, To: m.state, Reason: "drift_entered"}
}

func (m *Machine) applyRepair(from State, ev *lifecycle.Event) Result {
	switch m.state {
	case StateDrift, StateRepair, StateContinue, StateNotStarted:
	default:
		return m.reject(from, lifecycle.RuleTransitionIllegal, "repair event from state %s is illegal", m.state)
	}
	if m.globalExhausted() {
		return m.reject(from, lifecycle.RuleTransitionBudget, "global repair budget exhausted; only failover or outcome is legal")
	}

	strategy := StrategyFromCode(ev.Code)
	limit, available := m.cfg.Budgets.threshold(strategy)
	if !available {
		return m.reject(from, lifecycle.RuleTransitionBudget, "repair strategy %s is not configured", strategy)
	}

	escalated := ev.EventType == lifecycle.EventRepairEscalated
	if m.hasStrategy {
		switch {
		case escalated && strategyRank(strategy) <= strategyRank(m.currentStrategy):
			return m.reject(from, lifecycle.RuleTransitionBudget, "repair_escalated must upgrade strategy beyond %s", m.currentStrategy)
		case !escalated && strategyRank(strategy) < strategyRank(m.currentStrategy):
			return m.reject(from, lifecycle.RuleTransitionBudget, "repair strategy downgrade from %s to %s is illegal", m.currentStrategy, strategy)
		case !escalated && strategyRank(strategy) > strategyRank(m.currentStrategy):
			return m.reject(from, lifecycle.RuleTransitionBudget, "strategy upgrade requires repair_escalated")
		}
	}
	if m.escalationOnly && !escalated {
		return m.reject(from, lifecycle.RuleTransitionBudget, "deferred verdict failed; repair_escalated is required")
	}
	if m.usage[strategy] >= limit {
		if higher, ok := m.cfg.Budgets.higher(strategy); ok {
			return Result{From: from, To: m.state, Rejected: true,
				Violations: []lifecycle.Violation{budgetViolation("strategy %s budget exhausted; repair_escalated to %s is required", strategy, higher)},
				Signal:     &BudgetSignal{Kind: SignalEscalationRequired, Strategy: strategy, Attempts: m.usage[strategy]},
			}
		}
		return Result{From: from, To: m.state, Rejected: true,
			Violations: []lifecycle.Violation{budgetViolation("strategy %s budget exhausted with no higher strategy; only failover or outcome is legal", strategy)},
			Signal:     &BudgetSignal{Kind: SignalFailoverRequired, Strategy: strategy, Attempts: m.usage[strategy]},
		}
	}

	m.usage[strategy]++
	m.globalUsed++
	m.currentStrategy = strategy
	m.hasStrategy = true
	m.escalationOnly = false
	m.state = StateRepair

	if m.cfg.DeferReentry {
		m.pending = &pendingVerdict{
			strategy:      strategy,
			repairEventID: ev.EventID,
			deadline:      m.cfg.Now().Add(m.cfg.DeferTimeout),
		}
	}

	result := Result{From: from, To: m.state, Reason: "repair_attempt"}
	if m.usage[strategy] >= limit {
		if higher, ok := m.cfg.Budgets.higher(strategy); ok {
			result.Signal = &BudgetSignal{Kind: SignalEscalationRequired, Strategy: higher, Attempts: m.usage[strategy]}
		} else {
			m.oneWay = true
			result.Signal = &BudgetSignal{Kind: SignalFailoverRequired, Strategy: strategy, Attempts: m.usage[strategy]}
		}
	}
	if m.globalExhausted() {
		m.oneWay = true
		result.Signal = &BudgetSignal{Kind: SignalFailoverRequired, Strategy: strategy, Attempts: m.globalUsed}
	}
	return result
}

func (m *Machine) applyReentry(from State, ev *lifecycle.Event) Result {
	if m.failoverActive {
		m.failoverActive = false
		m.pending = nil
		m.state = StateReentry
		return Result{From: from, To: m.state, Reason: "failover_recovered_via_reentry"}
	}
	if m.state != StateRepair {
		return m.reject(from, lifecycle.RuleTransitionIllegal, "reentry_observed without a preceding repair is illegal")
	}
	m.pending = nil
	m.state = StateReentry
	return Result{From: from, To: m.state, Reason: "reentry_observed"}
}

func (m *Machine) applyContinue(from State, ev *lifecycle.Event) Result {
	if m.state == StateDrift {
		return m.reject(from, lifecycle.RuleTransitionIllegal, "continue immediately after drift with no intervening repair is illegal")
	}
	if m.failoverActive {
		if ev.EventType != lifecycle.EventContinueAllowed {
			return m.reject(from, lifecycle.RuleTransitionIllegal, "only continue_allowed resolves an active failover")
		}
		m.failoverActive = false
		m.state = StateContinue
		return Result{From: from, To: m.state, Reason: "failover_recovered_via_continue"}
	}
	switch m.state {
	case StateNotStarted, StateReentry, StateContinue, StateRepair:
		// Repair -> Continue is the implicit-reentry shortcut; the deferred
		// flow has already materialized the reentry record when enabled.
		m.state = StateContinue
		return Result{From: from, To: m.state, Reason: "continue"}
	default:
		return m.reject(from, lifecycle.RuleTransitionIllegal, "continue event from state %s is illegal", m.state)
	}
}

func (m *Machine) applyOutcome(from State, ev *lifecycle.Event) Result {
	m.state = StateOutcome
	m.closed = true
	m.failoverActive = false
	m.pending = nil
	return Result{From: from, To: m.state, Reason: "session_terminated"}
}

func (m *Machine) applyFailover(from State, ev *lifecycle.Event) Result {
	switch m.state {
	case StateContinue, StateNotStarted, StateReentry:
		if !m.anyBudgetExhausted() {
			return m.reject(from, lifecycle.RuleTransitionIllegal, "failover from state %s with no exhausted budget is illegal", m.state)
		}
	}
	m.failovers++
	m.failoverActive = true
	m.pending = nil
	m.state = StateFailover
	if m.globalExhausted() {
		// Global exhaustion makes the failover unrecoverable: terminal.
		m.closed = true
		m.oneWay = true
		return Result{From: from, To: m.state, Reason: "failover_terminal",
			Signal: &BudgetSignal{Kind: SignalFailoverTriggered, Strategy: m.currentStrategy, Attempts: m.globalUsed}}
	}
	return Result{From: from, To: m.state, Reason: "failover_active",
		Signal: &BudgetSignal{Kind: SignalFailoverTriggered, Strategy: m.currentStrategy, Attempts: m.usage[m.currentStrategy]}}
}

// deferredPlan is the prospective resolution of a pending verdict. Apply
// computes it before the phase handler runs and commits it only when the
// event is accepted, so a rejection can never consume the verdict.
type deferredPlan struct {
	reason         string
	escalationOnly bool
	// state, when set, is the effective pre-transition state for the phase
	// handler. It is reverted with the rest of session state on rejection.
	state          State
	derived        []lifecycle.LogEntry
	resolved       *pendingVerdict
}

// planDeferred computes the retroactive verdict for a pending repair turn: a
// drift event fails it, a further repair or a failover supersedes it, any
// other lifecycle event confirms it. Successful implicit reentry materializes
// a reentry_observed record so every deferred case eventually has one.
func (m *Machine) planDeferred(ev *lifecycle.Event) *deferredPlan {
	pending := m.pending
	switch ev.Phase {
	case lifecycle.PhaseDrift:
		// The drift event re-applies from Reentry so recurrence is a legal
		// transition.
		return &deferredPlan{reason: "deferred_verdict_failed", escalationOnly: true, state: StateReentry, resolved: pending}
	case lifecycle.PhaseRepair:
		return &deferredPlan{reason: "deferred_verdict_superseded", resolved: pending}
	case lifecycle.PhaseFailover:
		// Failover preempts the verdict; it is neither a pass nor a failure,
		// and the handler sees the unresolved Repair state. The failover
		// reason stays on the result.
		return &deferredPlan{resolved: pending}
	case lifecycle.PhaseReentry:
		// The explicit event is itself the materialization.
		return &deferredPlan{resolved: pending}
	default:
		return &deferredPlan{
			reason:   "deferred_verdict_passed",
			state:    StateReentry,
			derived:  []lifecycle.LogEntry{m.materializeReentry(pending, ev)},
			resolved: pending,
		}
	}
}

func (m *Machine) commitDeferred(plan *deferredPlan) {
	if plan == nil {
		return
	}
	// A repair handler may have armed a fresh verdict for its own turn; only
	// the planned one is consumed.
	if m.pending == plan.resolved {
		m.pending = nil
	}
	if plan.escalationOnly {
		m.escalationOnly = true
	}
}

func (m *Machine) failDeferred() {
	m.pending = nil
	m.escalationOnly = true
}

func (m *Machine) materializeReentry(pending *pendingVerdict, resolving *lifecycle.Event) lifecycle.LogEntry {
	return lifecycle.LogEntry{
		Derived: true,
		Event: &lifecycle.Event{
			SchemaVersion: resolving.SchemaVersion,
			EventID:       m.cfg.NewID(),
			Timestamp:     resolving.Timestamp,
			SessionID:     m.cfg.SessionID,
			TurnSequence:  resolving.TurnSequence,
			Source:        "lifecycle-governor",
			EventType:     lifecycle.EventReentryObserved,
			Phase:         lifecycle.PhaseReentry,
			Code:          "RE1_validated",
			Extensions: map[string]any{
				"deferred_resolution": "implicit",
				"repair_event_id":     pending.repairEventID,
				"resolved_by":         resolving.EventID,
			},
		},
	}
}

// ResolveExpired resolves a pending deferred verdict whose deadline has
// passed without a next turn. The verdict defaults to failed.
func (m *Machine) ResolveExpired(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil || !now.After(m.pending.deadline) {
		return false
	}
	m.failDeferred()
	return true
}

func (m *Machine) checkSessionInit(ev *lifecycle.Event) *lifecycle.Violation {
	if ev.EventType == lifecycle.EventContinueAllowed {
		return nil
	}
	v := lifecycle.Violation{
		RuleID:   lifecycle.RuleTransitionFirstTurn,
		Severity: lifecycle.SeverityMust,
		Field:    "event_type",
		Message:  fmt.Sprintf("session must open with continue_allowed or a SYS_session_init info event, got %q at turn %d", ev.EventType, ev.TurnSequence),
	}
	return &v
}

func (m *Machine) anyBudgetExhausted() bool {
	if m.globalExhausted() {
		return true
	}
	for strategy, used := range m.usage {
		if limit, ok := m.cfg.Budgets.threshold(strategy); ok && used >= limit {
			return true
		}
	}
	return false
}

func (m *Machine) globalExhausted() bool {
	return m.cfg.Budgets.Global > 0 && m.globalUsed >= m.cfg.Budgets.Global
}

func (m *Machine) append(entry lifecycle.LogEntry) {
	m.log = append(m.log, entry)
}

func (m *Machine) reject(from State, rule, format string, args ...any) Result {
	return Result{
		From:     from,
		To:       m.state,
		Rejected: true,
		Violations: []lifecycle.Violation{{
			RuleID:   rule,
			Severity: lifecycle.SeverityMust,
			Message:  fmt.Sprintf(format, args...),
		}},
	}
}

func budgetViolation(format string, args ...any) lifecycle.Violation {
	return lifecycle.Violation{
		RuleID:   lifecycle.RuleTransitionBudget,
		Severity: lifecycle.SeverityMust,
		Message:  fmt.Sprintf(format, args...),
	}
}
