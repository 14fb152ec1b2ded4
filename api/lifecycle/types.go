package lifecycle

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Phase is the canonical session lifecycle phase carried by every event.
type Phase string

const (
	PhaseDrift    Phase = "drift"
	PhaseRepair   Phase = "repair"
	PhaseReentry  Phase = "reentry"
	PhaseContinue Phase = "continue"
	PhaseOutcome  Phase = "outcome"
	PhaseFailover Phase = "failover"
	PhaseNone     Phase = "none"
)

// Phases lists the seven legal phase values in declaration order.
func Phases() []Phase {
	return []Phase{PhaseDrift, PhaseRepair, PhaseReentry, PhaseContinue, PhaseOutcome, PhaseFailover, PhaseNone}
}

// IsPhase reports whether p is one of the seven legal phase values.
func IsPhase(p Phase) bool {
	switch p {
	case PhaseDrift, PhaseRepair, PhaseReentry, PhaseContinue, PhaseOutcome, PhaseFailover, PhaseNone:
		return true
	default:
		return false
	}
}

// EventType is the closed set of behavioral event types.
type EventType string

const (
	EventDriftDetected    EventType = "drift_detected"
	EventDriftEscalated   EventType = "drift_escalated"
	EventRepairTriggered  EventType = "repair_triggered"
	EventRepairEscalated  EventType = "repair_escalated"
	EventReentryObserved  EventType = "reentry_observed"
	EventContinueAllowed  EventType = "continue_allowed"
	EventContinueBlocked  EventType = "continue_blocked"
	EventFailoverTriggered EventType = "failover_triggered"
	EventEvaluationPass   EventType = "evaluation_pass"
	EventEvaluationFail   EventType = "evaluation_fail"
	EventSessionClosed    EventType = "session_closed"
	EventInfo             EventType = "info"
	EventLatencySpike     EventType = "latency_spike"
	EventPauseDetected    EventType = "pause_detected"
	EventFallbackExecuted EventType = "fallback_executed"
	EventHandoff          EventType = "handoff"
)

// IsEventType reports whether t is a known event type.
func IsEventType(t EventType) bool {
	switch t {
	case EventDriftDetected, EventDriftEscalated, EventRepairTriggered, EventRepairEscalated,
		EventReentryObserved, EventContinueAllowed, EventContinueBlocked, EventFailoverTriggered,
		EventEvaluationPass, EventEvaluationFail, EventSessionClosed, EventInfo,
		EventLatencySpike, EventPauseDetected, EventFallbackExecuted, EventHandoff:
		return true
	default:
		return false
	}
}

// UX captures the user-visible surface of an event.
type UX struct {
	UserVisibleStateChange bool `json:"user_visible_state_change"`
}

// Event is the structural envelope for one behavioral record. Once an event is
// accepted it is immutable: corrections produce a new event, never an in-place edit.
type Event struct {
	SchemaVersion string         `json:"schema_version"`
	EventID       string         `json:"event_id"`
	Timestamp     time.Time      `json:"timestamp"`
	SessionID     string         `json:"session_id"`
	TurnSequence  int64          `json:"turn_sequence"`
	Source        string         `json:"source"`
	EventType     EventType      `json:"event_type"`
	Phase         Phase          `json:"phase"`
	Code          string         `json:"code"`
	Confidence    *float64       `json:"confidence,omitempty"`
	UX            *UX            `json:"ux,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	Runtime       map[string]any `json:"runtime,omitempty"`
	Metrics       map[string]any `json:"metrics,omitempty"`
	Extensions    map[string]any `json:"extensions,omitempty"`
}

// codeRE is the fixed syntax for taxonomy codes: uppercase-leading prefix,
// optional numeric classifier, optional lowercase snake_case suffix.
var codeRE = regexp.MustCompile(`^[A-Z][A-Z0-9]*([0-9]+)?(_[a-z0-9]+)*$`)

// IsCodeSyntax reports whether code matches the fixed taxonomy code syntax.
func IsCodeSyntax(code string) bool {
	return codeRE.MatchString(code)
}

// CodePrefix extracts the leading run of uppercase letters from a code,
// e.g. "D4_tool_error" -> "D", "RE2_checkpoint" -> "RE". Digits are never
// part of the prefix and never influence phase resolution.
func CodePrefix(code string) string {
	end := 0
	for end < len(code) && code[end] >= 'A' && code[end] <= 'Z' {
		end++
	}
	return code[:end]
}

// CodeClassifier returns the numeric classifier directly following the prefix,
// e.g. "R2_guided" -> "2". Empty when the code carries no classifier. The
// classifier may segment reporting but never overrides phase resolution.
func CodeClassifier(code string) string {
	rest := code[len(CodePrefix(code)):]
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	return rest[:end]
}

// HasDescriptor reports whether a code carries a snake_case descriptor suffix.
func HasDescriptor(code string) bool {
	return strings.Contains(code, "_")
}

// Clone returns a deep-enough copy of the event for safe correction: scalar
// fields are copied, map-valued fields are shallow-copied one level.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	dup := *e
	if e.Confidence != nil {
		c := *e.Confidence
		dup.Confidence = &c
	}
	if e.UX != nil {
		u := *e.UX
		dup.UX = &u
	}
	dup.Payload = cloneMap(e.Payload)
	dup.Runtime = cloneMap(e.Runtime)
	dup.Metrics = cloneMap(e.Metrics)
	dup.Extensions = cloneMap(e.Extensions)
	return &dup
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	dup := make(map[string]any, len(m))
	for k, v := range m {
		dup[k] = v
	}
	return dup
}

// Validate enforces the envelope field contract on an already-decoded event.
// All failures are collected so a caller sees the full defect list.
func (e *Event) Validate() []Violation {
	var violations []Violation
	add := func(rule, field, format string, args ...any) {
		violations = append(violations, Violation{
			RuleID:   rule,
			Severity: SeverityMust,
			Field:    field,
			Message:  fmt.Sprintf(format, args...),
		})
	}

	if e.SchemaVersion == "" {
		add(RuleEnvelopeRequired, "schema_version", "schema_version is required")
	}
	if e.EventID == "" {
		add(RuleEnvelopeRequired, "event_id", "event_id is required")
	}
	if e.Timestamp.IsZero() {
		add(RuleEnvelopeRequired, "timestamp", "timestamp is required")
	}
	if e.SessionID == "" {
		add(RuleEnvelopeRequired, "session_id", "session_id is required")
	}
	if e.TurnSequence < 1 {
		add(RuleEnvelopeRequired, "turn_sequence", "turn_sequence must be >= 1, got %d", e.TurnSequence)
	}
	if e.Source == "" {
		add(RuleEnvelopeRequired, "source", "source is required")
	}
	if !IsEventType(e.EventType) {
		add(RuleEnvelopeEventType, "event_type", "unknown event_type %q", e.EventType)
	}
	if e.Code == "" {
		add(RuleEnvelopeRequired, "code", "code is required")
	} else if !IsCodeSyntax(e.Code) {
		add(RuleEnvelopeCodeSyntax, "code", "code %q does not match required syntax", e.Code)
	}
	if e.Confidence != nil && (*e.Confidence < 0 || *e.Confidence > 1) {
		add(RuleEnvelopeFieldType, "confidence", "confidence must be within [0,1], got %v", *e.Confidence)
	}
	return violations
}
