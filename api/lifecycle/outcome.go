package lifecycle

// OutcomeStatus tags the result of validating one event.
type OutcomeStatus string

const (
	StatusAccepted   OutcomeStatus = "accepted"
	StatusNormalized OutcomeStatus = "normalized"
	StatusWarned     OutcomeStatus = "warned"
	StatusRejected   OutcomeStatus = "rejected"
)

// Correction records one deterministic field rewrite applied during normalization.
type Correction struct {
	RuleID string `json:"rule_id"`
	Field  string `json:"field"`
	From   string `json:"from"`
	To     string `json:"to"`
}

// Outcome is the canonical validation result for one event.
//
// Exactly one of the four statuses applies:
//   - accepted:   Event is the input, untouched.
//   - normalized: Event is a corrected copy; Original retains the input for audit.
//   - warned:     Event is the input; Warnings lists the tolerated SHOULD violations.
//   - rejected:   Event is nil; Violations lists every defect found.
type Outcome struct {
	Status      OutcomeStatus `json:"status"`
	Event       *Event        `json:"event,omitempty"`
	Original    *Event        `json:"original,omitempty"`
	Corrections []Correction  `json:"corrections,omitempty"`
	Warnings    []Violation   `json:"warnings,omitempty"`
	Violations  []Violation   `json:"violations,omitempty"`

	// Provisional flags a code classified provisional by the taxonomy registry.
	// The event is usable but downstream consumers may opt to exclude it.
	Provisional bool `json:"provisional,omitempty"`
}

// Accepted reports whether the outcome yields a usable event.
func (o Outcome) Accepted() bool {
	return o.Status != StatusRejected
}

// Rejected builds a rejection outcome from the collected violations.
func Rejected(violations []Violation) Outcome {
	return Outcome{Status: StatusRejected, Violations: violations}
}

// LogEntry is one accepted event in a validated session log, annotated with
// the provenance the metrics engine needs for eligibility decisions.
type LogEntry struct {
	Event       *Event `json:"event"`
	Provisional bool   `json:"provisional,omitempty"`
	Normalized  bool   `json:"normalized,omitempty"`
	// Derived marks events materialized by the engine itself, such as the
	// reentry_observed record resolving a deferred repair verdict.
	Derived bool `json:"derived,omitempty"`
}
