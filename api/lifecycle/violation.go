package lifecycle

import (
	"fmt"
	"strings"
)

// Severity grades a rule: MUST violations are fatal outside normalization,
// SHOULD violations are advisory and mode-dependent.
type Severity string

const (
	SeverityMust   Severity = "MUST"
	SeverityShould Severity = "SHOULD"
)

// Rule identifiers carried on violations. Stable across releases so that a
// rejection can be reproduced from its recorded rule id, severity, and field.
const (
	RuleEnvelopeRequired   = "ENV-001"
	RuleEnvelopeFieldType  = "ENV-002"
	RuleEnvelopeCodeSyntax = "ENV-003"
	RuleEnvelopeVersion    = "ENV-004"
	RuleEnvelopeEventType  = "ENV-005"
	RuleEnvelopeSchema     = "ENV-006"

	RuleSemanticPhase         = "SEM-001"
	RuleSemanticPrefixPhase   = "SEM-002"
	RuleSemanticNonePrefix    = "SEM-003"
	RuleSemanticEventTypeMust = "SEM-004"
	RuleSemanticEventTypeRec  = "SEM-005"

	RuleTaxonomyPending     = "TAX-001"
	RuleTaxonomyProvisional = "TAX-002"
	RuleTaxonomyUnknown     = "TAX-003"

	RuleTransitionIllegal   = "LCG-001"
	RuleTransitionBudget    = "LCG-002"
	RuleTransitionTerminal  = "LCG-003"
	RuleTransitionOneWay    = "LCG-004"
	RuleTransitionFirstTurn = "LCG-005"
	RuleTransitionOrdering  = "LCG-006"
)

// Violation is one validation defect with enough detail to reproduce the decision.
type Violation struct {
	RuleID   string   `json:"rule_id"`
	Severity Severity `json:"severity"`
	Field    string   `json:"field,omitempty"`
	Message  string   `json:"message"`
}

func (v Violation) String() string {
	if v.Field == "" {
		return fmt.Sprintf("%s[%s]: %s", v.RuleID, v.Severity, v.Message)
	}
	return fmt.Sprintf("%s[%s] %s: %s", v.RuleID, v.Severity, v.Field, v.Message)
}

// HasMust reports whether any violation in the list carries MUST severity.
func HasMust(violations []Violation) bool {
	for _, v := range violations {
		if v.Severity == SeverityMust {
			return true
		}
	}
	return false
}

// JoinViolations renders a violation list for log and error messages.
func JoinViolations(violations []Violation) string {
	parts := make([]string, 0, len(violations))
	for _, v := range violations {
		parts = append(parts, v.String())
	}
	return strings.Join(parts, "; ")
}
