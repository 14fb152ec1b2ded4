package semantics

import (
	"fmt"

	"github.com/tiger/agent-lifecycle-governor/api/lifecycle"
)

// Validator applies the per-event semantic rules from a rule matrix. It is
// stateless: each check is a pure function of one envelope-valid event.
type Validator struct {
	matrix *Matrix
}

// NewValidator builds a validator over a rule matrix.
func NewValidator(matrix *Matrix) *Validator {
	if matrix == nil {
		matrix = DefaultMatrix()
	}
	return &Validator{matrix: matrix}
}

// Matrix exposes the rule table, for normalization decisions that must agree
// with validation.
func (v *Validator) Matrix() *Matrix {
	return v.matrix
}

// Check collects every semantic violation for one event. MUST violations
// alone force rejection outside normalize mode; SHOULD violations are
// advisory and mode-dependent.
func (v *Validator) Check(ev *lifecycle.Event) []lifecycle.Violation {
	var violations []lifecycle.Violation

	if !lifecycle.IsPhase(ev.Phase) {
		violations = append(violations, lifecycle.Violation{
			RuleID:   lifecycle.RuleSemanticPhase,
			Severity: lifecycle.SeverityMust,
			Field:    "phase",
			Message:  fmt.Sprintf("phase %q is not a legal phase value", ev.Phase),
		})
		return violations
	}

	prefix := lifecycle.CodePrefix(ev.Code)
	prefixPhase, lifecyclePrefix := v.matrix.PhaseForPrefix(prefix)

	if ev.Phase == lifecycle.PhaseNone {
		if lifecyclePrefix {
			violations = append(violations, lifecycle.Violation{
				RuleID:   lifecycle.RuleSemanticNonePrefix,
				Severity: lifecycle.SeverityMust,
				Field:    "code",
				Message:  fmt.Sprintf("lifecycle prefix %q is not allowed when phase is none", prefix),
			})
		}
	} else {
		if !lifecyclePrefix {
			violations = append(violations, lifecycle.Violation{
				RuleID:   lifecycle.RuleSemanticPrefixPhase,
				Severity: lifecycle.SeverityMust,
				Field:    "code",
				Message:  fmt.Sprintf("code prefix %q does not resolve to a lifecycle phase but phase is %q", prefix, ev.Phase),
			})
		} else if prefixPhase != ev.Phase {
			violations = append(violations, lifecycle.Violation{
				RuleID:   lifecycle.RuleSemanticPrefixPhase,
				Severity: lifecycle.SeverityMust,
				Field:    "phase",
				Message:  fmt.Sprintf("code prefix %q requires phase %q, got %q", prefix, prefixPhase, ev.Phase),
			})
		}
	}

	if required, ok := v.matrix.RequiredPhase(ev.EventType); ok && ev.Phase != required {
		violations = append(violations, lifecycle.Violation{
			RuleID:   lifecycle.RuleSemanticEventTypeMust,
			Severity: lifecycle.SeverityMust,
			Field:    "phase",
			Message:  fmt.Sprintf("event_type %q requires phase %q, got %q", ev.EventType, required, ev.Phase),
		})
	}

	if recommended, ok := v.matrix.RecommendedPhase(ev.EventType); ok && ev.Phase != recommended {
		// A SHOULD mapping permits phase none when the event justifies it.
		if ev.Phase != lifecycle.PhaseNone || !hasJustification(ev) {
			violations = append(violations, lifecycle.Violation{
				RuleID:   lifecycle.RuleSemanticEventTypeRec,
				Severity: lifecycle.SeverityShould,
				Field:    "phase",
				Message:  fmt.Sprintf("event_type %q recommends phase %q, got %q", ev.EventType, recommended, ev.Phase),
			})
		}
	}

	return violations
}

func hasJustification(ev *lifecycle.Event) bool {
	if ev.Extensions == nil {
		return false
	}
	justification, ok := ev.Extensions["justification"].(string)
	return ok && justification != ""
}
