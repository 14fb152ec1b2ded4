// Package enforcement wraps the structural and semantic validators under a
// selectable enforcement mode, attempting safe, deterministic auto-correction
// in normalize mode.
package enforcement

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/tiger/agent-lifecycle-governor/api/lifecycle"
	"github.com/tiger/agent-lifecycle-governor/internal/governor/envelope"
	"github.com/tiger/agent-lifecycle-governor/internal/governor/semantics"
	"github.com/tiger/agent-lifecycle-governor/internal/governor/taxonomy"
)

// Mode selects the enforcement policy. Immutable for a controller's lifetime.
type Mode string

const (
	ModeStrict    Mode = "strict"
	ModeWarn      Mode = "warn"
	ModeNormalize Mode = "normalize"
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeStrict, ModeWarn, ModeNormalize:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown enforcement mode %q", s)
	}
}

// Config assembles a controller.
type Config struct {
	Mode      Mode
	Envelope  *envelope.Validator
	Semantics *semantics.Validator
	Registry  *taxonomy.Registry
	// NewID supplies identifiers for corrected events. Defaults to UUIDv4.
	NewID func() string
}

// Controller produces the canonical ValidationOutcome for each event. The
// mode-specific behavior lives in an injected policy object, not in
// pervasive conditionals.
type Controller struct {
	envelope  *envelope.Validator
	semantics *semantics.Validator
	registry  *taxonomy.Registry
	policy    policy
	newID     func() string
}

// New builds a controller for the given mode.
func New(cfg Config) (*Controller, error) {
	if cfg.Envelope == nil {
		return nil, fmt.Errorf("envelope validator is required")
	}
	if cfg.Semantics == nil {
		cfg.Semantics = semantics.NewValidator(nil)
	}
	if cfg.Registry == nil {
		cfg.Registry = taxonomy.Default()
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	c := &Controller{
		envelope:  cfg.Envelope,
		semantics: cfg.Semantics,
		registry:  cfg.Registry,
		newID:     cfg.NewID,
	}
	switch cfg.Mode {
	case ModeStrict:
		c.policy = strictPolicy{}
	case ModeWarn:
		c.policy = warnPolicy{}
	case ModeNormalize:
		c.policy = normalizePolicy{}
	default:
		return nil, fmt.Errorf("unknown enforcement mode %q", cfg.Mode)
	}
	return c, nil
}

// Mode reports the controller's enforcement mode.
func (c *Controller) Mode() Mode {
	return c.policy.mode()
}

// ValidateRaw runs the full per-event pipeline on an untyped record:
// envelope, then semantics and taxonomy under the active policy.
func (c *Controller) ValidateRaw(raw json.RawMessage) lifecycle.Outcome {
	event, violations := c.envelope.Validate(raw)
	if len(violations) > 0 {
		return lifecycle.Rejected(violations)
	}
	return c.ValidateEvent(event)
}

// ValidateEvent applies semantic and taxonomy rules to an envelope-valid
// event under the active policy. The input event is never mutated.
func (c *Controller) ValidateEvent(event *lifecycle.Event) lifecycle.Outcome {
	semantic := c.semantics.Check(event)
	tax := c.registry.Check(event.Code)
	all := append(append([]lifecycle.Violation{}, semantic...), tax...)
	return c.policy.resolve(c, event, all)
}

func (c *Controller) provisional(code string) bool {
	return c.registry.Status(code) == taxonomy.StatusProvisional
}

// policy is the mode strategy: it decides how collected violations translate
// into a ValidationOutcome.
type policy interface {
	mode() Mode
	resolve(c *Controller, event *lifecycle.Event, violations []lifecycle.Violation) lifecycle.Outcome
}

type strictPolicy struct{}

func (strictPolicy) mode() Mode { return ModeStrict }

func (strictPolicy) resolve(c *Controller, event *lifecycle.Event, violations []lifecycle.Violation) lifecycle.Outcome {
	if len(violations) > 0 {
		return lifecycle.Rejected(violations)
	}
	return lifecycle.Outcome{
		Status:      lifecycle.StatusAccepted,
		Event:       event,
		Provisional: c.provisional(event.Code),
	}
}

type warnPolicy struct{}

func (warnPolicy) mode() Mode { return ModeWarn }

func (warnPolicy) resolve(c *Controller, event *lifecycle.Event, violations []lifecycle.Violation) lifecycle.Outcome {
	if lifecycle.HasMust(violations) {
		return lifecycle.Rejected(violations)
	}
	status := lifecycle.StatusAccepted
	if len(violations) > 0 {
		status = lifecycle.StatusWarned
	}
	return lifecycle.Outcome{
		Status:      status,
		Event:       event,
		Warnings:    violations,
		Provisional: c.provisional(event.Code),
	}
}

type normalizePolicy struct{}

func (normalizePolicy) mode() Mode { return ModeNormalize }

func (normalizePolicy) resolve(c *Controller, event *lifecycle.Event, violations []lifecycle.Violation) lifecycle.Outcome {
	corrected, corrections := c.proposeCorrections(event, violations)
	if corrected == nil {
		// Nothing correctable: fall back to warn semantics.
		return warnPolicy{}.resolve(c, event, violations)
	}

	// Re-validate the candidate strictly; a correction that leaves MUST
	// violations behind is not a correction.
	recheck := append(append([]lifecycle.Violation{}, c.semantics.Check(corrected)...), c.registry.Check(corrected.Code)...)
	if lifecycle.HasMust(recheck) {
		return lifecycle.Rejected(violations)
	}

	corrected.EventID = c.newID()
	if corrected.Extensions == nil {
		corrected.Extensions = map[string]any{}
	}
	corrected.Extensions["normalized_from"] = event.EventID

	return lifecycle.Outcome{
		Status:      lifecycle.StatusNormalized,
		Event:       corrected,
		Original:    event,
		Corrections: corrections,
		Warnings:    recheck,
		Provisional: c.provisional(corrected.Code),
	}
}

// proposeCorrections builds a corrected copy when, and only when, every
// correction is unique and unambiguous. Returns nil when no correction
// applies or any candidate is ambiguous.
func (c *Controller) proposeCorrections(event *lifecycle.Event, violations []lifecycle.Violation) (*lifecycle.Event, []lifecycle.Correction) {
	matrix := c.semantics.Matrix()
	var corrections []lifecycle.Correction
	corrected := event.Clone()

	if lifecycle.HasMust(violations) {
		requiredByType, typeKnown := matrix.RequiredPhase(event.EventType)
		prefixPhase, prefixKnown := matrix.PhaseForPrefix(lifecycle.CodePrefix(event.Code))

		switch {
		case typeKnown && prefixKnown && requiredByType != prefixPhase:
			// Two plausible targets: ambiguous, never guess.
			return nil, nil
		case typeKnown && requiredByType != event.Phase && (!prefixKnown || prefixPhase == requiredByType):
			corrections = append(corrections, lifecycle.Correction{
				RuleID: lifecycle.RuleSemanticEventTypeMust,
				Field:  "phase",
				From:   string(event.Phase),
				To:     string(requiredByType),
			})
			corrected.Phase = requiredByType
		case !typeKnown && prefixKnown && prefixPhase != event.Phase:
			corrections = append(corrections, lifecycle.Correction{
				RuleID: lifecycle.RuleSemanticPrefixPhase,
				Field:  "phase",
				From:   string(event.Phase),
				To:     string(prefixPhase),
			})
			corrected.Phase = prefixPhase
		}
	}

	// Placeholder descriptor: a bare code gains the documented default
	// suffix when the registry recognizes the completed form.
	if !lifecycle.HasDescriptor(event.Code) && c.registry.Status(event.Code) == taxonomy.StatusUnknown {
		candidate := event.Code + "_unspecified"
		if c.registry.Status(candidate) != taxonomy.StatusUnknown {
			corrections = append(corrections, lifecycle.Correction{
				RuleID: lifecycle.RuleTaxonomyUnknown,
				Field:  "code",
				From:   event.Code,
				To:     candidate,
			})
			corrected.Code = candidate
		}
	}

	if len(corrections) == 0 {
		return nil, nil
	}
	return corrected, corrections
}
