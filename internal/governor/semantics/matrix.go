// Package semantics checks phase/prefix consistency and event_type phase
// legality for a single event, independent of session history.
package semantics

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tiger/agent-lifecycle-governor/api/lifecycle"
)

type matrixFile struct {
	Version        string                     `yaml:"version"`
	PrefixToPhase  map[string]lifecycle.Phase `yaml:"prefix_to_phase"`
	MustPhaseMap   map[string]lifecycle.Phase `yaml:"must_phase_map"`
	ShouldPhaseMap map[string]lifecycle.Phase `yaml:"should_phase_map"`
}

// Matrix is the versioned phase/transition rule table consumed by the
// semantic validator. Loaded from configuration, never mutated at runtime.
type Matrix struct {
	version       string
	prefixToPhase map[string]lifecycle.Phase
	must          map[lifecycle.EventType]lifecycle.Phase
	should        map[lifecycle.EventType]lifecycle.Phase
}

// LoadMatrix reads an event matrix YAML file from disk.
func LoadMatrix(path string) (*Matrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open event matrix: %w", err)
	}
	defer f.Close()
	m, err := ParseMatrix(f)
	if err != nil {
		return nil, fmt.Errorf("parse event matrix %s: %w", path, err)
	}
	return m, nil
}

// ParseMatrix decodes an event matrix from YAML.
func ParseMatrix(r io.Reader) (*Matrix, error) {
	var file matrixFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("decode matrix yaml: %w", err)
	}
	if file.Version == "" {
		return nil, fmt.Errorf("matrix version is required")
	}
	m := &Matrix{
		version:       file.Version,
		prefixToPhase: map[string]lifecycle.Phase{},
		must:          map[lifecycle.EventType]lifecycle.Phase{},
		should:        map[lifecycle.EventType]lifecycle.Phase{},
	}
	for prefix, phase := range file.PrefixToPhase {
		if !lifecycle.IsPhase(phase) || phase == lifecycle.PhaseNone {
			return nil, fmt.Errorf("prefix %q maps to invalid lifecycle phase %q", prefix, phase)
		}
		m.prefixToPhase[prefix] = phase
	}
	for name, phase := range file.MustPhaseMap {
		if !lifecycle.IsEventType(lifecycle.EventType(name)) {
			return nil, fmt.Errorf("must_phase_map names unknown event_type %q", name)
		}
		if !lifecycle.IsPhase(phase) {
			return nil, fmt.Errorf("must_phase_map %q maps to invalid phase %q", name, phase)
		}
		m.must[lifecycle.EventType(name)] = phase
	}
	for name, phase := range file.ShouldPhaseMap {
		if !lifecycle.IsEventType(lifecycle.EventType(name)) {
			return nil, fmt.Errorf("should_phase_map names unknown event_type %q", name)
		}
		if !lifecycle.IsPhase(phase) {
			return nil, fmt.Errorf("should_phase_map %q maps to invalid phase %q", name, phase)
		}
		if _, dup := m.must[lifecycle.EventType(name)]; dup {
			return nil, fmt.Errorf("event_type %q appears in both must and should maps", name)
		}
		m.should[lifecycle.EventType(name)] = phase
	}
	return m, nil
}

// DefaultMatrix returns the built-in rule table mirroring configs/matrix.yaml.
func DefaultMatrix() *Matrix {
	return &Matrix{
		version: "2.0",
		prefixToPhase: map[string]lifecycle.Phase{
			"D":  lifecycle.PhaseDrift,
			"R":  lifecycle.PhaseRepair,
			"RE": lifecycle.PhaseReentry,
			"C":  lifecycle.PhaseContinue,
			"O":  lifecycle.PhaseOutcome,
			"F":  lifecycle.PhaseFailover,
		},
		must: map[lifecycle.EventType]lifecycle.Phase{
			lifecycle.EventDriftDetected:     lifecycle.PhaseDrift,
			lifecycle.EventDriftEscalated:    lifecycle.PhaseDrift,
			lifecycle.EventRepairTriggered:   lifecycle.PhaseRepair,
			lifecycle.EventRepairEscalated:   lifecycle.PhaseRepair,
			lifecycle.EventReentryObserved:   lifecycle.PhaseReentry,
			lifecycle.EventContinueAllowed:   lifecycle.PhaseContinue,
			lifecycle.EventContinueBlocked:   lifecycle.PhaseContinue,
			lifecycle.EventFailoverTriggered: lifecycle.PhaseFailover,
		},
		should: map[lifecycle.EventType]lifecycle.Phase{
			lifecycle.EventEvaluationPass: lifecycle.PhaseOutcome,
			lifecycle.EventEvaluationFail: lifecycle.PhaseOutcome,
			lifecycle.EventSessionClosed:  lifecycle.PhaseOutcome,
			lifecycle.EventInfo:           lifecycle.PhaseNone,
		},
	}
}

// Version returns the matrix document version.
func (m *Matrix) Version() string {
	return m.version
}

// PhaseForPrefix resolves a lifecycle prefix to its phase.
func (m *Matrix) PhaseForPrefix(prefix string) (lifecycle.Phase, bool) {
	phase, ok := m.prefixToPhase[prefix]
	return phase, ok
}

// RequiredPhase returns the MUST-level phase for an event type.
func (m *Matrix) RequiredPhase(t lifecycle.EventType) (lifecycle.Phase, bool) {
	phase, ok := m.must[t]
	return phase, ok
}

// RecommendedPhase returns the SHOULD-level phase for an event type.
func (m *Matrix) RecommendedPhase(t lifecycle.EventType) (lifecycle.Phase, bool) {
	phase, ok := m.should[t]
	return phase, ok
}
