// Package taxonomy classifies lifecycle codes by stability tier. The registry
// is a versioned, read-only table loaded from configuration so the taxonomy
// can evolve without code changes.
package taxonomy

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tiger/agent-lifecycle-governor/api/lifecycle"
)

// Status is the stability tier of a taxonomy code.
type Status string

const (
	// StatusCanonical codes are stable and unconditionally usable.
	StatusCanonical Status = "canonical"
	// StatusProvisional codes are usable but not guaranteed stable; accepted
	// events carrying them are flagged so consumers can opt out.
	StatusProvisional Status = "provisional"
	// StatusPending codes are defined but not yet operational and are always
	// rejected, regardless of enforcement mode.
	StatusPending Status = "pending"
	// StatusUnknown marks codes absent from the registry.
	StatusUnknown Status = "unknown"
)

type registryFile struct {
	Version string          `yaml:"version"`
	Codes   []registryEntry `yaml:"codes"`
}

type registryEntry struct {
	Code   string `yaml:"code"`
	Status Status `yaml:"status"`
}

// Registry is a static lookup of code stability tiers.
type Registry struct {
	version string
	codes   map[string]Status
}

// Load reads a registry YAML file from disk.
func Load(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open taxonomy registry: %w", err)
	}
	defer f.Close()
	reg, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse taxonomy registry %s: %w", path, err)
	}
	return reg, nil
}

// Parse decodes a registry from YAML.
func Parse(r io.Reader) (*Registry, error) {
	var file registryFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("decode registry yaml: %w", err)
	}
	if file.Version == "" {
		return nil, fmt.Errorf("registry version is required")
	}
	codes := make(map[string]Status, len(file.Codes))
	for _, entry := range file.Codes {
		if entry.Code == "" {
			return nil, fmt.Errorf("registry entry with empty code")
		}
		if !lifecycle.IsCodeSyntax(entry.Code) {
			return nil, fmt.Errorf("registry code %q does not match code syntax", entry.Code)
		}
		switch entry.Status {
		case StatusCanonical, StatusProvisional, StatusPending:
		default:
			return nil, fmt.Errorf("registry code %q has invalid status %q", entry.Code, entry.Status)
		}
		if _, dup := codes[entry.Code]; dup {
			return nil, fmt.Errorf("registry code %q declared twice", entry.Code)
		}
		codes[entry.Code] = entry.Status
	}
	return &Registry{version: file.Version, codes: codes}, nil
}

// Default returns the built-in registry mirroring configs/registry.yaml. It is
// a fallback for callers that do not supply a registry file.
func Default() *Registry {
	codes := map[string]Status{
		"D1_instruction":         StatusCanonical,
		"D2_context":             StatusCanonical,
		"D3_repeated_plan":       StatusCanonical,
		"D4_tool_error":          StatusCanonical,
		"R1_local_repair":        StatusCanonical,
		"R2_guided_repair":       StatusCanonical,
		"R3_human_handoff":       StatusCanonical,
		"RE1_validated":          StatusCanonical,
		"RE2_checkpoint":         StatusCanonical,
		"C0_normal":              StatusCanonical,
		"C1_blocked":             StatusCanonical,
		"O0_closed":              StatusCanonical,
		"O1_success":             StatusCanonical,
		"O2_failure":             StatusCanonical,
		"F1_handoff":             StatusCanonical,
		"F2_abort":               StatusCanonical,
		"SYS_session_init":       StatusCanonical,
		"INFO_note":              StatusCanonical,
		"INFO_latency":           StatusCanonical,
		"INFO_pause":             StatusCanonical,
		"INFO_fallback":          StatusCanonical,
		"INFO_handoff":           StatusCanonical,
		"D9_unspecified":         StatusProvisional,
		"R9_unspecified":         StatusProvisional,
		"RE9_unspecified":        StatusProvisional,
		"C9_unspecified":         StatusProvisional,
		"O9_unspecified":         StatusProvisional,
		"F9_unspecified":         StatusProvisional,
		"M1_prdr":                StatusProvisional,
		"M2_vrl":                 StatusProvisional,
		"M3_fr":                  StatusProvisional,
		"D5_memory_drift":        StatusPending,
		"C2_deferred_resolution": StatusPending,
	}
	return &Registry{version: "2.0", codes: codes}
}

// Version returns the registry document version.
func (r *Registry) Version() string {
	return r.version
}

// Status classifies a code, returning StatusUnknown for unregistered codes.
func (r *Registry) Status(code string) Status {
	if status, ok := r.codes[code]; ok {
		return status
	}
	return StatusUnknown
}

// Check evaluates a code against the registry rules. Pending codes yield a
// MUST violation, unknown codes a SHOULD violation. Provisional codes yield
// no violation; callers flag them via Status.
func (r *Registry) Check(code string) []lifecycle.Violation {
	switch r.Status(code) {
	case StatusPending:
		return []lifecycle.Violation{{
			RuleID:   lifecycle.RuleTaxonomyPending,
			Severity: lifecycle.SeverityMust,
			Field:    "code",
			Message:  fmt.Sprintf("code %q is pending and not yet operational", code),
		}}
	case StatusUnknown:
		return []lifecycle.Violation{{
			RuleID:   lifecycle.RuleTaxonomyUnknown,
			Severity: lifecycle.SeverityShould,
			Field:    "code",
			Message:  fmt.Sprintf("code %q is not registered in taxonomy version %s", code, r.version),
		}}
	default:
		return nil
	}
}
