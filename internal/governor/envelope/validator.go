// Package envelope validates one untyped structural record against the
// envelope schema. A rejected envelope never reaches semantic validation.
package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/tiger/agent-lifecycle-governor/api/lifecycle"
)

// Config controls envelope validation behavior.
type Config struct {
	// SupportedMajor is the schema_version major component this runtime
	// accepts. Minor differences are compatible. Defaults to 2.
	SupportedMajor uint64
	// SchemaPath optionally points at the envelope JSON Schema document. When
	// set, the compiled schema runs alongside the typed checks.
	SchemaPath string
}

// Validator checks structural envelopes. Stateless and safe for concurrent use.
type Validator struct {
	supportedMajor uint64
	schema         *jsonschema.Schema
}

// NewValidator builds an envelope validator, compiling the JSON Schema when
// one is configured.
func NewValidator(cfg Config) (*Validator, error) {
	if cfg.SupportedMajor == 0 {
		cfg.SupportedMajor = 2
	}
	v := &Validator{supportedMajor: cfg.SupportedMajor}
	if cfg.SchemaPath != "" {
		schema, err := compileSchema(cfg.SchemaPath)
		if err != nil {
			return nil, err
		}
		v.schema = schema
	}
	return v, nil
}

func compileSchema(path string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open envelope schema: %w", err)
	}
	defer f.Close()
	if err := compiler.AddResource(path, f); err != nil {
		return nil, fmt.Errorf("add envelope schema resource: %w", err)
	}
	schema, err := compiler.Compile(path)
	if err != nil {
		return nil, fmt.Errorf("compile envelope schema: %w", err)
	}
	return schema, nil
}

// requiredFields lists required envelope fields and their expected JSON kinds,
// checked in a fixed order so violation lists are deterministic.
var requiredFields = []struct {
	name string
	kind string
}{
	{"schema_version", "string"},
	{"event_id", "string"},
	{"timestamp", "string"},
	{"session_id", "string"},
	{"turn_sequence", "integer"},
	{"source", "string"},
	{"event_type", "string"},
	{"phase", "string"},
	{"code", "string"},
}

// Validate checks one raw record. On success the decoded immutable event is
// returned; on failure the full list of MUST violations is returned and the
// event never reaches later components. All checks are collected, not
// short-circuited, so callers see the complete defect list.
func (v *Validator) Validate(raw json.RawMessage) (*lifecycle.Event, []lifecycle.Violation) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, []lifecycle.Violation{must(lifecycle.RuleEnvelopeRequired, "", "record is not a JSON object: %v", err)}
	}

	var violations []lifecycle.Violation
	for _, field := range requiredFields {
		value, present := fields[field.name]
		if !present || value == nil {
			violations = append(violations, must(lifecycle.RuleEnvelopeRequired, field.name, "required field is missing"))
			continue
		}
		if !kindMatches(value, field.kind) {
			violations = append(violations, must(lifecycle.RuleEnvelopeFieldType, field.name, "expected %s, got %T", field.kind, value))
		}
	}

	violations = append(violations, checkOptionalFields(fields)...)

	if code, ok := fields["code"].(string); ok && !lifecycle.IsCodeSyntax(code) {
		violations = append(violations, must(lifecycle.RuleEnvelopeCodeSyntax, "code", "code %q does not match required syntax", code))
	}
	if name, ok := fields["event_type"].(string); ok && !lifecycle.IsEventType(lifecycle.EventType(name)) {
		violations = append(violations, must(lifecycle.RuleEnvelopeEventType, "event_type", "unknown event_type %q", name))
	}
	if ts, ok := fields["timestamp"].(string); ok {
		if _, err := time.Parse(time.RFC3339, ts); err != nil {
			violations = append(violations, must(lifecycle.RuleEnvelopeFieldType, "timestamp", "timestamp must be RFC3339: %v", err))
		}
	}
	if seq, ok := fields["turn_sequence"].(float64); ok && kindMatches(seq, "integer") && seq < 1 {
		violations = append(violations, must(lifecycle.RuleEnvelopeFieldType, "turn_sequence", "turn_sequence must be >= 1, got %v", seq))
	}
	if version, ok := fields["schema_version"].(string); ok {
		violations = append(violations, v.checkVersion(version)...)
	}

	if v.schema != nil {
		var payload any
		if err := json.Unmarshal(raw, &payload); err == nil {
			if err := v.schema.Validate(payload); err != nil {
				violations = append(violations, must(lifecycle.RuleEnvelopeSchema, "", "envelope schema validation failed: %v", err))
			}
		}
	}

	if len(violations) > 0 {
		return nil, violations
	}

	event, err := decodeStrict(raw)
	if err != nil {
		return nil, []lifecycle.Violation{must(lifecycle.RuleEnvelopeFieldType, "", "envelope decode failed: %v", err)}
	}
	return event, nil
}

func (v *Validator) checkVersion(version string) []lifecycle.Violation {
	parsed, err := semver.NewVersion(version)
	if err != nil {
		return []lifecycle.Violation{must(lifecycle.RuleEnvelopeVersion, "schema_version", "schema_version %q is not a valid version: %v", version, err)}
	}
	if parsed.Major() != v.supportedMajor {
		return []lifecycle.Violation{must(lifecycle.RuleEnvelopeVersion, "schema_version", "schema_version major %d is incompatible with supported major %d", parsed.Major(), v.supportedMajor)}
	}
	return nil
}

func checkOptionalFields(fields map[string]any) []lifecycle.Violation {
	var violations []lifecycle.Violation
	if confidence, present := fields["confidence"]; present && confidence != nil {
		value, ok := confidence.(float64)
		if !ok {
			violations = append(violations, must(lifecycle.RuleEnvelopeFieldType, "confidence", "expected number, got %T", confidence))
		} else if value < 0 || value > 1 {
			violations = append(violations, must(lifecycle.RuleEnvelopeFieldType, "confidence", "confidence must be within [0,1], got %v", value))
		}
	}
	if ux, present := fields["ux"]; present && ux != nil {
		block, ok := ux.(map[string]any)
		if !ok {
			violations = append(violations, must(lifecycle.RuleEnvelopeFieldType, "ux", "expected object, got %T", ux))
		} else if change, present := block["user_visible_state_change"]; present {
			if _, ok := change.(bool); !ok {
				violations = append(violations, must(lifecycle.RuleEnvelopeFieldType, "ux.user_visible_state_change", "expected boolean, got %T", change))
			}
		}
	}
	return violations
}

func kindMatches(value any, kind string) bool {
	switch kind {
	case "string":
		_, ok := value.(string)
		return ok
	case "integer":
		number, ok := value.(float64)
		return ok && number == math.Trunc(number)
	default:
		return false
	}
}

func decodeStrict(raw json.RawMessage) (*lifecycle.Event, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var event lifecycle.Event
	if err := dec.Decode(&event); err != nil {
		return nil, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("unexpected trailing JSON payload")
	}
	return &event, nil
}

func must(rule, field, format string, args ...any) lifecycle.Violation {
	return lifecycle.Violation{
		RuleID:   rule,
		Severity: lifecycle.SeverityMust,
		Field:    field,
		Message:  fmt.Sprintf(format, args...),
	}
}
