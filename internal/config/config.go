// Package config loads the runtime configuration: enforcement mode, policy
// file paths, repair budgets, failover policies, and metric options.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tiger/agent-lifecycle-governor/internal/governor/enforcement"
	"github.com/tiger/agent-lifecycle-governor/internal/governor/failover"
	"github.com/tiger/agent-lifecycle-governor/internal/governor/session"
	"github.com/tiger/agent-lifecycle-governor/internal/observability/stability"
)

// Duration decodes YAML strings like "100ms" or "2m" into a time.Duration.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("duration must be a string like \"100ms\": %w", err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std converts to the standard library type.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Runtime is the full governance runtime configuration.
type Runtime struct {
	Mode string `yaml:"mode"`

	Schema struct {
		Path           string `yaml:"path"`
		SupportedMajor uint64 `yaml:"supported_major"`
	} `yaml:"schema"`

	RegistryPath string `yaml:"registry_path"`
	MatrixPath   string `yaml:"matrix_path"`

	Budgets struct {
		Strategies map[string]int `yaml:"strategies"`
		Global     int            `yaml:"global"`
	} `yaml:"budgets"`

	Sessions struct {
		RequireSessionInit bool     `yaml:"require_session_init"`
		DeferReentry       bool     `yaml:"defer_reentry"`
		DeferTimeout       Duration `yaml:"defer_timeout"`
	} `yaml:"sessions"`

	Backoff struct {
		Kind        string   `yaml:"kind"`
		BaseDelay   Duration `yaml:"base_delay"`
		MaxDelay    Duration `yaml:"max_delay"`
		MaxAttempts uint     `yaml:"max_attempts"`
	} `yaml:"backoff"`

	Reconciliation struct {
		ContinueUpTo int `yaml:"continue_up_to"`
		RecoverUpTo  int `yaml:"recover_up_to"`
	} `yaml:"reconciliation"`

	Gate map[string]string `yaml:"gate"`

	Metrics struct {
		RecurrenceWindow   int64    `yaml:"recurrence_window"`
		RecoveryCutoff     Duration `yaml:"recovery_cutoff"`
		ExcludeProvisional bool     `yaml:"exclude_provisional"`
		ExcludeNormalized  bool     `yaml:"exclude_normalized"`
		ExcludeDerived     bool     `yaml:"exclude_derived"`
		Thresholds         *struct {
			PRDR stability.Threshold `yaml:"prdr"`
			VRL  stability.Threshold `yaml:"vrl"`
			FR   stability.Threshold `yaml:"fr"`
		} `yaml:"thresholds"`
	} `yaml:"metrics"`

	Trace struct {
		Capacity int `yaml:"capacity"`
	} `yaml:"trace"`

	Workers  int    `yaml:"workers"`
	LogLevel string `yaml:"log_level"`
}

// Default returns the configuration used when no file is given: warn mode,
// default budgets, exponential backoff, default thresholds.
func Default() Runtime {
	var r Runtime
	r.Mode = string(enforcement.ModeWarn)
	r.Trace.Capacity = 256
	return r
}

// Load reads and validates a runtime configuration file.
func Load(path string) (Runtime, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Runtime{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(bytes.NewReader(data))
}

// Parse decodes a runtime configuration. Unknown keys are rejected so typos
// fail loudly instead of silently running defaults.
func Parse(r io.Reader) (Runtime, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Runtime{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Runtime{}, err
	}
	return cfg, nil
}

// Validate checks cross-field consistency.
func (r Runtime) Validate() error {
	if _, err := enforcement.ParseMode(r.Mode); err != nil {
		return err
	}
	for name := range r.Budgets.Strategies {
		switch session.Strategy(name) {
		case session.StrategyStatic, session.StrategyGuided, session.StrategyHuman:
		default:
			return fmt.Errorf("unknown repair strategy %q", name)
		}
	}
	if r.Budgets.Global < 0 {
		return fmt.Errorf("global budget must not be negative")
	}
	if r.Sessions.DeferReentry && r.Mode != string(enforcement.ModeNormalize) {
		return fmt.Errorf("sessions.defer_reentry requires mode normalize, got %q", r.Mode)
	}
	if r.Backoff.Kind != "" {
		if err := r.BackoffPolicy().Validate(); err != nil {
			return err
		}
	}
	if err := r.GatePolicy().Validate(); err != nil {
		return err
	}
	if r.Trace.Capacity <= 0 {
		return fmt.Errorf("trace capacity must be positive")
	}
	if r.Workers < 0 {
		return fmt.Errorf("workers must not be negative")
	}
	return nil
}

// SessionConfig builds the session machine template.
func (r Runtime) SessionConfig() session.Config {
	budgets := session.DefaultBudgets()
	if len(r.Budgets.Strategies) > 0 {
		budgets.PerStrategy = make(map[session.Strategy]int, len(r.Budgets.Strategies))
		for name, limit := range r.Budgets.Strategies {
			budgets.PerStrategy[session.Strategy(name)] = limit
		}
	}
	budgets.Global = r.Budgets.Global
	return session.Config{
		Budgets:            budgets,
		DeferReentry:       r.Sessions.DeferReentry,
		DeferTimeout:       r.Sessions.DeferTimeout.Std(),
		RequireSessionInit: r.Sessions.RequireSessionInit,
	}
}

// BackoffPolicy builds the failover pacing policy.
func (r Runtime) BackoffPolicy() failover.BackoffPolicy {
	if r.Backoff.Kind == "" {
		return failover.DefaultBackoffPolicy()
	}
	return failover.BackoffPolicy{
		Kind:        failover.BackoffKind(r.Backoff.Kind),
		BaseDelay:   r.Backoff.BaseDelay.Std(),
		MaxDelay:    r.Backoff.MaxDelay.Std(),
		MaxAttempts: r.Backoff.MaxAttempts,
	}
}

// Reconciler builds the threshold reconciliation policy.
func (r Runtime) Reconciler() failover.ThresholdReconciler {
	if r.Reconciliation.ContinueUpTo == 0 && r.Reconciliation.RecoverUpTo == 0 {
		return failover.DefaultThresholds()
	}
	return failover.ThresholdReconciler{
		ContinueUpTo: r.Reconciliation.ContinueUpTo,
		RecoverUpTo:  r.Reconciliation.RecoverUpTo,
	}
}

// GatePolicy builds the fail-open/fail-closed mapping.
func (r Runtime) GatePolicy() failover.GatePolicy {
	if len(r.Gate) == 0 {
		return failover.DefaultGatePolicy()
	}
	modes := make(map[failover.RiskCategory]failover.FailMode, len(r.Gate))
	for category, mode := range r.Gate {
		modes[failover.RiskCategory(category)] = failover.FailMode(mode)
	}
	return failover.GatePolicy{Modes: modes}
}

// MetricOptions builds the metric eligibility options.
func (r Runtime) MetricOptions() stability.Options {
	return stability.Options{
		RecurrenceWindow:   r.Metrics.RecurrenceWindow,
		RecoveryCutoff:     r.Metrics.RecoveryCutoff.Std(),
		ExcludeProvisional: r.Metrics.ExcludeProvisional,
		ExcludeNormalized:  r.Metrics.ExcludeNormalized,
		ExcludeDerived:     r.Metrics.ExcludeDerived,
	}
}

// Thresholds builds the metric grading thresholds.
func (r Runtime) Thresholds() stability.Thresholds {
	if r.Metrics.Thresholds == nil {
		return stability.DefaultThresholds()
	}
	return stability.Thresholds{
		PRDR: r.Metrics.Thresholds.PRDR,
		VRL:  r.Metrics.Thresholds.VRL,
		FR:   r.Metrics.Thresholds.FR,
	}
}
