// Package failover resolves budget-exhaustion and explicit failover signals:
// a backoff policy paces reconciliation attempts, a reconciler chooses the
// session's next move, and a gate policy maps indeterminate results onto
// allow/block per action-risk category.
package failover

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// BackoffKind selects the retry pacing curve.
type BackoffKind string

const (
	BackoffConstant          BackoffKind = "constant"
	BackoffExponential       BackoffKind = "exponential"
	BackoffExponentialJitter BackoffKind = "exponential_jitter"
)

// BackoffPolicy bounds reconciliation retry pacing.
type BackoffPolicy struct {
	Kind        BackoffKind   `yaml:"kind"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	MaxAttempts uint          `yaml:"max_attempts"`
}

// DefaultBackoffPolicy paces three exponential attempts from 100ms.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		Kind:        BackoffExponential,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		MaxAttempts: 3,
	}
}

// Validate rejects a policy the orchestrator cannot run.
func (p BackoffPolicy) Validate() error {
	switch p.Kind {
	case BackoffConstant, BackoffExponential, BackoffExponentialJitter:
	default:
		return fmt.Errorf("unknown backoff kind %q", p.Kind)
	}
	if p.BaseDelay <= 0 {
		return fmt.Errorf("base_delay must be positive, got %s", p.BaseDelay)
	}
	if p.MaxDelay > 0 && p.MaxDelay < p.BaseDelay {
		return fmt.Errorf("max_delay %s is below base_delay %s", p.MaxDelay, p.BaseDelay)
	}
	if p.MaxAttempts == 0 {
		return fmt.Errorf("max_attempts must be at least 1")
	}
	return nil
}

// newBackOff builds the pacing source for one Execute call. Exponential
// without jitter pins the randomization factor to zero so waits are
// deterministic and reproducible in audit logs.
func (p BackoffPolicy) newBackOff() backoff.BackOff {
	switch p.Kind {
	case BackoffConstant:
		return backoff.NewConstantBackOff(p.BaseDelay)
	case BackoffExponentialJitter:
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = p.BaseDelay
		b.MaxInterval = p.maxDelay()
		return b
	default:
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = p.BaseDelay
		b.MaxInterval = p.maxDelay()
		b.RandomizationFactor = 0
		return b
	}
}

func (p BackoffPolicy) maxDelay() time.Duration {
	if p.MaxDelay > 0 {
		return p.MaxDelay
	}
	return 30 * time.Second
}
