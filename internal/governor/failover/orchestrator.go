package failover

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/tiger/agent-lifecycle-governor/internal/log"
)

// Resolution is the orchestrator's final answer for one failover episode.
type Resolution struct {
	Decision Decision      `json:"decision"`
	Attempts int           `json:"attempts"`
	Elapsed  time.Duration `json:"elapsed"`
}

// Config assembles an orchestrator.
type Config struct {
	Backoff    BackoffPolicy
	Reconciler Reconciler
	Gate       GatePolicy
	Logger     *zerolog.Logger
}

// Orchestrator paces reconciliation attempts for sessions that signalled
// budget exhaustion or an explicit failover.
type Orchestrator struct {
	cfg    Config
	logger zerolog.Logger
}

// New validates the configuration and builds an orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Reconciler == nil {
		return nil, fmt.Errorf("reconciler is required")
	}
	if cfg.Backoff == (BackoffPolicy{}) {
		cfg.Backoff = DefaultBackoffPolicy()
	}
	if err := cfg.Backoff.Validate(); err != nil {
		return nil, fmt.Errorf("backoff policy: %w", err)
	}
	if cfg.Gate.Modes == nil {
		cfg.Gate = DefaultGatePolicy()
	}
	if err := cfg.Gate.Validate(); err != nil {
		return nil, fmt.Errorf("gate policy: %w", err)
	}
	logger := log.WithComponent("failover")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Orchestrator{cfg: cfg, logger: logger}, nil
}

// Execute runs the reconciler under the configured backoff policy until it
// returns a determinate decision, attempts run out, or ctx is cancelled.
// Exhausted attempts and cancellation resolve to DecisionUnknown with the
// error preserved, so the caller's gate policy settles the action.
func (o *Orchestrator) Execute(ctx context.Context, snap Snapshot) (Resolution, error) {
	start := time.Now()
	attempts := 0

	operation := func() (Decision, error) {
		attempts++
		decision, err := o.cfg.Reconciler.Reconcile(ctx, snap)
		if err != nil {
			o.logger.Warn().
				Str("session_id", snap.SessionID).
				Int("attempt", attempts).
				Err(err).
				Msg("reconciliation attempt failed")
			return DecisionUnknown, err
		}
		if decision == DecisionUnknown {
			return DecisionUnknown, fmt.Errorf("reconciler returned indeterminate decision")
		}
		return decision, nil
	}

	decision, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(o.cfg.Backoff.newBackOff()),
		backoff.WithMaxTries(o.cfg.Backoff.MaxAttempts),
	)
	resolution := Resolution{Decision: decision, Attempts: attempts, Elapsed: time.Since(start)}
	if err != nil {
		resolution.Decision = DecisionUnknown
		o.logger.Error().
			Str("session_id", snap.SessionID).
			Int("attempts", attempts).
			Err(err).
			Msg("failover reconciliation unresolved")
		return resolution, fmt.Errorf("reconcile session %s: %w", snap.SessionID, err)
	}

	o.logger.Info().
		Str("session_id", snap.SessionID).
		Str("decision", string(decision)).
		Int("attempts", attempts).
		Dur("elapsed", resolution.Elapsed).
		Msg("failover reconciled")
	return resolution, nil
}

// Gate resolves a reconciliation decision into an allow/block action for a
// synchronous caller gating an action of the given risk category.
func (o *Orchestrator) Gate(decision Decision, risk RiskCategory) Action {
	return o.cfg.Gate.Resolve(decision, risk)
}
