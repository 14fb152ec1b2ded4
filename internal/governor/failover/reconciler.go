package failover

import (
	"context"
	"fmt"

	"github.com/tiger/agent-lifecycle-governor/internal/governor/session"
)

// Decision is the reconciliation verdict for a failed-over session.
type Decision string

const (
	// DecisionContinue resumes the main flow; the session stays open.
	DecisionContinue Decision = "continue"
	// DecisionRecover routes the session back through reentry verification.
	DecisionRecover Decision = "recover"
	// DecisionFinalize closes the session with an outcome event.
	DecisionFinalize Decision = "finalize"
	// DecisionEscalate hands the session off or abandons it.
	DecisionEscalate Decision = "escalate"
	// DecisionUnknown reports an indeterminate result; the gate policy
	// decides whether it allows or blocks.
	DecisionUnknown Decision = "unknown"
)

// Snapshot carries the session facts a reconciler may consult. It is a value
// copy; reconcilers never touch live session state.
type Snapshot struct {
	SessionID      string
	State          session.State
	Strategy       session.Strategy
	RepairAttempts int
	GlobalUsed     int
	Failovers      int
}

// Reconciler chooses the next move for a session in failover.
type Reconciler interface {
	Reconcile(ctx context.Context, snap Snapshot) (Decision, error)
}

// ReconcilerFunc adapts a function to the Reconciler interface.
type ReconcilerFunc func(ctx context.Context, snap Snapshot) (Decision, error)

func (f ReconcilerFunc) Reconcile(ctx context.Context, snap Snapshot) (Decision, error) {
	return f(ctx, snap)
}

// ThresholdReconciler decides purely from repair attempt counts: low counts
// continue, moderate counts recover through reentry, anything above
// RecoverUpTo finalizes. A malformed snapshot yields DecisionUnknown so the
// gate policy, not a guess, settles the call.
type ThresholdReconciler struct {
	// ContinueUpTo is the highest attempt count still reconciled as continue.
	ContinueUpTo int
	// RecoverUpTo is the highest attempt count reconciled as recover.
	RecoverUpTo int
}

// DefaultThresholds continue through 1 attempt and recover through 3.
func DefaultThresholds() ThresholdReconciler {
	return ThresholdReconciler{ContinueUpTo: 1, RecoverUpTo: 3}
}

func (r ThresholdReconciler) Reconcile(_ context.Context, snap Snapshot) (Decision, error) {
	if snap.SessionID == "" || snap.RepairAttempts < 0 || snap.Failovers < 0 {
		return DecisionUnknown, fmt.Errorf("malformed session snapshot: id=%q attempts=%d failovers=%d",
			snap.SessionID, snap.RepairAttempts, snap.Failovers)
	}
	if r.RecoverUpTo < r.ContinueUpTo {
		return DecisionUnknown, fmt.Errorf("inconsistent thresholds: recover_up_to %d below continue_up_to %d",
			r.RecoverUpTo, r.ContinueUpTo)
	}
	switch {
	case snap.RepairAttempts <= r.ContinueUpTo:
		return DecisionContinue, nil
	case snap.RepairAttempts <= r.RecoverUpTo:
		return DecisionRecover, nil
	default:
		return DecisionFinalize, nil
	}
}
