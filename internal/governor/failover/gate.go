package failover

import "fmt"

// RiskCategory classifies the action a synchronous caller is gating on.
type RiskCategory string

const (
	RiskLow    RiskCategory = "low"
	RiskMedium RiskCategory = "medium"
	RiskHigh   RiskCategory = "high"
)

// FailMode states what happens when validation is indeterminate.
type FailMode string

const (
	// FailOpen allows the action despite the indeterminate result.
	FailOpen FailMode = "fail_open"
	// FailClosed blocks the action until a determinate result exists.
	FailClosed FailMode = "fail_closed"
)

// Action is the gate verdict handed to a synchronous caller.
type Action string

const (
	ActionAllow Action = "allow"
	ActionBlock Action = "block"
)

// GatePolicy maps indeterminate reconciliation results onto allow/block per
// action-risk category. The mapping is a deployment parameter; there is no
// hardcoded default inside Resolve.
type GatePolicy struct {
	Modes map[RiskCategory]FailMode `yaml:"modes"`
}

// DefaultGatePolicy fails open for low risk and closed for medium and high.
func DefaultGatePolicy() GatePolicy {
	return GatePolicy{Modes: map[RiskCategory]FailMode{
		RiskLow:    FailOpen,
		RiskMedium: FailClosed,
		RiskHigh:   FailClosed,
	}}
}

// Validate rejects policies with unknown categories or modes.
func (g GatePolicy) Validate() error {
	for category, mode := range g.Modes {
		switch category {
		case RiskLow, RiskMedium, RiskHigh:
		default:
			return fmt.Errorf("unknown risk category %q", category)
		}
		switch mode {
		case FailOpen, FailClosed:
		default:
			return fmt.Errorf("unknown fail mode %q for category %q", mode, category)
		}
	}
	return nil
}

// Resolve maps a reconciliation decision to a gate action for one risk
// category. Determinate decisions ignore the fail mode; only DecisionUnknown
// consults it. An unconfigured category fails closed.
func (g GatePolicy) Resolve(decision Decision, risk RiskCategory) Action {
	switch decision {
	case DecisionContinue, DecisionRecover:
		return ActionAllow
	case DecisionFinalize, DecisionEscalate:
		return ActionBlock
	}
	if g.Modes[risk] == FailOpen {
		return ActionAllow
	}
	return ActionBlock
}
