// Package ingest runs the full governance pipeline over JSONL event corpora:
// parallel stateless validation, then per-session serial application to the
// lifecycle state machines.
package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"runtime"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tiger/agent-lifecycle-governor/api/lifecycle"
	"github.com/tiger/agent-lifecycle-governor/internal/governor/enforcement"
	"github.com/tiger/agent-lifecycle-governor/internal/governor/failover"
	"github.com/tiger/agent-lifecycle-governor/internal/governor/session"
	"github.com/tiger/agent-lifecycle-governor/internal/log"
	"github.com/tiger/agent-lifecycle-governor/internal/metrics"
	"github.com/tiger/agent-lifecycle-governor/internal/observability/trace"
)

// Config assembles a pipeline. Controller and Registry are required; the
// orchestrator and trace buffer are optional surfaces.
type Config struct {
	Controller   *enforcement.Controller
	Registry     *session.Registry
	Orchestrator *failover.Orchestrator
	Trace        *trace.Buffer
	// Workers bounds parallel stateless validation. Zero means GOMAXPROCS.
	Workers int
	Logger  *zerolog.Logger
}

// Summary aggregates one corpus run.
type Summary struct {
	Lines             int                       `json:"lines"`
	Accepted          int                       `json:"accepted"`
	Normalized        int                       `json:"normalized"`
	Warned            int                       `json:"warned"`
	Rejected          int                       `json:"rejected"`
	TransitionRejects int                       `json:"transition_rejects"`
	Derived           int                       `json:"derived"`
	Resolutions       map[failover.Decision]int `json:"resolutions,omitempty"`
}

// Pipeline drives raw events through validation, enforcement, and the
// session state machines.
type Pipeline struct {
	cfg    Config
	logger zerolog.Logger
}

// New validates the wiring and builds a pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Controller == nil {
		return nil, fmt.Errorf("enforcement controller is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("session registry is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	logger := log.WithComponent("ingest")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Pipeline{cfg: cfg, logger: logger}, nil
}

// Run consumes one JSONL corpus. Stateless validation fans out across
// workers; accepted events then apply to their sessions serially in input
// order, which preserves per-session turn ordering.
func (p *Pipeline) Run(ctx context.Context, r io.Reader) (Summary, error) {
	lines, err := readLines(ctx, r)
	if err != nil {
		return Summary{}, err
	}

	outcomes := make([]lifecycle.Outcome, len(lines))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)
	for i := range lines {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcomes[i] = p.cfg.Controller.ValidateRaw(lines[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Summary{}, fmt.Errorf("validate corpus: %w", err)
	}

	summary := Summary{Lines: len(lines)}
	mode := string(p.cfg.Controller.Mode())
	for _, outcome := range outcomes {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		metrics.EventsTotal.WithLabelValues(mode, string(outcome.Status)).Inc()
		p.countViolations(outcome)
		p.record(outcome, nil)

		switch outcome.Status {
		case lifecycle.StatusRejected:
			summary.Rejected++
			continue
		case lifecycle.StatusNormalized:
			summary.Normalized++
		case lifecycle.StatusWarned:
			summary.Warned++
		default:
			summary.Accepted++
		}

		entry := lifecycle.LogEntry{
			Event:       outcome.Event,
			Provisional: outcome.Provisional,
			Normalized:  outcome.Status == lifecycle.StatusNormalized,
		}
		result, err := p.cfg.Registry.Apply(entry)
		if err != nil {
			return summary, fmt.Errorf("apply session %s: %w", entry.Event.SessionID, err)
		}
		p.applyResult(ctx, &summary, entry, result)
	}
	return summary, nil
}

func (p *Pipeline) applyResult(ctx context.Context, summary *Summary, entry lifecycle.LogEntry, result session.Result) {
	if result.Rejected {
		summary.TransitionRejects++
		for _, v := range result.Violations {
			metrics.TransitionRejectsTotal.WithLabelValues(v.RuleID).Inc()
		}
		p.record(lifecycle.Rejected(result.Violations), entry.Event)
		p.logger.Debug().
			Str("session_id", entry.Event.SessionID).
			Int64("turn_sequence", entry.Event.TurnSequence).
			Str("violations", lifecycle.JoinViolations(result.Violations)).
			Msg("transition rejected")
		return
	}

	metrics.TransitionsTotal.WithLabelValues(string(result.From), string(result.To)).Inc()
	summary.Derived += len(result.Materialized)
	for _, derived := range result.Materialized {
		metrics.DerivedEventsTotal.WithLabelValues(string(derived.Event.EventType)).Inc()
	}
	if result.To == session.StateOutcome || (result.To == session.StateFailover && result.Reason == "failover_terminal") {
		metrics.SessionsClosedTotal.WithLabelValues(result.Reason).Inc()
	}

	if result.Signal == nil {
		return
	}
	metrics.BudgetSignalsTotal.WithLabelValues(string(result.Signal.Kind), string(result.Signal.Strategy)).Inc()
	if p.cfg.Orchestrator == nil || result.Signal.Kind == session.SignalEscalationRequired {
		return
	}

	machine, err := p.cfg.Registry.Session(entry.Event.SessionID)
	if err != nil {
		return
	}
	resolution, err := p.cfg.Orchestrator.Execute(ctx, failover.Snapshot{
		SessionID:      entry.Event.SessionID,
		State:          result.To,
		Strategy:       result.Signal.Strategy,
		RepairAttempts: result.Signal.Attempts,
		Failovers:      machine.Failovers(),
	})
	if err != nil {
		p.logger.Warn().Str("session_id", entry.Event.SessionID).Err(err).Msg("failover reconciliation failed")
	}
	metrics.FailoverResolutionsTotal.WithLabelValues(string(resolution.Decision)).Inc()
	if summary.Resolutions == nil {
		summary.Resolutions = make(map[failover.Decision]int)
	}
	summary.Resolutions[resolution.Decision]++
}

func (p *Pipeline) countViolations(outcome lifecycle.Outcome) {
	for _, v := range outcome.Violations {
		metrics.ViolationsTotal.WithLabelValues(v.RuleID, string(v.Severity)).Inc()
	}
	for _, v := range outcome.Warnings {
		metrics.ViolationsTotal.WithLabelValues(v.RuleID, string(v.Severity)).Inc()
	}
}

// record mirrors a decision into the trace buffer when one is wired.
// rejectedEvent carries the event for rejections, whose outcome has none.
func (p *Pipeline) record(outcome lifecycle.Outcome, rejectedEvent *lifecycle.Event) {
	if p.cfg.Trace == nil {
		return
	}
	event := outcome.Event
	if event == nil {
		event = rejectedEvent
	}
	if event == nil {
		return
	}
	p.cfg.Trace.Add(trace.Record{
		SessionID:  event.SessionID,
		Status:     outcome.Status,
		Entry:      lifecycle.LogEntry{Event: event, Provisional: outcome.Provisional, Normalized: outcome.Status == lifecycle.StatusNormalized},
		Violations: outcome.Violations,
	})
}

// readLines splits the corpus into raw JSONL payloads, skipping blank lines.
func readLines(ctx context.Context, r io.Reader) ([]json.RawMessage, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var lines []json.RawMessage
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		raw := make([]byte, len(line))
		copy(raw, line)
		lines = append(lines, raw)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read corpus: %w", err)
	}
	return lines, nil
}
