package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tiger/agent-lifecycle-governor/internal/config"
	"github.com/tiger/agent-lifecycle-governor/internal/governor/enforcement"
	"github.com/tiger/agent-lifecycle-governor/internal/governor/envelope"
	"github.com/tiger/agent-lifecycle-governor/internal/governor/failover"
	"github.com/tiger/agent-lifecycle-governor/internal/governor/semantics"
	"github.com/tiger/agent-lifecycle-governor/internal/governor/session"
	"github.com/tiger/agent-lifecycle-governor/internal/governor/taxonomy"
	"github.com/tiger/agent-lifecycle-governor/internal/log"
	"github.com/tiger/agent-lifecycle-governor/internal/observability/stability"
	"github.com/tiger/agent-lifecycle-governor/internal/observability/trace"
	"github.com/tiger/agent-lifecycle-governor/internal/tooling/ingest"
)

func main() {
	if len(os.Args) < 3 {
		printUsage()
		os.Exit(2)
	}

	cfg := config.Default()
	if len(os.Args) >= 4 {
		loaded, err := config.Load(os.Args[3])
		if err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	log.Configure(log.Config{Level: cfg.LogLevel})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "validate":
		err = runValidate(ctx, cfg, os.Args[2])
	case "metrics":
		err = runMetrics(ctx, cfg, os.Args[2])
	case "audit":
		err = runAudit(ctx, cfg, os.Args[2])
	default:
		printUsage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("alg-cli usage:")
	fmt.Println("  alg-cli validate <events.jsonl> [config.yaml]")
	fmt.Println("  alg-cli metrics  <events.jsonl> [config.yaml]")
	fmt.Println("  alg-cli audit    <events.jsonl> [config.yaml]")
}

// runValidate drives a corpus through the pipeline and prints the summary.
// It exits nonzero when any event was rejected.
func runValidate(ctx context.Context, cfg config.Runtime, corpusPath string) error {
	summary, _, err := runPipeline(ctx, cfg, corpusPath)
	if err != nil {
		return err
	}
	if err := printJSON(summary); err != nil {
		return err
	}
	if summary.Rejected > 0 || summary.TransitionRejects > 0 {
		os.Exit(1)
	}
	return nil
}

// runMetrics validates, then computes and grades the stability report over
// the accepted log.
func runMetrics(ctx context.Context, cfg config.Runtime, corpusPath string) error {
	_, registry, err := runPipeline(ctx, cfg, corpusPath)
	if err != nil {
		return err
	}
	report := stability.Compute(registry.Logs(), cfg.MetricOptions())
	assessment := cfg.Thresholds().Evaluate(report)
	return printJSON(struct {
		Report     stability.Report     `json:"report"`
		Assessment stability.Assessment `json:"assessment"`
	}{report, assessment})
}

// runAudit validates, then checks the accepted per-session logs for
// structural defects. It exits nonzero when any finding is reported.
func runAudit(ctx context.Context, cfg config.Runtime, corpusPath string) error {
	_, registry, err := runPipeline(ctx, cfg, corpusPath)
	if err != nil {
		return err
	}
	findings := stability.AuditSequences(registry.SessionLogs())
	if err := printJSON(findings); err != nil {
		return err
	}
	if len(findings) > 0 {
		os.Exit(1)
	}
	return nil
}

func runPipeline(ctx context.Context, cfg config.Runtime, corpusPath string) (ingest.Summary, *session.Registry, error) {
	pipeline, registry, err := buildPipeline(cfg)
	if err != nil {
		return ingest.Summary{}, nil, err
	}
	corpus, err := os.Open(corpusPath)
	if err != nil {
		return ingest.Summary{}, nil, fmt.Errorf("open corpus: %w", err)
	}
	defer corpus.Close()

	summary, err := pipeline.Run(ctx, corpus)
	if err != nil {
		return ingest.Summary{}, nil, fmt.Errorf("run pipeline: %w", err)
	}
	return summary, registry, nil
}

func buildPipeline(cfg config.Runtime) (*ingest.Pipeline, *session.Registry, error) {
	envValidator, err := envelope.NewValidator(envelope.Config{
		SupportedMajor: cfg.Schema.SupportedMajor,
		SchemaPath:     cfg.Schema.Path,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("envelope validator: %w", err)
	}

	matrix := semantics.DefaultMatrix()
	if cfg.MatrixPath != "" {
		if matrix, err = semantics.LoadMatrix(cfg.MatrixPath); err != nil {
			return nil, nil, fmt.Errorf("load matrix: %w", err)
		}
	}
	registry := taxonomy.Default()
	if cfg.RegistryPath != "" {
		if registry, err = taxonomy.Load(cfg.RegistryPath); err != nil {
			return nil, nil, fmt.Errorf("load registry: %w", err)
		}
	}

	controller, err := enforcement.New(enforcement.Config{
		Mode:      enforcement.Mode(cfg.Mode),
		Envelope:  envValidator,
		Semantics: semantics.NewValidator(matrix),
		Registry:  registry,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("enforcement controller: %w", err)
	}

	orchestrator, err := failover.New(failover.Config{
		Backoff:    cfg.BackoffPolicy(),
		Reconciler: cfg.Reconciler(),
		Gate:       cfg.GatePolicy(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failover orchestrator: %w", err)
	}

	buffer, err := trace.NewBuffer(cfg.Trace.Capacity)
	if err != nil {
		return nil, nil, fmt.Errorf("trace buffer: %w", err)
	}

	sessions := session.NewRegistry(cfg.SessionConfig())
	pipeline, err := ingest.New(ingest.Config{
		Controller:   controller,
		Registry:     sessions,
		Orchestrator: orchestrator,
		Trace:        buffer,
		Workers:      cfg.Workers,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("pipeline: %w", err)
	}
	return pipeline, sessions, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
