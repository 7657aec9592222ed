// Command zdp runs the zero-downtime deployment monitor: it watches business
// metrics for the configured industries, decides when a deployment is doing
// measurable harm, executes the appropriate rollback strategy, and keeps a
// tamper-evident evidence trail of everything it saw and did.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/analysis"
	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/baseline"
	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/collectors/finance"
	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/collectors/pharma"
	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/config"
	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/decision"
	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/evidence"
	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/health"
	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/metrics"
	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/notify"
	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/observability"
	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/orchestrator"
	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/regression"
	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/rollback"
	"github.com/shopspring/decimal"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	deploymentID := flag.String("deployment", "trading-app", "deployment identifier to monitor")
	once := flag.Bool("once", false, "run a single monitoring cycle and exit")
	flag.Parse()

	if err := run(*configPath, *deploymentID, *once); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(configPath, deploymentID string, once bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log, closeSink, err := buildEvidenceLog(cfg)
	if err != nil {
		return err
	}
	defer closeSink()

	obs, err := observability.New(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(sctx)
	}()

	slo := observability.NewSLOTracker()
	for _, target := range observability.DefaultTargets() {
		slo.SetTarget(target)
	}

	reg := metrics.NewRegistry()
	if err := registerCollectors(ctx, cfg, reg, log); err != nil {
		return err
	}
	manager := metrics.NewManager(reg, log)

	engine, err := decision.NewEngine(decision.Config{
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		Overrides:           overrideRules(cfg),
	}, log, nil)
	if err != nil {
		return err
	}

	notifier := notify.NewDispatcher([]notify.Transport{&notify.LogTransport{}},
		notify.WithEvidenceLog(log))
	executor := rollback.NewExecutor(rollback.SimulatedDrivers(&rollback.SimulatedDriver{
		StepDelay: 100 * time.Millisecond,
	}), log, notifier,
		rollback.WithGlobalTimeout(cfg.ExecutionTimeout()))

	analyzer := analysis.NewAnalyzer(analysis.DefaultConfig(), log, nil)
	probes, err := buildProbes(cfg, log)
	if err != nil {
		return err
	}

	orch, err := orchestrator.New(orchestrator.Config{
		DeploymentID: deploymentID,
		Interval:     cfg.MonitoringInterval(),
	}, manager, engine, executor, analyzer, log,
		orchestrator.WithHealthExecutor(probes),
		orchestrator.WithObservability(obs),
		orchestrator.WithSLOTracker(slo),
	)
	if err != nil {
		return err
	}

	slog.Info("monitor started",
		"deployment", deploymentID,
		"industries", cfg.EnabledIndustries,
		"interval", cfg.MonitoringInterval(),
		"evidence_sink", cfg.Evidence.Sink,
	)

	if once {
		report, err := orch.RunCycle(ctx)
		if err != nil {
			return err
		}
		printCycle(report)
		return nil
	}
	return orch.Run(ctx)
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN", "WARNING":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

// buildEvidenceLog wires the configured durable sink under the in-memory
// hash-chained log.
func buildEvidenceLog(cfg *config.Config) (*evidence.Log, func(), error) {
	noop := func() {}
	switch cfg.Evidence.Sink {
	case "memory":
		return evidence.NewLog(evidence.WithSink(evidence.NewMemorySink())), noop, nil
	case "file":
		sink, err := evidence.NewFileSink(cfg.Evidence.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open file sink: %w", err)
		}
		return evidence.NewLog(evidence.WithSink(sink)), func() { _ = sink.Close() }, nil
	case "sqlite":
		sink, err := evidence.NewSQLiteSink(cfg.Evidence.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite sink: %w", err)
		}
		return evidence.NewLog(evidence.WithSink(sink)), func() { _ = sink.Close() }, nil
	case "postgres":
		sink, err := evidence.OpenPostgresSink(cfg.Evidence.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres sink: %w", err)
		}
		return evidence.NewLog(evidence.WithSink(sink)), func() { _ = sink.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown evidence sink %q", cfg.Evidence.Sink)
	}
}

// registerCollectors wires one collector per enabled industry and replays its
// historical window into the baseline store before the first cycle.
func registerCollectors(ctx context.Context, cfg *config.Config, reg *metrics.Registry, log *evidence.Log) error {
	baselineCfg := baseline.Config{
		WindowHours:    cfg.BaselineWindowHours,
		MinimumSamples: cfg.BaselineMinimumSamples,
	}

	if cfg.IndustryEnabled(config.IndustryFinance) {
		store := baseline.NewStore(baselineCfg, nil)
		c := finance.New(finance.NewSimulatedSource(time.Now().UnixNano()), store, financeThresholds(cfg), log, nil)
		if err := reg.Register(c); err != nil {
			return err
		}
		if _, err := c.EstablishBaseline(ctx, cfg.BaselineWindowHours); err != nil {
			return fmt.Errorf("establish finance baseline: %w", err)
		}
	}
	if cfg.IndustryEnabled(config.IndustryPharma) {
		store := baseline.NewStore(baselineCfg, nil)
		c := pharma.New(pharma.NewSimulatedSource(time.Now().UnixNano()), store, pharmaThresholds(cfg), log, nil)
		if err := reg.Register(c); err != nil {
			return err
		}
		if _, err := c.EstablishBaseline(ctx, cfg.BaselineWindowHours); err != nil {
			return fmt.Errorf("establish pharma baseline: %w", err)
		}
	}
	if len(reg.Names()) == 0 {
		return fmt.Errorf("no collectors enabled")
	}
	return nil
}

func financeThresholds(cfg *config.Config) finance.Thresholds {
	t := finance.DefaultThresholds()
	overrideDecimal(&t.RevenueLossPerMinuteCatastrophic, cfg.Finance.RevenueLossPerMinuteCatastrophic)
	overrideDecimal(&t.RevenueLossPerMinuteCritical, cfg.Finance.RevenueLossPerMinuteCritical)
	overrideDecimal(&t.RevenueLossPerMinuteHigh, cfg.Finance.RevenueLossPerMinuteHigh)
	overrideDecimal(&t.RevenueLossPerMinuteMedium, cfg.Finance.RevenueLossPerMinuteMedium)
	overrideDecimal(&t.LatencyCostPerMs, cfg.Finance.LatencyCostPerMs)
	overrideDecimal(&t.ErrorCostPerFailure, cfg.Finance.ErrorCostPerFailure)
	return t
}

func pharmaThresholds(cfg *config.Config) pharma.Thresholds {
	t := pharma.DefaultThresholds()
	if cfg.Pharma.EfficiencyFloorPercent > 0 {
		t.EfficiencyFloorPercent = cfg.Pharma.EfficiencyFloorPercent
	}
	overrideDecimal(&t.LossPerEfficiencyPoint, cfg.Pharma.LossPerEfficiencyPoint)
	overrideDecimal(&t.ComplianceViolationLoss, cfg.Pharma.ComplianceViolationLoss)
	for name, band := range cfg.Pharma.ParameterRanges {
		if len(band) == 2 {
			t.ParameterRanges[name] = pharma.Range{Min: band[0], Max: band[1]}
		}
	}
	return t
}

// overrideDecimal replaces dst with the configured value when one is set.
// A malformed amount keeps the default; thresholds must never silently
// become zero.
func overrideDecimal(dst *decimal.Decimal, raw string) {
	if raw == "" {
		return
	}
	if d, err := decimal.NewFromString(raw); err == nil {
		*dst = d
	} else {
		slog.Warn("ignoring malformed threshold", "value", raw, "error", err)
	}
}

func overrideRules(cfg *config.Config) []decision.OverrideRule {
	rules := make([]decision.OverrideRule, 0, len(cfg.DecisionOverrides))
	for _, r := range cfg.DecisionOverrides {
		switch r.Action {
		case "force":
			rules = append(rules, decision.ForceRule(r.Name, r.Expression))
		default:
			rules = append(rules, decision.SuppressRule(r.Name, r.Expression))
		}
	}
	return rules
}

func buildProbes(cfg *config.Config, log *evidence.Log) (*health.Executor, error) {
	store := baseline.NewStore(baseline.DefaultConfig(), nil)
	detector := regression.NewDetector(store, regression.Config{
		ThresholdPercent: cfg.RegressionThresholdPercent,
	})

	reg := health.NewRegistry()
	if err := reg.Register("system_resources", &health.SystemResourcesProbe{}); err != nil {
		return nil, err
	}
	if err := reg.Register("evidence_sink", &health.EvidenceSinkProbe{Log: log}); err != nil {
		return nil, err
	}

	return health.NewExecutor(reg, store, detector, log,
		health.WithTimeout(cfg.ProbeTimeout())), nil
}

func printCycle(report *orchestrator.CycleReport) {
	if report.Overall == nil {
		fmt.Println("cycle produced no assessments")
		return
	}
	fmt.Printf("impact=%s loss=%s confidence=%.2f\n",
		report.Overall.ImpactLevel,
		report.Overall.EstimatedLoss.StringFixed(2),
		report.Overall.Confidence)
	if report.Verdict != nil {
		fmt.Printf("urgency=%s recommended=%v suppressed=%v\n",
			report.Verdict.Decision.Urgency,
			report.Verdict.Decision.RollbackRecommended,
			report.Verdict.Suppressed)
	}
	for name, probe := range report.Probes {
		fmt.Printf("probe %s: %s (score %.0f)\n", name, probe.Status, probe.Score)
	}
}
