package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"squad-clash/core/internal/app"
	"squad-clash/core/internal/batch"
	"squad-clash/core/internal/config"
	"squad-clash/core/internal/influx"
	"squad-clash/core/internal/runner"
	"squad-clash/core/internal/sim"
	"squad-clash/core/internal/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configDir string
		runs      int
		parallel  int
		maxTicks  uint64
		outPath   string
		persist   bool
	)
	flag.StringVar(&configDir, "config", "", "directory containing squadclash.json (defaults only when empty)")
	flag.IntVar(&runs, "runs", 0, "seed variants per script (overrides headless.runs)")
	flag.IntVar(&parallel, "parallel", 0, "concurrent runs (overrides headless.parallel)")
	flag.Uint64Var(&maxTicks, "max-ticks", 0, "tick limit for scripts without one (overrides headless.maxTicks)")
	flag.StringVar(&outPath, "out", "", "write the outcomes as JSON to this path")
	flag.BoolVar(&persist, "store", false, "record runs in the configured database")
	flag.Parse()

	if flag.NArg() == 0 {
		return fmt.Errorf("usage: headless [flags] script.json [script.json...]")
	}

	cfg, err := config.Load(configDir)
	if err != nil {
		return err
	}
	if runs > 0 {
		cfg.Headless.Runs = runs
	}
	if parallel > 0 {
		cfg.Headless.Parallel = parallel
	}
	if maxTicks > 0 {
		cfg.Headless.MaxTicks = maxTicks
	}

	scripts := make([]runner.Script, 0, flag.NArg())
	for _, path := range flag.Args() {
		script, err := runner.Load(path)
		if err != nil {
			return err
		}
		scripts = append(scripts, script)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stack, err := app.NewStack(cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		stack.Close(closeCtx)
	}()

	var store *storage.Store
	if persist {
		store, err = storage.Open(cfg.Storage, stack.Log)
		if err != nil {
			return err
		}
		defer store.Close()
	}
	sink, err := influx.Open(ctx, cfg.Influx, stack.Log)
	if err != nil {
		stack.Log.Warn().Err(err).Msg("influx disabled")
		sink = nil
	}
	defer sink.Close()

	outcomes, err := batch.Run(ctx, scripts, batch.Options{
		Runs:     cfg.Headless.Runs,
		Parallel: cfg.Headless.Parallel,
		MaxTicks: cfg.Headless.MaxTicks,
		Base:     cfg.Sim,
		Deps:     func() sim.Deps { return stack.Deps() },
		Store:    store,
		Sink:     sink,
		Log:      stack.Log,
	})
	if err != nil {
		return err
	}

	printReport(outcomes)
	if outPath != "" {
		data, err := json.MarshalIndent(outcomes, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal outcomes: %w", err)
		}
		if err := os.WriteFile(outPath, append(data, '\n'), 0o644); err != nil {
			return fmt.Errorf("write outcomes: %w", err)
		}
	}
	return nil
}

func printReport(outcomes []batch.Outcome) {
	fmt.Printf("=== Headless Battle Report ===\n")
	for _, outcome := range outcomes {
		if outcome.Err != "" {
			fmt.Printf("%-12s seed=%-16s FAILED %s\n", outcome.Script, outcome.Seed, outcome.Err)
			continue
		}
		report := outcome.Report
		fmt.Printf("%-12s seed=%-16s ticks=%-6d rounds=%-2d phase=%-9s failures=%d checksum=%s\n",
			outcome.Script, outcome.Seed, report.Ticks, len(report.Results), report.Phase, report.Failures, report.Checksum)
		for _, result := range report.Results {
			fmt.Printf("    round %d: %-5s %-20s %6.1fs survivors=%d\n",
				result.Round, result.Winner, result.Reason, result.Duration.Seconds(), result.Survivors)
		}
	}
	summary := batch.Summarize(outcomes)
	fmt.Printf("\nruns=%d failed=%d battles=%d left=%d right=%d draws=%d\n",
		summary.Runs, summary.Failed, summary.Battles, summary.Wins["left"], summary.Wins["right"], summary.Wins["none"])
}
