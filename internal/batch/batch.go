// Package batch runs headless scripts in parallel over seed variants and
// records every report in storage and influx.
package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"squad-clash/core/internal/influx"
	"squad-clash/core/internal/runner"
	"squad-clash/core/internal/sim"
	"squad-clash/core/internal/storage"
)

// Options configures a batch.
type Options struct {
	// Runs is the number of seed variants per script. Variant i > 0 plays
	// under "<seed>#<i>".
	Runs     int
	Parallel int
	// MaxTicks bounds scripts that do not set their own limit.
	MaxTicks uint64
	Base     sim.Config
	// Deps returns the dependencies for one run.
	Deps  func() sim.Deps
	Store *storage.Store
	Sink  *influx.Sink
	Log   zerolog.Logger
	Clock func() time.Time
	// NewID names runs; it defaults to uuid.NewString.
	NewID func() string
}

// Outcome is one finished run.
type Outcome struct {
	RunID  string        `json:"runId"`
	Script string        `json:"script"`
	Seed   string        `json:"seed"`
	Report runner.Report `json:"report"`
	Err    string        `json:"error,omitempty"`
}

type job struct {
	index   int
	name    string
	variant int
	script  runner.Script
}

// VariantSeed names the seed played by variant i of seed.
func VariantSeed(seed string, i int) string {
	if i == 0 {
		return seed
	}
	return fmt.Sprintf("%s#%d", seed, i)
}

// Run plays every script Runs times. Outcomes keep script order then
// variant order regardless of scheduling. A run that fails records its
// error in the outcome; only cancellation aborts the batch.
func Run(ctx context.Context, scripts []runner.Script, opts Options) ([]Outcome, error) {
	runs := opts.Runs
	if runs <= 0 {
		runs = 1
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}

	var jobs []job
	for i, script := range scripts {
		name := script.Name
		if name == "" {
			name = fmt.Sprintf("script-%d", i+1)
		}
		for v := 0; v < runs; v++ {
			variant := script
			variant.Seed = VariantSeed(script.Seed, v)
			jobs = append(jobs, job{index: len(jobs), name: name, variant: v, script: variant})
		}
	}

	outcomes := make([]Outcome, len(jobs))
	for i := range jobs {
		outcomes[i].RunID = newID()
	}

	group, gctx := errgroup.WithContext(ctx)
	if opts.Parallel > 0 {
		group.SetLimit(opts.Parallel)
	}
	for _, j := range jobs {
		group.Go(func() error {
			outcome := &outcomes[j.index]
			outcome.Script = j.name
			report, err := play(gctx, j.script, opts)
			outcome.Report = report
			outcome.Seed = report.Seed
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				outcome.Err = err.Error()
				opts.Log.Warn().Err(err).Str("script", j.name).Int("variant", j.variant).Msg("run failed")
				return nil
			}
			record(gctx, *outcome, clock(), opts)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return outcomes, err
	}
	return outcomes, nil
}

func play(ctx context.Context, script runner.Script, opts Options) (runner.Report, error) {
	deps := sim.Deps{}
	if opts.Deps != nil {
		deps = opts.Deps()
	}
	r, err := runner.FromScript(script, opts.Base, deps, runner.Options{Log: opts.Log})
	if err != nil {
		return runner.Report{Seed: script.Seed}, err
	}
	defer r.Close()

	maxTicks := script.MaxTicks
	if maxTicks == 0 {
		maxTicks = opts.MaxTicks
	}
	return r.Run(ctx, maxTicks)
}

func record(ctx context.Context, outcome Outcome, at time.Time, opts Options) {
	if opts.Store != nil {
		run, err := storage.RunFromReport(outcome.RunID, outcome.Script, outcome.Report)
		if err == nil {
			err = opts.Store.SaveRun(ctx, run)
		}
		if err != nil {
			opts.Log.Error().Err(err).Str("run", outcome.RunID).Msg("run not stored")
		}
	}
	if err := opts.Sink.RecordRun(ctx, outcome.RunID, outcome.Report, at); err != nil {
		opts.Log.Warn().Err(err).Str("run", outcome.RunID).Msg("run stats not recorded")
	}
}

// Summary tallies battle winners across outcomes.
type Summary struct {
	Runs     int            `json:"runs"`
	Failed   int            `json:"failed"`
	Battles  int            `json:"battles"`
	Wins     map[string]int `json:"wins"`
	Ticks    uint64         `json:"ticks"`
	Failures int            `json:"instructionFailures"`
}

// Summarize aggregates outcomes.
func Summarize(outcomes []Outcome) Summary {
	summary := Summary{Wins: make(map[string]int)}
	for _, outcome := range outcomes {
		summary.Runs++
		if outcome.Err != "" {
			summary.Failed++
			continue
		}
		summary.Ticks += outcome.Report.Ticks
		summary.Failures += outcome.Report.Failures
		for _, result := range outcome.Report.Results {
			summary.Battles++
			summary.Wins[result.Winner.String()]++
		}
	}
	return summary
}
