package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"squad-clash/core/internal/battle"
	"squad-clash/core/internal/economy"
	"squad-clash/core/internal/ecs"
	"squad-clash/core/internal/runner"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	store, err := New(db, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleReport(seed string, winners ...ecs.Team) runner.Report {
	report := runner.Report{
		Seed:      seed,
		Ticks:     812,
		Executed:  9,
		Completed: true,
		Phase:     "placement",
		Round:     len(winners) + 1,
		Checksum:  "abc123",
		Stats: []economy.PlayerStats{
			{PlayerID: "p1", Gold: 320, Spent: 210, Earned: 30},
			{PlayerID: "p2", Gold: 150, Spent: 380, Earned: 30},
		},
		Log: []runner.LogEntry{{Index: 0, Type: runner.PlaceUnit, Result: true}},
	}
	for i, winner := range winners {
		report.Results = append(report.Results, battle.Result{
			Round:     i + 1,
			Winner:    winner,
			Reason:    battle.ReasonEliminated,
			Duration:  12500 * time.Millisecond,
			Survivors: 3,
		})
	}
	return report
}

func TestRunFromReport(t *testing.T) {
	run, err := RunFromReport("run-1", "skirmish", sampleReport("s", ecs.TeamLeft, ecs.TeamNone))
	require.NoError(t, err)

	assert.Equal(t, "run-1", run.ID)
	assert.Equal(t, "abc123", run.Checksum)
	require.Len(t, run.Battles, 2)
	assert.Equal(t, "left", run.Battles[0].Winner)
	assert.Equal(t, "none", run.Battles[1].Winner)
	assert.Equal(t, int64(12500), run.Battles[0].DurationMs)
	assert.Equal(t, "run-1", run.Battles[1].RunID)

	var stats []economy.PlayerStats
	require.NoError(t, json.Unmarshal(run.Stats, &stats))
	assert.Equal(t, 380, stats[1].Spent)
}

func TestSaveAndLoadRun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	run, err := RunFromReport("run-1", "skirmish", sampleReport("seed-a", ecs.TeamRight, ecs.TeamLeft))
	require.NoError(t, err)
	require.NoError(t, store.SaveRun(ctx, run))

	loaded, err := store.Run(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "seed-a", loaded.Seed)
	assert.Equal(t, uint64(812), loaded.Ticks)
	assert.True(t, loaded.Completed)
	require.Len(t, loaded.Battles, 2)
	assert.Equal(t, 1, loaded.Battles[0].Round)
	assert.Equal(t, "right", loaded.Battles[0].Winner)
	assert.Equal(t, "left", loaded.Battles[1].Winner)

	var log []runner.LogEntry
	require.NoError(t, json.Unmarshal(loaded.Log, &log))
	require.Len(t, log, 1)
	assert.Equal(t, runner.PlaceUnit, log[0].Type)
}

func TestRunNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Run(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveRunRequiresID(t *testing.T) {
	store := newTestStore(t)
	assert.Error(t, store.SaveRun(context.Background(), Run{Seed: "x"}))
}

func TestDuplicateRunIsRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	run, err := RunFromReport("dup", "", sampleReport("seed"))
	require.NoError(t, err)
	require.NoError(t, store.SaveRun(ctx, run))
	assert.Error(t, store.SaveRun(ctx, run))
}

func TestQueries(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	inputs := []struct {
		id      string
		seed    string
		winners []ecs.Team
	}{
		{"a", "seed-1", []ecs.Team{ecs.TeamLeft, ecs.TeamLeft}},
		{"b", "seed-1", []ecs.Team{ecs.TeamRight}},
		{"c", "seed-2", []ecs.Team{ecs.TeamNone}},
	}
	for _, in := range inputs {
		run, err := RunFromReport(in.id, "", sampleReport(in.seed, in.winners...))
		require.NoError(t, err)
		require.NoError(t, store.SaveRun(ctx, run))
	}

	all, err := store.Runs(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	for _, run := range all {
		assert.Empty(t, run.Battles)
	}

	limited, err := store.Runs(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	bySeed, err := store.RunsBySeed(ctx, "seed-1")
	require.NoError(t, err)
	require.Len(t, bySeed, 2)
	assert.ElementsMatch(t, []string{"a", "b"}, []string{bySeed[0].ID, bySeed[1].ID})

	counts, err := store.WinCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"left": 2, "right": 1, "none": 1}, counts)
}

func TestOpenDefaultsToSQLite(t *testing.T) {
	store, err := Open(Config{Path: fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())}, zerolog.Nop())
	require.NoError(t, err)
	defer store.Close()
	assert.Equal(t, DriverSQLite, store.Driver())

	_, err = Open(Config{Driver: "mongo"}, zerolog.Nop())
	assert.Error(t, err)
}

func TestNilStoreIgnoresWrites(t *testing.T) {
	var store *Store
	assert.NoError(t, store.SaveRun(context.Background(), Run{ID: "x"}))
	assert.NoError(t, store.Close())
	assert.Equal(t, "", store.Driver())
}
