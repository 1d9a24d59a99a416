package logging_test

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"squad-clash/core/logging"
	"squad-clash/core/logging/battle"
	"squad-clash/core/logging/sinks"
)

func TestRouterDeliversEventsToSinks(t *testing.T) {
	memory := sinks.NewMemory()
	cfg := logging.DefaultConfig()
	cfg.MinimumSeverity = logging.SeverityDebug
	cfg.Fields = map[string]any{"match": "m1"}
	router := logging.NewRouter(nil, cfg, zerolog.Nop(), []logging.NamedSink{{Name: "memory", Sink: memory}})

	battle.BattleStarted(context.Background(), router, 3, 1, battle.BattleStartedPayload{Seed: 7})
	battle.SquadSpawned(context.Background(), router, 3, logging.Player("p1"), battle.SquadSpawnedPayload{PlacementID: 1})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := router.Close(ctx); err != nil {
		t.Fatalf("close router: %v", err)
	}

	events := memory.Events()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Extra["match"] != "m1" {
		t.Fatalf("expected router fields to be attached, got %+v", events[0].Extra)
	}
	if events[0].Time.IsZero() {
		t.Fatalf("expected router to stamp event time")
	}
	if router.Stats().EventsTotal != 2 {
		t.Fatalf("expected 2 routed events, got %d", router.Stats().EventsTotal)
	}
}

func TestRouterFiltersBelowMinimumSeverity(t *testing.T) {
	memory := sinks.NewMemory()
	router := logging.NewRouter(nil, logging.DefaultConfig(), zerolog.Nop(), []logging.NamedSink{{Name: "memory", Sink: memory}})

	battle.SquadSpawned(context.Background(), router, 1, logging.Player("p1"), battle.SquadSpawnedPayload{})
	battle.CellsNotReserved(context.Background(), router, 1, battle.CellsNotReservedPayload{EntityID: 4, Cells: 1})

	if err := router.Close(context.Background()); err != nil {
		t.Fatalf("close router: %v", err)
	}
	if memory.Count(battle.EventSquadSpawned) != 0 {
		t.Fatalf("expected debug event to be filtered")
	}
	if memory.Count(battle.EventCellsNotReserved) != 1 {
		t.Fatalf("expected warning to be delivered")
	}
}

func TestRouterRoutesByCategory(t *testing.T) {
	placements, battles := sinks.NewMemory(), sinks.NewMemory()
	cfg := logging.DefaultConfig()
	cfg.Categories = map[string]string{"placement": "debug"}
	router := logging.NewRouter(nil, cfg, zerolog.Nop(), []logging.NamedSink{
		{Name: "placement", Sink: placements, Categories: []string{logging.CategoryPlacement}},
		{Name: "battle", Sink: battles, Categories: []string{logging.CategoryBattle}},
	})

	battle.SquadSpawned(context.Background(), router, 1, logging.Player("p1"), battle.SquadSpawnedPayload{PlacementID: 1})
	battle.BattleStarted(context.Background(), router, 2, 1, battle.BattleStartedPayload{Seed: 3})

	if err := router.Close(context.Background()); err != nil {
		t.Fatalf("close router: %v", err)
	}
	if placements.Count(battle.EventSquadSpawned) != 1 || placements.Count(battle.EventBattleStarted) != 0 {
		t.Fatalf("expected the placement sink to see only the debug spawn, got %+v", placements.Events())
	}
	if battles.Count(battle.EventBattleStarted) != 1 || battles.Count(battle.EventSquadSpawned) != 0 {
		t.Fatalf("expected the battle sink to see only the battle start, got %+v", battles.Events())
	}
	stats := router.Stats()
	if stats.ByCategory[logging.CategoryPlacement] != 1 || stats.ByCategory[logging.CategoryBattle] != 1 {
		t.Fatalf("expected per-category counts, got %+v", stats.ByCategory)
	}
}

type blockingSink struct {
	release chan struct{}
}

func (s *blockingSink) Write(logging.Event) error {
	<-s.release
	return nil
}

func (s *blockingSink) Close(context.Context) error { return nil }

func TestRouterDropsWhenASinkFallsBehind(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	cfg := logging.DefaultConfig()
	cfg.BufferSize = 1
	router := logging.NewRouter(nil, cfg, zerolog.Nop(), []logging.NamedSink{{Name: "slow", Sink: sink}})

	for i := 0; i < 5; i++ {
		battle.BattleStarted(context.Background(), router, uint64(i), 1, battle.BattleStartedPayload{})
	}
	if router.Stats().DroppedTotal == 0 {
		t.Fatalf("expected events to be dropped while the sink is stalled")
	}
	close(sink.release)
	if err := router.Close(context.Background()); err != nil {
		t.Fatalf("close router: %v", err)
	}
	// Publishing after close is ignored.
	battle.BattleStarted(context.Background(), router, 9, 1, battle.BattleStartedPayload{})
	if router.Stats().EventsTotal != 5 {
		t.Fatalf("expected 5 published events, got %d", router.Stats().EventsTotal)
	}
}

func TestZerologSinkWritesStructuredLine(t *testing.T) {
	var buf bytes.Buffer
	sink := sinks.NewZerolog(zerolog.New(&buf))
	err := sink.Write(logging.Event{
		Type:     battle.EventBattleEnded,
		Tick:     9,
		Round:    2,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryBattle,
		Payload:  battle.BattleEndedPayload{Winner: "left", Reason: "timeout"},
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	line := buf.String()
	for _, fragment := range []string{`"type":"battle.ended"`, `"round":2`, `"winner":"left"`} {
		if !strings.Contains(line, fragment) {
			t.Fatalf("expected %s in %s", fragment, line)
		}
	}
}

func TestWithFieldsKeepsExistingExtra(t *testing.T) {
	memory := sinks.NewMemory()
	pub := logging.WithFields(memory, map[string]any{"a": 1, "b": 2})
	pub.Publish(context.Background(), logging.Event{Type: "x", Extra: map[string]any{"a": 9}})
	events := memory.Events()
	if len(events) != 1 || events[0].Extra["a"] != 9 || events[0].Extra["b"] != 2 {
		t.Fatalf("unexpected extra fields %+v", events)
	}
}

func TestParseSeverity(t *testing.T) {
	if logging.ParseSeverity("Warning") != logging.SeverityWarn || logging.ParseSeverity("??") != logging.SeverityInfo {
		t.Fatalf("unexpected severity parsing")
	}
}

func TestParseLevel(t *testing.T) {
	if logging.ParseLevel("debug") != zerolog.DebugLevel {
		t.Fatalf("expected debug level")
	}
	if logging.ParseLevel("bogus") != zerolog.InfoLevel {
		t.Fatalf("expected info fallback")
	}
}
