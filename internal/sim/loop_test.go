package sim

import (
	"context"
	"errors"
	"testing"
	"time"

	"squad-clash/core/internal/placement"
	"squad-clash/core/internal/services"
)

func TestLoopEnqueueThrottlesPerActor(t *testing.T) {
	g := newTestGame(t, Config{Seed: "loop"}, Deps{})
	var drops []string
	loop := NewLoop(g, LoopConfig{PerActorLimit: 1}, LoopHooks{
		OnCommandDrop: func(reason string, cmd Command) { drops = append(drops, reason) },
	})

	if ok, reason := loop.Enqueue(Command{ActorID: "p1", Type: CommandSubmit}); !ok {
		t.Fatalf("first command rejected: %s", reason)
	}
	if ok, reason := loop.Enqueue(Command{ActorID: "p1", Type: CommandSubmit}); ok || reason != CommandRejectQueueLimit {
		t.Fatalf("expected queue limit, got %v %q", ok, reason)
	}
	if ok, reason := loop.Enqueue(Command{ActorID: "p2", Type: "teleport"}); ok || reason != CommandRejectUnknown {
		t.Fatalf("expected unknown command, got %v %q", ok, reason)
	}
	if len(drops) != 1 || drops[0] != CommandRejectQueueLimit {
		t.Fatalf("expected one drop hook call, got %v", drops)
	}

	loop.Advance()
	if ok, _ := loop.Enqueue(Command{ActorID: "p1", Type: CommandSubmit}); !ok {
		t.Fatalf("expected quota to reset after a tick")
	}
}

func TestLoopAdvanceExecutesCommandsAsActor(t *testing.T) {
	g := newTestGame(t, Config{Seed: "loop", Authoritative: true}, Deps{})
	loop := NewLoop(g, LoopConfig{}, LoopHooks{})

	loop.Enqueue(Command{ActorID: "p1", Type: CommandPlace, Args: services.Args{
		"unitType": "archer", "gridX": 2.0, "gridY": 2.0,
	}})
	loop.Enqueue(Command{ActorID: "p2", Type: CommandClear})
	loop.Enqueue(Command{ActorID: "p1", Type: CommandMove, Args: services.Args{"placementId": 999.0, "x": 1.0, "y": 1.0}})

	result := loop.Advance()
	if result.Tick != 1 || result.Now != g.StepDuration() {
		t.Fatalf("expected one step, got tick %d now %v", result.Tick, result.Now)
	}
	if len(result.Outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(result.Outcomes))
	}
	placed, ok := result.Outcomes[0].Result.(placement.PlaceResult)
	if result.Outcomes[0].Err != nil || !ok || !placed.Success {
		t.Fatalf("expected placement to succeed, got %+v", result.Outcomes[0])
	}
	record, _ := g.Placement(placed.PlacementID)
	if record.PlayerID != "p1" {
		t.Fatalf("expected the actor to own the placement, got %q", record.PlayerID)
	}
	if result.Outcomes[1].Err != nil {
		t.Fatalf("expected clear to succeed, got %v", result.Outcomes[1].Err)
	}
	if !errors.Is(result.Outcomes[2].Err, ErrUnknownPlacement) {
		t.Fatalf("expected unknown placement, got %v", result.Outcomes[2].Err)
	}
	if loop.Pending() != 0 {
		t.Fatalf("expected the buffer to be drained")
	}
}

func TestLoopRunStopsOnCancel(t *testing.T) {
	g := newTestGame(t, Config{Seed: "loop", TickRate: 200}, Deps{})
	steps := make(chan LoopStepResult, 64)
	loop := NewLoop(g, LoopConfig{CatchupMaxTicks: 2}, LoopHooks{
		AfterStep: func(result LoopStepResult) {
			select {
			case steps <- result:
			default:
			}
		},
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	select {
	case result := <-steps:
		if result.Budget != 5*time.Millisecond {
			t.Fatalf("expected a 5ms budget, got %v", result.Budget)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("loop never stepped")
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	var tick uint64
	loop.WithGame(func(g *Game) { tick = g.Tick() })
	if tick == 0 {
		t.Fatalf("expected the game to have advanced")
	}
}
