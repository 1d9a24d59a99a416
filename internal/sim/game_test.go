package sim

import (
	"errors"
	"testing"

	"squad-clash/core/internal/battle"
	"squad-clash/core/internal/ecs"
	"squad-clash/core/internal/net/proto"
	"squad-clash/core/internal/placement"
	"squad-clash/core/internal/services"
)

const maxBattleTicks = 2000

func newTestGame(t *testing.T, cfg Config, deps Deps) *Game {
	t.Helper()
	g, err := NewGame(cfg, deps)
	if err != nil {
		t.Fatalf("new game: %v", err)
	}
	if err := g.AddPlayer("p1", ecs.TeamLeft); err != nil {
		t.Fatalf("add p1: %v", err)
	}
	if err := g.AddPlayer("p2", ecs.TeamRight); err != nil {
		t.Fatalf("add p2: %v", err)
	}
	return g
}

// mustPlace wraps a placement call: mustPlace(t)(g.PlaceUnit(...)).
func mustPlace(t *testing.T) func(placement.PlaceResult, error) placement.PlaceResult {
	t.Helper()
	return func(result placement.PlaceResult, err error) placement.PlaceResult {
		t.Helper()
		if err != nil {
			t.Fatalf("place: %v", err)
		}
		if !result.Success {
			t.Fatalf("place rejected: %+v", result)
		}
		return result
	}
}

// deployArmies gives both sides a keep, a swordsman pair and an archer trio.
func deployArmies(t *testing.T, g *Game) {
	t.Helper()
	mustPlace(t)(g.PlaceStarting("p1", "keep", ecs.Cell{X: 0, Y: 0}))
	mustPlace(t)(g.PlaceStarting("p2", "keep", ecs.Cell{X: 18, Y: 0}))
	mustPlace(t)(g.PlaceUnit("p1", "swordsman", ecs.Cell{X: 4, Y: 4}))
	mustPlace(t)(g.PlaceUnit("p2", "swordsman", ecs.Cell{X: 14, Y: 4}))
	mustPlace(t)(g.PlaceUnit("p1", "archer", ecs.Cell{X: 3, Y: 8}))
	mustPlace(t)(g.PlaceUnit("p2", "archer", ecs.Cell{X: 15, Y: 8}))
}

func playRound(t *testing.T, g *Game) battle.Result {
	t.Helper()
	before := len(g.Controller().Results())
	if _, err := g.Submit("p1"); err != nil {
		t.Fatalf("submit p1: %v", err)
	}
	started, err := g.Submit("p2")
	if err != nil || !started {
		t.Fatalf("expected battle to start, got %v %v", started, err)
	}
	for i := 0; i < maxBattleTicks && len(g.Controller().Results()) == before; i++ {
		g.Step()
	}
	results := g.Controller().Results()
	if len(results) != before+1 {
		t.Fatalf("battle did not end within %d ticks", maxBattleTicks)
	}
	return results[len(results)-1]
}

func TestIdenticalInputsProduceIdenticalOutcomes(t *testing.T) {
	run := func() (string, battle.Result, uint64) {
		g := newTestGame(t, Config{Seed: "harness", Authoritative: true}, Deps{})
		deployArmies(t, g)
		result := playRound(t, g)
		return g.Checksum(), result, g.RNG().Draws()
	}
	sumA, resultA, drawsA := run()
	sumB, resultB, drawsB := run()
	if sumA != sumB {
		t.Fatalf("expected identical checksums, got %s and %s", sumA, sumB)
	}
	if resultA != resultB {
		t.Fatalf("expected identical results, got %+v and %+v", resultA, resultB)
	}
	if drawsA != drawsB {
		t.Fatalf("expected identical rng usage, got %d and %d", drawsA, drawsB)
	}
}

func TestMirrorMatchesAuthorityAfterRoundEnd(t *testing.T) {
	var broadcasts []proto.RoundEnd
	server := newTestGame(t, Config{Seed: "mirror", Authoritative: true}, Deps{
		Broadcaster: battle.BroadcasterFunc(func(msg proto.RoundEnd) { broadcasts = append(broadcasts, msg) }),
	})
	deployArmies(t, server)

	mirror := newTestGame(t, Config{Seed: "mirror"}, Deps{})
	if err := mirror.ApplyJoin(server.Join("p2")); err != nil {
		t.Fatalf("apply join: %v", err)
	}
	if mirror.Checksum() != server.Checksum() {
		t.Fatalf("expected join snapshot to reproduce the store")
	}

	playRound(t, server)
	if len(broadcasts) != 1 {
		t.Fatalf("expected one round-end broadcast, got %d", len(broadcasts))
	}
	if err := mirror.ApplyRoundEnd(broadcasts[0]); err != nil {
		t.Fatalf("apply round end: %v", err)
	}
	if mirror.Checksum() != server.Checksum() {
		t.Fatalf("expected mirror to match the authority after resync")
	}
	if mirror.Now() != server.Now() {
		t.Fatalf("expected clocks to agree, got %v and %v", mirror.Now(), server.Now())
	}
	if mirror.Placements().NextPlacementID() != server.Placements().NextPlacementID() {
		t.Fatalf("expected placement counters to agree")
	}
	if mirror.World().NextID() != server.World().NextID() {
		t.Fatalf("expected entity counters to agree")
	}
	if mirror.Round() != 2 || mirror.Phase() != battle.PhasePlacement {
		t.Fatalf("expected mirror in placement of round 2, got %s round %d", mirror.Phase(), mirror.Round())
	}
}

func TestRoundEndRecordsKeyframe(t *testing.T) {
	g := newTestGame(t, Config{Seed: "keyframe", Authoritative: true}, Deps{})
	deployArmies(t, g)
	playRound(t, g)

	snapshot, ok := g.Keyframe(1)
	if !ok || !snapshot.Full {
		t.Fatalf("expected a full keyframe after the round")
	}
	other := newTestGame(t, Config{Seed: "keyframe"}, Deps{})
	if err := other.Resync(snapshot); err != nil {
		t.Fatalf("resync: %v", err)
	}
	if other.Checksum() != g.Checksum() {
		t.Fatalf("expected keyframe resync to reproduce the store")
	}
}

func TestUnitsAdvanceOnEnemies(t *testing.T) {
	g := newTestGame(t, Config{Seed: "march", Authoritative: true}, Deps{})
	placed := mustPlace(t)(g.PlaceUnit("p1", "swordsman", ecs.Cell{X: 4, Y: 4}))
	mustPlace(t)(g.PlaceUnit("p2", "swordsman", ecs.Cell{X: 14, Y: 4}))
	if err := g.StartBattle(); err != nil {
		t.Fatalf("start: %v", err)
	}
	id := placed.EntityIDs[0]
	home, _ := g.World().Homes.Get(id)
	g.Run(20)
	tr, _ := g.World().Transforms.Get(id)
	if tr.X <= home.X {
		t.Fatalf("expected the swordsman to advance, home %.2f now %.2f", home.X, tr.X)
	}
}

func TestMoveOrderKeepsFormation(t *testing.T) {
	g := newTestGame(t, Config{Seed: "orders", Authoritative: true}, Deps{})
	placed := mustPlace(t)(g.PlaceUnit("p1", "swordsman", ecs.Cell{X: 4, Y: 4}))

	ordered, err := g.MoveOrder("p1", placed.PlacementID, 20, 10)
	if err != nil || ordered != 2 {
		t.Fatalf("expected both members ordered, got %d %v", ordered, err)
	}
	first, _ := g.World().Movement.Get(placed.EntityIDs[0])
	second, _ := g.World().Movement.Get(placed.EntityIDs[1])
	homeA, _ := g.World().Homes.Get(placed.EntityIDs[0])
	homeB, _ := g.World().Homes.Get(placed.EntityIDs[1])
	if second.OrderX-first.OrderX != homeB.X-homeA.X {
		t.Fatalf("expected formation offset to be kept, got %+v %+v", first, second)
	}
	if _, err := g.MoveOrder("p2", placed.PlacementID, 0, 0); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected foreign order to be refused, got %v", err)
	}
}

func TestPlacementOnlyDuringPlacementPhase(t *testing.T) {
	g := newTestGame(t, Config{Seed: "phase", Authoritative: true}, Deps{})
	mustPlace(t)(g.PlaceUnit("p1", "archer", ecs.Cell{X: 2, Y: 2}))
	mustPlace(t)(g.PlaceUnit("p2", "archer", ecs.Cell{X: 17, Y: 2}))
	if err := g.StartBattle(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := g.PlaceUnit("p1", "archer", ecs.Cell{X: 2, Y: 6}); !errors.Is(err, battle.ErrWrongPhase) {
		t.Fatalf("expected wrong phase, got %v", err)
	}
	if _, err := g.PlaceUnit("ghost", "archer", ecs.Cell{X: 2, Y: 6}); err == nil {
		t.Fatalf("expected unknown player to be refused")
	}
}

func TestClearRefundsThisRoundsPurchases(t *testing.T) {
	g := newTestGame(t, Config{Seed: "refund", Authoritative: true}, Deps{})
	before := g.Gold("p1")
	mustPlace(t)(g.PlaceUnit("p1", "swordsman", ecs.Cell{X: 4, Y: 4}))
	if g.Gold("p1") != before-50 {
		t.Fatalf("expected swordsman to cost 50")
	}
	removed, err := g.ClearPlayer("p1")
	if err != nil || removed != 2 {
		t.Fatalf("expected both members removed, got %d %v", removed, err)
	}
	if g.Gold("p1") != before {
		t.Fatalf("expected refund, gold %d want %d", g.Gold("p1"), before)
	}
	if stats := g.Ledger().Stats("p1"); stats.SupplyUsed != 0 {
		t.Fatalf("expected supply released, got %+v", stats)
	}
}

func TestPurchaseFindsFirstValidCell(t *testing.T) {
	g := newTestGame(t, Config{Seed: "purchase", Authoritative: true}, Deps{})
	result := mustPlace(t)(g.PurchaseUnit("p2", "knight"))
	record, ok := g.Placement(result.PlacementID)
	if !ok {
		t.Fatalf("expected record for purchased placement")
	}
	if record.GridX != 19 || record.GridY != 0 {
		t.Fatalf("expected the right edge first, got %d,%d", record.GridX, record.GridY)
	}
}

func TestServicesDriveTheGame(t *testing.T) {
	g := newTestGame(t, Config{Seed: "services", Authoritative: true}, Deps{})
	out, err := g.Call(services.PlacementPlace, services.Args{
		"playerId": "p1", "unitType": "archer", "gridX": 2.0, "gridY": 2.0,
	})
	if err != nil {
		t.Fatalf("place service: %v", err)
	}
	result, ok := out.(placement.PlaceResult)
	if !ok || !result.Success {
		t.Fatalf("expected a successful place result, got %#v", out)
	}

	gold, err := g.Call(services.EconomyGold, services.Args{"playerId": "p1"})
	if err != nil || gold != g.Gold("p1") {
		t.Fatalf("expected gold %d, got %v %v", g.Gold("p1"), gold, err)
	}

	side, err := g.Call(services.PlacementSide, services.Args{"team": "left"})
	if err != nil {
		t.Fatalf("side service: %v", err)
	}
	if records := side.([]placement.Record); len(records) != 1 || records[0].PlacementID != result.PlacementID {
		t.Fatalf("expected one left placement, got %+v", records)
	}

	ready, err := g.Call(services.AbilityReady, services.Args{"entity": float64(result.EntityIDs[0]), "ability": "volley"})
	if err != nil || ready != true {
		t.Fatalf("expected volley ready, got %v %v", ready, err)
	}
	if _, err := g.Call(services.AbilityUse, services.Args{"entity": 1.0, "ability": "teleport"}); !errors.Is(err, ErrUnknownAbility) {
		t.Fatalf("expected unknown ability, got %v", err)
	}
}
