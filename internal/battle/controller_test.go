package battle

import (
	"errors"
	"testing"
	"time"

	"squad-clash/core/internal/abilities"
	"squad-clash/core/internal/economy"
	"squad-clash/core/internal/ecs"
	"squad-clash/core/internal/events"
	"squad-clash/core/internal/grid"
	"squad-clash/core/internal/net/proto"
	"squad-clash/core/internal/placement"
	"squad-clash/core/internal/rng"
	"squad-clash/core/internal/units"
)

type testClock struct{ now time.Duration }

func (c *testClock) Now() time.Duration { return c.now }
func (c *testClock) Reset()             { c.now = 0 }

type harness struct {
	t          *testing.T
	world      *ecs.World
	clock      *testClock
	scheduler  *abilities.Scheduler
	placements *placement.Registry
	ledger     *economy.Ledger
	bus        *events.Bus
	stream     *rng.Stream
	broadcasts []proto.RoundEnd
	controller *Controller
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{t: t, world: ecs.NewWorld(nil), clock: &testClock{}, stream: rng.NewStream(0)}
	h.bus = events.NewBus(nil)
	h.ledger = economy.NewLedger(economy.Config{StartingGold: 500, SupplyCap: 20, GoldPerRound: []int{100, 150}})
	h.scheduler = abilities.NewScheduler(abilities.Deps{World: h.world, Bus: h.bus, RNG: h.stream})
	h.placements = placement.NewRegistry(placement.Deps{
		World:     h.world,
		Grid:      grid.New(grid.DefaultConfig()),
		Economy:   h.ledger,
		Scheduler: h.scheduler,
		Abilities: h.scheduler.Registry(),
		Bus:       h.bus,
	}, placement.Options{Authoritative: true})
	h.controller = NewController(cfg, Deps{
		World:      h.world,
		Placements: h.placements,
		Scheduler:  h.scheduler,
		Ledger:     h.ledger,
		Bus:        h.bus,
		Clock:      h.clock,
		RNG:        h.stream,
		Broadcaster: BroadcasterFunc(func(msg proto.RoundEnd) {
			h.broadcasts = append(h.broadcasts, msg)
		}),
	})
	if err := h.controller.AddPlayer("p1", ecs.TeamLeft); err != nil {
		t.Fatalf("add p1: %v", err)
	}
	if err := h.controller.AddPlayer("p2", ecs.TeamRight); err != nil {
		t.Fatalf("add p2: %v", err)
	}
	return h
}

// dummy has no abilities so battles only end by rule.
func dummy(id string, command bool) *units.UnitType {
	return &units.UnitType{
		ID:               id,
		Cost:             10,
		Supply:           1,
		SquadSize:        1,
		Footprint:        units.Footprint{W: 1, H: 1},
		HP:               100,
		CommandStructure: command,
		Building:         command,
	}
}

func (h *harness) place(unit *units.UnitType, team ecs.Team, player string, x, y int) placement.PlaceResult {
	h.t.Helper()
	result := h.placements.PlacePlacement(placement.Request{UnitType: unit, Position: &ecs.Cell{X: x, Y: y}}, team, player)
	if !result.Success {
		h.t.Fatalf("place %s: %s", unit.ID, result)
	}
	return result
}

func (h *harness) kill(id ecs.EntityID) {
	h.world.Health.Update(id, func(hp *ecs.Health) { hp.HP, hp.Dead = 0, true })
}

func (h *harness) advance(to time.Duration) {
	h.clock.now = to
	h.scheduler.Update(to)
	h.controller.Update(to)
}

func TestBattleTimeoutEndsWithReasonTimeout(t *testing.T) {
	h := newHarness(t, Config{})
	h.place(dummy("a", false), ecs.TeamLeft, "p1", 1, 1)
	h.place(dummy("b", false), ecs.TeamRight, "p2", 18, 1)

	if err := h.controller.StartBattle(); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.advance(29 * time.Second)
	if h.controller.Phase() != PhaseBattle {
		t.Fatalf("expected battle to continue before the timeout")
	}
	h.advance(30 * time.Second)

	results := h.controller.Results()
	if len(results) != 1 || results[0].Reason != ReasonTimeout {
		t.Fatalf("expected one timeout result, got %+v", results)
	}
	if results[0].Winner != ecs.TeamNone {
		t.Fatalf("expected equal health to draw, got %s", results[0].Winner)
	}
	if h.controller.Phase() != PhasePlacement || h.controller.Round() != 2 {
		t.Fatalf("expected placement of round 2, got %s round %d", h.controller.Phase(), h.controller.Round())
	}
	h.advance(31 * time.Second)
	if len(h.controller.Results()) != 1 || len(h.broadcasts) != 1 {
		t.Fatalf("expected exactly one end per battle")
	}
}

func TestTimeoutFavoursHealthierSide(t *testing.T) {
	h := newHarness(t, Config{BattleDuration: 5 * time.Second})
	left := h.place(dummy("a", false), ecs.TeamLeft, "p1", 1, 1)
	h.place(dummy("b", false), ecs.TeamRight, "p2", 18, 1)
	h.controller.StartBattle()
	h.world.Health.Update(left.EntityIDs[0], func(hp *ecs.Health) { hp.HP = 40 })

	h.advance(5 * time.Second)
	if got := h.controller.Results()[0]; got.Winner != ecs.TeamRight || got.Reason != ReasonTimeout {
		t.Fatalf("expected right to win on health, got %+v", got)
	}
	if lives := h.controller.State().Lives[ecs.TeamLeft]; lives != DefaultLives-1 {
		t.Fatalf("expected loser to lose a life, got %d", lives)
	}
}

func TestVictoryIsCheckedBeforeTimeout(t *testing.T) {
	h := newHarness(t, Config{})
	h.place(dummy("keep", true), ecs.TeamLeft, "p1", 1, 1)
	h.place(dummy("a", false), ecs.TeamLeft, "p1", 1, 3)
	keep := h.place(dummy("keep", true), ecs.TeamRight, "p2", 18, 1)
	h.place(dummy("b", false), ecs.TeamRight, "p2", 18, 3)
	h.controller.StartBattle()

	h.kill(keep.EntityIDs[0])
	h.advance(45 * time.Second)

	results := h.controller.Results()
	if len(results) != 1 {
		t.Fatalf("expected one result, got %+v", results)
	}
	if results[0].Winner != ecs.TeamLeft || results[0].Reason != ReasonCommandDestroyed {
		t.Fatalf("expected command destruction to win over timeout, got %+v", results[0])
	}
}

func TestEliminationEndsBattle(t *testing.T) {
	h := newHarness(t, Config{})
	h.place(dummy("a", false), ecs.TeamLeft, "p1", 1, 1)
	right := h.place(dummy("b", false), ecs.TeamRight, "p2", 18, 1)
	h.controller.StartBattle()
	h.advance(time.Second)
	if h.controller.Phase() != PhaseBattle {
		t.Fatalf("expected battle to run while both sides live")
	}
	h.kill(right.EntityIDs[0])
	h.advance(2 * time.Second)
	if got := h.controller.Results(); len(got) != 1 || got[0].Reason != ReasonEliminated || got[0].Winner != ecs.TeamLeft {
		t.Fatalf("expected elimination win, got %+v", got)
	}
	if _, ok := h.placements.Squad(right.PlacementID); ok {
		t.Fatalf("expected the destroyed squad to be pruned")
	}
}

func TestStartBattleOnlyFromPlacement(t *testing.T) {
	h := newHarness(t, Config{})
	h.place(dummy("a", false), ecs.TeamLeft, "p1", 1, 1)
	h.place(dummy("b", false), ecs.TeamRight, "p2", 18, 1)
	if err := h.controller.StartBattle(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := h.controller.StartBattle(); !errors.Is(err, ErrWrongPhase) {
		t.Fatalf("expected wrong phase, got %v", err)
	}
}

func TestStartBattleResetsClockAndReseeds(t *testing.T) {
	h := newHarness(t, Config{Seed: "match-7"})
	h.place(dummy("a", false), ecs.TeamLeft, "p1", 1, 1)
	h.place(dummy("b", false), ecs.TeamRight, "p2", 18, 1)

	h.clock.now = 12 * time.Second
	h.scheduler.Sync(h.clock.now)
	h.scheduler.Schedule(15*time.Second, abilities.Effect{Kind: abilities.EffectHeal, Target: 1, Amount: 1}, true)

	var fired int
	h.bus.Subscribe(events.BattleStart, func(events.Notification) { fired++ })
	h.controller.StartBattle()

	if h.clock.Now() != 0 || h.scheduler.Now() != 0 {
		t.Fatalf("expected clock reset, got clock %v scheduler %v", h.clock.Now(), h.scheduler.Now())
	}
	want := rng.Combine(rng.GameSeed("match-7"), 1)
	if h.stream.Seed() != want || h.stream.Draws() != 0 {
		t.Fatalf("expected stream reseeded with %d, got %d", want, h.stream.Seed())
	}
	if fired != 1 {
		t.Fatalf("expected one battle-start notification, got %d", fired)
	}
	if h.scheduler.PendingTasks() != 1 {
		t.Fatalf("expected persistent task to survive the reset")
	}
}

func TestRoundEndBroadcastCarriesResyncData(t *testing.T) {
	h := newHarness(t, Config{})
	h.place(dummy("a", false), ecs.TeamLeft, "p1", 1, 1)
	right := h.place(dummy("b", false), ecs.TeamRight, "p2", 18, 1)
	h.controller.StartBattle()
	h.world.Serialize(false)

	h.advance(3 * time.Second)
	h.kill(right.EntityIDs[0])
	h.advance(4 * time.Second)

	if len(h.broadcasts) != 1 {
		t.Fatalf("expected one broadcast, got %d", len(h.broadcasts))
	}
	msg := h.broadcasts[0]
	if msg.ServerTime != 4*time.Second || msg.NextEntityID != h.world.NextID() {
		t.Fatalf("expected clock and entity counter in broadcast, got %+v", msg)
	}
	if msg.NextPlacementID != h.placements.NextPlacementID() {
		t.Fatalf("expected placement counter in broadcast")
	}
	if len(msg.Survivors) != 1 || msg.Survivors[0].Team != ecs.TeamLeft {
		t.Fatalf("expected the left unit to survive, got %+v", msg.Survivors)
	}
	if len(msg.Delta.Removed) != 1 || msg.Delta.Removed[0] != right.EntityIDs[0] {
		t.Fatalf("expected delta to report the removed unit, got %+v", msg.Delta.Removed)
	}
	if len(msg.Stats) != 2 || msg.Stats[0].PlayerID != "p1" {
		t.Fatalf("expected sorted per-player stats, got %+v", msg.Stats)
	}
	if msg.Phase != string(PhasePlacement) || msg.NextRound != 2 {
		t.Fatalf("expected next phase to be announced, got %+v", msg)
	}
}

func TestSurvivorsAreRestoredAndIncomePaid(t *testing.T) {
	h := newHarness(t, Config{})
	left := h.place(dummy("a", false), ecs.TeamLeft, "p1", 1, 1)
	right := h.place(dummy("b", false), ecs.TeamRight, "p2", 18, 1)
	h.controller.StartBattle()

	id := left.EntityIDs[0]
	h.world.Health.Update(id, func(hp *ecs.Health) { hp.HP = 10 })
	h.world.Transforms.Update(id, func(tr *ecs.Transform) { tr.X += 5 })
	goldBefore := h.ledger.Gold("p1")
	h.kill(right.EntityIDs[0])
	h.advance(time.Second)

	health, _ := h.world.Health.Get(id)
	if health.HP != health.Max {
		t.Fatalf("expected survivor healed, got %+v", health)
	}
	home, _ := h.world.Homes.Get(id)
	if tr, _ := h.world.Transforms.Get(id); tr.X != home.X || tr.Y != home.Y {
		t.Fatalf("expected survivor back home, got %+v want %+v", tr, home)
	}
	if got := h.ledger.Gold("p1"); got != goldBefore+150 {
		t.Fatalf("expected round 2 income of 150, got %d -> %d", goldBefore, got)
	}
}

func TestRoundEndStatsPrecedeNextRoundIncome(t *testing.T) {
	h := newHarness(t, Config{})
	h.place(dummy("a", false), ecs.TeamLeft, "p1", 1, 1)
	right := h.place(dummy("b", false), ecs.TeamRight, "p2", 18, 1)
	h.controller.StartBattle()

	goldBefore := h.ledger.Gold("p1")
	h.kill(right.EntityIDs[0])
	h.advance(time.Second)

	if len(h.broadcasts) != 1 {
		t.Fatalf("expected one broadcast, got %d", len(h.broadcasts))
	}
	stats := h.broadcasts[0].Stats
	if len(stats) != 2 || stats[0].PlayerID != "p1" {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats[0].Gold != goldBefore {
		t.Fatalf("expected round stats to show %d gold before income, got %d", goldBefore, stats[0].Gold)
	}
	if got := h.ledger.Gold("p1"); got != goldBefore+150 {
		t.Fatalf("expected income to be paid after the stats, got %d", got)
	}
}

func TestDisconnectMidBattleUsesEndBattle(t *testing.T) {
	h := newHarness(t, Config{})
	h.place(dummy("a", false), ecs.TeamLeft, "p1", 1, 1)
	h.place(dummy("b", false), ecs.TeamRight, "p2", 18, 1)
	h.controller.StartBattle()

	var ends []events.Notification
	h.bus.Subscribe(events.BattleEnd, func(n events.Notification) { ends = append(ends, n) })
	if err := h.controller.Disconnect("p2"); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if len(ends) != 1 || ends[0].Winner != "left" || ends[0].Reason != string(ReasonDisconnect) {
		t.Fatalf("expected one battle-end for left, got %+v", ends)
	}
	if len(h.broadcasts) != 1 {
		t.Fatalf("expected the normal round-end broadcast")
	}
}

func TestDisconnectDuringPlacementEndsGame(t *testing.T) {
	h := newHarness(t, Config{})
	if err := h.controller.Disconnect("p1"); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	state := h.controller.State()
	if state.Phase != PhaseEnded || state.Winner != ecs.TeamRight || state.Reason != ReasonDisconnect {
		t.Fatalf("unexpected state %+v", state)
	}
}

func TestSubscriberEndingGameSkipsRebroadcast(t *testing.T) {
	h := newHarness(t, Config{})
	h.place(dummy("a", false), ecs.TeamLeft, "p1", 1, 1)
	h.place(dummy("b", false), ecs.TeamRight, "p2", 18, 1)
	h.controller.StartBattle()

	h.bus.Subscribe(events.BattleEnd, func(n events.Notification) {
		h.controller.EndGame(ecs.TeamLeft, ReasonEliminated)
	})
	var placementStarts int
	h.bus.Subscribe(events.PlacementPhaseStart, func(events.Notification) { placementStarts++ })

	h.controller.EndBattle(ecs.TeamLeft, ReasonTimeout)
	if len(h.broadcasts) != 0 {
		t.Fatalf("expected no round-end broadcast after the game ended, got %d", len(h.broadcasts))
	}
	if h.controller.Phase() != PhaseEnded || placementStarts != 0 {
		t.Fatalf("expected game to stay ended, phase %s placement starts %d", h.controller.Phase(), placementStarts)
	}
}

func TestLivesExhaustedEndsGame(t *testing.T) {
	h := newHarness(t, Config{Lives: 1})
	h.place(dummy("a", false), ecs.TeamLeft, "p1", 1, 1)
	right := h.place(dummy("b", false), ecs.TeamRight, "p2", 18, 1)

	var gameEnds []events.Notification
	h.bus.Subscribe(events.GameEnded, func(n events.Notification) { gameEnds = append(gameEnds, n) })
	h.controller.StartBattle()
	h.kill(right.EntityIDs[0])
	h.advance(time.Second)

	if h.controller.Phase() != PhaseEnded {
		t.Fatalf("expected game to end, phase %s", h.controller.Phase())
	}
	if len(gameEnds) != 1 || gameEnds[0].Winner != "left" || gameEnds[0].Reason != string(ReasonLivesExhausted) {
		t.Fatalf("unexpected game-end notifications %+v", gameEnds)
	}
	if len(h.broadcasts) != 1 || h.broadcasts[0].Phase != string(PhaseEnded) {
		t.Fatalf("expected final broadcast to announce the end, got %+v", h.broadcasts)
	}
}

func TestMaxRoundsEndsGame(t *testing.T) {
	h := newHarness(t, Config{MaxRounds: 1, BattleDuration: time.Second})
	h.place(dummy("a", false), ecs.TeamLeft, "p1", 1, 1)
	h.place(dummy("b", false), ecs.TeamRight, "p2", 18, 1)
	h.controller.StartBattle()
	h.advance(time.Second)
	if state := h.controller.State(); state.Phase != PhaseEnded || state.Reason != ReasonMaxRounds {
		t.Fatalf("expected max rounds to end the game, got %+v", state)
	}
}

func TestSubmitPlacementStartsWhenEveryoneIsReady(t *testing.T) {
	h := newHarness(t, Config{})
	h.place(dummy("a", false), ecs.TeamLeft, "p1", 1, 1)
	h.place(dummy("b", false), ecs.TeamRight, "p2", 18, 1)

	started, err := h.controller.SubmitPlacement("p1")
	if err != nil || started {
		t.Fatalf("expected first submit to wait, got %v %v", started, err)
	}
	started, err = h.controller.SubmitPlacement("p2")
	if err != nil || !started || h.controller.Phase() != PhaseBattle {
		t.Fatalf("expected second submit to start the battle, got %v %v", started, err)
	}
	if _, err := h.controller.SubmitPlacement("ghost"); err == nil {
		t.Fatalf("expected submit outside placement to fail")
	}
}

func TestAddPlayerRejectsSecondPlayerPerTeam(t *testing.T) {
	h := newHarness(t, Config{})
	if err := h.controller.AddPlayer("p3", ecs.TeamLeft); !errors.Is(err, ErrTeamTaken) {
		t.Fatalf("expected team taken, got %v", err)
	}
}
