// Package sim composes the simulation core into one Game: the entity store,
// grid, economy, placement registry, ability scheduler and battle controller,
// driven by a fixed-step clock.
package sim

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"squad-clash/core/internal/abilities"
	"squad-clash/core/internal/battle"
	"squad-clash/core/internal/economy"
	"squad-clash/core/internal/ecs"
	"squad-clash/core/internal/events"
	"squad-clash/core/internal/grid"
	"squad-clash/core/internal/journal"
	"squad-clash/core/internal/net/proto"
	"squad-clash/core/internal/placement"
	"squad-clash/core/internal/rng"
	"squad-clash/core/internal/services"
	"squad-clash/core/internal/telemetry"
	"squad-clash/core/internal/units"
	"squad-clash/core/logging"
)

const (
	DefaultTickRate         = 20
	DefaultKeyframeCapacity = 8
	defaultKeyframeMaxAge   = 10 * time.Minute
)

var (
	// ErrNotOwner is returned when a player commands another player's units.
	ErrNotOwner = errors.New("sim: placement belongs to another player")
	// ErrUnknownAbility is returned for ability names the registry lacks.
	ErrUnknownAbility = errors.New("sim: unknown ability")
	// ErrUnknownPlacement is returned when a placement ID has no live members.
	ErrUnknownPlacement = errors.New("sim: unknown placement")
)

// Config tunes one game.
type Config struct {
	TickRate         int            `json:"tickRate" mapstructure:"tickRate"`
	Seed             string         `json:"seed" mapstructure:"seed"`
	Authoritative    bool           `json:"authoritative" mapstructure:"authoritative"`
	KeyframeCapacity int            `json:"keyframeCapacity" mapstructure:"keyframeCapacity"`
	Battle           battle.Config  `json:"battle" mapstructure:"battle"`
	Economy          economy.Config `json:"economy" mapstructure:"economy"`
	Grid             grid.Config    `json:"grid" mapstructure:"grid"`
}

func (cfg Config) normalized() Config {
	normalized := cfg
	if normalized.TickRate <= 0 {
		normalized.TickRate = DefaultTickRate
	}
	if normalized.Seed == "" {
		normalized.Seed = rng.DefaultSeed
	}
	if normalized.KeyframeCapacity <= 0 {
		normalized.KeyframeCapacity = DefaultKeyframeCapacity
	}
	if normalized.Battle.Seed == "" {
		normalized.Battle.Seed = normalized.Seed
	}
	if normalized.Grid.Cols == 0 && normalized.Grid.Rows == 0 {
		normalized.Grid = grid.DefaultConfig()
	}
	if normalized.Grid.Seed == "" {
		normalized.Grid.Seed = normalized.Seed
	}
	if normalized.Economy.SupplyCap == 0 && len(normalized.Economy.GoldPerRound) == 0 && normalized.Economy.StartingGold == 0 {
		normalized.Economy = economy.DefaultConfig()
	}
	return normalized
}

// DefaultConfig returns an authoritative game with the standard rules.
func DefaultConfig() Config {
	return Config{Authoritative: true}.normalized()
}

// Deps carries shared infrastructure.
type Deps struct {
	Catalog     *units.Catalog
	Publisher   logging.Publisher
	Logger      telemetry.Logger
	Metrics     telemetry.Metrics
	Broadcaster battle.Broadcaster
	// Log backs the services registry.
	Log zerolog.Logger
	// WallClock stamps keyframes for retention; it never enters game state.
	WallClock logging.Clock
}

// Game owns one match. It is not safe for concurrent use: one goroutine
// drives it, either Loop or the headless runner.
type Game struct {
	cfg  Config
	deps Deps
	dt   time.Duration
	tick uint64

	clock      *Clock
	journal    *journal.Journal
	world      *ecs.World
	grid       *grid.Grid
	catalog    *units.Catalog
	ledger     *economy.Ledger
	bus        *events.Bus
	stream     *rng.Stream
	scheduler  *abilities.Scheduler
	placements *placement.Registry
	controller *battle.Controller
	services   *services.Registry

	keyframeSeq uint64
	placed      map[uint32]bool
}

// NewGame wires a fresh match in the placement phase of round 1.
func NewGame(cfg Config, deps Deps) (*Game, error) {
	cfg = cfg.normalized()
	if deps.Catalog == nil {
		deps.Catalog = units.Default()
	}
	if deps.Publisher == nil {
		deps.Publisher = logging.NopPublisher()
	}
	if deps.WallClock == nil {
		deps.WallClock = logging.ClockFunc(time.Now)
	}

	g := &Game{
		cfg:     cfg,
		deps:    deps,
		dt:      time.Second / time.Duration(cfg.TickRate),
		clock:   &Clock{},
		catalog: deps.Catalog,
		placed:  make(map[uint32]bool),
	}
	g.journal = journal.New(cfg.KeyframeCapacity, defaultKeyframeMaxAge)
	g.journal.AttachTelemetry(telemetry.JournalDrops(deps.Metrics))
	g.world = ecs.NewWorld(g.journal)
	g.grid = grid.New(cfg.Grid)
	g.ledger = economy.NewLedger(cfg.Economy)
	g.bus = events.NewBus(deps.Publisher)
	g.stream = rng.NewStream(rng.GameSeed(cfg.Battle.Seed))

	g.scheduler = abilities.NewScheduler(abilities.Deps{
		World:   g.world,
		Bus:     g.bus,
		RNG:     g.stream,
		Logger:  deps.Logger,
		Metrics: deps.Metrics,
		Tick:    g.Tick,
		Round:   g.Round,
	})
	g.placements = placement.NewRegistry(placement.Deps{
		World:     g.world,
		Grid:      g.grid,
		Catalog:   g.catalog,
		Abilities: g.scheduler.Registry(),
		Economy:   g.ledger,
		Scheduler: g.scheduler,
		Bus:       g.bus,
		Publisher: deps.Publisher,
		Logger:    deps.Logger,
		Metrics:   deps.Metrics,
		Tick:      g.Tick,
	}, placement.Options{Authoritative: cfg.Authoritative})
	g.controller = battle.NewController(cfg.Battle, battle.Deps{
		World:       g.world,
		Placements:  g.placements,
		Scheduler:   g.scheduler,
		Ledger:      g.ledger,
		Bus:         g.bus,
		Clock:       g.clock,
		RNG:         g.stream,
		Broadcaster: battle.BroadcasterFunc(g.broadcastRoundEnd),
		Publisher:   deps.Publisher,
		Logger:      deps.Logger,
		Metrics:     deps.Metrics,
		Tick:        g.Tick,
	})
	g.bus.Subscribe(events.PlacementPhaseStart, func(events.Notification) {
		g.placed = make(map[uint32]bool)
	})

	registry, err := services.New(deps.Log)
	if err != nil {
		return nil, fmt.Errorf("sim: services: %w", err)
	}
	g.services = registry
	g.registerServices()
	return g, nil
}

// Config returns the normalized configuration.
func (g *Game) Config() Config { return g.cfg }

// Tick returns the number of steps taken.
func (g *Game) Tick() uint64 {
	if g == nil {
		return 0
	}
	return g.tick
}

// Round returns the current round.
func (g *Game) Round() int {
	if g == nil {
		return 0
	}
	return g.controller.Round()
}

// Phase returns the current phase.
func (g *Game) Phase() battle.Phase { return g.controller.Phase() }

// Now returns the simulation clock.
func (g *Game) Now() time.Duration { return g.clock.Now() }

// StepDuration returns the fixed timestep.
func (g *Game) StepDuration() time.Duration { return g.dt }

func (g *Game) World() *ecs.World { return g.world }
func (g *Game) Grid() *grid.Grid { return g.grid }
func (g *Game) Catalog() *units.Catalog { return g.catalog }
func (g *Game) Ledger() *economy.Ledger { return g.ledger }
func (g *Game) Bus() *events.Bus { return g.bus }
func (g *Game) RNG() *rng.Stream { return g.stream }
func (g *Game) Scheduler() *abilities.Scheduler { return g.scheduler }
func (g *Game) Placements() *placement.Registry { return g.placements }
func (g *Game) Controller() *battle.Controller { return g.controller }
func (g *Game) Services() *services.Registry { return g.services }
func (g *Game) Journal() *journal.Journal { return g.journal }

// Checksum hashes the full entity store.
func (g *Game) Checksum() string { return g.world.Checksum() }

// AddPlayer seats a player on a team.
func (g *Game) AddPlayer(playerID string, team ecs.Team) error {
	return g.controller.AddPlayer(playerID, team)
}

// Step advances the simulation by one fixed timestep. Systems run in a
// fixed order: movement, scheduled abilities, combat cleanup, end checks.
func (g *Game) Step() {
	if g == nil || g.controller.Phase() == battle.PhaseEnded {
		return
	}
	g.tick++
	now := g.clock.Advance(g.dt)
	inBattle := g.controller.Phase() == battle.PhaseBattle
	if inBattle {
		g.moveUnits(g.dt)
	}
	g.scheduler.Update(now)
	if inBattle {
		g.cleanupDead()
		g.controller.Update(g.clock.Now())
	}
}

// Run steps n times or until the game ends.
func (g *Game) Run(n int) {
	for i := 0; i < n && g.Phase() != battle.PhaseEnded; i++ {
		g.Step()
	}
}

func (g *Game) broadcastRoundEnd(msg proto.RoundEnd) {
	g.RecordKeyframe()
	if g.deps.Broadcaster != nil {
		g.deps.Broadcaster.BroadcastRoundEnd(msg)
	}
}

// RecordKeyframe stores a full snapshot in the journal so late or desynced
// clients can resync from it.
func (g *Game) RecordKeyframe() journal.KeyframeRecordResult {
	state, err := json.Marshal(g.world.Serialize(true))
	if err != nil {
		if g.deps.Logger != nil {
			g.deps.Logger.Printf("sim: encode keyframe: %v", err)
		}
		return journal.KeyframeRecordResult{}
	}
	g.keyframeSeq++
	return g.journal.RecordKeyframe(journal.Keyframe{
		Sequence:   g.keyframeSeq,
		Round:      g.Round(),
		Tick:       g.tick,
		State:      state,
		RecordedAt: g.deps.WallClock.Now(),
	})
}

// Keyframe decodes the stored keyframe with sequence.
func (g *Game) Keyframe(sequence uint64) (ecs.Snapshot, bool) {
	frame, ok := g.journal.KeyframeBySequence(sequence)
	if !ok {
		return ecs.Snapshot{}, false
	}
	var snapshot ecs.Snapshot
	if err := json.Unmarshal(frame.State, &snapshot); err != nil {
		return ecs.Snapshot{}, false
	}
	return snapshot, true
}
