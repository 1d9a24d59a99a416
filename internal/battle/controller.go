package battle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"squad-clash/core/internal/abilities"
	"squad-clash/core/internal/economy"
	"squad-clash/core/internal/ecs"
	"squad-clash/core/internal/events"
	"squad-clash/core/internal/net/proto"
	"squad-clash/core/internal/placement"
	"squad-clash/core/internal/rng"
	"squad-clash/core/internal/telemetry"
	"squad-clash/core/logging"
	battlelog "squad-clash/core/logging/battle"
)

// Phase is the controller state.
type Phase string

const (
	PhasePlacement Phase = "placement"
	PhaseBattle    Phase = "battle"
	PhaseEnded     Phase = "ended"
)

// Reason explains why a battle or the game ended.
type Reason string

const (
	ReasonCommandDestroyed Reason = "command_destroyed"
	ReasonEliminated       Reason = "eliminated"
	ReasonMutual           Reason = "mutual_destruction"
	ReasonTimeout          Reason = "timeout"
	ReasonDisconnect       Reason = "disconnect"
	ReasonLivesExhausted   Reason = "lives_exhausted"
	ReasonMaxRounds        Reason = "max_rounds"
)

const (
	DefaultBattleDuration = 30 * time.Second
	DefaultLives          = 3
	DefaultMaxRounds      = 9
)

var (
	ErrWrongPhase    = errors.New("battle: operation not valid in current phase")
	ErrUnknownPlayer = errors.New("battle: unknown player")
	ErrTeamTaken     = errors.New("battle: team already has a player")
)

// Config holds the match rules.
type Config struct {
	BattleDuration time.Duration `json:"battleDuration" mapstructure:"battleDuration"`
	Lives          int           `json:"lives" mapstructure:"lives"`
	MaxRounds      int           `json:"maxRounds" mapstructure:"maxRounds"`
	Seed           string        `json:"seed" mapstructure:"seed"`
}

func (cfg Config) normalized() Config {
	normalized := cfg
	if normalized.BattleDuration <= 0 {
		normalized.BattleDuration = DefaultBattleDuration
	}
	if normalized.Lives <= 0 {
		normalized.Lives = DefaultLives
	}
	if normalized.MaxRounds <= 0 {
		normalized.MaxRounds = DefaultMaxRounds
	}
	if normalized.Seed == "" {
		normalized.Seed = rng.DefaultSeed
	}
	return normalized
}

// DefaultConfig returns the standard match rules.
func DefaultConfig() Config {
	return Config{}.normalized()
}

// Clock is the shared simulation clock.
type Clock interface {
	Now() time.Duration
	Reset()
}

// Broadcaster delivers round-end messages to connected clients.
type Broadcaster interface {
	BroadcastRoundEnd(msg proto.RoundEnd)
}

// BroadcasterFunc adapts a function to Broadcaster.
type BroadcasterFunc func(msg proto.RoundEnd)

func (f BroadcasterFunc) BroadcastRoundEnd(msg proto.RoundEnd) {
	if f != nil {
		f(msg)
	}
}

// Deps wires the controller to the simulation.
type Deps struct {
	World       *ecs.World
	Placements  *placement.Registry
	Scheduler   *abilities.Scheduler
	Ledger      *economy.Ledger
	Bus         *events.Bus
	Clock       Clock
	RNG         *rng.Stream
	Broadcaster Broadcaster
	Publisher   logging.Publisher
	Logger      telemetry.Logger
	Metrics     telemetry.Metrics
	Tick        func() uint64
}

// State is the authoritative round and phase data.
type State struct {
	Phase       Phase            `json:"phase"`
	Round       int              `json:"round"`
	BattleStart time.Duration    `json:"battleStart"`
	Winner      ecs.Team         `json:"winner"`
	Reason      Reason           `json:"reason,omitempty"`
	Lives       map[ecs.Team]int `json:"lives"`
}

// Result records one finished battle.
type Result struct {
	Round     int           `json:"round"`
	Winner    ecs.Team      `json:"winner"`
	Reason    Reason        `json:"reason"`
	Duration  time.Duration `json:"duration"`
	Survivors int           `json:"survivors"`
}

// Controller drives placement -> battle -> placement|ended.
type Controller struct {
	cfg        Config
	deps       Deps
	gameSeed   int64
	state      State
	players    map[string]ecs.Team
	submitted  map[string]bool
	commanders map[ecs.Team]int
	resolving  bool
	results    []Result
	lastRound  *proto.RoundEnd
}

// NewController constructs a controller in the placement phase of round 1.
func NewController(cfg Config, deps Deps) *Controller {
	cfg = cfg.normalized()
	if deps.Publisher == nil {
		deps.Publisher = logging.NopPublisher()
	}
	if deps.RNG == nil {
		deps.RNG = rng.NewStream(0)
	}
	return &Controller{
		cfg:       cfg,
		deps:      deps,
		gameSeed:  rng.GameSeed(cfg.Seed),
		players:   make(map[string]ecs.Team),
		submitted: make(map[string]bool),
		state: State{
			Phase: PhasePlacement,
			Round: 1,
			Lives: map[ecs.Team]int{ecs.TeamLeft: cfg.Lives, ecs.TeamRight: cfg.Lives},
		},
	}
}

// Config returns the normalized rules.
func (c *Controller) Config() Config {
	if c == nil {
		return Config{}
	}
	return c.cfg
}

// GameSeed returns the numeric seed every battle stream derives from.
func (c *Controller) GameSeed() int64 {
	if c == nil {
		return 0
	}
	return c.gameSeed
}

// State returns a copy of the current state.
func (c *Controller) State() State {
	if c == nil {
		return State{}
	}
	state := c.state
	state.Lives = make(map[ecs.Team]int, len(c.state.Lives))
	for team, lives := range c.state.Lives {
		state.Lives[team] = lives
	}
	return state
}

// Phase reports the current phase.
func (c *Controller) Phase() Phase {
	if c == nil {
		return PhaseEnded
	}
	return c.state.Phase
}

// Round reports the current 1-based round.
func (c *Controller) Round() int {
	if c == nil {
		return 0
	}
	return c.state.Round
}

// Results returns every finished battle in order.
func (c *Controller) Results() []Result {
	if c == nil {
		return nil
	}
	return append([]Result(nil), c.results...)
}

// LastRoundEnd returns the most recent round-end broadcast.
func (c *Controller) LastRoundEnd() (proto.RoundEnd, bool) {
	if c == nil || c.lastRound == nil {
		return proto.RoundEnd{}, false
	}
	return *c.lastRound, true
}

// AddPlayer registers a player on a team. Each team has one player.
func (c *Controller) AddPlayer(playerID string, team ecs.Team) error {
	if team != ecs.TeamLeft && team != ecs.TeamRight {
		return fmt.Errorf("battle: add player %s: invalid team %d", playerID, team)
	}
	for id, taken := range c.players {
		if taken == team && id != playerID {
			return fmt.Errorf("battle: add player %s: %w", playerID, ErrTeamTaken)
		}
	}
	c.players[playerID] = team
	if c.deps.Ledger != nil {
		c.deps.Ledger.AddPlayer(playerID)
	}
	return nil
}

// TeamOf returns the team of a registered player.
func (c *Controller) TeamOf(playerID string) (ecs.Team, bool) {
	if c == nil {
		return ecs.TeamNone, false
	}
	team, ok := c.players[playerID]
	return team, ok
}

// PlayerFor returns the player on team.
func (c *Controller) PlayerFor(team ecs.Team) (string, bool) {
	for _, id := range c.playerIDs() {
		if c.players[id] == team {
			return id, true
		}
	}
	return "", false
}

func (c *Controller) playerIDs() []string {
	ids := make([]string, 0, len(c.players))
	for id := range c.players {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c *Controller) tick() uint64 {
	if c.deps.Tick == nil {
		return 0
	}
	return c.deps.Tick()
}

func (c *Controller) now() time.Duration {
	if c.deps.Clock == nil {
		return 0
	}
	return c.deps.Clock.Now()
}

func (c *Controller) fire(n events.Notification) {
	if c.deps.Bus == nil {
		return
	}
	n.Tick = c.tick()
	n.Round = c.state.Round
	c.deps.Bus.Fire(n)
}

// SubmitPlacement marks a player ready. The battle starts once every
// registered player has submitted.
func (c *Controller) SubmitPlacement(playerID string) (started bool, err error) {
	if c.state.Phase != PhasePlacement {
		return false, fmt.Errorf("battle: submit %s: %w", playerID, ErrWrongPhase)
	}
	if _, ok := c.players[playerID]; !ok {
		return false, fmt.Errorf("battle: submit %s: %w", playerID, ErrUnknownPlayer)
	}
	c.submitted[playerID] = true
	if len(c.submitted) < len(c.players) {
		return false, nil
	}
	if err := c.StartBattle(); err != nil {
		return false, err
	}
	return true, nil
}

// Submitted reports whether the player has submitted this round.
func (c *Controller) Submitted(playerID string) bool {
	return c != nil && c.submitted[playerID]
}

// StartBattle enters the battle phase. It resets the clock and reseeds the
// battle stream from the game seed and round.
func (c *Controller) StartBattle() error {
	if c.state.Phase != PhasePlacement {
		return fmt.Errorf("battle: start: %w", ErrWrongPhase)
	}
	if c.deps.Clock != nil {
		elapsed := c.deps.Clock.Now()
		c.deps.Clock.Reset()
		c.deps.Scheduler.Shift(c.deps.Clock.Now() - elapsed)
	}
	seed := rng.Combine(c.gameSeed, c.state.Round)
	c.deps.RNG.Reseed(seed)

	c.state.Phase = PhaseBattle
	c.state.BattleStart = c.now()
	c.state.Winner = ecs.TeamNone
	c.state.Reason = ""
	c.submitted = make(map[string]bool)
	c.commanders = c.countCommanders()
	c.deps.Scheduler.SetAutoUse(true)

	battlelog.BattleStarted(context.Background(), c.deps.Publisher, c.tick(), c.state.Round, battlelog.BattleStartedPayload{Seed: seed})
	if c.deps.Metrics != nil {
		c.deps.Metrics.Add("battles_started", 1)
	}
	c.fire(events.Notification{Name: events.BattleStart})
	return nil
}

// Update evaluates end conditions. Victory is checked before the timeout
// and at most one condition ends a battle.
func (c *Controller) Update(now time.Duration) {
	if c == nil || c.state.Phase != PhaseBattle || c.resolving {
		return
	}
	if winner, reason, ok := c.victory(); ok {
		c.EndBattle(winner, reason)
		return
	}
	if now-c.state.BattleStart >= c.cfg.BattleDuration {
		c.EndBattle(c.timeoutWinner(), ReasonTimeout)
	}
}

func (c *Controller) countCommanders() map[ecs.Team]int {
	counts := make(map[ecs.Team]int)
	w := c.deps.World
	for _, id := range w.Placements.IDs() {
		if !abilities.Alive(w, id) {
			continue
		}
		unit, ok := c.deps.Placements.UnitFor(id)
		if !ok || !unit.CommandStructure {
			continue
		}
		team, _ := w.Teams.Get(id)
		counts[team]++
	}
	return counts
}

type sideStatus struct {
	living     int
	commanders int
	hp, maxHP  float64
}

func (c *Controller) sides() map[ecs.Team]*sideStatus {
	sides := map[ecs.Team]*sideStatus{ecs.TeamLeft: {}, ecs.TeamRight: {}}
	w := c.deps.World
	for _, id := range w.Placements.IDs() {
		team, _ := w.Teams.Get(id)
		side, ok := sides[team]
		if !ok {
			continue
		}
		health, _ := w.Health.Get(id)
		side.maxHP += health.Max
		if !abilities.Alive(w, id) {
			continue
		}
		side.living++
		side.hp += health.HP
		if unit, ok := c.deps.Placements.UnitFor(id); ok && unit.CommandStructure {
			side.commanders++
		}
	}
	return sides
}

func (c *Controller) victory() (ecs.Team, Reason, bool) {
	sides := c.sides()
	lost := func(team ecs.Team) (bool, Reason) {
		side := sides[team]
		if c.commanders[team] > 0 && side.commanders == 0 {
			return true, ReasonCommandDestroyed
		}
		if side.living == 0 {
			return true, ReasonEliminated
		}
		return false, ""
	}
	leftLost, leftReason := lost(ecs.TeamLeft)
	rightLost, rightReason := lost(ecs.TeamRight)
	switch {
	case leftLost && rightLost:
		return ecs.TeamNone, ReasonMutual, true
	case leftLost:
		return ecs.TeamRight, leftReason, true
	case rightLost:
		return ecs.TeamLeft, rightReason, true
	default:
		return ecs.TeamNone, "", false
	}
}

// timeoutWinner compares the surviving share of each side's hit points.
func (c *Controller) timeoutWinner() ecs.Team {
	sides := c.sides()
	share := func(s *sideStatus) float64 {
		if s.maxHP <= 0 {
			return 0
		}
		return s.hp / s.maxHP
	}
	left, right := share(sides[ecs.TeamLeft]), share(sides[ecs.TeamRight])
	switch {
	case left > right:
		return ecs.TeamLeft
	case right > left:
		return ecs.TeamRight
	default:
		return ecs.TeamNone
	}
}

// EndBattle resolves the current battle. It is the single path every
// battle ends through.
func (c *Controller) EndBattle(winner ecs.Team, reason Reason) (msg proto.RoundEnd, err error) {
	if c == nil {
		return proto.RoundEnd{}, ErrWrongPhase
	}
	if c.state.Phase != PhaseBattle || c.resolving {
		return proto.RoundEnd{}, fmt.Errorf("battle: end: %w", ErrWrongPhase)
	}
	c.resolving = true
	defer func() {
		c.resolving = false
		if recovered := recover(); recovered != nil {
			if c.deps.Logger != nil {
				c.deps.Logger.Printf("battle: recovered end-of-battle panic: %v", recovered)
			}
			c.deps.Scheduler.SetAutoUse(false)
			if c.state.Phase == PhaseBattle {
				c.state.Phase = PhasePlacement
			}
			msg, err = proto.RoundEnd{}, fmt.Errorf("battle: end round %d: %v", c.state.Round, recovered)
		}
	}()

	duration := c.now() - c.state.BattleStart
	c.state.Winner = winner
	c.state.Reason = reason
	c.deps.Scheduler.SetAutoUse(false)

	c.fire(events.Notification{Name: events.BattleEnd, Winner: winner.String(), Reason: string(reason)})
	if c.state.Phase == PhaseEnded {
		// A subscriber ended the game; it owns the final broadcast.
		c.record(winner, reason, duration, 0)
		return proto.RoundEnd{}, nil
	}

	survivors := c.survivors()
	c.deps.Scheduler.Clear()
	c.deps.Placements.PruneSquads()
	c.restoreSurvivors()

	round := c.state.Round
	loser := winner.Opponent()
	if winner != ecs.TeamNone && c.state.Lives[loser] > 0 {
		c.state.Lives[loser]--
	}
	nextPhase := PhasePlacement
	var gameWinner ecs.Team
	var gameReason Reason
	switch {
	case winner != ecs.TeamNone && c.state.Lives[loser] == 0:
		nextPhase, gameWinner, gameReason = PhaseEnded, winner, ReasonLivesExhausted
	case round >= c.cfg.MaxRounds:
		nextPhase, gameWinner, gameReason = PhaseEnded, c.leader(), ReasonMaxRounds
	}
	// Stats describe the round just fought, before next round's income.
	stats := c.stats()
	if nextPhase == PhasePlacement {
		c.payIncome(round + 1)
	}

	msg = proto.RoundEnd{
		Ver:             proto.Version,
		Type:            proto.TypeRoundEnd,
		Winner:          winner,
		Reason:          string(reason),
		Round:           round,
		NextRound:       round + 1,
		Phase:           string(nextPhase),
		Survivors:       survivors,
		Stats:           stats,
		Lives:           c.livesByName(),
		Delta:           c.deps.World.Serialize(false),
		ServerTime:      c.now(),
		NextEntityID:    c.deps.World.NextID(),
		NextPlacementID: c.deps.Placements.NextPlacementID(),
	}
	if c.deps.Broadcaster != nil {
		c.deps.Broadcaster.BroadcastRoundEnd(msg)
	}
	c.lastRound = &msg
	c.record(winner, reason, duration, len(survivors))
	battlelog.BattleEnded(context.Background(), c.deps.Publisher, c.tick(), round, battlelog.BattleEndedPayload{
		Winner:    winner.String(),
		Reason:    string(reason),
		Survivors: len(survivors),
		Seconds:   duration.Seconds(),
	})

	c.state.Round = round + 1
	if nextPhase == PhaseEnded {
		c.finish(gameWinner, gameReason)
		return msg, nil
	}
	c.state.Phase = PhasePlacement
	c.fire(events.Notification{Name: events.PlacementPhaseStart})
	return msg, nil
}

func (c *Controller) record(winner ecs.Team, reason Reason, duration time.Duration, survivors int) {
	c.results = append(c.results, Result{
		Round:     c.state.Round,
		Winner:    winner,
		Reason:    reason,
		Duration:  duration,
		Survivors: survivors,
	})
	if c.deps.Metrics != nil {
		c.deps.Metrics.Add("battles_ended", 1)
		c.deps.Metrics.Add("battles_ended_"+string(reason), 1)
	}
}

func (c *Controller) survivors() []proto.Survivor {
	w := c.deps.World
	var out []proto.Survivor
	for _, id := range w.Placements.IDs() {
		if !abilities.Alive(w, id) {
			continue
		}
		p, _ := w.Placements.Get(id)
		health, _ := w.Health.Get(id)
		out = append(out, proto.Survivor{
			EntityID:    id,
			PlacementID: p.PlacementID,
			Team:        p.Team,
			PlayerID:    p.PlayerID,
			HP:          health.HP,
		})
	}
	return out
}

// restoreSurvivors returns every living unit to its home cell at full
// health with its base combat numbers.
func (c *Controller) restoreSurvivors() {
	w := c.deps.World
	for _, id := range w.Placements.IDs() {
		if !abilities.Alive(w, id) {
			continue
		}
		w.Health.Update(id, func(h *ecs.Health) { h.HP, h.Dead = h.Max, false })
		if home, ok := w.Homes.Get(id); ok {
			w.Transforms.Update(id, func(t *ecs.Transform) { t.X, t.Y, t.Z = home.X, home.Y, home.Z })
		}
		w.Movement.Update(id, func(m *ecs.Movement) { m.HasOrder = false })
		if unit, ok := c.deps.Placements.UnitFor(id); ok {
			w.Combat.Update(id, func(cb *ecs.Combat) {
				cb.Damage, cb.Range, cb.Armor = unit.Damage, unit.Range, unit.Armor
			})
		}
	}
}

// payIncome grants the scheduled round income plus the yield of every
// finished building that claims a resource node.
func (c *Controller) payIncome(round int) {
	if c.deps.Ledger == nil {
		return
	}
	c.deps.Ledger.GrantRound(round)
	w := c.deps.World
	for _, id := range w.Claims.IDs() {
		if !abilities.Alive(w, id) || w.Constructions.Has(id) {
			continue
		}
		unit, ok := c.deps.Placements.UnitFor(id)
		if !ok || unit.GoldPerRound <= 0 {
			continue
		}
		p, _ := w.Placements.Get(id)
		c.deps.Ledger.Grant(p.PlayerID, unit.GoldPerRound)
	}
}

func (c *Controller) stats() []economy.PlayerStats {
	if c.deps.Ledger == nil {
		return nil
	}
	return c.deps.Ledger.AllStats()
}

func (c *Controller) livesByName() map[string]int {
	out := make(map[string]int, len(c.state.Lives))
	for team, lives := range c.state.Lives {
		out[team.String()] = lives
	}
	return out
}

func (c *Controller) leader() ecs.Team {
	left, right := c.state.Lives[ecs.TeamLeft], c.state.Lives[ecs.TeamRight]
	switch {
	case left > right:
		return ecs.TeamLeft
	case right > left:
		return ecs.TeamRight
	default:
		return ecs.TeamNone
	}
}

// Resync overwrites the round, phase and lives with the values a mirror
// received from the authority.
func (c *Controller) Resync(round int, phase Phase, lives map[string]int) {
	if c == nil {
		return
	}
	if round > 0 {
		c.state.Round = round
	}
	if phase != "" {
		c.state.Phase = phase
	}
	for name, n := range lives {
		if team, ok := ecs.ParseTeam(name); ok {
			c.state.Lives[team] = n
		}
	}
	c.submitted = make(map[string]bool)
	c.deps.Scheduler.SetAutoUse(c.state.Phase == PhaseBattle)
}

// Disconnect ends the battle in favour of the remaining side. Outside a
// battle the game ends for the disconnected player.
func (c *Controller) Disconnect(playerID string) error {
	team, ok := c.players[playerID]
	if !ok {
		return fmt.Errorf("battle: disconnect %s: %w", playerID, ErrUnknownPlayer)
	}
	switch c.state.Phase {
	case PhaseBattle:
		_, err := c.EndBattle(team.Opponent(), ReasonDisconnect)
		return err
	case PhasePlacement:
		return c.EndGame(team.Opponent(), ReasonDisconnect)
	default:
		return nil
	}
}

// EndGame moves the match to its terminal state. Collaborators may call it
// from an onBattleEnd subscriber to end the match early.
func (c *Controller) EndGame(winner ecs.Team, reason Reason) error {
	if c.state.Phase == PhaseEnded {
		return fmt.Errorf("battle: end game: %w", ErrWrongPhase)
	}
	if c.state.Phase == PhaseBattle && !c.resolving {
		c.state.Winner, c.state.Reason = winner, reason
	}
	c.finish(winner, reason)
	return nil
}

func (c *Controller) finish(winner ecs.Team, reason Reason) {
	c.state.Phase = PhaseEnded
	c.state.Winner = winner
	c.state.Reason = reason
	c.deps.Scheduler.SetAutoUse(false)
	c.deps.Scheduler.Clear()
	battlelog.GameEnded(context.Background(), c.deps.Publisher, c.tick(), c.state.Round, battlelog.GameEndedPayload{
		Winner: winner.String(),
		Reason: string(reason),
	})
	c.fire(events.Notification{Name: events.GameEnded, Winner: winner.String(), Reason: string(reason)})
}
