package runner

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"squad-clash/core/internal/battle"
	"squad-clash/core/internal/ecs"
	"squad-clash/core/internal/economy"
	"squad-clash/core/internal/events"
	"squad-clash/core/internal/placement"
	"squad-clash/core/internal/services"
	"squad-clash/core/internal/sim"
)

// Options tunes a runner.
type Options struct {
	// SkipValidation runs malformed lists as-is, for fuzzing.
	SkipValidation bool
	Log            zerolog.Logger
}

// LogEntry records one executed instruction.
type LogEntry struct {
	Index  int    `json:"index"`
	Type   Type   `json:"type"`
	Tick   uint64 `json:"tick"`
	Round  int    `json:"round"`
	Phase  string `json:"phase"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Report summarises a finished run.
type Report struct {
	Seed      string                `json:"seed"`
	Ticks     uint64                `json:"ticks"`
	Executed  int                   `json:"executed"`
	Failures  int                   `json:"failures"`
	Completed bool                  `json:"completed"`
	Ended     bool                  `json:"ended"`
	Phase     string                `json:"phase"`
	Round     int                   `json:"round"`
	Checksum  string                `json:"checksum"`
	Results   []battle.Result       `json:"results"`
	Stats     []economy.PlayerStats `json:"stats"`
	Log       []LogEntry            `json:"log"`
}

type labelled struct {
	placementID uint32
	entities    []ecs.EntityID
}

// Runner advances an instruction pointer over a game. It is not safe for
// concurrent use; one goroutine owns the runner and its game.
type Runner struct {
	game         *sim.Game
	instructions []Instruction
	log          zerolog.Logger

	pointer   int
	eventSeen bool
	ended     bool
	labels    map[string]labelled
	entries   []LogEntry
	failures  int
	sub       int
}

// New validates instructions and attaches a runner to game.
func New(game *sim.Game, instructions []Instruction, opts Options) (*Runner, error) {
	if game == nil {
		return nil, fmt.Errorf("runner: nil game")
	}
	if !opts.SkipValidation {
		if err := Validate(instructions); err != nil {
			return nil, err
		}
	}
	r := &Runner{
		game:         game,
		instructions: append([]Instruction(nil), instructions...),
		log:          opts.Log,
		labels:       make(map[string]labelled),
	}
	r.sub = game.Bus().Subscribe("", r.observe)
	return r, nil
}

// Close detaches the runner from the game's notifications.
func (r *Runner) Close() {
	if r == nil || r.sub == 0 {
		return
	}
	r.game.Bus().Unsubscribe(r.sub)
	r.sub = 0
}

// Game returns the driven game.
func (r *Runner) Game() *sim.Game { return r.game }

// Pointer returns the index of the current instruction.
func (r *Runner) Pointer() int { return r.pointer }

// Ended reports whether END_SIMULATION executed.
func (r *Runner) Ended() bool { return r.ended }

// Log returns the execution log so far.
func (r *Runner) Log() []LogEntry { return append([]LogEntry(nil), r.entries...) }

func (r *Runner) observe(n events.Notification) {
	if r.pointer >= len(r.instructions) {
		return
	}
	trigger := r.instructions[r.pointer].Trigger
	if trigger.kind() == TriggerEvent && trigger.Event == n.Name {
		r.eventSeen = true
	}
}

func (r *Runner) satisfied(inst Instruction) bool {
	t := inst.Trigger
	switch t.kind() {
	case TriggerImmediate:
		return true
	case TriggerTick:
		return r.game.Tick() >= t.Tick
	case TriggerPhase:
		return string(r.game.Phase()) == t.Phase
	case TriggerRound:
		return r.game.Round() >= t.Round
	case TriggerEvent:
		return r.eventSeen
	default:
		// Unknown triggers only get here with validation skipped.
		return true
	}
}

// Step executes every consecutive satisfied instruction, then advances the
// game one tick. It reports false once the run is over.
func (r *Runner) Step() bool {
	if r.ended {
		return false
	}
	for r.pointer < len(r.instructions) && !r.ended {
		inst := r.instructions[r.pointer]
		if !r.satisfied(inst) {
			break
		}
		r.execute(r.pointer, inst)
		r.pointer++
		r.eventSeen = false
	}
	if r.ended {
		return false
	}
	if r.pointer >= len(r.instructions) && r.game.Phase() != battle.PhaseBattle {
		return false
	}
	if r.game.Phase() == battle.PhaseEnded {
		return false
	}
	r.game.Step()
	return true
}

// Run steps until END_SIMULATION, until the list is exhausted and no
// battle is in progress, until the game ends or until maxTicks steps.
func (r *Runner) Run(ctx context.Context, maxTicks uint64) (Report, error) {
	var ticks uint64
	for maxTicks == 0 || ticks < maxTicks {
		if err := ctx.Err(); err != nil {
			return r.Report(), err
		}
		if !r.Step() {
			break
		}
		ticks++
	}
	report := r.Report()
	r.log.Info().
		Str("seed", report.Seed).
		Uint64("ticks", report.Ticks).
		Int("executed", report.Executed).
		Int("failures", report.Failures).
		Bool("completed", report.Completed).
		Str("checksum", report.Checksum).
		Msg("headless run finished")
	return report, nil
}

// Report captures the current state of the run.
func (r *Runner) Report() Report {
	return Report{
		Seed:      r.game.Controller().Config().Seed,
		Ticks:     r.game.Tick(),
		Executed:  len(r.entries),
		Failures:  r.failures,
		Completed: r.pointer >= len(r.instructions),
		Ended:     r.ended,
		Phase:     string(r.game.Phase()),
		Round:     r.game.Round(),
		Checksum:  r.game.Checksum(),
		Results:   r.game.Controller().Results(),
		Stats:     r.game.Ledger().AllStats(),
		Log:       r.Log(),
	}
}

func (r *Runner) execute(index int, inst Instruction) {
	entry := LogEntry{
		Index: index,
		Type:  inst.Type,
		Tick:  r.game.Tick(),
		Round: r.game.Round(),
		Phase: string(r.game.Phase()),
	}
	result, err := r.dispatch(inst)
	entry.Result = result
	if err != nil {
		entry.Error = err.Error()
	} else if placed, ok := result.(placement.PlaceResult); ok {
		if placed.Success {
			if inst.Label != "" {
				r.labels[inst.Label] = labelled{placementID: placed.PlacementID, entities: placed.EntityIDs}
			}
		} else {
			entry.Error = placed.Message
			if entry.Error == "" {
				entry.Error = string(placed.Reason)
			}
		}
	}
	if entry.Error != "" {
		r.failures++
		r.log.Debug().Int("index", index).Str("type", string(inst.Type)).Str("error", entry.Error).Msg("instruction failed")
	}
	r.entries = append(r.entries, entry)
}

// dispatch converts panics into failed entries so one bad step cannot stop
// the run.
func (r *Runner) dispatch(inst Instruction) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error().Interface("panic", p).Str("type", string(inst.Type)).Msg("instruction panicked")
			result, err = nil, fmt.Errorf("runner: %s panicked: %v", inst.Type, p)
		}
	}()
	switch inst.Type {
	case Wait:
		return nil, nil
	case EndSimulation:
		r.ended = true
		return nil, nil
	}
	name, args, err := r.call(inst)
	if err != nil {
		return nil, err
	}
	return r.game.Call(name, args)
}

func (r *Runner) call(inst Instruction) (string, services.Args, error) {
	args := services.Args{}
	if inst.PlayerID != "" {
		args["playerId"] = inst.PlayerID
	}
	switch inst.Type {
	case PlaceUnit, PlaceBuilding:
		args["unitType"] = inst.UnitType
		if inst.GridX != nil && inst.GridY != nil {
			args["gridX"], args["gridY"] = *inst.GridX, *inst.GridY
		}
		if inst.StartingState {
			args["startingState"] = true
		}
		if inst.Type == PlaceBuilding {
			args["building"] = true
			if inst.Builder != "" {
				builder, err := r.member(inst.Builder)
				if err != nil {
					return "", nil, err
				}
				args["builder"] = uint32(builder)
			}
		}
		return services.PlacementPlace, args, nil
	case PurchaseUnit:
		args["unitType"] = inst.UnitType
		return services.PlacementPurchase, args, nil
	case SubmitPlacement:
		return services.BattleSubmit, args, nil
	case StartBattle:
		return services.BattleStart, args, nil
	case DisconnectPlayer:
		return services.BattleDisconnect, args, nil
	case MoveOrder:
		id := inst.PlacementID
		if inst.Placement != "" {
			ref, ok := r.labels[inst.Placement]
			if !ok {
				return "", nil, fmt.Errorf("runner: placement %q was never placed", inst.Placement)
			}
			id = ref.placementID
		}
		args["placementId"] = id
		if inst.X != nil && inst.Y != nil {
			args["x"], args["y"] = *inst.X, *inst.Y
		}
		return services.PlacementMove, args, nil
	case UseAbility:
		entity := ecs.EntityID(inst.Entity)
		if inst.Placement != "" {
			id, err := r.member(inst.Placement)
			if err != nil {
				return "", nil, err
			}
			entity = id
		}
		args["entity"] = uint32(entity)
		args["ability"] = inst.Ability
		switch {
		case inst.TargetPlacement != "":
			target, err := r.member(inst.TargetPlacement)
			if err != nil {
				return "", nil, err
			}
			args["target"] = uint32(target)
		case inst.Target != 0:
			args["target"] = inst.Target
		case inst.X != nil && inst.Y != nil:
			args["x"], args["y"] = *inst.X, *inst.Y
		}
		return services.AbilityUse, args, nil
	case CallService:
		for k, v := range inst.Args {
			args[k] = v
		}
		return inst.Service, args, nil
	default:
		return "", nil, fmt.Errorf("runner: unknown instruction type %q", inst.Type)
	}
}

// member resolves a label to its first living squad member, falling back
// to the first spawned entity.
func (r *Runner) member(label string) (ecs.EntityID, error) {
	ref, ok := r.labels[label]
	if !ok || len(ref.entities) == 0 {
		return 0, fmt.Errorf("runner: placement %q was never placed", label)
	}
	for _, id := range ref.entities {
		if h, ok := r.game.World().Health.Get(id); ok && h.Alive() {
			return id, nil
		}
	}
	return ref.entities[0], nil
}
