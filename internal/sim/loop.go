package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"squad-clash/core/internal/services"
	"squad-clash/core/internal/telemetry"
	"squad-clash/core/logging"
)

const (
	// CommandRejectQueueLimit means the actor exceeded its per-tick quota.
	CommandRejectQueueLimit = "queue_limit"
	// CommandRejectQueueFull means the shared command buffer is saturated.
	CommandRejectQueueFull = "queue_full"
	// CommandRejectUnknown means the command type has no service.
	CommandRejectUnknown = "unknown_command"
)

// LoopConfig tunes the command buffer and the tick loop.
type LoopConfig struct {
	TickRate        int `json:"tickRate" mapstructure:"tickRate"`
	CatchupMaxTicks int `json:"catchupMaxTicks" mapstructure:"catchupMaxTicks"`
	CommandCapacity int `json:"commandCapacity" mapstructure:"commandCapacity"`
	PerActorLimit   int `json:"perActorLimit" mapstructure:"perActorLimit"`
	WarningStep     int `json:"warningStep" mapstructure:"warningStep"`
}

func (cfg LoopConfig) normalized() LoopConfig {
	normalized := cfg
	if normalized.TickRate <= 0 {
		normalized.TickRate = DefaultTickRate
	}
	if normalized.CatchupMaxTicks <= 0 {
		normalized.CatchupMaxTicks = 1
	}
	if normalized.CommandCapacity <= 0 {
		normalized.CommandCapacity = 256
	}
	return normalized
}

// LoopHooks are optional callbacks invoked on the loop goroutine.
type LoopHooks struct {
	AfterStep      func(LoopStepResult)
	OnCommandDrop  func(reason string, cmd Command)
	OnQueueWarning func(length int)
}

// LoopStepResult summarises one tick.
type LoopStepResult struct {
	Tick     uint64
	Now      time.Duration
	Outcomes []CommandOutcome
	Duration time.Duration
	Budget   time.Duration
}

// Loop owns a Game, stages commands from any goroutine and advances the
// game on a fixed timestep.
type Loop struct {
	game    *Game
	buffer  *CommandBuffer
	hooks   LoopHooks
	config  LoopConfig
	wall    logging.Clock
	logger  telemetry.Logger
	metrics telemetry.Metrics

	gameMu sync.Mutex

	queueMu       sync.Mutex
	perActorCount map[string]int
	dropCounts    map[string]uint64
}

// NewLoop wraps game with a command ring and a ticker.
func NewLoop(game *Game, cfg LoopConfig, hooks LoopHooks) *Loop {
	if game == nil {
		return nil
	}
	if cfg.TickRate <= 0 {
		cfg.TickRate = game.cfg.TickRate
	}
	cfg = cfg.normalized()
	return &Loop{
		game:          game,
		buffer:        NewCommandBuffer(cfg.CommandCapacity, game.deps.Metrics),
		hooks:         hooks,
		config:        cfg,
		wall:          game.deps.WallClock,
		logger:        game.deps.Logger,
		metrics:       game.deps.Metrics,
		perActorCount: make(map[string]int),
		dropCounts:    make(map[string]uint64),
	}
}

// WithGame runs fn while holding the game. Use it from goroutines other than
// the loop's to read state between ticks.
func (l *Loop) WithGame(fn func(*Game)) {
	if l == nil || fn == nil {
		return
	}
	l.gameMu.Lock()
	defer l.gameMu.Unlock()
	fn(l.game)
}

// Pending reports the number of staged commands.
func (l *Loop) Pending() int {
	if l == nil {
		return 0
	}
	return l.buffer.Len()
}

// Enqueue stages a command, enforcing per-actor throttling and capacity.
func (l *Loop) Enqueue(cmd Command) (bool, string) {
	if l == nil {
		return false, CommandRejectQueueFull
	}
	if _, ok := cmd.Type.Service(); !ok {
		return false, CommandRejectUnknown
	}
	reason := ""
	var drops uint64
	warn := 0

	l.queueMu.Lock()
	if l.config.PerActorLimit > 0 && cmd.ActorID != "" {
		if count := l.perActorCount[cmd.ActorID]; count >= l.config.PerActorLimit {
			reason = CommandRejectQueueLimit
		} else {
			l.perActorCount[cmd.ActorID] = count + 1
		}
	}
	if reason == "" && !l.buffer.Push(cmd) {
		reason = CommandRejectQueueFull
	}
	if reason != "" {
		drops = l.incrementDropLocked(cmd.ActorID)
	} else if step := l.config.WarningStep; step > 0 {
		if n := l.buffer.Len(); n >= step && n%step == 0 {
			warn = n
		}
	}
	l.queueMu.Unlock()

	if warn > 0 && l.hooks.OnQueueWarning != nil {
		l.hooks.OnQueueWarning(warn)
	}
	if reason != "" {
		l.reportDrop(reason, cmd, drops)
		return false, reason
	}
	return true, ""
}

// Advance applies every staged command in arrival order, then steps the
// game once.
func (l *Loop) Advance() LoopStepResult {
	if l == nil {
		return LoopStepResult{}
	}
	commands := l.drainCommands()
	l.gameMu.Lock()
	defer l.gameMu.Unlock()
	outcomes := make([]CommandOutcome, 0, len(commands))
	for _, cmd := range commands {
		outcomes = append(outcomes, l.execute(cmd))
	}
	l.game.Step()
	return LoopStepResult{
		Tick:     l.game.Tick(),
		Now:      l.game.Now(),
		Outcomes: outcomes,
	}
}

func (l *Loop) execute(cmd Command) CommandOutcome {
	service, _ := cmd.Type.Service()
	args := services.Args{}
	for k, v := range cmd.Args {
		args[k] = v
	}
	if cmd.ActorID != "" {
		args["playerId"] = cmd.ActorID
	}
	result, err := l.game.Call(service, args)
	if err != nil && l.metrics != nil {
		l.metrics.Add("sim_commands_failed", 1)
	}
	return CommandOutcome{Command: cmd, Result: result, Err: err}
}

// Run drives the loop until ctx is cancelled. When the goroutine falls
// behind it runs up to CatchupMaxTicks fixed steps per wake-up; the step
// size never changes.
func (l *Loop) Run(ctx context.Context) error {
	if l == nil {
		return fmt.Errorf("sim: nil loop")
	}
	budget := time.Second / time.Duration(l.config.TickRate)
	ticker := time.NewTicker(budget)
	defer ticker.Stop()

	last := l.wall.Now()
	var owed time.Duration
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			now := l.wall.Now()
			owed += now.Sub(last)
			last = now
			steps := int(owed / budget)
			if steps < 1 {
				steps = 1
			}
			if steps > l.config.CatchupMaxTicks {
				if l.metrics != nil {
					l.metrics.Add("sim_loop_ticks_skipped", uint64(steps-l.config.CatchupMaxTicks))
				}
				steps = l.config.CatchupMaxTicks
				owed = 0
			} else {
				owed -= time.Duration(steps) * budget
				if owed < 0 {
					owed = 0
				}
			}
			for i := 0; i < steps; i++ {
				start := l.wall.Now()
				result := l.Advance()
				result.Duration = l.wall.Now().Sub(start)
				result.Budget = budget
				if l.hooks.AfterStep != nil {
					l.hooks.AfterStep(result)
				}
			}
		}
	}
}

func (l *Loop) drainCommands() []Command {
	l.queueMu.Lock()
	defer l.queueMu.Unlock()
	commands := l.buffer.Drain()
	if len(l.perActorCount) > 0 {
		l.perActorCount = make(map[string]int)
	}
	return commands
}

func (l *Loop) incrementDropLocked(actorID string) uint64 {
	if actorID == "" {
		return 0
	}
	count := l.dropCounts[actorID] + 1
	l.dropCounts[actorID] = count
	return count
}

func (l *Loop) reportDrop(reason string, cmd Command, count uint64) {
	if l.hooks.OnCommandDrop != nil {
		l.hooks.OnCommandDrop(reason, cmd)
	}
	// Log on powers of two.
	if count > 0 && count&(count-1) == 0 && l.logger != nil {
		l.logger.Printf("[backpressure] dropping command actor=%s type=%s count=%d reason=%s",
			cmd.ActorID, cmd.Type, count, reason)
	}
}
