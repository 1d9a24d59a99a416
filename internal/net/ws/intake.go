package ws

import (
	"time"

	"squad-clash/core/internal/net/proto"
	"squad-clash/core/internal/services"
	"squad-clash/core/internal/sim"
)

const (
	// CommandRejectInvalid means the message could not become a command.
	CommandRejectInvalid = "invalid_command"
	// CommandRejectUnknownActor means the session's player is not seated.
	CommandRejectUnknownActor = "unknown_actor"
)

// Enqueuer accepts staged commands.
type Enqueuer interface {
	Enqueue(cmd sim.Command) (bool, string)
}

// CommandContext supplies what staging needs from the running match.
type CommandContext struct {
	Queue     Enqueuer
	HasPlayer func(string) bool
	Tick      func() uint64
	Now       func() time.Time
}

// clientCommand translates a client message into a command without
// touching game state.
func clientCommand(msg proto.ClientMessage) (sim.Command, bool) {
	args := services.Args{}
	var kind sim.CommandType
	switch msg.Type {
	case proto.TypePlace:
		if msg.UnitType == "" || msg.GridX == nil || msg.GridY == nil {
			return sim.Command{}, false
		}
		kind = sim.CommandPlace
		args["unitType"] = msg.UnitType
		args["gridX"], args["gridY"] = *msg.GridX, *msg.GridY
	case proto.TypeSubmit:
		kind = sim.CommandSubmit
	case proto.TypeClear:
		kind = sim.CommandClear
	case proto.TypeAbility:
		if msg.Entity == 0 || msg.Ability == "" {
			return sim.Command{}, false
		}
		kind = sim.CommandAbility
		args["entity"] = msg.Entity
		args["ability"] = msg.Ability
		if msg.Target != 0 {
			args["target"] = msg.Target
		} else if msg.X != 0 || msg.Y != 0 {
			args["x"], args["y"] = msg.X, msg.Y
		}
	case proto.TypeMove:
		if msg.PlacementID == 0 {
			return sim.Command{}, false
		}
		kind = sim.CommandMove
		args["placementId"] = msg.PlacementID
		if msg.GridX != nil && msg.GridY != nil {
			args["gridX"], args["gridY"] = *msg.GridX, *msg.GridY
		} else {
			args["x"], args["y"] = msg.X, msg.Y
		}
	default:
		return sim.Command{}, false
	}
	return sim.Command{Type: kind, Seq: msg.Seq, Args: args}, true
}

// StageClientCommand validates msg and stages it for the next tick.
func StageClientCommand(ctx CommandContext, playerID string, msg proto.ClientMessage) (sim.Command, bool, string) {
	var zero sim.Command

	command, ok := clientCommand(msg)
	if !ok {
		return zero, false, CommandRejectInvalid
	}
	if ctx.HasPlayer != nil && !ctx.HasPlayer(playerID) {
		return zero, false, CommandRejectUnknownActor
	}

	command.ActorID = playerID
	if ctx.Tick != nil {
		command.OriginTick = ctx.Tick()
	}
	if ctx.Now != nil {
		command.IssuedAt = ctx.Now()
	} else {
		command.IssuedAt = time.Now()
	}

	if ctx.Queue == nil {
		return zero, false, sim.CommandRejectQueueFull
	}
	if ok, reason := ctx.Queue.Enqueue(command); !ok {
		return zero, false, reason
	}
	return command, true, ""
}
