package sim

import (
	"time"

	"squad-clash/core/internal/services"
)

// CommandType enumerates the player commands staged between ticks.
type CommandType string

const (
	CommandPlace   CommandType = "place"
	CommandSubmit  CommandType = "submit"
	CommandAbility CommandType = "ability"
	CommandMove    CommandType = "move"
	CommandClear   CommandType = "clear"

	// CommandDisconnect is staged by the transport when a session drops.
	CommandDisconnect CommandType = "disconnect"
)

// Service maps a command type to the named service that executes it.
func (t CommandType) Service() (string, bool) {
	switch t {
	case CommandPlace:
		return services.PlacementPlace, true
	case CommandSubmit:
		return services.BattleSubmit, true
	case CommandAbility:
		return services.AbilityUse, true
	case CommandMove:
		return services.PlacementMove, true
	case CommandClear:
		return services.PlacementClearPlayer, true
	case CommandDisconnect:
		return services.BattleDisconnect, true
	default:
		return "", false
	}
}

// Command is one player intent captured for the next tick. Args are passed
// to the service with the actor's player ID filled in.
type Command struct {
	OriginTick uint64        `json:"originTick"`
	ActorID    string        `json:"actorId"`
	Seq        uint64        `json:"seq"`
	Type       CommandType   `json:"type"`
	Args       services.Args `json:"args,omitempty"`
	IssuedAt   time.Time     `json:"issuedAt"`
}

// CommandOutcome is the result of executing one staged command.
type CommandOutcome struct {
	Command Command
	Result  any
	Err     error
}
