// Package runner drives a simulation headlessly from a declarative list of
// instructions. Every instruction executes through the same named services
// the websocket intake uses, so scripted and interactive matches take the
// same code paths.
package runner

// Type names an instruction.
type Type string

const (
	PlaceUnit        Type = "PLACE_UNIT"
	PlaceBuilding    Type = "PLACE_BUILDING"
	SubmitPlacement  Type = "SUBMIT_PLACEMENT"
	StartBattle      Type = "START_BATTLE"
	PurchaseUnit     Type = "PURCHASE_UNIT"
	MoveOrder        Type = "MOVE_ORDER"
	UseAbility       Type = "USE_ABILITY"
	Wait             Type = "WAIT"
	DisconnectPlayer Type = "DISCONNECT_PLAYER"
	EndSimulation    Type = "END_SIMULATION"
	CallService      Type = "CALL_SERVICE"
)

// Types lists every instruction type in a stable order.
func Types() []Type {
	return []Type{
		PlaceUnit, PlaceBuilding, SubmitPlacement, StartBattle, PurchaseUnit,
		MoveOrder, UseAbility, Wait, DisconnectPlayer, EndSimulation, CallService,
	}
}

func (t Type) valid() bool {
	for _, known := range Types() {
		if t == known {
			return true
		}
	}
	return false
}

// TriggerKind selects how an instruction waits before it executes.
type TriggerKind string

const (
	TriggerImmediate TriggerKind = "immediate"
	TriggerTick      TriggerKind = "tick"
	TriggerPhase     TriggerKind = "phase"
	TriggerRound     TriggerKind = "round"
	TriggerEvent     TriggerKind = "event"
)

// Trigger gates an instruction. A zero trigger is immediate.
type Trigger struct {
	Kind  TriggerKind `json:"kind,omitempty" jsonschema:"enum=immediate,enum=tick,enum=phase,enum=round,enum=event"`
	Tick  uint64      `json:"tick,omitempty" jsonschema:"description=Satisfied once the simulation reaches this tick"`
	Phase string      `json:"phase,omitempty" jsonschema:"enum=placement,enum=battle,enum=ended"`
	Round int         `json:"round,omitempty" jsonschema:"minimum=1,description=Satisfied from this round on"`
	Event string      `json:"event,omitempty" jsonschema:"description=Named notification awaited after the instruction becomes current"`
}

func (t Trigger) kind() TriggerKind {
	if t.Kind == "" {
		return TriggerImmediate
	}
	return t.Kind
}

// Instruction is one scripted step. Which fields apply depends on Type.
type Instruction struct {
	Type    Type    `json:"type" jsonschema:"required,enum=PLACE_UNIT,enum=PLACE_BUILDING,enum=SUBMIT_PLACEMENT,enum=START_BATTLE,enum=PURCHASE_UNIT,enum=MOVE_ORDER,enum=USE_ABILITY,enum=WAIT,enum=DISCONNECT_PLAYER,enum=END_SIMULATION,enum=CALL_SERVICE"`
	Trigger Trigger `json:"trigger,omitempty"`
	Label   string  `json:"label,omitempty" jsonschema:"description=Names the placement created by this step for later references"`
	Note    string  `json:"note,omitempty"`

	PlayerID      string `json:"playerId,omitempty"`
	UnitType      string `json:"unitType,omitempty"`
	GridX         *int   `json:"gridX,omitempty"`
	GridY         *int   `json:"gridY,omitempty"`
	StartingState bool   `json:"startingState,omitempty"`
	Builder       string `json:"builder,omitempty" jsonschema:"description=Label of the placement whose first member builds"`

	Placement   string   `json:"placement,omitempty" jsonschema:"description=Label of an earlier placement"`
	PlacementID uint32   `json:"placementId,omitempty"`
	X           *float64 `json:"x,omitempty"`
	Y           *float64 `json:"y,omitempty"`

	Entity          uint32 `json:"entity,omitempty"`
	Ability         string `json:"ability,omitempty"`
	Target          uint32 `json:"target,omitempty"`
	TargetPlacement string `json:"targetPlacement,omitempty"`

	Service string         `json:"service,omitempty"`
	Args    map[string]any `json:"args,omitempty"`
}
