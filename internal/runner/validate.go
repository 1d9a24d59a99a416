package runner

import (
	"fmt"
	"strings"

	"squad-clash/core/internal/battle"
	"squad-clash/core/internal/events"
)

// Problem is one schema violation.
type Problem struct {
	Index   int    `json:"index"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (p Problem) String() string {
	if p.Field == "" {
		return fmt.Sprintf("instruction %d: %s", p.Index, p.Message)
	}
	return fmt.Sprintf("instruction %d: %s: %s", p.Index, p.Field, p.Message)
}

// ValidationError lists every problem found in an instruction list.
type ValidationError struct {
	Problems []Problem
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Problems) == 0 {
		return "runner: invalid instructions"
	}
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, p.String())
	}
	return "runner: invalid instructions: " + strings.Join(parts, "; ")
}

type validator struct {
	problems []Problem
	labels   map[string]bool
}

func (v *validator) fail(index int, field, format string, args ...any) {
	v.problems = append(v.problems, Problem{Index: index, Field: field, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) require(index int, field string, present bool) {
	if !present {
		v.fail(index, field, "required")
	}
}

func (v *validator) ref(index int, field, label string) {
	if label != "" && !v.labels[label] {
		v.fail(index, field, "unknown label %q", label)
	}
}

// Validate checks required fields per instruction type, trigger values and
// label references. Labels must be defined before they are referenced.
func Validate(instructions []Instruction) error {
	v := &validator{labels: make(map[string]bool)}
	known := make(map[string]bool)
	for _, name := range events.Names() {
		known[name] = true
	}
	for i, inst := range instructions {
		if !inst.Type.valid() {
			v.fail(i, "type", "unknown instruction type %q", inst.Type)
			continue
		}
		v.trigger(i, inst.Trigger, known)
		v.fields(i, inst)
		if inst.Label != "" {
			if inst.Type != PlaceUnit && inst.Type != PlaceBuilding && inst.Type != PurchaseUnit {
				v.fail(i, "label", "only placement steps may define labels")
			} else if v.labels[inst.Label] {
				v.fail(i, "label", "duplicate label %q", inst.Label)
			}
			v.labels[inst.Label] = true
		}
	}
	if len(v.problems) > 0 {
		return &ValidationError{Problems: v.problems}
	}
	return nil
}

func (v *validator) trigger(i int, t Trigger, known map[string]bool) {
	switch t.kind() {
	case TriggerImmediate, TriggerTick:
	case TriggerPhase:
		switch battle.Phase(t.Phase) {
		case battle.PhasePlacement, battle.PhaseBattle, battle.PhaseEnded:
		default:
			v.fail(i, "trigger.phase", "unknown phase %q", t.Phase)
		}
	case TriggerRound:
		if t.Round < 1 {
			v.fail(i, "trigger.round", "must be at least 1")
		}
	case TriggerEvent:
		if !known[t.Event] {
			v.fail(i, "trigger.event", "unknown event %q", t.Event)
		}
	default:
		v.fail(i, "trigger.kind", "unknown trigger %q", t.Kind)
	}
}

func (v *validator) fields(i int, inst Instruction) {
	switch inst.Type {
	case PlaceUnit, PlaceBuilding:
		v.require(i, "playerId", inst.PlayerID != "")
		v.require(i, "unitType", inst.UnitType != "")
		v.require(i, "gridX", inst.GridX != nil)
		v.require(i, "gridY", inst.GridY != nil)
		v.ref(i, "builder", inst.Builder)
	case PurchaseUnit:
		v.require(i, "playerId", inst.PlayerID != "")
		v.require(i, "unitType", inst.UnitType != "")
	case SubmitPlacement, DisconnectPlayer:
		v.require(i, "playerId", inst.PlayerID != "")
	case MoveOrder:
		v.require(i, "playerId", inst.PlayerID != "")
		v.require(i, "placement", inst.Placement != "" || inst.PlacementID != 0)
		v.require(i, "x", inst.X != nil)
		v.require(i, "y", inst.Y != nil)
		v.ref(i, "placement", inst.Placement)
	case UseAbility:
		v.require(i, "ability", inst.Ability != "")
		v.require(i, "entity", inst.Entity != 0 || inst.Placement != "")
		if (inst.X == nil) != (inst.Y == nil) {
			v.fail(i, "x", "x and y must be given together")
		}
		v.ref(i, "placement", inst.Placement)
		v.ref(i, "targetPlacement", inst.TargetPlacement)
	case Wait:
		if inst.Trigger.kind() == TriggerImmediate {
			v.fail(i, "trigger", "WAIT needs a trigger")
		}
	case CallService:
		v.require(i, "service", inst.Service != "")
	}
}
