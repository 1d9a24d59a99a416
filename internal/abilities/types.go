package abilities

import (
	"fmt"
	"time"

	"squad-clash/core/internal/ecs"
	"squad-clash/core/internal/rng"
)

// Index is the stable registry position of an ability. Client and server
// must register abilities in the same order.
type Index int

// TargetKind discriminates Target.
type TargetKind uint8

const (
	TargetNone TargetKind = iota
	TargetEntity
	TargetPoint
)

// Target is an explicit optional target reference. The zero value means "no
// target"; entity ID 0 is never used as a sentinel.
type Target struct {
	Kind   TargetKind   `json:"kind"`
	Entity ecs.EntityID `json:"entity,omitempty"`
	X      float64      `json:"x,omitempty"`
	Y      float64      `json:"y,omitempty"`
}

// NoTarget returns the empty target.
func NoTarget() Target { return Target{} }

// EntityTarget targets an entity.
func EntityTarget(id ecs.EntityID) Target { return Target{Kind: TargetEntity, Entity: id} }

// PointTarget targets a world point.
func PointTarget(x, y float64) Target { return Target{Kind: TargetPoint, X: x, Y: y} }

// Valid reports whether the target carries a usable reference.
func (t Target) Valid() bool {
	switch t.Kind {
	case TargetEntity:
		return t.Entity != 0
	case TargetPoint:
		return true
	default:
		return false
	}
}

func (t Target) String() string {
	switch t.Kind {
	case TargetEntity:
		return fmt.Sprintf("entity:%d", t.Entity)
	case TargetPoint:
		return fmt.Sprintf("point:%.2f,%.2f", t.X, t.Y)
	default:
		return "none"
	}
}

// EffectKind discriminates Effect.
type EffectKind uint8

const (
	EffectDamage EffectKind = iota + 1
	EffectHeal
	EffectArmor
	EffectCompleteConstruction
)

// Effect is a value payload applied to the world immediately or after a
// delay. It never references simulation state by pointer.
type Effect struct {
	Kind   EffectKind   `json:"kind"`
	Source ecs.EntityID `json:"source,omitempty"`
	Target ecs.EntityID `json:"target,omitempty"`
	Amount float64      `json:"amount,omitempty"`
	X      float64      `json:"x,omitempty"`
	Y      float64      `json:"y,omitempty"`
}

// Deferred is an effect an ability body wants applied Delay after it runs.
type Deferred struct {
	Delay  time.Duration
	Effect Effect
}

// Context is handed to ability callbacks.
type Context struct {
	World *ecs.World
	Now   time.Duration
	RNG   *rng.Stream
	apply func(Effect)
}

// Apply resolves an effect immediately.
func (c *Context) Apply(effect Effect) {
	if c == nil || c.apply == nil {
		return
	}
	c.apply(effect)
}

// Ability is the tagged table entry describing one ability. Callbacks must
// be pure functions of the context and their arguments.
type Ability struct {
	Index      Index
	Name       string
	CastTime   time.Duration
	Cooldown   time.Duration
	Priority   int
	Range      float64
	SelfTarget bool

	// Check is the ability's own precondition.
	Check func(ctx *Context, caster ecs.EntityID) bool
	// Target picks a target when the caller supplied none.
	Target func(ctx *Context, caster ecs.EntityID) (Target, bool)
	// Execute runs when the cast completes. A true second result schedules
	// the returned deferred effect.
	Execute func(ctx *Context, caster ecs.EntityID, target Target) (Deferred, bool)
}

// QueueEntry is the single pending cast of an entity.
type QueueEntry struct {
	Ability   Index         `json:"ability"`
	Target    Target        `json:"target"`
	QueuedAt  time.Duration `json:"queuedAt"`
	ExecuteAt time.Duration `json:"executeAt"`
}
