package abilities

import (
	"math"
	"time"

	"squad-clash/core/internal/ecs"
)

const (
	NameStrike  = "strike"
	NameVolley  = "volley"
	NameMend    = "mend"
	NameFortify = "fortify"

	projectileSpeed = 20.0
	volleyHitChance = 0.85
	mendAmount      = 25.0
	mendRange       = 8.0
	fortifyArmor    = 3.0
	fortifyDuration = 5 * time.Second
)

// Builtins returns the built-in abilities in registration order.
func Builtins() []Ability {
	return []Ability{
		{
			Name:     NameStrike,
			CastTime: 500 * time.Millisecond,
			Cooldown: time.Second,
			Priority: 1,
			Check:    hasDamage,
			Target: func(ctx *Context, caster ecs.EntityID) (Target, bool) {
				return nearestEnemy(ctx.World, caster, attackRange(ctx.World, caster))
			},
			Execute: func(ctx *Context, caster ecs.EntityID, target Target) (Deferred, bool) {
				combat, _ := ctx.World.Combat.Get(caster)
				if !inRange(ctx.World, caster, target, attackRange(ctx.World, caster)+0.5) {
					return Deferred{}, false
				}
				ctx.Apply(Effect{
					Kind:   EffectDamage,
					Source: caster,
					Target: target.Entity,
					Amount: combat.Damage * ctx.RNG.Between(0.9, 1.1),
				})
				return Deferred{}, false
			},
		},
		{
			Name:     NameVolley,
			CastTime: time.Second,
			Cooldown: 3 * time.Second,
			Priority: 2,
			Check:    hasDamage,
			Target: func(ctx *Context, caster ecs.EntityID) (Target, bool) {
				return nearestEnemy(ctx.World, caster, attackRange(ctx.World, caster))
			},
			Execute: func(ctx *Context, caster ecs.EntityID, target Target) (Deferred, bool) {
				if target.Kind != TargetEntity || !Alive(ctx.World, target.Entity) {
					return Deferred{}, false
				}
				if ctx.RNG.Float64() >= volleyHitChance {
					return Deferred{}, false
				}
				combat, _ := ctx.World.Combat.Get(caster)
				dist := distance(ctx.World, caster, target.Entity)
				tx, ty, _ := Position(ctx.World, target.Entity)
				return Deferred{
					Delay: time.Duration(dist / projectileSpeed * float64(time.Second)),
					Effect: Effect{
						Kind:   EffectDamage,
						Source: caster,
						Target: target.Entity,
						Amount: combat.Damage,
						X:      tx,
						Y:      ty,
					},
				}, true
			},
		},
		{
			Name:     NameMend,
			CastTime: 1500 * time.Millisecond,
			Cooldown: 4 * time.Second,
			Priority: 3,
			Range:    mendRange,
			Target: func(ctx *Context, caster ecs.EntityID) (Target, bool) {
				return mostWoundedAlly(ctx.World, caster, mendRange)
			},
			Execute: func(ctx *Context, caster ecs.EntityID, target Target) (Deferred, bool) {
				if target.Kind != TargetEntity {
					return Deferred{}, false
				}
				ctx.Apply(Effect{Kind: EffectHeal, Source: caster, Target: target.Entity, Amount: mendAmount})
				return Deferred{}, false
			},
		},
		{
			Name:       NameFortify,
			CastTime:   500 * time.Millisecond,
			Cooldown:   8 * time.Second,
			Priority:   4,
			SelfTarget: true,
			Check: func(ctx *Context, caster ecs.EntityID) bool {
				health, ok := ctx.World.Health.Get(caster)
				return ok && health.HP < health.Max*0.5 && ctx.World.Combat.Has(caster)
			},
			Execute: func(ctx *Context, caster ecs.EntityID, _ Target) (Deferred, bool) {
				ctx.Apply(Effect{Kind: EffectArmor, Source: caster, Target: caster, Amount: fortifyArmor})
				return Deferred{
					Delay:  fortifyDuration,
					Effect: Effect{Kind: EffectArmor, Source: caster, Target: caster, Amount: -fortifyArmor},
				}, true
			},
		},
	}
}

// Alive reports whether id exists and has not been killed.
func Alive(w *ecs.World, id ecs.EntityID) bool {
	if !w.Alive(id) {
		return false
	}
	health, ok := w.Health.Get(id)
	return !ok || health.Alive()
}

// Position returns the planar position of an entity.
func Position(w *ecs.World, id ecs.EntityID) (float64, float64, bool) {
	transform, ok := w.Transforms.Get(id)
	if !ok {
		return 0, 0, false
	}
	return transform.X, transform.Y, true
}

func hasDamage(ctx *Context, caster ecs.EntityID) bool {
	combat, ok := ctx.World.Combat.Get(caster)
	return ok && combat.Damage > 0
}

func attackRange(w *ecs.World, caster ecs.EntityID) float64 {
	combat, _ := w.Combat.Get(caster)
	return combat.Range
}

func distance(w *ecs.World, a, b ecs.EntityID) float64 {
	ax, ay, _ := Position(w, a)
	bx, by, _ := Position(w, b)
	return math.Hypot(bx-ax, by-ay)
}

func inRange(w *ecs.World, caster ecs.EntityID, target Target, maxRange float64) bool {
	switch target.Kind {
	case TargetEntity:
		return Alive(w, target.Entity) && distance(w, caster, target.Entity) <= maxRange
	case TargetPoint:
		x, y, _ := Position(w, caster)
		return math.Hypot(target.X-x, target.Y-y) <= maxRange
	default:
		return false
	}
}

// nearestEnemy scans in ascending ID order so equal distances resolve to the
// lowest ID on every peer.
func nearestEnemy(w *ecs.World, caster ecs.EntityID, maxRange float64) (Target, bool) {
	team, _ := w.Teams.Get(caster)
	cx, cy, ok := Position(w, caster)
	if !ok || maxRange <= 0 {
		return Target{}, false
	}
	best := ecs.EntityID(0)
	bestDist := math.Inf(1)
	for _, id := range w.Teams.IDs() {
		other, _ := w.Teams.Get(id)
		if id == caster || other == team || !Alive(w, id) {
			continue
		}
		x, y, ok := Position(w, id)
		if !ok {
			continue
		}
		if d := math.Hypot(x-cx, y-cy); d <= maxRange && d < bestDist {
			best, bestDist = id, d
		}
	}
	if best == 0 {
		return Target{}, false
	}
	return EntityTarget(best), true
}

func mostWoundedAlly(w *ecs.World, caster ecs.EntityID, maxRange float64) (Target, bool) {
	team, _ := w.Teams.Get(caster)
	cx, cy, ok := Position(w, caster)
	if !ok {
		return Target{}, false
	}
	best := ecs.EntityID(0)
	bestMissing := 0.0
	for _, id := range w.Teams.IDs() {
		other, _ := w.Teams.Get(id)
		if other != team || !Alive(w, id) {
			continue
		}
		health, ok := w.Health.Get(id)
		if !ok {
			continue
		}
		x, y, _ := Position(w, id)
		if math.Hypot(x-cx, y-cy) > maxRange {
			continue
		}
		if missing := health.Max - health.HP; missing > bestMissing {
			best, bestMissing = id, missing
		}
	}
	if best == 0 {
		return Target{}, false
	}
	return EntityTarget(best), true
}
