package sim

import (
	"math"
	"time"

	"squad-clash/core/internal/abilities"
	"squad-clash/core/internal/ecs"
)

const arriveEpsilon = 0.05

// moveUnits walks mobile units in ascending ID order. A unit with an order
// heads to the order point; a unit without one advances on the nearest
// enemy until the enemy is inside its attack range.
func (g *Game) moveUnits(dt time.Duration) {
	w := g.world
	seconds := dt.Seconds()
	for _, id := range w.Movement.IDs() {
		if !abilities.Alive(w, id) || w.Anchored.Has(id) {
			continue
		}
		if _, casting := g.scheduler.Queued(id); casting {
			continue
		}
		move, _ := w.Movement.Get(id)
		if move.Speed <= 0 {
			continue
		}
		tr, ok := w.Transforms.Get(id)
		if !ok {
			continue
		}

		tx, ty, stopAt := move.OrderX, move.OrderY, 0.0
		if !move.HasOrder {
			ex, ey, ok := g.nearestEnemy(id, tr)
			if !ok {
				continue
			}
			combat, _ := w.Combat.Get(id)
			tx, ty, stopAt = ex, ey, combat.Range*0.9
		}

		dx, dy := tx-tr.X, ty-tr.Y
		dist := math.Hypot(dx, dy)
		if dist <= stopAt+arriveEpsilon {
			if move.HasOrder {
				w.Movement.Update(id, func(m *ecs.Movement) { m.HasOrder = false })
			}
			continue
		}
		travel := math.Min(move.Speed*seconds, dist-stopAt)
		nx, ny := tr.X+dx/dist*travel, tr.Y+dy/dist*travel
		w.Transforms.Update(id, func(t *ecs.Transform) {
			t.X, t.Y = nx, ny
			t.Z = g.grid.Height(nx, ny)
			t.Facing = math.Atan2(dy, dx)
		})
	}
}

func (g *Game) nearestEnemy(id ecs.EntityID, from ecs.Transform) (float64, float64, bool) {
	w := g.world
	team, _ := w.Teams.Get(id)
	best := math.Inf(1)
	var bx, by float64
	found := false
	for _, other := range w.Teams.IDs() {
		otherTeam, _ := w.Teams.Get(other)
		if otherTeam == team || otherTeam == ecs.TeamNone || !abilities.Alive(w, other) {
			continue
		}
		tr, ok := w.Transforms.Get(other)
		if !ok {
			continue
		}
		if d := math.Hypot(tr.X-from.X, tr.Y-from.Y); d < best {
			best, bx, by, found = d, tr.X, tr.Y, true
		}
	}
	return bx, by, found
}

// cleanupDead strips movement and scheduler state from units that died this
// tick. Bodies stay in the store until the battle ends so the timeout
// health share still counts them.
func (g *Game) cleanupDead() {
	w := g.world
	for _, id := range w.Movement.IDs() {
		health, ok := w.Health.Get(id)
		if !ok || health.Alive() {
			continue
		}
		w.Movement.Remove(id)
		g.scheduler.Forget(id)
	}
}
