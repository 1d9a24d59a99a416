package abilities

import (
	"math"
	"sort"
	"time"

	"squad-clash/core/internal/ecs"
	"squad-clash/core/internal/events"
	"squad-clash/core/internal/rng"
	"squad-clash/core/internal/telemetry"
)

const maxTaskPasses = 8

// Deps wires the scheduler to the rest of the simulation.
type Deps struct {
	World    *ecs.World
	Registry *Registry
	Bus      *events.Bus
	RNG      *rng.Stream
	Logger   telemetry.Logger
	Metrics  telemetry.Metrics
	// Tick and Round stamp notifications; both are optional.
	Tick  func() uint64
	Round func() int
}

type task struct {
	seq        uint64
	at         time.Duration
	effect     Effect
	persistent bool
}

// Scheduler owns the ability queue, cooldown table and deferred task queue
// of one simulation. It is driven by the simulation clock only.
type Scheduler struct {
	deps      Deps
	queue     map[ecs.EntityID]QueueEntry
	cooldowns map[ecs.EntityID][]time.Duration
	tasks     []task
	nextSeq   uint64
	now       time.Duration
	autoUse   bool
}

// NewScheduler constructs a scheduler and registers its destroy hook on the
// world so per-entity rows never outlive their entity.
func NewScheduler(deps Deps) *Scheduler {
	if deps.Registry == nil {
		deps.Registry = NewRegistry()
	}
	if deps.RNG == nil {
		deps.RNG = rng.NewStream(rng.GameSeed(""))
	}
	s := &Scheduler{
		deps:      deps,
		queue:     make(map[ecs.EntityID]QueueEntry),
		cooldowns: make(map[ecs.EntityID][]time.Duration),
	}
	if deps.World != nil {
		deps.World.OnDestroy(s.Forget)
	}
	return s
}

// Registry exposes the ability table.
func (s *Scheduler) Registry() *Registry {
	if s == nil {
		return nil
	}
	return s.deps.Registry
}

// Now reports the clock value of the last Update or Sync.
func (s *Scheduler) Now() time.Duration {
	if s == nil {
		return 0
	}
	return s.now
}

// Sync moves the scheduler clock without processing anything.
func (s *Scheduler) Sync(now time.Duration) {
	if s != nil {
		s.now = now
	}
}

// SetAutoUse toggles AI auto-usage during Update.
func (s *Scheduler) SetAutoUse(enabled bool) {
	if s != nil {
		s.autoUse = enabled
	}
}

func (s *Scheduler) context() *Context {
	return &Context{World: s.deps.World, Now: s.now, RNG: s.deps.RNG, apply: s.applyEffect}
}

// UseAbility selects an ability for entity. It returns false without side
// effects when the entity is dead, already casting, the ability is cooling
// down or its own check fails.
func (s *Scheduler) UseAbility(entity ecs.EntityID, idx Index, target Target) bool {
	if s == nil || s.deps.World == nil {
		return false
	}
	w := s.deps.World
	if !Alive(w, entity) {
		return false
	}
	if _, queued := s.queue[entity]; queued {
		return false
	}
	ability, ok := s.deps.Registry.Get(idx)
	if !ok || !s.learned(entity, idx) {
		return false
	}
	if !s.Ready(entity, idx, s.now) {
		return false
	}
	ctx := s.context()
	if ability.Check != nil && !ability.Check(ctx, entity) {
		return false
	}
	switch {
	case ability.SelfTarget:
		target = EntityTarget(entity)
	case !target.Valid():
		if ability.Target == nil {
			return false
		}
		picked, ok := ability.Target(ctx, entity)
		if !ok {
			return false
		}
		target = picked
	}

	if !ability.SelfTarget && !w.Anchored.Has(entity) {
		s.face(entity, target)
	}
	s.fire(events.Notification{Name: events.AbilityCast, Entity: uint32(entity), Ability: ability.Name})

	s.queue[entity] = QueueEntry{
		Ability:   idx,
		Target:    target,
		QueuedAt:  s.now,
		ExecuteAt: s.now + ability.CastTime,
	}
	s.setReadyAt(entity, idx, s.now+ability.CastTime+ability.Cooldown)
	if s.deps.Metrics != nil {
		s.deps.Metrics.Add("abilities_queued", 1)
	}
	return true
}

func (s *Scheduler) learned(entity ecs.EntityID, idx Index) bool {
	set, ok := s.deps.World.AbilitySets.Get(entity)
	if !ok {
		return false
	}
	for _, known := range set.Abilities {
		if Index(known) == idx {
			return true
		}
	}
	return false
}

func (s *Scheduler) face(entity ecs.EntityID, target Target) {
	w := s.deps.World
	x, y, ok := Position(w, entity)
	if !ok {
		return
	}
	var tx, ty float64
	switch target.Kind {
	case TargetEntity:
		if tx, ty, ok = Position(w, target.Entity); !ok {
			return
		}
	case TargetPoint:
		tx, ty = target.X, target.Y
	default:
		return
	}
	if tx == x && ty == y {
		return
	}
	facing := math.Atan2(ty-y, tx-x)
	w.Transforms.Update(entity, func(t *ecs.Transform) { t.Facing = facing })
}

func (s *Scheduler) setReadyAt(entity ecs.EntityID, idx Index, readyAt time.Duration) {
	row := s.cooldowns[entity]
	if need := int(idx) + 1; len(row) < need {
		grown := make([]time.Duration, need, max(need, s.deps.Registry.Len()))
		copy(grown, row)
		row = grown
	}
	row[idx] = readyAt
	s.cooldowns[entity] = row
}

// Ready reports whether the ability is off cooldown at now.
func (s *Scheduler) Ready(entity ecs.EntityID, idx Index, now time.Duration) bool {
	return s.CooldownRemaining(entity, idx, now) == 0
}

// CooldownRemaining returns how long until the ability is ready again.
func (s *Scheduler) CooldownRemaining(entity ecs.EntityID, idx Index, now time.Duration) time.Duration {
	if s == nil {
		return 0
	}
	row := s.cooldowns[entity]
	if idx < 0 || int(idx) >= len(row) {
		return 0
	}
	if remaining := row[idx] - now; remaining > 0 {
		return remaining
	}
	return 0
}

// Queued returns the pending cast of entity.
func (s *Scheduler) Queued(entity ecs.EntityID) (QueueEntry, bool) {
	if s == nil {
		return QueueEntry{}, false
	}
	entry, ok := s.queue[entity]
	return entry, ok
}

// Schedule adds an effect to the time-keyed task queue. Persistent tasks
// survive Clear.
func (s *Scheduler) Schedule(at time.Duration, effect Effect, persistent bool) {
	if s == nil {
		return
	}
	s.nextSeq++
	s.tasks = append(s.tasks, task{seq: s.nextSeq, at: at, effect: effect, persistent: persistent})
}

// PendingTasks reports the number of deferred effects waiting to run.
func (s *Scheduler) PendingTasks() int {
	if s == nil {
		return 0
	}
	return len(s.tasks)
}

// Update advances the scheduler to now: completed casts execute in
// ascending entity order, due tasks run in insertion order, then idle
// entities auto-select abilities when enabled.
func (s *Scheduler) Update(now time.Duration) {
	if s == nil || s.deps.World == nil {
		return
	}
	s.now = now

	ready := make([]ecs.EntityID, 0, len(s.queue))
	for id, entry := range s.queue {
		if entry.ExecuteAt <= now {
			ready = append(ready, id)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })
	for _, id := range ready {
		entry, ok := s.queue[id]
		if !ok {
			continue
		}
		delete(s.queue, id)
		if !Alive(s.deps.World, id) {
			continue
		}
		ability, ok := s.deps.Registry.Get(entry.Ability)
		if !ok {
			continue
		}
		deferred, scheduled := ability.Execute(s.context(), id, entry.Target)
		if scheduled {
			s.Schedule(now+deferred.Delay, deferred.Effect, false)
		}
	}

	s.runTasks(now)

	if s.autoUse {
		s.autoSelect()
	}
}

func (s *Scheduler) runTasks(now time.Duration) {
	for pass := 0; pass < maxTaskPasses; pass++ {
		var due []task
		remaining := s.tasks[:0]
		for _, t := range s.tasks {
			if t.at <= now {
				due = append(due, t)
				continue
			}
			remaining = append(remaining, t)
		}
		s.tasks = remaining
		if len(due) == 0 {
			return
		}
		for _, t := range due {
			s.applyEffect(t.effect)
		}
	}
}

func (s *Scheduler) autoSelect() {
	w := s.deps.World
	for _, id := range w.AbilitySets.IDs() {
		if _, queued := s.queue[id]; queued || !Alive(w, id) {
			continue
		}
		if w.Constructions.Has(id) {
			continue
		}
		for _, idx := range s.byPriority(id) {
			if s.eligible(id, idx) && s.UseAbility(id, idx, NoTarget()) {
				break
			}
		}
	}
}

// byPriority orders the entity's abilities by priority, then by index.
func (s *Scheduler) byPriority(entity ecs.EntityID) []Index {
	set, _ := s.deps.World.AbilitySets.Get(entity)
	ordered := make([]Index, 0, len(set.Abilities))
	for _, idx := range set.Abilities {
		ordered = append(ordered, Index(idx))
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		a, _ := s.deps.Registry.Get(ordered[i])
		b, _ := s.deps.Registry.Get(ordered[j])
		if a == nil || b == nil {
			return a != nil
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.Index < b.Index
	})
	return ordered
}

func (s *Scheduler) eligible(entity ecs.EntityID, idx Index) bool {
	ability, ok := s.deps.Registry.Get(idx)
	if !ok || !s.Ready(entity, idx, s.now) {
		return false
	}
	ctx := s.context()
	if ability.Check != nil && !ability.Check(ctx, entity) {
		return false
	}
	if ability.SelfTarget {
		return true
	}
	if ability.Target == nil {
		return false
	}
	_, ok = ability.Target(ctx, entity)
	return ok
}

// Clear drops queued casts, cooldowns and non-persistent tasks.
func (s *Scheduler) Clear() {
	if s == nil {
		return
	}
	s.queue = make(map[ecs.EntityID]QueueEntry)
	s.cooldowns = make(map[ecs.EntityID][]time.Duration)
	kept := s.tasks[:0]
	for _, t := range s.tasks {
		if t.persistent {
			kept = append(kept, t)
		}
	}
	s.tasks = kept
}

// Forget removes every row owned by entity. It is registered as a world
// destroy hook.
func (s *Scheduler) Forget(entity ecs.EntityID) {
	if s == nil {
		return
	}
	delete(s.queue, entity)
	delete(s.cooldowns, entity)
	kept := s.tasks[:0]
	for _, t := range s.tasks {
		if t.effect.Kind == EffectCompleteConstruction && t.effect.Target == entity {
			continue
		}
		kept = append(kept, t)
	}
	s.tasks = kept
}

// Shift moves every stored time by delta. The battle controller uses it
// when the simulation clock is reset.
func (s *Scheduler) Shift(delta time.Duration) {
	if s == nil || delta == 0 {
		return
	}
	s.now += delta
	for id, entry := range s.queue {
		entry.QueuedAt += delta
		entry.ExecuteAt += delta
		s.queue[id] = entry
	}
	for _, row := range s.cooldowns {
		for i := range row {
			row[i] += delta
		}
	}
	for i := range s.tasks {
		s.tasks[i].at += delta
	}
}

func (s *Scheduler) applyEffect(effect Effect) {
	w := s.deps.World
	switch effect.Kind {
	case EffectDamage:
		if !Alive(w, effect.Target) {
			return
		}
		combat, _ := w.Combat.Get(effect.Target)
		amount := math.Max(1, effect.Amount-combat.Armor)
		killed := false
		w.Health.Update(effect.Target, func(h *ecs.Health) {
			h.HP -= amount
			if h.HP <= 0 {
				h.HP = 0
				h.Dead = true
				killed = true
			}
		})
		if killed {
			team, _ := w.Teams.Get(effect.Target)
			s.fire(events.Notification{
				Name:   events.UnitKilled,
				Entity: uint32(effect.Target),
				Source: uint32(effect.Source),
				Team:   team.String(),
			})
		}
	case EffectHeal:
		if !Alive(w, effect.Target) {
			return
		}
		w.Health.Update(effect.Target, func(h *ecs.Health) {
			h.HP = math.Min(h.Max, h.HP+effect.Amount)
		})
	case EffectArmor:
		w.Combat.Update(effect.Target, func(c *ecs.Combat) {
			c.Armor = math.Max(0, c.Armor+effect.Amount)
		})
	case EffectCompleteConstruction:
		if !w.Alive(effect.Target) || !w.Constructions.Has(effect.Target) {
			return
		}
		w.Constructions.Remove(effect.Target)
		w.Placements.Update(effect.Target, func(p *ecs.Placement) { p.UnderConstruction = false })
		s.fire(events.Notification{Name: events.ConstructionComplete, Entity: uint32(effect.Target), Source: uint32(effect.Source)})
	default:
		if s.deps.Logger != nil {
			s.deps.Logger.Printf("abilities: unknown effect kind %d", effect.Kind)
		}
	}
}

func (s *Scheduler) fire(n events.Notification) {
	if s.deps.Bus == nil {
		return
	}
	if s.deps.Tick != nil {
		n.Tick = s.deps.Tick()
	}
	if s.deps.Round != nil {
		n.Round = s.deps.Round()
	}
	s.deps.Bus.Fire(n)
}
