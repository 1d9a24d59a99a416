package ecs

import (
	"errors"
	"fmt"
	"sort"

	"squad-clash/core/internal/journal"
)

// AIEntityIDOffset is where speculative, locally allocated entity IDs start.
// Authoritative allocation never reaches this range.
const AIEntityIDOffset EntityID = 1_000_000

var (
	// ErrInvalidEntityID is returned when an ID of zero is supplied.
	ErrInvalidEntityID = errors.New("entity id must be positive")
	// ErrEntityExists is returned when CreateWithID targets a live entity.
	ErrEntityExists = errors.New("entity already exists")
)

type column interface {
	drop(id EntityID)
	capture(id EntityID, state *EntityState)
	restore(id EntityID, state *EntityState)
}

// Store is one typed component table. Writes mark the owning entity dirty in
// the world journal.
type Store[T any] struct {
	world *World
	name  string
	rows  map[EntityID]T
	field func(*EntityState) **T
}

func newStore[T any](w *World, name string, field func(*EntityState) **T) *Store[T] {
	s := &Store[T]{world: w, name: name, rows: make(map[EntityID]T), field: field}
	w.columns = append(w.columns, s)
	return s
}

// Get returns the component for id.
func (s *Store[T]) Get(id EntityID) (T, bool) {
	if s == nil {
		var zero T
		return zero, false
	}
	value, ok := s.rows[id]
	return value, ok
}

// Has reports whether id carries the component.
func (s *Store[T]) Has(id EntityID) bool {
	if s == nil {
		return false
	}
	_, ok := s.rows[id]
	return ok
}

// Set writes the component. Writes to entities that are not alive are ignored.
func (s *Store[T]) Set(id EntityID, value T) bool {
	if s == nil || !s.world.Alive(id) {
		return false
	}
	s.rows[id] = value
	s.world.journal.AppendPatch(journal.Patch{Kind: journal.PatchComponentSet, EntityID: uint32(id), Component: s.name})
	return true
}

// Update applies fn to the stored component and writes the result back.
func (s *Store[T]) Update(id EntityID, fn func(*T)) bool {
	value, ok := s.Get(id)
	if !ok || fn == nil {
		return false
	}
	fn(&value)
	return s.Set(id, value)
}

// Remove deletes the component from id.
func (s *Store[T]) Remove(id EntityID) {
	if s == nil {
		return
	}
	if _, ok := s.rows[id]; !ok {
		return
	}
	delete(s.rows, id)
	s.world.journal.AppendPatch(journal.Patch{Kind: journal.PatchComponentRemoved, EntityID: uint32(id), Component: s.name})
}

// IDs returns every entity carrying the component in ascending order.
func (s *Store[T]) IDs() []EntityID {
	if s == nil || len(s.rows) == 0 {
		return nil
	}
	ids := make([]EntityID, 0, len(s.rows))
	for id := range s.rows {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

// Len reports how many entities carry the component.
func (s *Store[T]) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rows)
}

func (s *Store[T]) drop(id EntityID) {
	delete(s.rows, id)
}

func (s *Store[T]) capture(id EntityID, state *EntityState) {
	if value, ok := s.rows[id]; ok {
		copied := value
		*s.field(state) = &copied
	}
}

func (s *Store[T]) restore(id EntityID, state *EntityState) {
	if value := *s.field(state); value != nil {
		s.rows[id] = *value
		return
	}
	delete(s.rows, id)
}

// DestroyHook runs before an entity's components are dropped.
type DestroyHook func(id EntityID)

// World is the entity/component store of one simulation instance.
type World struct {
	nextID      EntityID
	nextLocalID EntityID
	alive       map[EntityID]struct{}
	hooks       []DestroyHook
	journal     *journal.Journal
	columns     []column

	Transforms    *Store[Transform]
	Teams         *Store[Team]
	Health        *Store[Health]
	Units         *Store[Unit]
	Placements    *Store[Placement]
	AbilitySets   *Store[AbilitySet]
	Anchored      *Store[Anchored]
	Combat        *Store[Combat]
	Movement      *Store[Movement]
	Production    *Store[Production]
	Claims        *Store[ResourceClaim]
	Constructions *Store[Construction]
	Homes         *Store[Home]
}

// NewWorld constructs an empty store. A nil journal gets a private journal
// without keyframe retention.
func NewWorld(j *journal.Journal) *World {
	if j == nil {
		j = journal.New(0, 0)
	}
	w := &World{
		nextID:      1,
		nextLocalID: AIEntityIDOffset,
		alive:       make(map[EntityID]struct{}),
		journal:     j,
	}
	w.Transforms = newStore(w, "transform", func(s *EntityState) **Transform { return &s.Transform })
	w.Teams = newStore(w, "team", func(s *EntityState) **Team { return &s.Team })
	w.Health = newStore(w, "health", func(s *EntityState) **Health { return &s.Health })
	w.Units = newStore(w, "unit", func(s *EntityState) **Unit { return &s.Unit })
	w.Placements = newStore(w, "placement", func(s *EntityState) **Placement { return &s.Placement })
	w.AbilitySets = newStore(w, "abilities", func(s *EntityState) **AbilitySet { return &s.Abilities })
	w.Anchored = newStore(w, "anchored", func(s *EntityState) **Anchored { return &s.Anchored })
	w.Combat = newStore(w, "combat", func(s *EntityState) **Combat { return &s.Combat })
	w.Movement = newStore(w, "movement", func(s *EntityState) **Movement { return &s.Movement })
	w.Production = newStore(w, "production", func(s *EntityState) **Production { return &s.Production })
	w.Claims = newStore(w, "resourceClaim", func(s *EntityState) **ResourceClaim { return &s.ResourceClaim })
	w.Constructions = newStore(w, "construction", func(s *EntityState) **Construction { return &s.Construction })
	w.Homes = newStore(w, "home", func(s *EntityState) **Home { return &s.Home })
	return w
}

// Journal exposes the patch journal backing delta serialization.
func (w *World) Journal() *journal.Journal {
	if w == nil {
		return nil
	}
	return w.journal
}

// Create allocates the next authoritative entity ID.
func (w *World) Create() EntityID {
	id := w.nextID
	w.nextID++
	w.spawn(id)
	return id
}

// CreateLocal allocates from the speculative range used by local-only
// actors. These IDs never advance the authoritative counter.
func (w *World) CreateLocal() EntityID {
	for {
		id := w.nextLocalID
		w.nextLocalID++
		if _, taken := w.alive[id]; !taken {
			w.spawn(id)
			return id
		}
	}
}

// CreateWithID creates an entity with an ID issued elsewhere, typically a
// client mirroring the server.
func (w *World) CreateWithID(id EntityID) error {
	if id == 0 {
		return ErrInvalidEntityID
	}
	if w.Alive(id) {
		return fmt.Errorf("create entity %d: %w", id, ErrEntityExists)
	}
	if id < AIEntityIDOffset && id >= w.nextID {
		w.nextID = id + 1
	}
	w.spawn(id)
	return nil
}

func (w *World) spawn(id EntityID) {
	w.alive[id] = struct{}{}
	w.journal.AppendPatch(journal.Patch{Kind: journal.PatchEntityCreated, EntityID: uint32(id)})
}

// Alive reports whether id is a live entity.
func (w *World) Alive(id EntityID) bool {
	if w == nil || id == 0 {
		return false
	}
	_, ok := w.alive[id]
	return ok
}

// OnDestroy registers a hook run for every destroyed entity, in
// registration order, before its components are dropped.
func (w *World) OnDestroy(hook DestroyHook) {
	if w == nil || hook == nil {
		return
	}
	w.hooks = append(w.hooks, hook)
}

// Destroy removes an entity and all of its components.
func (w *World) Destroy(id EntityID) bool {
	if !w.Alive(id) {
		return false
	}
	for _, hook := range w.hooks {
		hook(id)
	}
	for _, col := range w.columns {
		col.drop(id)
	}
	delete(w.alive, id)
	w.journal.PurgeEntity(uint32(id))
	return true
}

// Entities returns every live entity in ascending ID order.
func (w *World) Entities() []EntityID {
	if w == nil || len(w.alive) == 0 {
		return nil
	}
	ids := make([]EntityID, 0, len(w.alive))
	for id := range w.alive {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

// Count reports the number of live entities.
func (w *World) Count() int {
	if w == nil {
		return 0
	}
	return len(w.alive)
}

// NextID reports the next authoritative ID Create will issue.
func (w *World) NextID() EntityID {
	if w == nil {
		return 0
	}
	return w.nextID
}

// SyncNextID adopts a counter value received from the authority. The
// counter never moves backwards.
func (w *World) SyncNextID(next EntityID) {
	if w == nil || next <= w.nextID {
		return
	}
	w.nextID = next
}

func sortIDs(ids []EntityID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
