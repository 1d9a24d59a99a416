package ecs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"squad-clash/core/internal/journal"
)

// EntityState is the serialized form of one entity. Absent components are nil.
type EntityState struct {
	ID            EntityID       `json:"id"`
	Transform     *Transform     `json:"transform,omitempty"`
	Team          *Team          `json:"team,omitempty"`
	Health        *Health        `json:"health,omitempty"`
	Unit          *Unit          `json:"unit,omitempty"`
	Placement     *Placement     `json:"placement,omitempty"`
	Abilities     *AbilitySet    `json:"abilities,omitempty"`
	Anchored      *Anchored      `json:"anchored,omitempty"`
	Combat        *Combat        `json:"combat,omitempty"`
	Movement      *Movement      `json:"movement,omitempty"`
	Production    *Production    `json:"production,omitempty"`
	ResourceClaim *ResourceClaim `json:"resourceClaim,omitempty"`
	Construction  *Construction  `json:"construction,omitempty"`
	Home          *Home          `json:"home,omitempty"`
}

// Snapshot is a full or delta serialization of the store.
type Snapshot struct {
	Full     bool          `json:"full"`
	NextID   EntityID      `json:"nextId"`
	Entities []EntityState `json:"entities"`
	Removed  []EntityID    `json:"removed,omitempty"`
}

// Serialize captures the store. A full snapshot lists every entity in
// ascending order. A delta lists entities touched since the previous delta
// plus the IDs removed in that window, and resets the window.
func (w *World) Serialize(full bool) Snapshot {
	if w == nil {
		return Snapshot{Full: full}
	}
	if full {
		ids := w.Entities()
		snapshot := Snapshot{Full: true, NextID: w.nextID, Entities: make([]EntityState, 0, len(ids))}
		for _, id := range ids {
			snapshot.Entities = append(snapshot.Entities, w.captureEntity(id))
		}
		return snapshot
	}

	patches := w.journal.DrainPatches()
	touched := make(map[EntityID]struct{})
	removed := make(map[EntityID]struct{})
	for _, patch := range patches {
		id := EntityID(patch.EntityID)
		if patch.Kind == journal.PatchEntityRemoved {
			removed[id] = struct{}{}
			delete(touched, id)
			continue
		}
		if w.Alive(id) {
			touched[id] = struct{}{}
		}
	}

	snapshot := Snapshot{NextID: w.nextID, Entities: make([]EntityState, 0, len(touched))}
	for _, id := range keys(touched) {
		snapshot.Entities = append(snapshot.Entities, w.captureEntity(id))
	}
	snapshot.Removed = keys(removed)
	return snapshot
}

// Apply replays a snapshot onto this store. A full snapshot destroys every
// local entity it does not mention.
func (w *World) Apply(snapshot Snapshot) error {
	if w == nil {
		return nil
	}
	if snapshot.Full {
		keep := make(map[EntityID]struct{}, len(snapshot.Entities))
		for _, state := range snapshot.Entities {
			keep[state.ID] = struct{}{}
		}
		for _, id := range w.Entities() {
			if _, ok := keep[id]; !ok {
				w.Destroy(id)
			}
		}
	}
	for _, id := range snapshot.Removed {
		w.Destroy(id)
	}
	for i := range snapshot.Entities {
		state := &snapshot.Entities[i]
		if !w.Alive(state.ID) {
			if err := w.CreateWithID(state.ID); err != nil {
				return err
			}
		}
		for _, col := range w.columns {
			col.restore(state.ID, state)
		}
	}
	w.SyncNextID(snapshot.NextID)
	return nil
}

// Checksum hashes the full snapshot. Two stores with identical state yield
// identical checksums.
func (w *World) Checksum() string {
	payload, err := json.Marshal(w.Serialize(true))
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func (w *World) captureEntity(id EntityID) EntityState {
	state := EntityState{ID: id}
	for _, col := range w.columns {
		col.capture(id, &state)
	}
	return state
}

func keys(set map[EntityID]struct{}) []EntityID {
	if len(set) == 0 {
		return nil
	}
	ids := make([]EntityID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}
