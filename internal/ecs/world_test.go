package ecs

import (
	"encoding/json"
	"testing"
)

func TestCreateIssuesAscendingIDs(t *testing.T) {
	w := NewWorld(nil)
	first := w.Create()
	second := w.Create()
	if first != 1 || second != 2 {
		t.Fatalf("expected ids 1 and 2, got %d and %d", first, second)
	}
	if w.NextID() != 3 {
		t.Fatalf("expected next id 3, got %d", w.NextID())
	}
}

func TestCreateWithIDAdvancesCounter(t *testing.T) {
	w := NewWorld(nil)
	if err := w.CreateWithID(10); err != nil {
		t.Fatalf("create with id: %v", err)
	}
	if w.NextID() != 11 {
		t.Fatalf("expected counter to move past mirrored id, got %d", w.NextID())
	}
	if err := w.CreateWithID(10); err == nil {
		t.Fatalf("expected duplicate id to fail")
	}
	if err := w.CreateWithID(0); err != ErrInvalidEntityID {
		t.Fatalf("expected zero id to be rejected, got %v", err)
	}

	local := w.CreateLocal()
	if local < AIEntityIDOffset {
		t.Fatalf("expected local id in speculative range, got %d", local)
	}
	if w.NextID() != 11 {
		t.Fatalf("expected local allocation to leave counter alone, got %d", w.NextID())
	}
}

func TestSyncNextIDNeverDecreases(t *testing.T) {
	w := NewWorld(nil)
	w.SyncNextID(50)
	w.SyncNextID(20)
	if w.NextID() != 50 {
		t.Fatalf("expected counter 50, got %d", w.NextID())
	}
}

func TestEntitiesIterateInAscendingOrder(t *testing.T) {
	w := NewWorld(nil)
	for _, id := range []EntityID{9, 3, 7, 1} {
		if err := w.CreateWithID(id); err != nil {
			t.Fatalf("create %d: %v", id, err)
		}
		w.Teams.Set(id, TeamLeft)
	}
	ids := w.Entities()
	want := []EntityID{1, 3, 7, 9}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, ids)
		}
	}
	teamIDs := w.Teams.IDs()
	for i := range want {
		if teamIDs[i] != want[i] {
			t.Fatalf("expected component ids %v, got %v", want, teamIDs)
		}
	}
}

func TestDestroyRunsHooksBeforeDroppingComponents(t *testing.T) {
	w := NewWorld(nil)
	id := w.Create()
	w.Health.Set(id, Health{HP: 10, Max: 10})

	var order []string
	w.OnDestroy(func(target EntityID) {
		if _, ok := w.Health.Get(target); !ok {
			t.Fatalf("expected components to be present during hook")
		}
		order = append(order, "first")
	})
	w.OnDestroy(func(EntityID) { order = append(order, "second") })

	if !w.Destroy(id) {
		t.Fatalf("expected destroy to succeed")
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("expected hooks in registration order, got %v", order)
	}
	if w.Health.Has(id) || w.Alive(id) {
		t.Fatalf("expected entity to be gone")
	}
	if w.Destroy(id) {
		t.Fatalf("expected second destroy to be a no-op")
	}
}

func TestSetIgnoresDeadEntities(t *testing.T) {
	w := NewWorld(nil)
	if w.Health.Set(42, Health{HP: 1}) {
		t.Fatalf("expected write to unknown entity to be rejected")
	}
}

func TestDeltaSerializationTracksTouchedAndRemoved(t *testing.T) {
	w := NewWorld(nil)
	a := w.Create()
	b := w.Create()
	w.Transforms.Set(a, Transform{X: 1})
	w.Transforms.Set(b, Transform{X: 2})
	w.Serialize(false)

	w.Health.Set(b, Health{HP: 5, Max: 10})
	w.Destroy(a)

	delta := w.Serialize(false)
	if delta.Full {
		t.Fatalf("expected delta snapshot")
	}
	if len(delta.Entities) != 1 || delta.Entities[0].ID != b {
		t.Fatalf("expected only entity %d in delta, got %+v", b, delta.Entities)
	}
	if delta.Entities[0].Transform == nil || delta.Entities[0].Health == nil {
		t.Fatalf("expected delta to carry the whole entity, got %+v", delta.Entities[0])
	}
	if len(delta.Removed) != 1 || delta.Removed[0] != a {
		t.Fatalf("expected %d removed, got %v", a, delta.Removed)
	}
	if empty := w.Serialize(false); len(empty.Entities) != 0 || len(empty.Removed) != 0 {
		t.Fatalf("expected drained delta to be empty, got %+v", empty)
	}
}

func TestApplyMirrorsServerState(t *testing.T) {
	server := NewWorld(nil)
	client := NewWorld(nil)

	a := server.Create()
	server.Teams.Set(a, TeamRight)
	server.Placements.Set(a, Placement{PlacementID: 3, Team: TeamRight, Cells: []Cell{{X: 1, Y: 2}}})
	b := server.Create()
	server.Health.Set(b, Health{HP: 3, Max: 3})

	payload, err := json.Marshal(server.Serialize(true))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Snapshot
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := client.Apply(decoded); err != nil {
		t.Fatalf("apply full: %v", err)
	}
	if client.Checksum() != server.Checksum() {
		t.Fatalf("expected identical checksums after full apply")
	}

	server.Serialize(false)
	server.Destroy(a)
	server.Health.Update(b, func(h *Health) { h.HP = 1 })
	if err := client.Apply(server.Serialize(false)); err != nil {
		t.Fatalf("apply delta: %v", err)
	}
	if client.Alive(a) {
		t.Fatalf("expected removed entity to be destroyed on client")
	}
	if health, _ := client.Health.Get(b); health.HP != 1 {
		t.Fatalf("expected health update to replicate, got %+v", health)
	}
	if client.NextID() != server.NextID() {
		t.Fatalf("expected client counter %d, got %d", server.NextID(), client.NextID())
	}
}

func TestTeamTextRoundTrip(t *testing.T) {
	payload, err := json.Marshal(TeamLeft)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(payload) != `"left"` {
		t.Fatalf("expected team to encode by name, got %s", payload)
	}
	var team Team
	if err := json.Unmarshal([]byte(`"right"`), &team); err != nil || team != TeamRight {
		t.Fatalf("expected right, got %v (%v)", team, err)
	}
	if TeamLeft.Opponent() != TeamRight || TeamNone.Opponent() != TeamNone {
		t.Fatalf("unexpected opponents")
	}
}
