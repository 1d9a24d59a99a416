package grid

import (
	"testing"

	"squad-clash/core/internal/ecs"
)

func TestWorldGridConversionRoundTrip(t *testing.T) {
	g := New(Config{Cols: 10, Rows: 6, CellSize: 2})
	x, y := g.GridToWorld(ecs.Cell{X: 3, Y: 4})
	if x != 7 || y != 9 {
		t.Fatalf("expected centre (7,9), got (%f,%f)", x, y)
	}
	cell, ok := g.WorldToGrid(x, y)
	if !ok || cell != (ecs.Cell{X: 3, Y: 4}) {
		t.Fatalf("expected round trip to cell (3,4), got %+v (%v)", cell, ok)
	}
	if _, ok := g.WorldToGrid(-1, 0); ok {
		t.Fatalf("expected negative coordinates to be out of bounds")
	}
}

func TestCanPlaceIsScopedByTeam(t *testing.T) {
	g := New(Config{Cols: 10, Rows: 4, DeployColumns: 3})
	left := ecs.Cell{X: 1, Y: 1}
	right := ecs.Cell{X: 8, Y: 1}
	if !g.CanPlace(left, ecs.TeamLeft) || g.CanPlace(left, ecs.TeamRight) {
		t.Fatalf("expected left cell to belong to the left zone only")
	}
	if !g.CanPlace(right, ecs.TeamRight) || g.CanPlace(right, ecs.TeamLeft) {
		t.Fatalf("expected right cell to belong to the right zone only")
	}
	g.SetTerrain(left, TerrainWater, 0)
	if g.CanPlace(left, ecs.TeamLeft) {
		t.Fatalf("expected water to reject placement")
	}
}

func TestReserveIsAllOrNothing(t *testing.T) {
	g := New(Config{Cols: 10, Rows: 4})
	if !g.Reserve([]ecs.Cell{{X: 0, Y: 0}}, 1) {
		t.Fatalf("expected first reservation to succeed")
	}
	if g.Reserve([]ecs.Cell{{X: 1, Y: 0}, {X: 0, Y: 0}}, 2) {
		t.Fatalf("expected overlapping reservation to fail")
	}
	if g.Occupant(ecs.Cell{X: 1, Y: 0}) != 0 {
		t.Fatalf("expected failed reservation to leave cells untouched")
	}
	if g.ReservedCount() != 1 {
		t.Fatalf("expected 1 reserved cell, got %d", g.ReservedCount())
	}
}

func TestReleaseReportsUnreservedCells(t *testing.T) {
	g := New(Config{Cols: 10, Rows: 4})
	g.Reserve([]ecs.Cell{{X: 0, Y: 0}}, 5)
	missing := g.Release([]ecs.Cell{{X: 0, Y: 0}, {X: 0, Y: 1}}, 5)
	if len(missing) != 1 || missing[0] != (ecs.Cell{X: 0, Y: 1}) {
		t.Fatalf("expected one missing cell, got %+v", missing)
	}
	if g.ReservedCount() != 0 {
		t.Fatalf("expected cells to be released")
	}
}

func TestClaimNearestResourcePicksAdjacentNode(t *testing.T) {
	g := New(Config{Cols: 10, Rows: 6, Resources: []ecs.Cell{{X: 2, Y: 2}, {X: 0, Y: 5}}})
	node, ok := g.ClaimNearestResource([]ecs.Cell{{X: 1, Y: 2}}, 9)
	if !ok || node != (ecs.Cell{X: 2, Y: 2}) {
		t.Fatalf("expected adjacent node (2,2), got %+v (%v)", node, ok)
	}
	if _, ok := g.ClaimNearestResource([]ecs.Cell{{X: 1, Y: 2}}, 10); ok {
		t.Fatalf("expected claimed node to be unavailable")
	}
	g.ReleaseResource(9)
	if g.ResourceClaimant(node) != 0 {
		t.Fatalf("expected release to free the node")
	}
}

func TestFeatureGenerationIsDeterministic(t *testing.T) {
	a := New(Config{Cols: 20, Rows: 12, Features: true, Seed: "alpha"})
	b := New(Config{Cols: 20, Rows: 12, Features: true, Seed: "alpha"})
	for y := 0; y < 12; y++ {
		for x := 0; x < 20; x++ {
			cell := ecs.Cell{X: x, Y: y}
			if a.TerrainAt(cell) != b.TerrainAt(cell) {
				t.Fatalf("expected identical terrain at %+v", cell)
			}
		}
	}
	for _, cell := range a.ZoneCells(ecs.TeamLeft) {
		if !a.CanPlace(cell, ecs.TeamLeft) {
			t.Fatalf("expected deployment zone to stay clear, blocked at %+v", cell)
		}
	}
}
