package placement

import (
	"math"

	"squad-clash/core/internal/ecs"
	"squad-clash/core/internal/units"
)

// FormationOffsets lays out size members in a near-square block, row by row.
// Offsets are in cells relative to the anchor cell; gap is the number of
// empty cells between neighbours. The result depends only on its inputs.
func FormationOffsets(size int, footprint units.Footprint, gap int) []ecs.Cell {
	if size < 1 {
		return nil
	}
	if gap < 0 {
		gap = 0
	}
	w, h := max(footprint.W, 1), max(footprint.H, 1)
	columns := int(math.Ceil(math.Sqrt(float64(size))))
	offsets := make([]ecs.Cell, size)
	for i := range offsets {
		offsets[i] = ecs.Cell{
			X: (i % columns) * (w + gap),
			Y: (i / columns) * (h + gap),
		}
	}
	return offsets
}

// FootprintCells expands an anchor cell into every cell of the footprint in
// row-major order.
func FootprintCells(anchor ecs.Cell, footprint units.Footprint) []ecs.Cell {
	w, h := max(footprint.W, 1), max(footprint.H, 1)
	cells := make([]ecs.Cell, 0, w*h)
	for dy := 0; dy < h; dy++ {
		for dx := 0; dx < w; dx++ {
			cells = append(cells, ecs.Cell{X: anchor.X + dx, Y: anchor.Y + dy})
		}
	}
	return cells
}

// spacingGap converts a world-unit spacing into whole cells.
func spacingGap(spacing, cellSize float64) int {
	if spacing <= 0 || cellSize <= 0 {
		return 0
	}
	return int(math.Floor(spacing / cellSize))
}

// memberLayout returns the cells of every member in creation order.
func memberLayout(anchor ecs.Cell, unit *units.UnitType, cellSize float64) [][]ecs.Cell {
	offsets := FormationOffsets(unit.SquadSize, unit.Footprint, spacingGap(unit.Spacing, cellSize))
	layout := make([][]ecs.Cell, len(offsets))
	for i, off := range offsets {
		layout[i] = FootprintCells(ecs.Cell{X: anchor.X + off.X, Y: anchor.Y + off.Y}, unit.Footprint)
	}
	return layout
}
