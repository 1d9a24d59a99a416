package grid

import (
	"math"
	"sort"
	"strings"

	"squad-clash/core/internal/ecs"
	"squad-clash/core/internal/rng"
)

const (
	DefaultCols          = 20
	DefaultRows          = 12
	DefaultCellSize      = 2.0
	DefaultDeployColumns = 6
	DefaultSeed          = "terrain"
)

// Terrain is the ground type of a cell.
type Terrain uint8

const (
	TerrainPlain Terrain = iota
	TerrainForest
	TerrainHill
	TerrainWater
	TerrainRock
)

// String returns the wire name of the terrain type.
func (t Terrain) String() string {
	switch t {
	case TerrainForest:
		return "forest"
	case TerrainHill:
		return "hill"
	case TerrainWater:
		return "water"
	case TerrainRock:
		return "rock"
	default:
		return "plain"
	}
}

// Placeable reports whether units may be deployed on the terrain.
func (t Terrain) Placeable() bool {
	return t != TerrainWater && t != TerrainRock
}

// Config describes the battlefield layout.
type Config struct {
	Cols          int        `json:"cols" mapstructure:"cols"`
	Rows          int        `json:"rows" mapstructure:"rows"`
	CellSize      float64    `json:"cellSize" mapstructure:"cellSize"`
	DeployColumns int        `json:"deployColumns" mapstructure:"deployColumns"`
	Features      bool       `json:"features" mapstructure:"features"`
	Seed          string     `json:"seed" mapstructure:"seed"`
	Resources     []ecs.Cell `json:"resources" mapstructure:"resources"`
}

func (cfg Config) normalized() Config {
	normalized := cfg
	if normalized.Cols <= 0 {
		normalized.Cols = DefaultCols
	}
	if normalized.Rows <= 0 {
		normalized.Rows = DefaultRows
	}
	if normalized.CellSize <= 0 {
		normalized.CellSize = DefaultCellSize
	}
	if normalized.DeployColumns <= 0 {
		normalized.DeployColumns = DefaultDeployColumns
	}
	if normalized.DeployColumns*2 > normalized.Cols {
		normalized.DeployColumns = normalized.Cols / 2
	}
	normalized.Seed = strings.TrimSpace(normalized.Seed)
	if normalized.Seed == "" {
		normalized.Seed = DefaultSeed
	}
	return normalized
}

// Normalized returns the config with defaults applied.
func (cfg Config) Normalized() Config {
	return cfg.normalized()
}

// DefaultConfig returns a flat battlefield with one resource node per side.
func DefaultConfig() Config {
	return Config{
		Cols:          DefaultCols,
		Rows:          DefaultRows,
		CellSize:      DefaultCellSize,
		DeployColumns: DefaultDeployColumns,
		Seed:          DefaultSeed,
		Resources: []ecs.Cell{
			{X: 1, Y: DefaultRows / 2},
			{X: DefaultCols - 2, Y: DefaultRows / 2},
		},
	}
}

// Grid answers world/grid conversion, terrain and occupancy queries. Cell
// reservations are owned by entity IDs so a release can be checked against
// the reservation it undoes.
type Grid struct {
	cols, rows    int
	cellSize      float64
	deployColumns int
	terrain       []Terrain
	heights       []float64
	occupancy     []ecs.EntityID
	resources     map[ecs.Cell]ecs.EntityID
}

// New builds a grid. Terrain features are generated from the configured seed
// so every process that shares the config sees the same battlefield.
func New(cfg Config) *Grid {
	cfg = cfg.normalized()
	size := cfg.Cols * cfg.Rows
	g := &Grid{
		cols:          cfg.Cols,
		rows:          cfg.Rows,
		cellSize:      cfg.CellSize,
		deployColumns: cfg.DeployColumns,
		terrain:       make([]Terrain, size),
		heights:       make([]float64, size),
		occupancy:     make([]ecs.EntityID, size),
		resources:     make(map[ecs.Cell]ecs.EntityID),
	}
	if cfg.Features {
		g.generateFeatures(cfg.Seed)
	}
	for _, cell := range cfg.Resources {
		if g.InBounds(cell) {
			g.resources[cell] = 0
			g.terrain[g.index(cell)] = TerrainPlain
		}
	}
	return g
}

// Features are kept out of the deployment zones so both sides always have
// room to place.
func (g *Grid) generateFeatures(seed string) {
	r := rng.NewDeterministicRNG(seed, "features")
	count := (g.cols * g.rows) / 12
	for i := 0; i < count; i++ {
		cell := ecs.Cell{
			X: g.deployColumns + r.Intn(max(1, g.cols-2*g.deployColumns)),
			Y: r.Intn(g.rows),
		}
		if !g.InBounds(cell) {
			continue
		}
		idx := g.index(cell)
		switch roll := r.Intn(10); {
		case roll < 4:
			g.terrain[idx] = TerrainForest
		case roll < 7:
			g.terrain[idx] = TerrainHill
			g.heights[idx] = 0.5 + r.Float64()
		case roll < 9:
			g.terrain[idx] = TerrainWater
			g.heights[idx] = -0.25
		default:
			g.terrain[idx] = TerrainRock
		}
	}
}

// Cols reports the number of columns.
func (g *Grid) Cols() int { return g.cols }

// Rows reports the number of rows.
func (g *Grid) Rows() int { return g.rows }

// CellSize reports the world size of one cell.
func (g *Grid) CellSize() float64 { return g.cellSize }

// InBounds reports whether the cell lies on the grid.
func (g *Grid) InBounds(cell ecs.Cell) bool {
	return g != nil && cell.X >= 0 && cell.Y >= 0 && cell.X < g.cols && cell.Y < g.rows
}

func (g *Grid) index(cell ecs.Cell) int {
	return cell.Y*g.cols + cell.X
}

// WorldToGrid returns the cell containing the world point.
func (g *Grid) WorldToGrid(x, y float64) (ecs.Cell, bool) {
	if g == nil || g.cellSize <= 0 {
		return ecs.Cell{}, false
	}
	cell := ecs.Cell{X: int(math.Floor(x / g.cellSize)), Y: int(math.Floor(y / g.cellSize))}
	return cell, g.InBounds(cell)
}

// GridToWorld returns the world point at the centre of the cell.
func (g *Grid) GridToWorld(cell ecs.Cell) (float64, float64) {
	if g == nil {
		return 0, 0
	}
	return (float64(cell.X) + 0.5) * g.cellSize, (float64(cell.Y) + 0.5) * g.cellSize
}

// Height returns the terrain height under the world point. Points outside
// the grid report zero.
func (g *Grid) Height(x, y float64) float64 {
	cell, ok := g.WorldToGrid(x, y)
	if !ok {
		return 0
	}
	return g.heights[g.index(cell)]
}

// TerrainAt returns the terrain of the cell.
func (g *Grid) TerrainAt(cell ecs.Cell) Terrain {
	if !g.InBounds(cell) {
		return TerrainRock
	}
	return g.terrain[g.index(cell)]
}

// SetTerrain overrides one cell, used by scripted scenarios.
func (g *Grid) SetTerrain(cell ecs.Cell, terrain Terrain, height float64) {
	if !g.InBounds(cell) {
		return
	}
	idx := g.index(cell)
	g.terrain[idx] = terrain
	g.heights[idx] = height
}

// InZone reports whether the cell lies in the team's deployment columns.
func (g *Grid) InZone(cell ecs.Cell, team ecs.Team) bool {
	if !g.InBounds(cell) {
		return false
	}
	switch team {
	case ecs.TeamLeft:
		return cell.X < g.deployColumns
	case ecs.TeamRight:
		return cell.X >= g.cols-g.deployColumns
	default:
		return false
	}
}

// Occupant returns the entity reserving the cell, or zero.
func (g *Grid) Occupant(cell ecs.Cell) ecs.EntityID {
	if !g.InBounds(cell) {
		return 0
	}
	return g.occupancy[g.index(cell)]
}

// CanPlace is the team-scoped occupancy check used by placement validation.
func (g *Grid) CanPlace(cell ecs.Cell, team ecs.Team) bool {
	if !g.InZone(cell, team) {
		return false
	}
	if !g.TerrainAt(cell).Placeable() {
		return false
	}
	if _, resource := g.resources[cell]; resource {
		return false
	}
	return g.occupancy[g.index(cell)] == 0
}

// Reserve marks every cell as owned by owner. Either all cells are reserved
// or none are.
func (g *Grid) Reserve(cells []ecs.Cell, owner ecs.EntityID) bool {
	if g == nil || owner == 0 || len(cells) == 0 {
		return false
	}
	seen := make(map[ecs.Cell]struct{}, len(cells))
	for _, cell := range cells {
		if !g.InBounds(cell) {
			return false
		}
		if _, dup := seen[cell]; dup {
			return false
		}
		seen[cell] = struct{}{}
		if current := g.occupancy[g.index(cell)]; current != 0 && current != owner {
			return false
		}
	}
	for _, cell := range cells {
		g.occupancy[g.index(cell)] = owner
	}
	return true
}

// Release frees the cells held by owner and returns the cells that were not
// reserved by it.
func (g *Grid) Release(cells []ecs.Cell, owner ecs.EntityID) []ecs.Cell {
	if g == nil {
		return nil
	}
	var missing []ecs.Cell
	for _, cell := range cells {
		if !g.InBounds(cell) || g.occupancy[g.index(cell)] != owner || owner == 0 {
			missing = append(missing, cell)
			continue
		}
		g.occupancy[g.index(cell)] = 0
	}
	return missing
}

// ReleaseOwner frees every cell held by owner and returns how many were freed.
func (g *Grid) ReleaseOwner(owner ecs.EntityID) int {
	if g == nil || owner == 0 {
		return 0
	}
	freed := 0
	for idx, current := range g.occupancy {
		if current == owner {
			g.occupancy[idx] = 0
			freed++
		}
	}
	return freed
}

// ReservedCount reports how many cells are currently reserved.
func (g *Grid) ReservedCount() int {
	if g == nil {
		return 0
	}
	count := 0
	for _, owner := range g.occupancy {
		if owner != 0 {
			count++
		}
	}
	return count
}

// ResourceNodes returns every resource node in row-major order.
func (g *Grid) ResourceNodes() []ecs.Cell {
	if g == nil || len(g.resources) == 0 {
		return nil
	}
	nodes := make([]ecs.Cell, 0, len(g.resources))
	for cell := range g.resources {
		nodes = append(nodes, cell)
	}
	sortCells(nodes)
	return nodes
}

// IsResource reports whether the cell holds a resource node.
func (g *Grid) IsResource(cell ecs.Cell) bool {
	if g == nil {
		return false
	}
	_, ok := g.resources[cell]
	return ok
}

// ResourceClaimant returns the entity harvesting the node, or zero.
func (g *Grid) ResourceClaimant(node ecs.Cell) ecs.EntityID {
	if g == nil {
		return 0
	}
	return g.resources[node]
}

// ClaimNearestResource claims the closest unclaimed node adjacent to any of
// the footprint cells. Ties resolve in row-major order.
func (g *Grid) ClaimNearestResource(footprint []ecs.Cell, owner ecs.EntityID) (ecs.Cell, bool) {
	if g == nil || owner == 0 || len(footprint) == 0 {
		return ecs.Cell{}, false
	}
	best := ecs.Cell{}
	bestDist := math.MaxInt
	for _, node := range g.ResourceNodes() {
		if g.resources[node] != 0 {
			continue
		}
		dist := math.MaxInt
		for _, cell := range footprint {
			dx, dy := abs(node.X-cell.X), abs(node.Y-cell.Y)
			if dx > 1 || dy > 1 {
				continue
			}
			if d := dx*dx + dy*dy; d < dist {
				dist = d
			}
		}
		if dist < bestDist {
			best, bestDist = node, dist
		}
	}
	if bestDist == math.MaxInt {
		return ecs.Cell{}, false
	}
	g.resources[best] = owner
	return best, true
}

// ReleaseResource frees every node claimed by owner.
func (g *Grid) ReleaseResource(owner ecs.EntityID) {
	if g == nil || owner == 0 {
		return
	}
	for node, claimant := range g.resources {
		if claimant == owner {
			g.resources[node] = 0
		}
	}
}

// ZoneCells returns every cell of the team's zone in column-major order
// scanning away from the team's edge.
func (g *Grid) ZoneCells(team ecs.Team) []ecs.Cell {
	if g == nil {
		return nil
	}
	cells := make([]ecs.Cell, 0, g.deployColumns*g.rows)
	for i := 0; i < g.deployColumns; i++ {
		col := i
		if team == ecs.TeamRight {
			col = g.cols - 1 - i
		} else if team != ecs.TeamLeft {
			return nil
		}
		for row := 0; row < g.rows; row++ {
			cells = append(cells, ecs.Cell{X: col, Y: row})
		}
	}
	return cells
}

func sortCells(cells []ecs.Cell) {
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].Y != cells[j].Y {
			return cells[i].Y < cells[j].Y
		}
		return cells[i].X < cells[j].X
	})
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
