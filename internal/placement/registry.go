package placement

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"squad-clash/core/internal/abilities"
	"squad-clash/core/internal/ecs"
	"squad-clash/core/internal/events"
	"squad-clash/core/internal/grid"
	"squad-clash/core/internal/telemetry"
	"squad-clash/core/internal/units"
	"squad-clash/core/logging"
	battlelog "squad-clash/core/logging/battle"
)

// Economy is the currency and supply service placements are paid from.
type Economy interface {
	Gold(playerID string) int
	HasSupply(playerID string, supply int) bool
	Spend(playerID string, cost, supply int) bool
	Refund(playerID string, cost, supply int)
	ReleaseSupply(playerID string, supply int)
}

// Scheduler receives construction completion tasks.
type Scheduler interface {
	Now() time.Duration
	Schedule(at time.Duration, effect abilities.Effect, persistent bool)
}

// Deps wires the registry to the simulation services it consumes.
type Deps struct {
	World     *ecs.World
	Grid      *grid.Grid
	Catalog   *units.Catalog
	Abilities *abilities.Registry
	Economy   Economy
	Scheduler Scheduler
	Bus       *events.Bus
	Publisher logging.Publisher
	Logger    telemetry.Logger
	Metrics   telemetry.Metrics
	Tick      func() uint64
}

// Options tune registry behaviour.
type Options struct {
	// Authoritative registries may allocate placement IDs. Mirrors must be
	// handed the IDs the authority issued.
	Authoritative bool
}

// Request is one placement or spawn request. Exactly one of UnitType and
// UnitTypeID is usually set; UnitType wins when both are.
type Request struct {
	UnitType   *units.UnitType
	UnitTypeID string
	Position   *ecs.Cell

	// PlacementID reuses an ID issued by the authority; zero allocates.
	PlacementID uint32
	// Local placements allocate from the speculative ID ranges.
	Local bool
	// StartingState placements skip the economic checks.
	StartingState bool

	UnderConstruction bool
	Builder           ecs.EntityID
	Experience        int
	Level             int
}

// Squad is the registry's record of one spawned placement. Members only
// ever shrink.
type Squad struct {
	PlacementID uint32         `json:"placementId"`
	UnitType    string         `json:"unitType"`
	Team        ecs.Team       `json:"team"`
	PlayerID    string         `json:"playerId"`
	Supply      int            `json:"supply"`
	Cost        int            `json:"cost"`
	Members     []ecs.EntityID `json:"members"`
	Cells       []ecs.Cell     `json:"cells"`

	unit *units.UnitType
}

// SpawnResult reports the outcome of SpawnSquad.
type SpawnResult struct {
	Success bool
	Squad   Squad
	Err     error
}

// PlaceResult reports the outcome of PlacePlacement.
type PlaceResult struct {
	Success     bool           `json:"success"`
	PlacementID uint32         `json:"placementId,omitempty"`
	EntityIDs   []ecs.EntityID `json:"entityIds,omitempty"`
	Reason      Code           `json:"reason,omitempty"`
	Message     string         `json:"message,omitempty"`
}

// Record is the deduplicated view of one placement built from the store.
type Record struct {
	PlacementID       uint32         `json:"placementId"`
	UnitType          string         `json:"unitType"`
	Team              ecs.Team       `json:"team"`
	PlayerID          string         `json:"playerId"`
	GridX             int            `json:"gridX"`
	GridY             int            `json:"gridY"`
	Cells             []ecs.Cell     `json:"cells"`
	SquadUnits        []ecs.EntityID `json:"squadUnits"`
	UnderConstruction bool           `json:"underConstruction,omitempty"`
	Experience        int            `json:"experience,omitempty"`
	Level             int            `json:"level,omitempty"`
}

// Registry spawns squads and answers placement queries over the store.
type Registry struct {
	deps   Deps
	opts   Options
	ids    *Allocator
	local  *Allocator
	squads map[uint32]*Squad
}

// NewRegistry constructs a placement registry.
func NewRegistry(deps Deps, opts Options) *Registry {
	if deps.Catalog == nil {
		deps.Catalog = units.Default()
	}
	if deps.Abilities == nil {
		deps.Abilities = abilities.NewRegistry()
	}
	if deps.Publisher == nil {
		deps.Publisher = logging.NopPublisher()
	}
	return &Registry{
		deps:   deps,
		opts:   opts,
		ids:    NewAllocator(),
		local:  NewLocalAllocator(),
		squads: make(map[uint32]*Squad),
	}
}

// Authoritative reports whether the registry issues placement IDs.
func (r *Registry) Authoritative() bool {
	return r != nil && r.opts.Authoritative
}

// NextPlacementID reports the next authoritative placement ID.
func (r *Registry) NextPlacementID() uint32 {
	if r == nil {
		return 0
	}
	return r.ids.Peek()
}

// SyncPlacementID adopts the authority's counter.
func (r *Registry) SyncPlacementID(next uint32) {
	if r == nil {
		return
	}
	r.ids.Sync(next)
}

func (r *Registry) tick() uint64 {
	if r.deps.Tick == nil {
		return 0
	}
	return r.deps.Tick()
}

func (r *Registry) resolveUnit(req Request) (*units.UnitType, *Error) {
	if req.UnitType != nil {
		if err := req.UnitType.Validate(); err != nil {
			return nil, &Error{Code: CodeInvalidUnitType, Message: "unit type rejected", Err: err}
		}
		return req.UnitType, nil
	}
	if req.UnitTypeID == "" {
		return nil, newError(CodeInvalidUnitType, "unit type missing")
	}
	unit, ok := r.deps.Catalog.ByID(req.UnitTypeID)
	if !ok {
		return nil, newError(CodeInvalidUnitType, "unknown unit type %q", req.UnitTypeID)
	}
	return unit, nil
}

// SpawnSquad creates every member of a squad or nothing at all.
// knownEntityIDs, when supplied, are the IDs the authority assigned to the
// members in creation order.
func (r *Registry) SpawnSquad(req Request, team ecs.Team, playerID string, knownEntityIDs []ecs.EntityID) (result SpawnResult) {
	if r == nil || r.deps.World == nil || r.deps.Grid == nil {
		return SpawnResult{Err: newError(CodeInternal, "registry not initialised")}
	}

	var created []ecs.EntityID
	defer func() {
		if recovered := recover(); recovered != nil {
			r.rollback(created)
			err := newError(CodeInternal, "spawn panicked: %v", recovered)
			if r.deps.Logger != nil {
				r.deps.Logger.Printf("placement: recovered spawn panic: %v", recovered)
			}
			r.publishFailure(req, err, logging.SeverityError)
			result = SpawnResult{Err: err}
		}
	}()

	squad, perr := r.spawn(req, team, playerID, knownEntityIDs, &created)
	if perr != nil {
		r.rollback(created)
		r.publishFailure(req, perr, logging.SeverityDebug)
		return SpawnResult{Err: perr}
	}
	return SpawnResult{Success: true, Squad: squad}
}

func (r *Registry) spawn(req Request, team ecs.Team, playerID string, known []ecs.EntityID, created *[]ecs.EntityID) (Squad, *Error) {
	w, g := r.deps.World, r.deps.Grid

	unit, perr := r.resolveUnit(req)
	if perr != nil {
		return Squad{}, perr
	}
	if team != ecs.TeamLeft && team != ecs.TeamRight {
		return Squad{}, newError(CodeInvalidSquad, "unknown team %d", team)
	}
	if req.Position == nil {
		return Squad{}, newError(CodeMissingPosition, "grid position missing")
	}
	if len(known) > 0 && len(known) != unit.SquadSize {
		return Squad{}, newError(CodeInvalidSquad, "expected %d entity ids, got %d", unit.SquadSize, len(known))
	}
	for _, id := range known {
		if id == 0 || w.Alive(id) {
			return Squad{}, newError(CodeInvalidSquad, "entity id %d unavailable", id)
		}
	}

	layout := memberLayout(*req.Position, unit, g.CellSize())
	seen := make(map[ecs.Cell]struct{})
	for _, cells := range layout {
		for _, cell := range cells {
			if _, dup := seen[cell]; dup {
				return Squad{}, newError(CodeInvalidSquad, "formation overlaps at %d,%d", cell.X, cell.Y)
			}
			seen[cell] = struct{}{}
			if !g.InBounds(cell) || !g.TerrainAt(cell).Placeable() || g.IsResource(cell) || g.Occupant(cell) != 0 {
				return Squad{}, newError(CodeNoValidCells, "cell %d,%d unavailable", cell.X, cell.Y)
			}
		}
	}

	placementID, perr := r.placementID(req)
	if perr != nil {
		return Squad{}, perr
	}

	abilitySet, unknown := r.deps.Abilities.Resolve(unit.Abilities)
	if len(unknown) > 0 && r.deps.Logger != nil {
		r.deps.Logger.Printf("placement: unit %s lists unknown abilities %v", unit.ID, unknown)
	}

	squad := Squad{
		PlacementID: placementID,
		UnitType:    unit.ID,
		Team:        team,
		PlayerID:    playerID,
		Supply:      unit.Supply,
		Cost:        unit.Cost,
		unit:        unit,
	}
	for i, cells := range layout {
		var id ecs.EntityID
		switch {
		case len(known) > 0:
			if err := w.CreateWithID(known[i]); err != nil {
				return Squad{}, &Error{Code: CodeInvalidSquad, Message: "mirror entity id", Err: err}
			}
			id = known[i]
		case req.Local:
			id = w.CreateLocal()
		default:
			id = w.Create()
		}
		*created = append(*created, id)

		if !g.Reserve(cells, id) {
			return Squad{}, newError(CodeNoValidCells, "reserve cells for member %d", i)
		}
		r.attach(id, i, unit, team, playerID, placementID, cells, req, abilitySet)

		if unit.ClaimsResource {
			node, ok := g.ClaimNearestResource(cells, id)
			if !ok {
				return Squad{}, newError(CodeNoResource, "no free resource node next to %s", unit.ID)
			}
			w.Claims.Set(id, ecs.ResourceClaim{X: node.X, Y: node.Y})
		}
		if len(unit.Produces) > 0 {
			w.Production.Set(id, ecs.Production{Queue: append([]string(nil), unit.Produces...)})
		}
		if req.UnderConstruction {
			r.startConstruction(id, unit, req.Builder)
		}

		squad.Members = append(squad.Members, id)
		squad.Cells = append(squad.Cells, cells...)
	}

	r.squads[placementID] = &squad
	if r.deps.Metrics != nil {
		r.deps.Metrics.Add("placement_squads_spawned", 1)
		r.deps.Metrics.Add("placement_units_spawned", uint64(len(squad.Members)))
	}
	r.announce(squad)
	return cloneSquad(squad), nil
}

func (r *Registry) placementID(req Request) (uint32, *Error) {
	if req.PlacementID != 0 {
		r.ids.Observe(req.PlacementID)
		r.local.Observe(req.PlacementID)
		return req.PlacementID, nil
	}
	ids := r.ids
	if req.Local {
		ids = r.local
	} else if !r.opts.Authoritative {
		return 0, &Error{Code: CodeNotAuthoritative, Message: "placement id required", Err: ErrNotAuthoritative}
	}
	id, ok := ids.Next()
	if !ok {
		return 0, &Error{Code: CodeInternal, Message: "allocate placement id", Err: ErrIDsExhausted}
	}
	return id, nil
}

func (r *Registry) attach(id ecs.EntityID, index int, unit *units.UnitType, team ecs.Team, playerID string, placementID uint32, cells []ecs.Cell, req Request, abilitySet []int) {
	w, g := r.deps.World, r.deps.Grid
	x, y := footprintCentre(g, cells)
	z := g.Height(x, y)

	w.Transforms.Set(id, ecs.Transform{X: x, Y: y, Z: z, Facing: facingFor(team)})
	w.Homes.Set(id, ecs.Home{X: x, Y: y, Z: z})
	w.Teams.Set(id, team)
	w.Health.Set(id, ecs.Health{HP: unit.HP, Max: unit.HP})
	w.Units.Set(id, ecs.Unit{Type: int(unit.Index)})
	w.Placements.Set(id, ecs.Placement{
		PlacementID:       placementID,
		PlayerID:          playerID,
		Team:              team,
		GridX:             req.Position.X,
		GridY:             req.Position.Y,
		Cells:             append([]ecs.Cell(nil), cells...),
		SquadIndex:        index,
		UnderConstruction: req.UnderConstruction,
		Experience:        req.Experience,
		Level:             req.Level,
	})
	if len(abilitySet) > 0 {
		w.AbilitySets.Set(id, ecs.AbilitySet{Abilities: append([]int(nil), abilitySet...)})
	}
	if unit.Damage > 0 || unit.Armor > 0 {
		w.Combat.Set(id, ecs.Combat{Damage: unit.Damage, Range: unit.Range, Armor: unit.Armor})
	}
	if unit.Building {
		w.Anchored.Set(id, ecs.Anchored{})
	} else if unit.Speed > 0 {
		w.Movement.Set(id, ecs.Movement{Speed: unit.Speed})
	}
}

func (r *Registry) startConstruction(id ecs.EntityID, unit *units.UnitType, builder ecs.EntityID) {
	var now time.Duration
	if r.deps.Scheduler != nil {
		now = r.deps.Scheduler.Now()
	}
	completeAt := now + time.Duration(unit.BuildTime*float64(time.Second))
	r.deps.World.Constructions.Set(id, ecs.Construction{Builder: builder, CompleteAt: completeAt})
	if r.deps.Scheduler != nil {
		r.deps.Scheduler.Schedule(completeAt, abilities.Effect{
			Kind:   abilities.EffectCompleteConstruction,
			Source: builder,
			Target: id,
		}, true)
	}
}

func (r *Registry) rollback(created []ecs.EntityID) {
	for _, id := range created {
		if p, ok := r.deps.World.Placements.Get(id); ok {
			r.deps.Grid.Release(p.Cells, id)
		} else {
			r.deps.Grid.ReleaseOwner(id)
		}
		r.deps.Grid.ReleaseResource(id)
	}
	for _, id := range created {
		r.deps.World.Destroy(id)
	}
}

func (r *Registry) announce(squad Squad) {
	ids := make([]uint32, len(squad.Members))
	for i, id := range squad.Members {
		ids[i] = uint32(id)
	}
	battlelog.SquadSpawned(context.Background(), r.deps.Publisher, r.tick(), logging.Player(squad.PlayerID), battlelog.SquadSpawnedPayload{
		PlacementID: squad.PlacementID,
		UnitType:    squad.UnitType,
		Team:        squad.Team.String(),
		EntityIDs:   ids,
	})
	if r.deps.Bus != nil {
		r.deps.Bus.Fire(events.Notification{
			Name:     events.PlacementSpawned,
			Tick:     r.tick(),
			Entity:   uint32(squad.Members[0]),
			Team:     squad.Team.String(),
			PlayerID: squad.PlayerID,
		})
	}
}

func (r *Registry) publishFailure(req Request, err *Error, severity logging.Severity) {
	unitID := req.UnitTypeID
	if req.UnitType != nil {
		unitID = req.UnitType.ID
	}
	battlelog.SpawnFailed(context.Background(), r.deps.Publisher, r.tick(), logging.EntityRef{Kind: logging.EntityKindWorld}, severity, battlelog.SpawnFailedPayload{
		UnitType: unitID,
		Code:     string(err.Code),
		Message:  err.Message,
	})
}

// ValidatePlacement reports whether PlacePlacement would accept the request.
func (r *Registry) ValidatePlacement(req Request, team ecs.Team, playerID string) bool {
	return r.validate(req, team, playerID) == nil
}

func (r *Registry) validate(req Request, team ecs.Team, playerID string) *Error {
	if r == nil || r.deps.Grid == nil {
		return newError(CodeInternal, "registry not initialised")
	}
	unit, perr := r.resolveUnit(req)
	if perr != nil {
		return perr
	}
	if req.Position == nil {
		return newError(CodeMissingPosition, "grid position missing")
	}
	if !req.StartingState {
		if r.deps.Economy == nil {
			return newError(CodeInternal, "no economy service")
		}
		if unit.Cost > r.deps.Economy.Gold(playerID) {
			return newError(CodeInsufficientGold, "%s costs %d", unit.ID, unit.Cost)
		}
		if !r.deps.Economy.HasSupply(playerID, unit.Supply) {
			return newError(CodeSupplyCap, "%s needs %d supply", unit.ID, unit.Supply)
		}
	}
	for _, cells := range memberLayout(*req.Position, unit, r.deps.Grid.CellSize()) {
		for _, cell := range cells {
			if !r.deps.Grid.CanPlace(cell, team) {
				return newError(CodeNoValidCells, "cell %d,%d not placeable for %s", cell.X, cell.Y, team)
			}
		}
	}
	return nil
}

// PlacePlacement validates, charges and spawns a placement. A failed spawn
// refunds the charge.
func (r *Registry) PlacePlacement(req Request, team ecs.Team, playerID string) PlaceResult {
	if perr := r.validate(req, team, playerID); perr != nil {
		return failed(perr)
	}
	unit, _ := r.resolveUnit(req)
	charged := false
	if !req.StartingState {
		if !r.deps.Economy.Spend(playerID, unit.Cost, unit.Supply) {
			return failed(newError(CodeInsufficientGold, "spend rejected for %s", unit.ID))
		}
		charged = true
	}
	req.UnitType = unit
	spawned := r.SpawnSquad(req, team, playerID, nil)
	if !spawned.Success {
		if charged {
			r.deps.Economy.Refund(playerID, unit.Cost, unit.Supply)
		}
		perr, ok := spawned.Err.(*Error)
		if !ok {
			perr = &Error{Code: CodeInternal, Message: "spawn failed", Err: spawned.Err}
		}
		return failed(perr)
	}
	return PlaceResult{
		Success:     true,
		PlacementID: spawned.Squad.PlacementID,
		EntityIDs:   spawned.Squad.Members,
	}
}

func failed(err *Error) PlaceResult {
	return PlaceResult{Reason: err.Code, Message: err.Message}
}

// GetPlacementByID returns the placement record of id.
func (r *Registry) GetPlacementByID(id uint32) (Record, bool) {
	records := r.collect(func(p ecs.Placement) bool { return p.PlacementID == id })
	if len(records) == 0 {
		return Record{}, false
	}
	return records[0], true
}

// GetPlacementsForSide returns one record per placement of team in
// first-seen entity order.
func (r *Registry) GetPlacementsForSide(team ecs.Team) []Record {
	return r.collect(func(p ecs.Placement) bool { return p.Team == team })
}

// GetPlacementsForPlayer returns one record per placement owned by player.
func (r *Registry) GetPlacementsForPlayer(playerID string) []Record {
	return r.collect(func(p ecs.Placement) bool { return p.PlayerID == playerID })
}

// collect walks the store in ascending entity order and folds members into
// one record per placement ID.
func (r *Registry) collect(match func(ecs.Placement) bool) []Record {
	if r == nil || r.deps.World == nil {
		return nil
	}
	w := r.deps.World
	var records []Record
	index := make(map[uint32]int)
	for _, id := range w.Placements.IDs() {
		p, _ := w.Placements.Get(id)
		if !match(p) {
			continue
		}
		pos, seen := index[p.PlacementID]
		if !seen {
			unitID := ""
			if unit, ok := r.unitOf(id, p.PlacementID); ok {
				unitID = unit.ID
			}
			records = append(records, Record{
				PlacementID:       p.PlacementID,
				UnitType:          unitID,
				Team:              p.Team,
				PlayerID:          p.PlayerID,
				GridX:             p.GridX,
				GridY:             p.GridY,
				UnderConstruction: p.UnderConstruction,
				Experience:        p.Experience,
				Level:             p.Level,
				SquadUnits:        []ecs.EntityID{},
			})
			pos = len(records) - 1
			index[p.PlacementID] = pos
		}
		rec := &records[pos]
		rec.Cells = append(rec.Cells, p.Cells...)
		if abilities.Alive(w, id) {
			rec.SquadUnits = append(rec.SquadUnits, id)
		}
	}
	return records
}

// Squads returns the registry's squads ordered by placement ID.
func (r *Registry) Squads() []Squad {
	if r == nil {
		return nil
	}
	ids := r.squadIDs()
	out := make([]Squad, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneSquad(*r.squads[id]))
	}
	return out
}

// Squad returns one squad by placement ID.
func (r *Registry) Squad(placementID uint32) (Squad, bool) {
	if r == nil {
		return Squad{}, false
	}
	squad, ok := r.squads[placementID]
	if !ok {
		return Squad{}, false
	}
	return cloneSquad(*squad), true
}

func (r *Registry) squadIDs() []uint32 {
	ids := make([]uint32, 0, len(r.squads))
	for id := range r.squads {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// DestroyPlacementEntities removes every member of a placement. Cells are
// released before any entity is destroyed. It returns the number of
// entities destroyed.
func (r *Registry) DestroyPlacementEntities(placementID uint32) int {
	if r == nil || r.deps.World == nil {
		return 0
	}
	members := r.membersOf(func(p ecs.Placement) bool { return p.PlacementID == placementID })
	return r.destroyMembers(members)
}

// ClearPlayerPlacements removes every placement owned by playerID.
func (r *Registry) ClearPlayerPlacements(playerID string) int {
	if r == nil || r.deps.World == nil {
		return 0
	}
	return r.destroyMembers(r.membersOf(func(p ecs.Placement) bool { return p.PlayerID == playerID }))
}

// ClearAllPlacements removes every placement.
func (r *Registry) ClearAllPlacements() int {
	if r == nil || r.deps.World == nil {
		return 0
	}
	return r.destroyMembers(r.membersOf(func(ecs.Placement) bool { return true }))
}

func (r *Registry) membersOf(match func(ecs.Placement) bool) []ecs.EntityID {
	var members []ecs.EntityID
	for _, id := range r.deps.World.Placements.IDs() {
		if p, _ := r.deps.World.Placements.Get(id); match(p) {
			members = append(members, id)
		}
	}
	return members
}

func (r *Registry) destroyMembers(members []ecs.EntityID) int {
	if len(members) == 0 {
		return 0
	}
	touched := make(map[uint32]struct{})
	for _, id := range members {
		p, _ := r.deps.World.Placements.Get(id)
		touched[p.PlacementID] = struct{}{}
		r.releaseCells(id, p.Cells)
	}
	destroyed := 0
	for _, id := range members {
		if r.deps.World.Destroy(id) {
			destroyed++
		}
	}
	for placementID := range touched {
		if squad, ok := r.squads[placementID]; ok {
			squad.Members = without(squad.Members, members)
			if len(squad.Members) == 0 {
				r.dropSquad(squad)
			}
		}
	}
	return destroyed
}

func (r *Registry) releaseCells(id ecs.EntityID, cells []ecs.Cell) {
	if missing := r.deps.Grid.Release(cells, id); len(missing) > 0 {
		battlelog.CellsNotReserved(context.Background(), r.deps.Publisher, r.tick(), battlelog.CellsNotReservedPayload{
			EntityID: uint32(id),
			Cells:    len(missing),
		})
		if r.deps.Metrics != nil {
			r.deps.Metrics.Add("placement_cells_not_reserved", uint64(len(missing)))
		}
	}
	r.deps.Grid.ReleaseResource(id)
}

func (r *Registry) dropSquad(squad *Squad) {
	delete(r.squads, squad.PlacementID)
	if r.deps.Economy != nil && squad.Supply > 0 {
		r.deps.Economy.ReleaseSupply(squad.PlayerID, squad.Supply)
	}
}

// RemoveMember releases and destroys one squad member. The squad itself
// stays registered until PruneSquads runs.
func (r *Registry) RemoveMember(id ecs.EntityID) bool {
	if r == nil || r.deps.World == nil {
		return false
	}
	p, ok := r.deps.World.Placements.Get(id)
	if !ok {
		return false
	}
	r.releaseCells(id, p.Cells)
	if !r.deps.World.Destroy(id) {
		return false
	}
	if squad, ok := r.squads[p.PlacementID]; ok {
		squad.Members = without(squad.Members, []ecs.EntityID{id})
	}
	return true
}

// PruneSquads drops members that no longer live and removes squads left
// empty, releasing their supply. It returns the removed placement IDs.
func (r *Registry) PruneSquads() []uint32 {
	if r == nil || r.deps.World == nil {
		return nil
	}
	var removed []uint32
	for _, placementID := range r.squadIDs() {
		squad := r.squads[placementID]
		var dead []ecs.EntityID
		for _, id := range squad.Members {
			if !abilities.Alive(r.deps.World, id) {
				dead = append(dead, id)
			}
		}
		for _, id := range dead {
			if r.deps.World.Alive(id) {
				r.RemoveMember(id)
			}
		}
		squad.Members = without(squad.Members, dead)
		if len(squad.Members) == 0 {
			r.dropSquad(squad)
			removed = append(removed, placementID)
		}
	}
	return removed
}

// RelocatePlacement moves a placement so its anchor sits on cell. Either
// every member moves or none does.
func (r *Registry) RelocatePlacement(placementID uint32, cell ecs.Cell) error {
	if r == nil || r.deps.World == nil {
		return newError(CodeInternal, "registry not initialised")
	}
	w, g := r.deps.World, r.deps.Grid
	members := r.membersOf(func(p ecs.Placement) bool { return p.PlacementID == placementID })
	if len(members) == 0 {
		return newError(CodeUnknownPlacement, "placement %d not found", placementID)
	}
	first, _ := w.Placements.Get(members[0])
	unit, ok := r.unitOf(members[0], placementID)
	if !ok {
		return newError(CodeInvalidUnitType, "placement %d has unknown unit type", placementID)
	}
	layout := memberLayout(cell, unit, g.CellSize())

	old := make(map[ecs.EntityID][]ecs.Cell, len(members))
	for _, id := range members {
		p, _ := w.Placements.Get(id)
		old[id] = p.Cells
		g.Release(p.Cells, id)
	}
	restore := func() {
		for _, id := range members {
			g.ReleaseOwner(id)
			g.Reserve(old[id], id)
		}
	}
	for _, id := range members {
		p, _ := w.Placements.Get(id)
		if p.SquadIndex >= len(layout) {
			restore()
			return newError(CodeInvalidSquad, "member %d outside formation", id)
		}
		for _, c := range layout[p.SquadIndex] {
			if !g.CanPlace(c, first.Team) {
				restore()
				return newError(CodeNoValidCells, "cell %d,%d not placeable for %s", c.X, c.Y, first.Team)
			}
		}
		if !g.Reserve(layout[p.SquadIndex], id) {
			restore()
			return newError(CodeNoValidCells, "reserve cells for member %d", id)
		}
	}

	nodes, err := r.reclaimResources(members, unit, layout)
	if err != nil {
		restore()
		return err
	}

	squad := r.squads[placementID]
	if squad != nil {
		squad.Cells = squad.Cells[:0]
	}
	for _, id := range members {
		p, _ := w.Placements.Get(id)
		cells := layout[p.SquadIndex]
		if node, ok := nodes[id]; ok {
			w.Claims.Set(id, ecs.ResourceClaim{X: node.X, Y: node.Y})
		}
		x, y := footprintCentre(g, cells)
		z := g.Height(x, y)
		w.Placements.Update(id, func(p *ecs.Placement) {
			p.GridX, p.GridY = cell.X, cell.Y
			p.Cells = append([]ecs.Cell(nil), cells...)
		})
		w.Transforms.Update(id, func(t *ecs.Transform) { t.X, t.Y, t.Z = x, y, z })
		w.Homes.Set(id, ecs.Home{X: x, Y: y, Z: z})
		if squad != nil {
			squad.Cells = append(squad.Cells, cells...)
		}
	}
	return nil
}

// reclaimResources moves the resource claims of harvesting members next to
// their new footprint. On failure the previous claims are restored.
func (r *Registry) reclaimResources(members []ecs.EntityID, unit *units.UnitType, layout [][]ecs.Cell) (map[ecs.EntityID]ecs.Cell, *Error) {
	if !unit.ClaimsResource {
		return nil, nil
	}
	w, g := r.deps.World, r.deps.Grid
	previous := make(map[ecs.EntityID]ecs.ResourceClaim, len(members))
	for _, id := range members {
		if claim, ok := w.Claims.Get(id); ok {
			previous[id] = claim
		}
		g.ReleaseResource(id)
	}
	nodes := make(map[ecs.EntityID]ecs.Cell, len(members))
	for _, id := range members {
		p, _ := w.Placements.Get(id)
		node, ok := g.ClaimNearestResource(layout[p.SquadIndex], id)
		if !ok {
			for _, id := range members {
				g.ReleaseResource(id)
			}
			for _, id := range members {
				if claim, ok := previous[id]; ok {
					g.ClaimNearestResource([]ecs.Cell{{X: claim.X, Y: claim.Y}}, id)
				}
			}
			return nil, newError(CodeNoResource, "no free resource node next to %s", unit.ID)
		}
		nodes[id] = node
	}
	return nodes, nil
}

// Rebuild reconstructs the squad table and cell reservations from the
// store. Mirrors call it after applying a full snapshot they did not spawn
// themselves. Resource claims are restored from the claim components.
func (r *Registry) Rebuild() int {
	if r == nil || r.deps.World == nil {
		return 0
	}
	w, g := r.deps.World, r.deps.Grid
	r.squads = make(map[uint32]*Squad)
	for _, id := range w.Placements.IDs() {
		p, _ := w.Placements.Get(id)
		g.ReleaseOwner(id)
		if !g.Reserve(p.Cells, id) && r.deps.Logger != nil {
			r.deps.Logger.Printf("placement: rebuild could not reserve cells of entity %d", id)
		}
		if claim, ok := w.Claims.Get(id); ok {
			g.ReleaseResource(id)
			g.ClaimNearestResource([]ecs.Cell{{X: claim.X, Y: claim.Y}}, id)
		}
		squad, ok := r.squads[p.PlacementID]
		if !ok {
			squad = &Squad{PlacementID: p.PlacementID, Team: p.Team, PlayerID: p.PlayerID}
			if unit, ok := r.unitOf(id, p.PlacementID); ok {
				squad.UnitType, squad.Supply, squad.Cost = unit.ID, unit.Supply, unit.Cost
			}
			r.squads[p.PlacementID] = squad
		}
		squad.Members = append(squad.Members, id)
		squad.Cells = append(squad.Cells, p.Cells...)
		r.ids.Observe(p.PlacementID)
		r.local.Observe(p.PlacementID)
	}
	return len(r.squads)
}

// UnitFor returns the unit definition of a placed entity.
func (r *Registry) UnitFor(id ecs.EntityID) (*units.UnitType, bool) {
	if r == nil || r.deps.World == nil {
		return nil, false
	}
	p, ok := r.deps.World.Placements.Get(id)
	if !ok {
		return nil, false
	}
	return r.unitOf(id, p.PlacementID)
}

// unitOf prefers the definition the squad was spawned from and falls back to
// the catalog for placements this registry never spawned.
func (r *Registry) unitOf(id ecs.EntityID, placementID uint32) (*units.UnitType, bool) {
	if squad, ok := r.squads[placementID]; ok && squad.unit != nil {
		return squad.unit, true
	}
	u, ok := r.deps.World.Units.Get(id)
	if !ok {
		return nil, false
	}
	return r.deps.Catalog.ByIndex(units.Index(u.Type))
}

func footprintCentre(g *grid.Grid, cells []ecs.Cell) (float64, float64) {
	if len(cells) == 0 {
		return 0, 0
	}
	x0, y0 := g.GridToWorld(cells[0])
	x1, y1 := g.GridToWorld(cells[len(cells)-1])
	return (x0 + x1) / 2, (y0 + y1) / 2
}

func facingFor(team ecs.Team) float64 {
	if team == ecs.TeamRight {
		return math.Pi
	}
	return 0
}

func without(ids []ecs.EntityID, drop []ecs.EntityID) []ecs.EntityID {
	if len(drop) == 0 {
		return ids
	}
	skip := make(map[ecs.EntityID]struct{}, len(drop))
	for _, id := range drop {
		skip[id] = struct{}{}
	}
	kept := ids[:0]
	for _, id := range ids {
		if _, ok := skip[id]; !ok {
			kept = append(kept, id)
		}
	}
	return kept
}

func cloneSquad(s Squad) Squad {
	s.Members = append([]ecs.EntityID(nil), s.Members...)
	s.Cells = append([]ecs.Cell(nil), s.Cells...)
	return s
}

// String renders a result for logs and test failures.
func (p PlaceResult) String() string {
	if p.Success {
		return fmt.Sprintf("placed %d (%d units)", p.PlacementID, len(p.EntityIDs))
	}
	return fmt.Sprintf("rejected %s: %s", p.Reason, p.Message)
}
