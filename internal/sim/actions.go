package sim

import (
	"fmt"

	"squad-clash/core/internal/abilities"
	"squad-clash/core/internal/battle"
	"squad-clash/core/internal/ecs"
	"squad-clash/core/internal/placement"
)

// The methods below are the single entry point for player actions. The
// websocket intake, the headless runner and the named services all call
// them, so every surface applies the same rules.

func (g *Game) requirePhase(phase battle.Phase, op string) error {
	if g.controller.Phase() != phase {
		return fmt.Errorf("sim: %s during %s: %w", op, g.controller.Phase(), battle.ErrWrongPhase)
	}
	return nil
}

func (g *Game) teamOf(playerID, op string) (ecs.Team, error) {
	team, ok := g.controller.TeamOf(playerID)
	if !ok {
		return ecs.TeamNone, fmt.Errorf("sim: %s for %s: %w", op, playerID, battle.ErrUnknownPlayer)
	}
	return team, nil
}

// PlaceUnit buys and spawns a squad anchored at cell. Rule violations are
// reported in the result; phase and player errors as error.
func (g *Game) PlaceUnit(playerID, unitTypeID string, cell ecs.Cell) (placement.PlaceResult, error) {
	return g.place(playerID, placement.Request{UnitTypeID: unitTypeID, Position: &cell}, "place")
}

// PlaceBuilding is PlaceUnit for structures; buildings with a build time
// start under construction.
func (g *Game) PlaceBuilding(playerID, unitTypeID string, cell ecs.Cell, builder ecs.EntityID) (placement.PlaceResult, error) {
	req := placement.Request{UnitTypeID: unitTypeID, Position: &cell, Builder: builder}
	if unit, ok := g.catalog.ByID(unitTypeID); ok {
		req.UnderConstruction = unit.BuildTime > 0
	}
	return g.place(playerID, req, "place building")
}

// PlaceStarting spawns a free squad, such as a keep, outside the economy.
func (g *Game) PlaceStarting(playerID, unitTypeID string, cell ecs.Cell) (placement.PlaceResult, error) {
	return g.place(playerID, placement.Request{UnitTypeID: unitTypeID, Position: &cell, StartingState: true}, "place starting")
}

func (g *Game) place(playerID string, req placement.Request, op string) (placement.PlaceResult, error) {
	if err := g.requirePhase(battle.PhasePlacement, op); err != nil {
		return placement.PlaceResult{}, err
	}
	team, err := g.teamOf(playerID, op)
	if err != nil {
		return placement.PlaceResult{}, err
	}
	result := g.placements.PlacePlacement(req, team, playerID)
	if result.Success && !req.StartingState {
		g.placed[result.PlacementID] = true
	}
	return result, nil
}

// PurchaseUnit places a squad on the first cell of the player's deploy
// zone, scanning in column-major order, where the placement validates.
func (g *Game) PurchaseUnit(playerID, unitTypeID string) (placement.PlaceResult, error) {
	if err := g.requirePhase(battle.PhasePlacement, "purchase"); err != nil {
		return placement.PlaceResult{}, err
	}
	team, err := g.teamOf(playerID, "purchase")
	if err != nil {
		return placement.PlaceResult{}, err
	}
	for _, cell := range g.grid.ZoneCells(team) {
		req := placement.Request{UnitTypeID: unitTypeID, Position: &ecs.Cell{X: cell.X, Y: cell.Y}}
		if !g.placements.ValidatePlacement(req, team, playerID) {
			continue
		}
		return g.place(playerID, req, "purchase")
	}
	// Nothing validated; report why at the first zone cell.
	req := placement.Request{UnitTypeID: unitTypeID}
	if cells := g.grid.ZoneCells(team); len(cells) > 0 {
		req.Position = &cells[0]
	}
	return g.place(playerID, req, "purchase")
}

// Placement returns one placement record.
func (g *Game) Placement(placementID uint32) (placement.Record, bool) {
	return g.placements.GetPlacementByID(placementID)
}

// PlacementsForSide lists the placements of a team.
func (g *Game) PlacementsForSide(team ecs.Team) []placement.Record {
	return g.placements.GetPlacementsForSide(team)
}

// ClearPlayer removes every placement of a player. Squads bought during
// the current placement phase are refunded; survivors of earlier rounds
// are not.
func (g *Game) ClearPlayer(playerID string) (int, error) {
	if err := g.requirePhase(battle.PhasePlacement, "clear"); err != nil {
		return 0, err
	}
	if _, err := g.teamOf(playerID, "clear"); err != nil {
		return 0, err
	}
	for _, squad := range g.placements.Squads() {
		if squad.PlayerID != playerID || !g.placed[squad.PlacementID] {
			continue
		}
		g.ledger.Refund(playerID, squad.Cost, 0)
		delete(g.placed, squad.PlacementID)
	}
	return g.placements.ClearPlayerPlacements(playerID), nil
}

func (g *Game) ownedSquad(playerID string, placementID uint32) (placement.Squad, error) {
	squad, ok := g.placements.Squad(placementID)
	if !ok {
		return placement.Squad{}, fmt.Errorf("sim: placement %d: %w", placementID, ErrUnknownPlacement)
	}
	if playerID != "" && squad.PlayerID != playerID {
		return placement.Squad{}, fmt.Errorf("sim: placement %d: %w", placementID, ErrNotOwner)
	}
	return squad, nil
}

// MovePlacement relocates a placement before the battle.
func (g *Game) MovePlacement(playerID string, placementID uint32, cell ecs.Cell) error {
	if err := g.requirePhase(battle.PhasePlacement, "move placement"); err != nil {
		return err
	}
	if _, err := g.ownedSquad(playerID, placementID); err != nil {
		return err
	}
	team, err := g.teamOf(playerID, "move placement")
	if err != nil {
		return err
	}
	if !g.grid.InZone(cell, team) {
		return &placement.Error{Code: placement.CodeNoValidCells, Message: fmt.Sprintf("cell %d,%d outside deploy zone", cell.X, cell.Y)}
	}
	return g.placements.RelocatePlacement(placementID, cell)
}

// MoveOrder sends every living member of a squad towards a world point,
// keeping the formation offsets of their home positions.
func (g *Game) MoveOrder(playerID string, placementID uint32, x, y float64) (int, error) {
	if g.controller.Phase() == battle.PhaseEnded {
		return 0, fmt.Errorf("sim: move order: %w", battle.ErrWrongPhase)
	}
	squad, err := g.ownedSquad(playerID, placementID)
	if err != nil {
		return 0, err
	}
	if len(squad.Members) == 0 {
		return 0, fmt.Errorf("sim: placement %d: %w", placementID, ErrUnknownPlacement)
	}
	anchor, _ := g.world.Homes.Get(squad.Members[0])
	ordered := 0
	for _, id := range squad.Members {
		if !abilities.Alive(g.world, id) || g.world.Anchored.Has(id) {
			continue
		}
		home, _ := g.world.Homes.Get(id)
		tx, ty := x+home.X-anchor.X, y+home.Y-anchor.Y
		if g.world.Movement.Update(id, func(m *ecs.Movement) {
			m.HasOrder, m.OrderX, m.OrderY = true, tx, ty
		}) {
			ordered++
		}
	}
	return ordered, nil
}

// Submit marks the player's placement done.
func (g *Game) Submit(playerID string) (bool, error) {
	return g.controller.SubmitPlacement(playerID)
}

// StartBattle forces the battle to start.
func (g *Game) StartBattle() error {
	return g.controller.StartBattle()
}

// Disconnect handles a player leaving.
func (g *Game) Disconnect(playerID string) error {
	return g.controller.Disconnect(playerID)
}

// UseAbility queues an ability by name. An empty playerID skips the
// ownership check (AI and tooling).
func (g *Game) UseAbility(playerID string, entity ecs.EntityID, ability string, target abilities.Target) (bool, error) {
	idx, ok := g.scheduler.Registry().Lookup(ability)
	if !ok {
		return false, fmt.Errorf("sim: %q: %w", ability, ErrUnknownAbility)
	}
	if playerID != "" {
		p, ok := g.world.Placements.Get(entity)
		if !ok {
			return false, fmt.Errorf("sim: entity %d: %w", entity, ErrUnknownPlacement)
		}
		if p.PlayerID != playerID {
			return false, fmt.Errorf("sim: entity %d: %w", entity, ErrNotOwner)
		}
	}
	return g.scheduler.UseAbility(entity, idx, target), nil
}

// AbilityReady reports whether an entity's ability is off cooldown.
func (g *Game) AbilityReady(entity ecs.EntityID, ability string) (bool, error) {
	idx, ok := g.scheduler.Registry().Lookup(ability)
	if !ok {
		return false, fmt.Errorf("sim: %q: %w", ability, ErrUnknownAbility)
	}
	return g.scheduler.Ready(entity, idx, g.clock.Now()), nil
}

// Gold returns a player's current gold.
func (g *Game) Gold(playerID string) int {
	return g.ledger.Gold(playerID)
}

// Serialize returns a full snapshot or the delta since the previous one.
func (g *Game) Serialize(full bool) ecs.Snapshot {
	return g.world.Serialize(full)
}
