package sim

import (
	"fmt"

	"squad-clash/core/internal/abilities"
	"squad-clash/core/internal/ecs"
	"squad-clash/core/internal/services"
)

// Call invokes a named service on this game.
func (g *Game) Call(name string, args services.Args) (any, error) {
	return g.services.Call(name, args)
}

func (g *Game) registerServices() {
	r := g.services
	r.Register(services.PlacementPlace, g.servicePlace, services.Logged())
	r.Register(services.PlacementPurchase, g.servicePurchase, services.Logged())
	r.Register(services.PlacementGet, g.serviceGet)
	r.Register(services.PlacementSide, g.serviceSide)
	r.Register(services.PlacementClearPlayer, g.serviceClearPlayer, services.Logged())
	r.Register(services.PlacementMove, g.serviceMove, services.Logged())
	r.Register(services.BattleSubmit, g.serviceSubmit, services.Logged())
	r.Register(services.BattleStart, func(services.Args) (any, error) {
		return nil, g.StartBattle()
	}, services.Logged())
	r.Register(services.BattleDisconnect, func(args services.Args) (any, error) {
		player, err := args.RequireString("playerId")
		if err != nil {
			return nil, err
		}
		return nil, g.Disconnect(player)
	}, services.Logged())
	r.Register(services.AbilityUse, g.serviceAbilityUse)
	r.Register(services.AbilityReady, g.serviceAbilityReady)
	r.Register(services.EconomyGold, func(args services.Args) (any, error) {
		player, err := args.RequireString("playerId")
		if err != nil {
			return nil, err
		}
		return g.Gold(player), nil
	})
	r.Register(services.ECSSerialize, func(args services.Args) (any, error) {
		full, _ := args.Bool("full")
		return g.Serialize(full), nil
	})
}

func cellArg(args services.Args) (ecs.Cell, error) {
	x, okX := args.Int("gridX")
	y, okY := args.Int("gridY")
	if !okX || !okY {
		return ecs.Cell{}, fmt.Errorf("%w: grid position", services.ErrMissingArg)
	}
	return ecs.Cell{X: x, Y: y}, nil
}

func (g *Game) servicePlace(args services.Args) (any, error) {
	player, err := args.RequireString("playerId")
	if err != nil {
		return nil, err
	}
	unitType, err := args.RequireString("unitType")
	if err != nil {
		return nil, err
	}
	cell, err := cellArg(args)
	if err != nil {
		return nil, err
	}
	if building, _ := args.Bool("building"); building {
		builder, _ := args.Uint32("builder")
		return g.PlaceBuilding(player, unitType, cell, ecs.EntityID(builder))
	}
	if starting, _ := args.Bool("startingState"); starting {
		return g.PlaceStarting(player, unitType, cell)
	}
	return g.PlaceUnit(player, unitType, cell)
}

func (g *Game) servicePurchase(args services.Args) (any, error) {
	player, err := args.RequireString("playerId")
	if err != nil {
		return nil, err
	}
	unitType, err := args.RequireString("unitType")
	if err != nil {
		return nil, err
	}
	return g.PurchaseUnit(player, unitType)
}

func (g *Game) serviceGet(args services.Args) (any, error) {
	id, err := args.RequireUint32("placementId")
	if err != nil {
		return nil, err
	}
	record, ok := g.Placement(id)
	if !ok {
		return nil, fmt.Errorf("placement %d: %w", id, ErrUnknownPlacement)
	}
	return record, nil
}

func (g *Game) serviceSide(args services.Args) (any, error) {
	name, err := args.RequireString("team")
	if err != nil {
		return nil, err
	}
	team, ok := ecs.ParseTeam(name)
	if !ok {
		return nil, fmt.Errorf("unknown team %q", name)
	}
	return g.PlacementsForSide(team), nil
}

func (g *Game) serviceClearPlayer(args services.Args) (any, error) {
	player, err := args.RequireString("playerId")
	if err != nil {
		return nil, err
	}
	return g.ClearPlayer(player)
}

func (g *Game) serviceMove(args services.Args) (any, error) {
	player, err := args.RequireString("playerId")
	if err != nil {
		return nil, err
	}
	id, err := args.RequireUint32("placementId")
	if err != nil {
		return nil, err
	}
	if args.Has("gridX") {
		cell, err := cellArg(args)
		if err != nil {
			return nil, err
		}
		return nil, g.MovePlacement(player, id, cell)
	}
	x, okX := args.Float("x")
	y, okY := args.Float("y")
	if !okX || !okY {
		return nil, fmt.Errorf("%w: move destination", services.ErrMissingArg)
	}
	return g.MoveOrder(player, id, x, y)
}

func (g *Game) serviceSubmit(args services.Args) (any, error) {
	player, err := args.RequireString("playerId")
	if err != nil {
		return nil, err
	}
	return g.Submit(player)
}

func targetArg(args services.Args) abilities.Target {
	if id, ok := args.Uint32("target"); ok && id != 0 {
		return abilities.EntityTarget(ecs.EntityID(id))
	}
	x, okX := args.Float("x")
	y, okY := args.Float("y")
	if okX && okY {
		return abilities.PointTarget(x, y)
	}
	return abilities.NoTarget()
}

func (g *Game) serviceAbilityUse(args services.Args) (any, error) {
	entity, err := args.RequireUint32("entity")
	if err != nil {
		return nil, err
	}
	ability, err := args.RequireString("ability")
	if err != nil {
		return nil, err
	}
	player, _ := args.String("playerId")
	return g.UseAbility(player, ecs.EntityID(entity), ability, targetArg(args))
}

func (g *Game) serviceAbilityReady(args services.Args) (any, error) {
	entity, err := args.RequireUint32("entity")
	if err != nil {
		return nil, err
	}
	ability, err := args.RequireString("ability")
	if err != nil {
		return nil, err
	}
	return g.AbilityReady(ecs.EntityID(entity), ability)
}
