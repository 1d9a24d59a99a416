package sim

import (
	"fmt"

	"squad-clash/core/internal/battle"
	"squad-clash/core/internal/ecs"
	"squad-clash/core/internal/net/proto"
)

// Join builds the payload a newly attached client needs to mirror the
// match: a full snapshot plus the counters it must not allocate below.
func (g *Game) Join(playerID string) proto.Join {
	team, _ := g.controller.TeamOf(playerID)
	return proto.Join{
		PlayerID:        playerID,
		Team:            team,
		Seed:            g.controller.Config().Seed,
		Round:           g.controller.Round(),
		Phase:           string(g.controller.Phase()),
		Snapshot:        g.world.Serialize(true),
		NextPlacementID: g.placements.NextPlacementID(),
	}
}

// ApplyJoin replaces the mirror's store with the authority's snapshot.
func (g *Game) ApplyJoin(msg proto.Join) error {
	if err := g.world.Apply(msg.Snapshot); err != nil {
		return fmt.Errorf("sim: apply join snapshot: %w", err)
	}
	g.placements.Rebuild()
	g.placements.SyncPlacementID(msg.NextPlacementID)
	g.controller.Resync(msg.Round, battle.Phase(msg.Phase), nil)
	return nil
}

// ApplyRoundEnd brings a mirror in line with a round-end broadcast. The
// delta, the clock and both ID counters are applied before the mirror
// resumes local prediction.
func (g *Game) ApplyRoundEnd(msg proto.RoundEnd) error {
	for _, id := range msg.Delta.Removed {
		if _, ok := g.world.Placements.Get(id); ok {
			g.placements.RemoveMember(id)
		}
	}
	g.placements.PruneSquads()
	g.scheduler.Clear()
	if err := g.world.Apply(msg.Delta); err != nil {
		return fmt.Errorf("sim: apply round-end delta: %w", err)
	}
	g.world.SyncNextID(msg.NextEntityID)
	g.placements.SyncPlacementID(msg.NextPlacementID)
	g.clock.Set(msg.ServerTime)
	g.scheduler.Sync(msg.ServerTime)
	g.controller.Resync(msg.NextRound, battle.Phase(msg.Phase), msg.Lives)
	// The mirror's own delta window restarts from the authority's state.
	g.world.Serialize(false)
	return nil
}

// Resync replaces the store with a keyframe, for a client that fell behind.
func (g *Game) Resync(snapshot ecs.Snapshot) error {
	if !snapshot.Full {
		return fmt.Errorf("sim: resync needs a full snapshot")
	}
	if err := g.world.Apply(snapshot); err != nil {
		return fmt.Errorf("sim: resync: %w", err)
	}
	g.placements.Rebuild()
	return nil
}
