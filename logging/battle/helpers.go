package battle

import (
	"context"

	"squad-clash/core/logging"
)

const (
	// EventSquadSpawned is emitted when a placement request produced a squad.
	EventSquadSpawned logging.EventType = "placement.squad_spawned"
	// EventSpawnFailed is emitted when a spawn was rejected or recovered from a panic.
	EventSpawnFailed logging.EventType = "placement.spawn_failed"
	// EventCellsNotReserved is emitted when a removal found cells it never reserved.
	EventCellsNotReserved logging.EventType = "placement.cells_not_reserved"
	// EventBattleStarted is emitted when the battle phase begins.
	EventBattleStarted logging.EventType = "battle.started"
	// EventBattleEnded is emitted once per battle with its outcome.
	EventBattleEnded logging.EventType = "battle.ended"
	// EventGameEnded is emitted when the match reaches a terminal state.
	EventGameEnded logging.EventType = "battle.game_ended"
)

// SquadSpawnedPayload describes a successful spawn.
type SquadSpawnedPayload struct {
	PlacementID uint32   `json:"placementId"`
	UnitType    string   `json:"unitType"`
	Team        string   `json:"team"`
	EntityIDs   []uint32 `json:"entityIds"`
}

// SpawnFailedPayload describes why a spawn produced nothing.
type SpawnFailedPayload struct {
	UnitType string `json:"unitType,omitempty"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}

// CellsNotReservedPayload lists the cells a removal could not release.
type CellsNotReservedPayload struct {
	EntityID uint32 `json:"entityId"`
	Cells    int    `json:"cells"`
}

// BattleStartedPayload captures the seed a battle runs with.
type BattleStartedPayload struct {
	Seed int64 `json:"seed"`
}

// BattleEndedPayload summarises a battle.
type BattleEndedPayload struct {
	Winner    string  `json:"winner"`
	Reason    string  `json:"reason"`
	Survivors int     `json:"survivors"`
	Seconds   float64 `json:"seconds"`
}

// GameEndedPayload records the match winner.
type GameEndedPayload struct {
	Winner string `json:"winner"`
	Reason string `json:"reason"`
}

// SquadSpawned publishes a spawn at debug level; spawns are routine.
func SquadSpawned(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload SquadSpawnedPayload) {
	publish(ctx, pub, logging.Event{
		Type:     EventSquadSpawned,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityDebug,
		Category: logging.CategoryPlacement,
		Payload:  payload,
	})
}

// SpawnFailed publishes a spawn failure. Recovered panics use error severity.
func SpawnFailed(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, severity logging.Severity, payload SpawnFailedPayload) {
	publish(ctx, pub, logging.Event{
		Type:     EventSpawnFailed,
		Tick:     tick,
		Actor:    actor,
		Severity: severity,
		Category: logging.CategoryPlacement,
		Payload:  payload,
	})
}

// CellsNotReserved publishes an invariant warning raised during cleanup.
func CellsNotReserved(ctx context.Context, pub logging.Publisher, tick uint64, payload CellsNotReservedPayload) {
	publish(ctx, pub, logging.Event{
		Type:     EventCellsNotReserved,
		Tick:     tick,
		Actor:    logging.Entity(payload.EntityID, logging.EntityKindUnit),
		Severity: logging.SeverityWarn,
		Category: logging.CategoryPlacement,
		Payload:  payload,
	})
}

// BattleStarted publishes the start of a battle.
func BattleStarted(ctx context.Context, pub logging.Publisher, tick uint64, round int, payload BattleStartedPayload) {
	publish(ctx, pub, logging.Event{
		Type:     EventBattleStarted,
		Tick:     tick,
		Round:    round,
		Actor:    logging.EntityRef{Kind: logging.EntityKindWorld},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryBattle,
		Payload:  payload,
	})
}

// BattleEnded publishes a battle outcome.
func BattleEnded(ctx context.Context, pub logging.Publisher, tick uint64, round int, payload BattleEndedPayload) {
	publish(ctx, pub, logging.Event{
		Type:     EventBattleEnded,
		Tick:     tick,
		Round:    round,
		Actor:    logging.EntityRef{Kind: logging.EntityKindWorld},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryBattle,
		Payload:  payload,
	})
}

// GameEnded publishes the end of the match.
func GameEnded(ctx context.Context, pub logging.Publisher, tick uint64, round int, payload GameEndedPayload) {
	publish(ctx, pub, logging.Event{
		Type:     EventGameEnded,
		Tick:     tick,
		Round:    round,
		Actor:    logging.EntityRef{Kind: logging.EntityKindWorld},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryBattle,
		Payload:  payload,
	})
}

func publish(ctx context.Context, pub logging.Publisher, event logging.Event) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, event)
}
