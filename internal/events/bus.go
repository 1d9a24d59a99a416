package events

import (
	"context"

	"squad-clash/core/logging"
)

// Names of the notifications fired by the simulation core.
const (
	BattleStart          = "onBattleStart"
	BattleEnd            = "onBattleEnd"
	PlacementPhaseStart  = "onPlacementPhaseStart"
	UnitKilled           = "onUnitKilled"
	AbilityCast          = "onAbilityCast"
	GameEnded            = "onGameEnded"
	PlacementSpawned     = "onPlacementSpawned"
	ConstructionComplete = "onConstructionComplete"
)

// Names lists every notification in a stable order.
func Names() []string {
	return []string{
		BattleStart, BattleEnd, PlacementPhaseStart, UnitKilled,
		AbilityCast, GameEnded, PlacementSpawned, ConstructionComplete,
	}
}

// Notification is a value payload; subscribers must not retain pointers into
// simulation state.
type Notification struct {
	Name     string `json:"name"`
	Tick     uint64 `json:"tick"`
	Round    int    `json:"round"`
	Entity   uint32 `json:"entity,omitempty"`
	Source   uint32 `json:"source,omitempty"`
	Ability  string `json:"ability,omitempty"`
	Team     string `json:"team,omitempty"`
	PlayerID string `json:"playerId,omitempty"`
	Winner   string `json:"winner,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Handler receives notifications synchronously.
type Handler func(Notification)

type subscription struct {
	id      int
	name    string
	handler Handler
}

// Bus delivers named notifications to subscribers in subscription order on
// the caller's goroutine.
type Bus struct {
	subs      []subscription
	nextID    int
	publisher logging.Publisher
	fired     map[string]uint64
}

// NewBus constructs a bus. Every notification is mirrored to pub as a debug
// event when pub is non-nil.
func NewBus(pub logging.Publisher) *Bus {
	if pub == nil {
		pub = logging.NopPublisher()
	}
	return &Bus{publisher: pub, fired: make(map[string]uint64)}
}

// Subscribe registers handler for one notification name. An empty name
// subscribes to every notification.
func (b *Bus) Subscribe(name string, handler Handler) int {
	if b == nil || handler == nil {
		return 0
	}
	b.nextID++
	b.subs = append(b.subs, subscription{id: b.nextID, name: name, handler: handler})
	return b.nextID
}

// Unsubscribe removes a subscription by ID.
func (b *Bus) Unsubscribe(id int) {
	if b == nil {
		return
	}
	for i, sub := range b.subs {
		if sub.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Fire delivers n to matching subscribers. Subscribers added while firing
// see the next notification, not this one.
func (b *Bus) Fire(n Notification) {
	if b == nil || n.Name == "" {
		return
	}
	b.fired[n.Name]++
	current := append([]subscription(nil), b.subs...)
	for _, sub := range current {
		if sub.name == "" || sub.name == n.Name {
			sub.handler(n)
		}
	}
	b.publisher.Publish(context.Background(), logging.Event{
		Type:     logging.EventType("notify." + n.Name),
		Tick:     n.Tick,
		Round:    n.Round,
		Actor:    logging.Entity(n.Entity, logging.EntityKindUnit),
		Severity: logging.SeverityDebug,
		Category: logging.CategoryBattle,
		Payload:  n,
	})
}

// Count reports how many times a notification has fired.
func (b *Bus) Count(name string) uint64 {
	if b == nil {
		return 0
	}
	return b.fired[name]
}
