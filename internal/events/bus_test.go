package events

import (
	"testing"

	"squad-clash/core/logging/sinks"
)

func TestBusDeliversInSubscriptionOrder(t *testing.T) {
	bus := NewBus(nil)
	var order []string
	bus.Subscribe(BattleStart, func(Notification) { order = append(order, "a") })
	bus.Subscribe("", func(n Notification) { order = append(order, "all:"+n.Name) })
	bus.Subscribe(BattleEnd, func(Notification) { order = append(order, "b") })

	bus.Fire(Notification{Name: BattleStart})
	bus.Fire(Notification{Name: BattleEnd})

	want := []string{"a", "all:onBattleStart", "all:onBattleEnd", "b"}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, order)
		}
	}
	if bus.Count(BattleStart) != 1 {
		t.Fatalf("expected fire count 1, got %d", bus.Count(BattleStart))
	}
}

func TestBusUnsubscribeAndReentrantFire(t *testing.T) {
	bus := NewBus(nil)
	calls := 0
	id := bus.Subscribe(UnitKilled, func(Notification) { calls++ })
	bus.Subscribe(BattleEnd, func(Notification) {
		bus.Fire(Notification{Name: UnitKilled})
	})

	bus.Fire(Notification{Name: BattleEnd})
	if calls != 1 {
		t.Fatalf("expected nested fire to reach subscriber, got %d calls", calls)
	}
	bus.Unsubscribe(id)
	bus.Fire(Notification{Name: UnitKilled})
	if calls != 1 {
		t.Fatalf("expected unsubscribed handler to stay silent")
	}
}

func TestBusMirrorsToPublisher(t *testing.T) {
	memory := sinks.NewMemory()
	bus := NewBus(memory)
	bus.Fire(Notification{Name: GameEnded, Winner: "left"})
	if memory.Count("notify.onGameEnded") != 1 {
		t.Fatalf("expected notification to be mirrored, got %+v", memory.Events())
	}
}
