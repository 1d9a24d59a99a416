package sim

import (
	"testing"

	"squad-clash/core/internal/telemetry"
)

func TestCommandBufferWrapsInOrder(t *testing.T) {
	buffer := NewCommandBuffer(3, nil)
	for seq := uint64(1); seq <= 2; seq++ {
		buffer.Push(Command{Seq: seq})
	}
	if drained := buffer.Drain(); len(drained) != 2 {
		t.Fatalf("expected 2 commands, got %d", len(drained))
	}
	for seq := uint64(3); seq <= 5; seq++ {
		if !buffer.Push(Command{Seq: seq}) {
			t.Fatalf("push %d rejected", seq)
		}
	}
	drained := buffer.Drain()
	if len(drained) != 3 {
		t.Fatalf("expected 3 commands after wrap, got %d", len(drained))
	}
	for i, cmd := range drained {
		if cmd.Seq != uint64(i+3) {
			t.Fatalf("expected seq %d at %d, got %d", i+3, i, cmd.Seq)
		}
	}
	if buffer.Len() != 0 || buffer.Drain() != nil {
		t.Fatalf("expected an empty buffer")
	}
}

func TestCommandBufferOverflowCounts(t *testing.T) {
	counters := telemetry.NewCounters()
	buffer := NewCommandBuffer(1, counters)
	if !buffer.Push(Command{Seq: 1}) {
		t.Fatalf("first push rejected")
	}
	if buffer.Push(Command{Seq: 2}) {
		t.Fatalf("expected overflow")
	}
	snapshot := counters.Snapshot()
	if snapshot[metricBufferOverflow] != 1 {
		t.Fatalf("expected one overflow, got %d", snapshot[metricBufferOverflow])
	}
	if snapshot[metricBufferOccupancy] != 1 {
		t.Fatalf("expected occupancy 1, got %d", snapshot[metricBufferOccupancy])
	}
}
