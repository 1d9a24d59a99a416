package sim

import (
	"sync"

	"squad-clash/core/internal/telemetry"
)

const (
	metricBufferOccupancy = "sim_command_buffer_occupancy"
	metricBufferOverflow  = "sim_command_buffer_overflow_total"
)

// CommandBuffer is a fixed-size FIFO ring of staged commands. Many
// producers may push; one consumer drains.
type CommandBuffer struct {
	mu      sync.Mutex
	ring    []Command
	start   int
	size    int
	metrics telemetry.Metrics
}

// NewCommandBuffer allocates a ring holding up to capacity commands.
func NewCommandBuffer(capacity int, metrics telemetry.Metrics) *CommandBuffer {
	return &CommandBuffer{ring: make([]Command, max(capacity, 1)), metrics: metrics}
}

// Capacity reports the ring size.
func (b *CommandBuffer) Capacity() int {
	if b == nil {
		return 0
	}
	return len(b.ring)
}

// Push appends cmd and reports false when the ring is full.
func (b *CommandBuffer) Push(cmd Command) bool {
	if b == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.size == len(b.ring) {
		if b.metrics != nil {
			b.metrics.Add(metricBufferOverflow, 1)
		}
		return false
	}
	b.ring[(b.start+b.size)%len(b.ring)] = cmd
	b.size++
	b.reportLocked()
	return true
}

// Drain removes and returns every staged command in arrival order.
func (b *CommandBuffer) Drain() []Command {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.size == 0 {
		return nil
	}
	out := make([]Command, 0, b.size)
	for i := 0; i < b.size; i++ {
		slot := (b.start + i) % len(b.ring)
		out = append(out, b.ring[slot])
		b.ring[slot] = Command{}
	}
	b.start = (b.start + b.size) % len(b.ring)
	b.size = 0
	b.reportLocked()
	return out
}

// Len reports the number of staged commands.
func (b *CommandBuffer) Len() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

func (b *CommandBuffer) reportLocked() {
	if b.metrics != nil {
		b.metrics.Store(metricBufferOccupancy, uint64(b.size))
	}
}
