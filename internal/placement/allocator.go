package placement

// AIPlacementIDOffset is the first placement ID of the speculative range
// used by local-only placements such as client-side AI squads.
const AIPlacementIDOffset uint32 = 1_000_000

// Allocator issues monotonically increasing placement IDs inside one range.
// The authoritative range is [1, AIPlacementIDOffset); the speculative range
// starts at AIPlacementIDOffset.
type Allocator struct {
	next  uint32
	floor uint32
	limit uint32
}

// NewAllocator returns the authoritative allocator.
func NewAllocator() *Allocator {
	return &Allocator{next: 1, floor: 1, limit: AIPlacementIDOffset}
}

// NewLocalAllocator returns an allocator over the speculative range.
func NewLocalAllocator() *Allocator {
	return &Allocator{next: AIPlacementIDOffset, floor: AIPlacementIDOffset}
}

// Next issues the next ID. It reports false once the range is used up.
func (a *Allocator) Next() (uint32, bool) {
	if a.next == 0 || (a.limit != 0 && a.next >= a.limit) {
		return 0, false
	}
	id := a.next
	a.next++
	return id, true
}

// Peek reports the ID the next call to Next would return.
func (a *Allocator) Peek() uint32 {
	if a == nil {
		return 0
	}
	return a.next
}

// Observe records an ID issued elsewhere so it is never issued again. IDs
// outside the allocator's range are ignored.
func (a *Allocator) Observe(id uint32) {
	if a == nil || !a.owns(id) {
		return
	}
	if id >= a.next {
		a.next = id + 1
	}
}

// Sync adopts a counter value received from the authority. The counter never
// decreases.
func (a *Allocator) Sync(next uint32) {
	if a == nil || next == 0 {
		return
	}
	if next > a.next && (a.limit == 0 || next <= a.limit) {
		a.next = next
	}
}

func (a *Allocator) owns(id uint32) bool {
	if id < a.floor {
		return false
	}
	return a.limit == 0 || id < a.limit
}
