package journal

import (
	"encoding/json"
	"sync"
	"time"
)

// Telemetry captures the metrics adapter used by the journal to report drops.
type Telemetry interface {
	RecordJournalDrop(metric string)
}

const (
	metricJournalPatchAfterRemoval = "journal_patch_after_removal"
	metricJournalKeyframeSequence  = "journal_keyframe_non_monotonic"
)

// PatchKind identifies the type of diff entry.
type PatchKind string

const (
	// PatchEntityCreated marks an entity that did not exist in the previous delta.
	PatchEntityCreated PatchKind = "entity_created"
	// PatchComponentSet marks a component write.
	PatchComponentSet PatchKind = "component_set"
	// PatchComponentRemoved marks a component removal.
	PatchComponentRemoved PatchKind = "component_removed"
	// PatchEntityRemoved marks an entity destroyed since the previous delta.
	PatchEntityRemoved PatchKind = "entity_removed"
)

// Patch represents one change to one entity. The journal records what
// changed; the store serializes current values when the delta is built.
type Patch struct {
	Kind      PatchKind `json:"kind"`
	EntityID  uint32    `json:"entityId"`
	Component string    `json:"component,omitempty"`
}

// Journal accumulates patches generated since the last delta and keeps a
// rolling buffer of keyframes so clients can resync from a full snapshot.
type Journal struct {
	mu        sync.RWMutex
	patches   []Patch
	removed   map[uint32]struct{}
	keyframes []Keyframe
	maxFrames int
	maxAge    time.Duration
	telemetry Telemetry
}

// New constructs a journal with storage for the configured number of
// keyframes and retention window.
func New(keyframeCapacity int, maxAge time.Duration) *Journal {
	if keyframeCapacity < 0 {
		keyframeCapacity = 0
	}
	if maxAge < 0 {
		maxAge = 0
	}
	return &Journal{
		patches:   make([]Patch, 0),
		removed:   make(map[uint32]struct{}),
		keyframes: make([]Keyframe, 0, keyframeCapacity),
		maxFrames: keyframeCapacity,
		maxAge:    maxAge,
	}
}

// AttachTelemetry wires drop counters into the journal.
func (j *Journal) AttachTelemetry(t Telemetry) {
	if j == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.telemetry = t
}

// AppendPatch records a patch for the current delta window. Writes that
// target an entity already removed in this window are dropped.
func (j *Journal) AppendPatch(p Patch) {
	if j == nil || p.EntityID == 0 {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if p.Kind != PatchEntityCreated {
		if _, gone := j.removed[p.EntityID]; gone {
			j.recordDropLocked(metricJournalPatchAfterRemoval)
			return
		}
	} else {
		delete(j.removed, p.EntityID)
	}
	j.patches = append(j.patches, p)
}

// PurgeEntity drops all staged patches that reference the provided entity
// and stages a single removal patch in their place.
func (j *Journal) PurgeEntity(entityID uint32) {
	if j == nil || entityID == 0 {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	filtered := j.patches[:0]
	created := false
	for _, patch := range j.patches {
		if patch.EntityID == entityID {
			if patch.Kind == PatchEntityCreated {
				created = true
			}
			continue
		}
		filtered = append(filtered, patch)
	}
	j.patches = filtered
	// An entity created and removed in the same window never reached a
	// client, so there is nothing to announce.
	if created {
		return
	}
	j.removed[entityID] = struct{}{}
	j.patches = append(j.patches, Patch{Kind: PatchEntityRemoved, EntityID: entityID})
}

// DrainPatches returns all staged patches and clears the journal window.
func (j *Journal) DrainPatches() []Patch {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.patches) == 0 {
		return nil
	}
	drained := make([]Patch, len(j.patches))
	copy(drained, j.patches)
	j.patches = j.patches[:0]
	j.removed = make(map[uint32]struct{})
	return drained
}

// SnapshotPatches returns a copy of the staged patches without clearing the
// journal.
func (j *Journal) SnapshotPatches() []Patch {
	if j == nil {
		return nil
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	if len(j.patches) == 0 {
		return nil
	}
	snapshot := make([]Patch, len(j.patches))
	copy(snapshot, j.patches)
	return snapshot
}

// RestorePatches prepends the provided patches back into the journal. It is
// used when a caller drains the journal but the broadcast cannot be sent.
func (j *Journal) RestorePatches(p []Patch) {
	if j == nil || len(p) == 0 {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	restored := make([]Patch, 0, len(p)+len(j.patches))
	restored = append(restored, p...)
	restored = append(restored, j.patches...)
	j.patches = restored
	for _, patch := range p {
		if patch.Kind == PatchEntityRemoved {
			j.removed[patch.EntityID] = struct{}{}
		}
	}
}

// Keyframe captures a full serialized snapshot of the entity store.
type Keyframe struct {
	Sequence   uint64          `json:"sequence"`
	Round      int             `json:"round"`
	Tick       uint64          `json:"tick"`
	State      json.RawMessage `json:"state"`
	RecordedAt time.Time       `json:"-"`
}

// KeyframeEviction reports a keyframe dropped by the retention policy.
type KeyframeEviction struct {
	Sequence uint64
	Tick     uint64
	Reason   string
}

// KeyframeRecordResult summarises the buffer after recording a keyframe.
type KeyframeRecordResult struct {
	Size           int
	OldestSequence uint64
	NewestSequence uint64
	Evicted        []KeyframeEviction
}

// RecordKeyframe stores a keyframe in the buffer enforcing retention limits
// by count and age.
func (j *Journal) RecordKeyframe(frame Keyframe) KeyframeRecordResult {
	if j == nil {
		return KeyframeRecordResult{}
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.maxFrames == 0 {
		j.keyframes = j.keyframes[:0]
		return KeyframeRecordResult{}
	}

	if size := len(j.keyframes); size > 0 && frame.Sequence <= j.keyframes[size-1].Sequence {
		j.recordDropLocked(metricJournalKeyframeSequence)
		return j.windowLocked(nil)
	}

	if frame.RecordedAt.IsZero() {
		frame.RecordedAt = time.Now()
	}
	j.keyframes = append(j.keyframes, frame)

	evicted := make([]KeyframeEviction, 0)
	if j.maxAge > 0 {
		cutoff := frame.RecordedAt.Add(-j.maxAge)
		idx := 0
		for idx < len(j.keyframes) && j.keyframes[idx].RecordedAt.Before(cutoff) {
			evicted = append(evicted, KeyframeEviction{
				Sequence: j.keyframes[idx].Sequence,
				Tick:     j.keyframes[idx].Tick,
				Reason:   "expired",
			})
			idx++
		}
		if idx > 0 {
			copy(j.keyframes, j.keyframes[idx:])
			j.keyframes = j.keyframes[:len(j.keyframes)-idx]
		}
	}

	if len(j.keyframes) > j.maxFrames {
		overflow := len(j.keyframes) - j.maxFrames
		for i := 0; i < overflow; i++ {
			evicted = append(evicted, KeyframeEviction{
				Sequence: j.keyframes[i].Sequence,
				Tick:     j.keyframes[i].Tick,
				Reason:   "count",
			})
		}
		copy(j.keyframes, j.keyframes[overflow:])
		j.keyframes = j.keyframes[:len(j.keyframes)-overflow]
	}

	return j.windowLocked(evicted)
}

func (j *Journal) windowLocked(evicted []KeyframeEviction) KeyframeRecordResult {
	size := len(j.keyframes)
	result := KeyframeRecordResult{Size: size, Evicted: evicted}
	if size > 0 {
		result.OldestSequence = j.keyframes[0].Sequence
		result.NewestSequence = j.keyframes[size-1].Sequence
	}
	return result
}

// Keyframes returns a copy of the buffered keyframes in chronological order.
func (j *Journal) Keyframes() []Keyframe {
	if j == nil {
		return nil
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	if len(j.keyframes) == 0 {
		return nil
	}
	frames := make([]Keyframe, len(j.keyframes))
	copy(frames, j.keyframes)
	return frames
}

// KeyframeBySequence returns the keyframe matching the provided sequence.
func (j *Journal) KeyframeBySequence(sequence uint64) (Keyframe, bool) {
	if j == nil || sequence == 0 {
		return Keyframe{}, false
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	for _, frame := range j.keyframes {
		if frame.Sequence == sequence {
			return frame, true
		}
	}
	return Keyframe{}, false
}

// KeyframeWindow reports the current retention window.
func (j *Journal) KeyframeWindow() (size int, oldest, newest uint64) {
	if j == nil {
		return 0, 0, 0
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	size = len(j.keyframes)
	if size == 0 {
		return 0, 0, 0
	}
	return size, j.keyframes[0].Sequence, j.keyframes[size-1].Sequence
}

func (j *Journal) recordDropLocked(metric string) {
	if j.telemetry != nil {
		j.telemetry.RecordJournalDrop(metric)
	}
}
