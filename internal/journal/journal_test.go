package journal

import (
	"encoding/json"
	"testing"
	"time"
)

type dropRecorder struct {
	metrics []string
}

func (r *dropRecorder) RecordJournalDrop(metric string) {
	r.metrics = append(r.metrics, metric)
}

func TestJournalPatchBuffersClone(t *testing.T) {
	j := New(0, 0)

	original := Patch{Kind: PatchComponentSet, EntityID: 4, Component: "health"}
	j.AppendPatch(original)

	snapshot := j.SnapshotPatches()
	if len(snapshot) != 1 {
		t.Fatalf("expected snapshot to contain 1 patch, got %d", len(snapshot))
	}
	snapshot[0].EntityID = 99

	drained := j.DrainPatches()
	if len(drained) != 1 {
		t.Fatalf("expected drain to return 1 patch, got %d", len(drained))
	}
	if drained[0] != original {
		t.Fatalf("expected drain to preserve patch %+v, got %+v", original, drained[0])
	}

	j.RestorePatches(drained)
	drained[0].EntityID = 77
	restored := j.SnapshotPatches()
	if len(restored) != 1 || restored[0].EntityID != 4 {
		t.Fatalf("expected restore to copy patches, got %+v", restored)
	}

	j.DrainPatches()
	if cleared := j.DrainPatches(); len(cleared) != 0 {
		t.Fatalf("expected journal to be empty after drain, got %d patches", len(cleared))
	}
}

func TestJournalPurgeEntityStagesRemoval(t *testing.T) {
	j := New(0, 0)
	recorder := &dropRecorder{}
	j.AttachTelemetry(recorder)

	j.AppendPatch(Patch{Kind: PatchComponentSet, EntityID: 1, Component: "transform"})
	j.AppendPatch(Patch{Kind: PatchComponentSet, EntityID: 2, Component: "transform"})
	j.PurgeEntity(1)
	j.AppendPatch(Patch{Kind: PatchComponentSet, EntityID: 1, Component: "health"})

	patches := j.DrainPatches()
	if len(patches) != 2 {
		t.Fatalf("expected 2 patches after purge, got %+v", patches)
	}
	if patches[0].EntityID != 2 {
		t.Fatalf("expected surviving patch for entity 2, got %+v", patches[0])
	}
	if patches[1].Kind != PatchEntityRemoved || patches[1].EntityID != 1 {
		t.Fatalf("expected removal patch for entity 1, got %+v", patches[1])
	}
	if len(recorder.metrics) != 1 || recorder.metrics[0] != metricJournalPatchAfterRemoval {
		t.Fatalf("expected a drop to be recorded, got %v", recorder.metrics)
	}
}

func TestJournalPurgeSkipsEntitiesCreatedInWindow(t *testing.T) {
	j := New(0, 0)
	j.AppendPatch(Patch{Kind: PatchEntityCreated, EntityID: 3})
	j.AppendPatch(Patch{Kind: PatchComponentSet, EntityID: 3, Component: "unit"})
	j.PurgeEntity(3)

	if patches := j.DrainPatches(); len(patches) != 0 {
		t.Fatalf("expected no patches for an entity that never left the window, got %+v", patches)
	}
}

func TestJournalKeyframeRetentionByCount(t *testing.T) {
	j := New(2, 0)
	base := time.Unix(0, 0)
	for seq := uint64(1); seq <= 3; seq++ {
		j.RecordKeyframe(Keyframe{Sequence: seq, Round: int(seq), State: json.RawMessage(`{}`), RecordedAt: base})
	}

	size, oldest, newest := j.KeyframeWindow()
	if size != 2 || oldest != 2 || newest != 3 {
		t.Fatalf("unexpected window size=%d oldest=%d newest=%d", size, oldest, newest)
	}
	if _, ok := j.KeyframeBySequence(1); ok {
		t.Fatalf("expected keyframe 1 to be evicted")
	}
	frame, ok := j.KeyframeBySequence(3)
	if !ok || frame.Round != 3 {
		t.Fatalf("expected keyframe 3 to be retained, got %+v", frame)
	}
}

func TestJournalKeyframeRetentionByAge(t *testing.T) {
	j := New(8, time.Second)
	base := time.Unix(100, 0)
	j.RecordKeyframe(Keyframe{Sequence: 1, RecordedAt: base})
	result := j.RecordKeyframe(Keyframe{Sequence: 2, RecordedAt: base.Add(2 * time.Second)})

	if result.Size != 1 || result.OldestSequence != 2 {
		t.Fatalf("expected expired keyframe to be evicted, got %+v", result)
	}
	if len(result.Evicted) != 1 || result.Evicted[0].Reason != "expired" {
		t.Fatalf("expected an expiry eviction, got %+v", result.Evicted)
	}
}

func TestJournalRejectsNonMonotonicKeyframes(t *testing.T) {
	j := New(4, 0)
	recorder := &dropRecorder{}
	j.AttachTelemetry(recorder)

	j.RecordKeyframe(Keyframe{Sequence: 5})
	result := j.RecordKeyframe(Keyframe{Sequence: 5})
	if result.Size != 1 {
		t.Fatalf("expected duplicate sequence to be ignored, got %+v", result)
	}
	if len(recorder.metrics) != 1 {
		t.Fatalf("expected non-monotonic keyframe to be reported")
	}
}
