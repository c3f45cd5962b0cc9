package store

import (
	"testing"

	"accountsdb/db"
)

func newTestStore(t *testing.T) *GenericMetaStore {
	t.Helper()
	s, err := NewGenericMetaStore(db.NewMemoryProvider())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestRootedSlotRoundTrip(t *testing.T) {
	s := newTestStore(t)

	if _, ok, err := s.GetRootedSlot(); err != nil || ok {
		t.Fatalf("fresh store should have no rooted slot, got ok=%v err=%v", ok, err)
	}

	if err := s.SetRootedSlot(42); err != nil {
		t.Fatal(err)
	}
	slot, ok, err := s.GetRootedSlot()
	if err != nil || !ok || slot != 42 {
		t.Fatalf("expected slot 42, got %d ok=%v err=%v", slot, ok, err)
	}

	// Newer roots overwrite.
	if err := s.SetRootedSlot(100); err != nil {
		t.Fatal(err)
	}
	slot, _, _ = s.GetRootedSlot()
	if slot != 100 {
		t.Fatalf("expected slot 100, got %d", slot)
	}
}

func TestSegmentManifestRoundTrip(t *testing.T) {
	s := newTestStore(t)

	metas := []SegmentMeta{
		{ID: 1, Slot: 10, Records: 3, Sealed: true, FileName: "1.10.seg"},
		{ID: 2, Slot: 11, Records: 1, Sealed: true, FileName: "2.11.seg"},
		{ID: 3, Slot: 12, Records: 7, Sealed: true, FileName: "3.12.seg"},
	}
	for _, m := range metas {
		if err := s.PutSegmentMeta(m); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.ListSegmentMeta()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 manifest entries, got %d", len(got))
	}
	for i, m := range got {
		if m != metas[i] {
			t.Fatalf("entry %d mismatch: got %+v want %+v", i, m, metas[i])
		}
	}

	if err := s.DeleteSegmentMeta(2); err != nil {
		t.Fatal(err)
	}
	got, err = s.ListSegmentMeta()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != 1 || got[1].ID != 3 {
		t.Fatalf("expected entries 1 and 3 after delete, got %+v", got)
	}
}

func TestDeleteSegmentMetaBatch(t *testing.T) {
	s := newTestStore(t)

	for id := uint64(1); id <= 5; id++ {
		if err := s.PutSegmentMeta(SegmentMeta{ID: id, Slot: id, Sealed: true}); err != nil {
			t.Fatal(err)
		}
	}

	if err := s.DeleteSegmentMetaBatch(nil); err != nil {
		t.Fatal("empty batch must be a no-op, got", err)
	}
	if err := s.DeleteSegmentMetaBatch([]uint64{2, 4, 5}); err != nil {
		t.Fatal(err)
	}

	got, err := s.ListSegmentMeta()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != 1 || got[1].ID != 3 {
		t.Fatalf("expected entries 1 and 3 after batch delete, got %+v", got)
	}
}

func TestSnapshotMetaRoundTrip(t *testing.T) {
	s := newTestStore(t)

	if _, ok, err := s.GetSnapshotMeta(); err != nil || ok {
		t.Fatalf("fresh store should have no snapshot meta, got ok=%v err=%v", ok, err)
	}

	want := SnapshotMeta{Slot: 9, Path: "/snapshots/9.snap"}
	if err := s.SetSnapshotMeta(want); err != nil {
		t.Fatal(err)
	}
	got, ok, err := s.GetSnapshotMeta()
	if err != nil || !ok || got != want {
		t.Fatalf("expected %+v, got %+v ok=%v err=%v", want, got, ok, err)
	}
}
