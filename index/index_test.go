package index

import (
	"sync"
	"testing"

	"accountsdb/types"
)

func addr(b byte) types.Pubkey {
	var pk types.Pubkey
	pk[0] = b
	return pk
}

func loc(seg uint64, idx uint32) types.Location {
	return types.Location{Segment: seg, Index: idx}
}

func TestInsertKeepsOrdering(t *testing.T) {
	ix := New(4)
	a := addr(1)

	// Insert out of order; the list must end up sorted by (slot, write version).
	ix.Insert(a, Entry{Slot: 5, WriteVersion: 9, Loc: loc(3, 0)})
	ix.Insert(a, Entry{Slot: 2, WriteVersion: 4, Loc: loc(1, 0)})
	ix.Insert(a, Entry{Slot: 5, WriteVersion: 7, Loc: loc(2, 0)})
	ix.Insert(a, Entry{Slot: 2, WriteVersion: 1, Loc: loc(1, 1)})

	entries := ix.Entries(a)
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		prev, cur := entries[i-1], entries[i]
		if prev.Slot > cur.Slot || (prev.Slot == cur.Slot && prev.WriteVersion >= cur.WriteVersion) {
			t.Fatalf("entries out of order at %d: %+v before %+v", i, prev, cur)
		}
	}
}

func TestInsertSameCoordinatesReplaces(t *testing.T) {
	ix := New(4)
	a := addr(2)

	ix.Insert(a, Entry{Slot: 3, WriteVersion: 1, Loc: loc(1, 0)})
	ix.Insert(a, Entry{Slot: 3, WriteVersion: 1, Loc: loc(2, 5)})

	entries := ix.Entries(a)
	if len(entries) != 1 {
		t.Fatalf("expected replacement, got %d entries", len(entries))
	}
	if entries[0].Loc.Segment != 2 || entries[0].Loc.Index != 5 {
		t.Fatalf("expected replaced location, got %+v", entries[0].Loc)
	}
}

func TestResolvePicksHighestAtOrBelowSlot(t *testing.T) {
	ix := New(4)
	a := addr(3)
	ix.Insert(a, Entry{Slot: 1, WriteVersion: 1, Loc: loc(1, 0)})
	ix.Insert(a, Entry{Slot: 4, WriteVersion: 2, Loc: loc(2, 0)})
	ix.Insert(a, Entry{Slot: 9, WriteVersion: 3, Loc: loc(3, 0)})

	e, ok := ix.Resolve(a, 8, nil)
	if !ok || e.Slot != 4 {
		t.Fatalf("expected slot 4 visible at 8, got %+v ok=%v", e, ok)
	}
	e, ok = ix.Resolve(a, 9, nil)
	if !ok || e.Slot != 9 {
		t.Fatalf("expected slot 9 visible at 9, got %+v ok=%v", e, ok)
	}
	if _, ok := ix.Resolve(a, 0, nil); ok {
		t.Fatal("nothing should be visible at slot 0")
	}
	if _, ok := ix.Resolve(addr(99), 9, nil); ok {
		t.Fatal("unknown address must not resolve")
	}
}

func TestResolveHonorsVisibility(t *testing.T) {
	ix := New(4)
	a := addr(4)
	ix.Insert(a, Entry{Slot: 3, WriteVersion: 1, Loc: loc(1, 0)})
	ix.Insert(a, Entry{Slot: 5, WriteVersion: 2, Loc: loc(2, 0)})

	// Slot 5 is on a competing fork from this reader's point of view.
	e, ok := ix.Resolve(a, 6, func(slot uint64) bool { return slot != 5 })
	if !ok || e.Slot != 3 {
		t.Fatalf("expected fork-invisible slot skipped, got %+v ok=%v", e, ok)
	}
}

func TestRemoveAndPrune(t *testing.T) {
	ix := New(4)
	a, b := addr(5), addr(6)
	ix.Insert(a, Entry{Slot: 1, WriteVersion: 1, Loc: loc(1, 0)})
	ix.Insert(a, Entry{Slot: 2, WriteVersion: 2, Loc: loc(2, 0)})
	ix.Insert(b, Entry{Slot: 2, WriteVersion: 3, Loc: loc(2, 1)})

	removed := ix.Remove(a, []Entry{{Slot: 1, WriteVersion: 1}})
	if len(removed) != 1 || removed[0].Loc.Segment != 1 {
		t.Fatalf("unexpected removal result: %+v", removed)
	}
	if got := len(ix.Entries(a)); got != 1 {
		t.Fatalf("expected 1 entry left, got %d", got)
	}

	var prunedLocs []types.Location
	ix.PruneSlots(map[uint64]struct{}{2: {}}, func(_ types.Pubkey, e Entry) {
		prunedLocs = append(prunedLocs, e.Loc)
	})
	if len(prunedLocs) != 2 {
		t.Fatalf("expected 2 pruned entries, got %d", len(prunedLocs))
	}
	if ix.Len() != 0 {
		t.Fatalf("expected empty index, got %d addresses", ix.Len())
	}
}

func TestConcurrentInsertResolve(t *testing.T) {
	ix := New(8)
	const writers = 8
	const perWriter = 200

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			a := addr(byte(w))
			for i := 0; i < perWriter; i++ {
				ix.Insert(a, Entry{Slot: uint64(i), WriteVersion: uint64(i), Loc: loc(uint64(w), uint32(i))})
				if _, ok := ix.Resolve(a, uint64(i), nil); !ok {
					t.Errorf("writer %d: own insert at slot %d not resolvable", w, i)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	for w := 0; w < writers; w++ {
		entries := ix.Entries(addr(byte(w)))
		if len(entries) != perWriter {
			t.Fatalf("writer %d: expected %d entries, got %d", w, perWriter, len(entries))
		}
	}
}
