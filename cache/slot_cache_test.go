package cache

import (
	"testing"

	"accountsdb/types"
)

func addr(b byte) types.Pubkey {
	var pk types.Pubkey
	pk[0] = b
	return pk
}

func rec(lamports uint64) *types.AccountRecord {
	return &types.AccountRecord{Lamports: lamports}
}

func TestPutGetLatestWriteVersionWins(t *testing.T) {
	c := New()
	sc := c.Open(7, 6)

	sc.Put(addr(1), rec(10), 1)
	sc.Put(addr(1), rec(20), 2)

	staged, ok := sc.Get(addr(1))
	if !ok || staged.Record.Lamports != 20 || staged.WriteVersion != 2 {
		t.Fatalf("expected latest version, got %+v ok=%v", staged, ok)
	}

	// A late retry with an older write version must not clobber.
	sc.Put(addr(1), rec(10), 1)
	staged, _ = sc.Get(addr(1))
	if staged.Record.Lamports != 20 {
		t.Fatalf("stale write version overwrote newer record: %+v", staged)
	}

	// A retry with the same write version replaces (last write wins).
	sc.Put(addr(1), rec(25), 2)
	staged, _ = sc.Get(addr(1))
	if staged.Record.Lamports != 25 {
		t.Fatalf("same-version retry did not win: %+v", staged)
	}
}

func TestSnapshotSortedAndStable(t *testing.T) {
	c := New()
	sc := c.Open(3, 2)
	sc.Put(addr(9), rec(9), 1)
	sc.Put(addr(1), rec(1), 2)
	sc.Put(addr(5), rec(5), 3)

	entries := sc.Snapshot()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Address != addr(1) || entries[1].Address != addr(5) || entries[2].Address != addr(9) {
		t.Fatal("snapshot not in address order")
	}

	// Snapshot must not drain the cache; eviction is the orchestrator's call.
	if sc.Len() != 3 {
		t.Fatalf("snapshot drained the cache: %d", sc.Len())
	}
}

func TestMultipleOpenSlots(t *testing.T) {
	c := New()
	c.Open(10, 9)
	c.Open(11, 10)
	c.Open(12, 10) // sibling fork

	if got := len(c.OpenSlots()); got != 3 {
		t.Fatalf("expected 3 open slots, got %d", got)
	}

	// Reopening returns the same staging map.
	sc := c.Open(11, 10)
	sc.Put(addr(2), rec(2), 1)
	again, _ := c.Get(11)
	if again.Len() != 1 {
		t.Fatal("reopen created a fresh cache")
	}
	if again.Parent() != 10 {
		t.Fatalf("parent link lost: %d", again.Parent())
	}

	c.Evict(11)
	if _, ok := c.Get(11); ok {
		t.Fatal("evicted slot still present")
	}
}
