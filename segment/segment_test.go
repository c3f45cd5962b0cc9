package segment

import (
	"path/filepath"
	"testing"

	"accountsdb/types"
)

func testRecord(b byte, lamports uint64, data []byte) types.AccountRecord {
	var rec types.AccountRecord
	rec.Address[0] = b
	rec.Owner[1] = b
	rec.Lamports = lamports
	rec.Data = data
	rec.RentEpoch = 7
	rec.Executable = b%2 == 0
	return rec
}

func TestAppendReadSealReopen(t *testing.T) {
	dir := t.TempDir()
	mgr, err := NewManager(dir, 4)
	if err != nil {
		t.Fatal(err)
	}
	defer mgr.Close()

	seg, err := mgr.Create(11)
	if err != nil {
		t.Fatal(err)
	}

	records := []types.AccountRecord{
		testRecord(1, 100, []byte("alpha")),
		testRecord(2, 200, nil),
		testRecord(3, 300, []byte("gamma-data")),
	}
	locs := make([]types.Location, len(records))
	for i, rec := range records {
		loc, err := seg.Append(&StoredRecord{Slot: 11, WriteVersion: uint64(i + 1), Record: rec})
		if err != nil {
			t.Fatal(err)
		}
		locs[i] = loc
	}
	if err := seg.Seal(); err != nil {
		t.Fatal(err)
	}
	if _, err := seg.Append(&StoredRecord{Slot: 11, Record: records[0]}); err == nil {
		t.Fatal("append after seal must fail")
	}

	for i, loc := range locs {
		sr, err := mgr.ReadRecord(loc)
		if err != nil {
			t.Fatal(err)
		}
		if sr.Slot != 11 || sr.WriteVersion != uint64(i+1) {
			t.Fatalf("record %d: wrong coordinates %d/%d", i, sr.Slot, sr.WriteVersion)
		}
		if sr.Record.Lamports != records[i].Lamports {
			t.Fatalf("record %d: lamports %d != %d", i, sr.Record.Lamports, records[i].Lamports)
		}
		if string(sr.Record.Data) != string(records[i].Data) {
			t.Fatalf("record %d: data mismatch", i)
		}
		if sr.Record.Address != records[i].Address || sr.Record.Owner != records[i].Owner {
			t.Fatalf("record %d: key mismatch", i)
		}
		if sr.Record.Executable != records[i].Executable || sr.Record.RentEpoch != records[i].RentEpoch {
			t.Fatalf("record %d: metadata mismatch", i)
		}
	}

	// Reopen from the sealed file alone, like a restart does.
	reopened, err := OpenSealed(filepath.Join(dir, segmentFileName(seg.ID(), 11)), seg.ID(), 11)
	if err != nil {
		t.Fatal(err)
	}
	if reopened.Count() != uint32(len(records)) {
		t.Fatalf("reopened count %d != %d", reopened.Count(), len(records))
	}
	if !reopened.Sealed() {
		t.Fatal("reopened segment must be sealed")
	}
}

func TestDeadAccounting(t *testing.T) {
	dir := t.TempDir()
	mgr, err := NewManager(dir, 4)
	if err != nil {
		t.Fatal(err)
	}
	defer mgr.Close()

	seg, err := mgr.Create(3)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := seg.Append(&StoredRecord{Slot: 3, WriteVersion: uint64(i), Record: testRecord(byte(i), 1, nil)}); err != nil {
			t.Fatal(err)
		}
	}

	// Not fully dead before sealing, whatever the counters say.
	seg.MarkDead(0)
	seg.MarkDead(1)
	if seg.FullyDead() {
		t.Fatal("unsealed segment must never be fully dead")
	}
	if err := seg.Seal(); err != nil {
		t.Fatal(err)
	}
	if seg.FullyDead() {
		t.Fatal("one record still live")
	}

	// Marking the same record twice must not double count.
	seg.MarkDead(1)
	if seg.DeadCount() != 2 {
		t.Fatalf("dead count %d != 2", seg.DeadCount())
	}

	if full := seg.MarkDead(2); !full {
		t.Fatal("expected fully dead after last record")
	}
	if !seg.FullyDead() {
		t.Fatal("expected FullyDead")
	}

	if err := mgr.Reclaim(seg); err != nil {
		t.Fatal(err)
	}
	if _, ok := mgr.Get(seg.ID()); ok {
		t.Fatal("reclaimed segment still live")
	}
}

func TestReadAllStreamsInAppendOrder(t *testing.T) {
	dir := t.TempDir()
	mgr, err := NewManager(dir, 2)
	if err != nil {
		t.Fatal(err)
	}
	defer mgr.Close()

	seg, err := mgr.Create(5)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		if _, err := seg.Append(&StoredRecord{Slot: 5, WriteVersion: uint64(i), Record: testRecord(byte(i), uint64(i), nil)}); err != nil {
			t.Fatal(err)
		}
	}
	if err := seg.Seal(); err != nil {
		t.Fatal(err)
	}

	var seen []uint64
	err = mgr.ReadAll(seg, func(loc types.Location, sr *StoredRecord) error {
		if loc.Index != uint32(len(seen)) {
			t.Fatalf("location index %d out of order", loc.Index)
		}
		seen = append(seen, sr.WriteVersion)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	for i, wv := range seen {
		if wv != uint64(i) {
			t.Fatalf("record %d has write version %d", i, wv)
		}
	}
}
