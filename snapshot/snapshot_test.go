package snapshot

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"accountsdb/segment"
	"accountsdb/types"
)

func stored(i int) *segment.StoredRecord {
	var addr, owner types.Pubkey
	addr[0] = byte(i)
	owner[0] = 0xAA
	return &segment.StoredRecord{
		Slot:         7,
		WriteVersion: uint64(i + 1),
		Record: types.AccountRecord{
			Address:  addr,
			Owner:    owner,
			Lamports: uint64(i) * 100,
			Data:     []byte{byte(i), byte(i)},
		},
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.snap")

	count, err := Write(path, 7, func(emit func(sr *segment.StoredRecord) error) error {
		for i := 0; i < 3; i++ {
			if err := emit(stored(i)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Fatalf("expected 3 records written, got %d", count)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatal("temporary file left behind")
	}

	hdr, err := ReadHeader(path)
	if err != nil {
		t.Fatal(err)
	}
	if hdr.Version != LayoutVersion || hdr.Slot != 7 || hdr.Count != 3 {
		t.Fatalf("unexpected header: %+v", hdr)
	}

	var got []*segment.StoredRecord
	if _, err := Read(path, func(sr *segment.StoredRecord) error {
		got = append(got, sr)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 records read, got %d", len(got))
	}
	for i, sr := range got {
		want := stored(i)
		if sr.Record.Address != want.Record.Address ||
			sr.Record.Lamports != want.Record.Lamports ||
			sr.WriteVersion != want.WriteVersion {
			t.Fatalf("record %d mismatch: got %+v want %+v", i, sr, want)
		}
	}
}

func TestEmptySnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.snap")

	count, err := Write(path, 1, func(emit func(sr *segment.StoredRecord) error) error {
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Fatalf("expected 0 records, got %d", count)
	}

	hdr, err := Read(path, func(sr *segment.StoredRecord) error {
		t.Fatal("callback fired on empty snapshot")
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if hdr.Count != 0 {
		t.Fatalf("expected count 0, got %d", hdr.Count)
	}
}

func TestBadMagicRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.snap")
	if err := os.WriteFile(path, []byte("not a snapshot file at all"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := ReadHeader(path); !errors.Is(err, ErrFormatMismatch) {
		t.Fatalf("expected ErrFormatMismatch, got %v", err)
	}
}

func TestFutureLayoutVersionRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "future.snap")
	if _, err := Write(path, 3, func(emit func(sr *segment.StoredRecord) error) error {
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	// Bump the version field in place.
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, LayoutVersion+1)
	if _, err := file.WriteAt(buf, 8); err != nil {
		t.Fatal(err)
	}
	file.Close()

	if _, err := ReadHeader(path); !errors.Is(err, ErrFormatMismatch) {
		t.Fatalf("expected ErrFormatMismatch, got %v", err)
	}
	if _, err := Read(path, func(sr *segment.StoredRecord) error { return nil }); !errors.Is(err, ErrFormatMismatch) {
		t.Fatalf("expected ErrFormatMismatch from Read, got %v", err)
	}
}

func TestTruncatedRecordRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trunc.snap")
	if _, err := Write(path, 5, func(emit func(sr *segment.StoredRecord) error) error {
		return emit(stored(0))
	}); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Truncate(path, info.Size()-4); err != nil {
		t.Fatal(err)
	}

	if _, err := Read(path, func(sr *segment.StoredRecord) error { return nil }); !errors.Is(err, ErrFormatMismatch) {
		t.Fatalf("expected ErrFormatMismatch, got %v", err)
	}
}
