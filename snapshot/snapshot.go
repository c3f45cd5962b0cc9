// Package snapshot serializes the account state visible at one rooted slot
// into a portable, versioned binary blob, and restores it. The loader
// rejects blobs whose declared layout version it does not support instead
// of attempting a best-effort parse.
package snapshot

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"accountsdb/logx"
	"accountsdb/segment"
)

// LayoutVersion is the snapshot format this build reads and writes.
const LayoutVersion uint16 = 1

var fileMagic = [8]byte{'A', 'D', 'B', 'S', 'N', 'A', 'P', 0}

// ErrFormatMismatch flags an unsupported or corrupted snapshot blob.
var ErrFormatMismatch = errors.New("unsupported snapshot format")

// Header layout, little-endian:
//
//	magic   8 bytes
//	version u16
//	slot    u64
//	count   u64
const headerLen = 8 + 2 + 8 + 8

// Header describes a snapshot file.
type Header struct {
	Version uint16
	Slot    uint64
	Count   uint64
}

// Write streams records produced by the callback into a snapshot file for
// the given rooted slot. The file appears atomically: records go to a
// temporary file that is renamed into place once complete.
func Write(path string, slot uint64, produce func(emit func(sr *segment.StoredRecord) error) error) (uint64, error) {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return 0, fmt.Errorf("create snapshot file: %w", err)
	}
	defer func() {
		if file != nil {
			file.Close()
			os.Remove(tmpPath)
		}
	}()

	header := make([]byte, headerLen)
	copy(header, fileMagic[:])
	binary.LittleEndian.PutUint16(header[8:], LayoutVersion)
	binary.LittleEndian.PutUint64(header[10:], slot)
	// Record count is backfilled once the scan completes.
	if _, err := file.Write(header); err != nil {
		return 0, fmt.Errorf("write snapshot header: %w", err)
	}

	var count uint64
	prefix := make([]byte, 4)
	err = produce(func(sr *segment.StoredRecord) error {
		payload := segment.MarshalStored(sr)
		binary.LittleEndian.PutUint32(prefix, uint32(len(payload)))
		if _, err := file.Write(prefix); err != nil {
			return fmt.Errorf("write snapshot record: %w", err)
		}
		if _, err := file.Write(payload); err != nil {
			return fmt.Errorf("write snapshot record: %w", err)
		}
		count++
		return nil
	})
	if err != nil {
		return 0, err
	}

	countBuf := make([]byte, 8)
	binary.LittleEndian.PutUint64(countBuf, count)
	if _, err := file.WriteAt(countBuf, 18); err != nil {
		return 0, fmt.Errorf("backfill snapshot record count: %w", err)
	}
	if err := file.Sync(); err != nil {
		return 0, fmt.Errorf("sync snapshot file: %w", err)
	}
	if err := file.Close(); err != nil {
		file = nil
		os.Remove(tmpPath)
		return 0, fmt.Errorf("close snapshot file: %w", err)
	}
	file = nil
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("publish snapshot file: %w", err)
	}

	logx.Info("SNAPSHOT", fmt.Sprintf("Wrote snapshot | path=%s | slot=%d | records=%d", path, slot, count))
	return count, nil
}

func readHeader(file *os.File) (Header, error) {
	buf := make([]byte, headerLen)
	if _, err := io.ReadFull(file, buf); err != nil {
		return Header{}, fmt.Errorf("%w: truncated header", ErrFormatMismatch)
	}
	if [8]byte(buf[:8]) != fileMagic {
		return Header{}, fmt.Errorf("%w: bad magic", ErrFormatMismatch)
	}
	hdr := Header{
		Version: binary.LittleEndian.Uint16(buf[8:10]),
		Slot:    binary.LittleEndian.Uint64(buf[10:18]),
		Count:   binary.LittleEndian.Uint64(buf[18:26]),
	}
	if hdr.Version != LayoutVersion {
		return Header{}, fmt.Errorf("%w: layout version %d, supported %d", ErrFormatMismatch, hdr.Version, LayoutVersion)
	}
	return hdr, nil
}

// ReadHeader validates and returns a snapshot file's header.
func ReadHeader(path string) (Header, error) {
	file, err := os.Open(path)
	if err != nil {
		return Header{}, fmt.Errorf("open snapshot file: %w", err)
	}
	defer file.Close()
	return readHeader(file)
}

// Read streams every record of a snapshot file through fn after validating
// the header. The record passed to fn is owned by the callee.
func Read(path string, fn func(sr *segment.StoredRecord) error) (Header, error) {
	file, err := os.Open(path)
	if err != nil {
		return Header{}, fmt.Errorf("open snapshot file: %w", err)
	}
	defer file.Close()

	hdr, err := readHeader(file)
	if err != nil {
		return Header{}, err
	}

	prefix := make([]byte, 4)
	for i := uint64(0); i < hdr.Count; i++ {
		if _, err := io.ReadFull(file, prefix); err != nil {
			return hdr, fmt.Errorf("%w: truncated record %d", ErrFormatMismatch, i)
		}
		payload := make([]byte, binary.LittleEndian.Uint32(prefix))
		if _, err := io.ReadFull(file, payload); err != nil {
			return hdr, fmt.Errorf("%w: truncated record %d", ErrFormatMismatch, i)
		}
		sr, err := segment.UnmarshalStored(payload)
		if err != nil {
			return hdr, fmt.Errorf("%w: record %d: %v", ErrFormatMismatch, i, err)
		}
		if err := fn(sr); err != nil {
			return hdr, err
		}
	}
	return hdr, nil
}
