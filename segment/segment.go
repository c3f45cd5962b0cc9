package segment

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/RoaringBitmap/roaring"

	"accountsdb/types"
)

var fileMagic = [8]byte{'A', 'D', 'B', 'S', 'E', 'G', 0, 1}

const (
	fileHeaderLen  = 16 // magic + segment id
	recordPrefix   = 4  // u32 record length before every record
	footerTrailLen = 12 // u32 footer size + trailing magic
)

// Segment is one append-only container of stored records. Every record in a
// segment belongs to the same slot (one segment is produced per flushed
// slot). A segment is writable until sealed; sealing appends the offset
// table footer and makes the file immutable.
type Segment struct {
	id   uint64
	slot uint64
	path string

	mu       sync.Mutex
	file     *os.File // write handle, nil once sealed
	writeOff uint32
	offsets  []uint32
	sealed   bool

	dead *roaring.Bitmap
}

// Create starts a new writable segment file for the given slot.
func Create(path string, id, slot uint64) (*Segment, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("create segment file: %w", err)
	}

	header := make([]byte, fileHeaderLen)
	copy(header, fileMagic[:])
	binary.LittleEndian.PutUint64(header[8:], id)
	if _, err := file.Write(header); err != nil {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("write segment header: %w", err)
	}

	return &Segment{
		id:       id,
		slot:     slot,
		path:     path,
		file:     file,
		writeOff: fileHeaderLen,
		dead:     roaring.New(),
	}, nil
}

// OpenSealed loads a sealed segment's offset table from its footer. The
// file is not kept open; reads go through the manager's handle cache.
func OpenSealed(path string, id, slot uint64) (*Segment, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open segment file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat segment file: %w", err)
	}
	if info.Size() < fileHeaderLen+footerTrailLen {
		return nil, fmt.Errorf("segment file truncated: %d bytes", info.Size())
	}

	header := make([]byte, fileHeaderLen)
	if _, err := io.ReadFull(file, header); err != nil {
		return nil, fmt.Errorf("read segment header: %w", err)
	}
	if [8]byte(header[:8]) != fileMagic {
		return nil, fmt.Errorf("bad segment magic in %s", path)
	}
	if got := binary.LittleEndian.Uint64(header[8:]); got != id {
		return nil, fmt.Errorf("segment id mismatch: file says %d, manifest says %d", got, id)
	}

	trail := make([]byte, footerTrailLen)
	if _, err := file.ReadAt(trail, info.Size()-footerTrailLen); err != nil {
		return nil, fmt.Errorf("read segment footer trailer: %w", err)
	}
	if [8]byte(trail[4:]) != fileMagic {
		return nil, fmt.Errorf("segment %s is missing its seal footer", path)
	}
	footerSize := binary.LittleEndian.Uint32(trail[:4])
	footerStart := info.Size() - footerTrailLen - int64(footerSize)
	if footerStart < fileHeaderLen {
		return nil, fmt.Errorf("segment footer overlaps header in %s", path)
	}

	footer := make([]byte, footerSize)
	if _, err := file.ReadAt(footer, footerStart); err != nil {
		return nil, fmt.Errorf("read segment footer: %w", err)
	}
	count := binary.LittleEndian.Uint32(footer[:4])
	if uint32(len(footer)) != 4+4*count {
		return nil, fmt.Errorf("segment footer size mismatch in %s", path)
	}
	offsets := make([]uint32, count)
	for i := range offsets {
		offsets[i] = binary.LittleEndian.Uint32(footer[4+4*i:])
	}

	return &Segment{
		id:       id,
		slot:     slot,
		path:     path,
		writeOff: uint32(footerStart),
		offsets:  offsets,
		sealed:   true,
		dead:     roaring.New(),
	}, nil
}

func (s *Segment) ID() uint64   { return s.id }
func (s *Segment) Slot() uint64 { return s.slot }
func (s *Segment) Path() string { return s.path }

func (s *Segment) Sealed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sealed
}

// Count returns the number of records appended so far.
func (s *Segment) Count() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint32(len(s.offsets))
}

// Append writes one stored record and returns its location. Only the
// orchestrator's flush path calls Append, one flush at a time.
func (s *Segment) Append(sr *StoredRecord) (types.Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sealed {
		return types.Location{}, fmt.Errorf("append to sealed segment %d", s.id)
	}

	payload := MarshalStored(sr)
	buf := make([]byte, recordPrefix+len(payload))
	binary.LittleEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[recordPrefix:], payload)

	if _, err := s.file.Write(buf); err != nil {
		return types.Location{}, fmt.Errorf("append record to segment %d: %w", s.id, err)
	}

	loc := types.Location{
		Segment: s.id,
		Offset:  s.writeOff,
		Index:   uint32(len(s.offsets)),
	}
	s.offsets = append(s.offsets, s.writeOff)
	s.writeOff += uint32(len(buf))
	return loc, nil
}

// Seal appends the offset table footer, syncs, and closes the write
// handle. No further appends are possible.
func (s *Segment) Seal() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sealed {
		return nil
	}

	footerSize := uint32(4 + 4*len(s.offsets))
	footer := make([]byte, footerSize+footerTrailLen)
	binary.LittleEndian.PutUint32(footer[:4], uint32(len(s.offsets)))
	for i, off := range s.offsets {
		binary.LittleEndian.PutUint32(footer[4+4*i:], off)
	}
	binary.LittleEndian.PutUint32(footer[footerSize:], footerSize)
	copy(footer[footerSize+4:], fileMagic[:])

	if _, err := s.file.Write(footer); err != nil {
		return fmt.Errorf("write segment footer: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("sync segment %d: %w", s.id, err)
	}
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("close segment %d: %w", s.id, err)
	}
	s.file = nil
	s.sealed = true
	return nil
}

// readAt reads one record using the supplied handle. Sealed segments can be
// read with any read-only handle; an unsealed segment is read through its
// own write handle.
func (s *Segment) readAt(r io.ReaderAt, offset uint32) (*StoredRecord, error) {
	prefix := make([]byte, recordPrefix)
	if _, err := r.ReadAt(prefix, int64(offset)); err != nil {
		return nil, fmt.Errorf("read record length at %d: %w", offset, err)
	}
	recLen := binary.LittleEndian.Uint32(prefix)

	buf := make([]byte, recLen)
	if _, err := r.ReadAt(buf, int64(offset)+recordPrefix); err != nil {
		return nil, fmt.Errorf("read record at %d: %w", offset, err)
	}
	return UnmarshalStored(buf)
}

// MarkDead flags the record at the given ordinal as superseded. Returns
// true when every record in a sealed segment is now dead.
func (s *Segment) MarkDead(index uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index >= uint32(len(s.offsets)) {
		return false
	}
	s.dead.Add(index)
	return s.sealed && s.dead.GetCardinality() == uint64(len(s.offsets))
}

// DeadCount reports how many records are flagged dead.
func (s *Segment) DeadCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dead.GetCardinality()
}

// FullyDead reports whether the segment holds no live record.
func (s *Segment) FullyDead() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sealed && len(s.offsets) > 0 && s.dead.GetCardinality() == uint64(len(s.offsets))
}

// Remove deletes the backing file. Only called by the cleaner once the
// segment is fully dead and unpinned.
func (s *Segment) Remove() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		s.file.Close()
		s.file = nil
	}
	if err := os.Remove(s.path); err != nil {
		return fmt.Errorf("remove segment file %s: %w", s.path, err)
	}
	return nil
}
