package segment

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"accountsdb/logx"
	"accountsdb/types"
)

// Manager owns every segment of one database: it allocates segment ids,
// tracks live segments, and serves record reads through a bounded cache of
// read-only file handles for sealed segments.
type Manager struct {
	dir string

	mu       sync.RWMutex
	segments map[uint64]*Segment
	nextID   uint64

	handles *lru.Cache // segment id -> *os.File, read-only
}

func NewManager(dir string, handleCacheSize int) (*Manager, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create segment dir: %w", err)
	}
	if handleCacheSize <= 0 {
		handleCacheSize = 1
	}
	handles, err := lru.NewWithEvict(handleCacheSize, func(key, value interface{}) {
		if f, ok := value.(*os.File); ok {
			f.Close()
		}
	})
	if err != nil {
		return nil, fmt.Errorf("create handle cache: %w", err)
	}
	return &Manager{
		dir:      dir,
		segments: make(map[uint64]*Segment),
		nextID:   1,
		handles:  handles,
	}, nil
}

func segmentFileName(id, slot uint64) string {
	return fmt.Sprintf("%d.%d.seg", id, slot)
}

// Create opens a fresh writable segment for the given slot.
func (m *Manager) Create(slot uint64) (*Segment, error) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.mu.Unlock()

	path := filepath.Join(m.dir, segmentFileName(id, slot))
	seg, err := Create(path, id, slot)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.segments[id] = seg
	m.mu.Unlock()
	return seg, nil
}

// LoadSealed reopens a sealed segment recorded in the manifest.
func (m *Manager) LoadSealed(id, slot uint64, fileName string) (*Segment, error) {
	seg, err := OpenSealed(filepath.Join(m.dir, fileName), id, slot)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.segments[id] = seg
	if id >= m.nextID {
		m.nextID = id + 1
	}
	m.mu.Unlock()
	return seg, nil
}

// Get returns the live segment with the given id.
func (m *Manager) Get(id uint64) (*Segment, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seg, ok := m.segments[id]
	return seg, ok
}

// All returns a snapshot of the live segments.
func (m *Manager) All() []*Segment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Segment, 0, len(m.segments))
	for _, seg := range m.segments {
		out = append(out, seg)
	}
	return out
}

// ReadRecord resolves a location to its stored record.
func (m *Manager) ReadRecord(loc types.Location) (*StoredRecord, error) {
	seg, ok := m.Get(loc.Segment)
	if !ok {
		return nil, fmt.Errorf("segment %d is not live", loc.Segment)
	}

	seg.mu.Lock()
	writeHandle := seg.file
	sealed := seg.sealed
	seg.mu.Unlock()

	if !sealed && writeHandle != nil {
		return seg.readAt(writeHandle, loc.Offset)
	}

	handle, err := m.readerHandle(seg)
	if err != nil {
		return nil, err
	}
	return seg.readAt(handle, loc.Offset)
}

// ReadAll streams every record of a segment in append order, used to
// rebuild the version index on startup.
func (m *Manager) ReadAll(seg *Segment, fn func(loc types.Location, sr *StoredRecord) error) error {
	handle, err := m.readerHandle(seg)
	if err != nil {
		return err
	}

	seg.mu.Lock()
	offsets := make([]uint32, len(seg.offsets))
	copy(offsets, seg.offsets)
	seg.mu.Unlock()

	for i, off := range offsets {
		sr, err := seg.readAt(handle, off)
		if err != nil {
			return fmt.Errorf("read segment %d record %d: %w", seg.id, i, err)
		}
		loc := types.Location{Segment: seg.id, Offset: off, Index: uint32(i)}
		if err := fn(loc, sr); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) readerHandle(seg *Segment) (*os.File, error) {
	if cached, ok := m.handles.Get(seg.id); ok {
		return cached.(*os.File), nil
	}
	file, err := os.Open(seg.path)
	if err != nil {
		return nil, fmt.Errorf("open segment %d for read: %w", seg.id, err)
	}
	m.handles.Add(seg.id, file)
	return file, nil
}

// SweepOrphans deletes segment files whose id is not in the manifested
// set. A flush that crashed after sealing but before its manifest write
// leaves such a file behind, and its id must be freed for reuse.
func (m *Manager) SweepOrphans(manifested map[uint64]struct{}) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		logx.Warn("SEGMENT", "Failed to list segment dir: ", err.Error())
		return
	}
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		name := ent.Name()
		var id, slot uint64
		if n, _ := fmt.Sscanf(name, "%d.%d.seg", &id, &slot); n != 2 {
			continue
		}
		if _, ok := manifested[id]; ok {
			continue
		}
		if err := os.Remove(filepath.Join(m.dir, name)); err != nil {
			logx.Warn("SEGMENT", "Failed to remove orphaned segment file ", name, ": ", err.Error())
			continue
		}
		logx.Warn("SEGMENT", "Removed orphaned segment file ", name)
	}
}

// Reclaim removes a fully dead segment's file and drops it from the live
// set. The caller has already proven no index entry points into it.
func (m *Manager) Reclaim(seg *Segment) error {
	m.handles.Remove(seg.id)
	if err := seg.Remove(); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.segments, seg.id)
	m.mu.Unlock()
	return nil
}

// Discard drops an unsealed segment after a failed flush so a retry starts
// from a clean file.
func (m *Manager) Discard(seg *Segment) {
	m.handles.Remove(seg.id)
	if err := seg.Remove(); err != nil {
		logx.Warn("SEGMENT", "Failed to discard segment:", err.Error())
	}

	m.mu.Lock()
	delete(m.segments, seg.id)
	m.mu.Unlock()
}

// Close releases every open handle. Sealed segment files stay on disk.
func (m *Manager) Close() {
	m.handles.Purge()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, seg := range m.segments {
		seg.mu.Lock()
		if seg.file != nil {
			seg.file.Close()
			seg.file = nil
		}
		seg.mu.Unlock()
	}
}
