package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"accountsdb/db"
	"accountsdb/logx"
)

// SegmentMeta is the durable manifest entry for one storage segment.
// Offset tables live inside the segment files themselves; the manifest only
// records what exists so the index can be rebuilt on startup.
type SegmentMeta struct {
	ID       uint64 `json:"id"`
	Slot     uint64 `json:"slot"`
	Records  uint32 `json:"records"`
	Sealed   bool   `json:"sealed"`
	FileName string `json:"file_name"`
}

// SnapshotMeta records the most recently written snapshot.
type SnapshotMeta struct {
	Slot uint64 `json:"slot"`
	Path string `json:"path"`
}

// MetaStore persists database bookkeeping that must survive restart:
// the last rooted slot and the segment manifest.
type MetaStore interface {
	SetRootedSlot(slot uint64) error
	GetRootedSlot() (uint64, bool, error)
	PutSegmentMeta(meta SegmentMeta) error
	DeleteSegmentMeta(id uint64) error
	DeleteSegmentMetaBatch(ids []uint64) error
	ListSegmentMeta() ([]SegmentMeta, error)
	SetSnapshotMeta(meta SnapshotMeta) error
	GetSnapshotMeta() (SnapshotMeta, bool, error)
	MustClose()
}

type GenericMetaStore struct {
	provider db.DatabaseProvider
}

func NewGenericMetaStore(provider db.DatabaseProvider) (*GenericMetaStore, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider cannot be nil")
	}
	return &GenericMetaStore{provider: provider}, nil
}

func (s *GenericMetaStore) SetRootedSlot(slot uint64) error {
	value := make([]byte, 8)
	binary.BigEndian.PutUint64(value, slot)
	if err := s.provider.Put([]byte(KeyRootedSlot), value); err != nil {
		return fmt.Errorf("failed to store rooted slot %d: %w", slot, err)
	}
	return nil
}

func (s *GenericMetaStore) GetRootedSlot() (uint64, bool, error) {
	value, err := s.provider.Get([]byte(KeyRootedSlot))
	if err != nil {
		return 0, false, fmt.Errorf("failed to get rooted slot: %w", err)
	}
	if len(value) == 0 {
		return 0, false, nil
	}
	if len(value) != 8 {
		return 0, false, fmt.Errorf("invalid rooted slot length: %d", len(value))
	}
	return binary.BigEndian.Uint64(value), true, nil
}

func (s *GenericMetaStore) segmentKey(id uint64) []byte {
	key := make([]byte, len(PrefixSegmentMeta)+8)
	copy(key, PrefixSegmentMeta)
	binary.BigEndian.PutUint64(key[len(PrefixSegmentMeta):], id)
	return key
}

func (s *GenericMetaStore) PutSegmentMeta(meta SegmentMeta) error {
	value, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal segment meta %d: %w", meta.ID, err)
	}
	if err := s.provider.Put(s.segmentKey(meta.ID), value); err != nil {
		return fmt.Errorf("failed to store segment meta %d: %w", meta.ID, err)
	}
	return nil
}

func (s *GenericMetaStore) DeleteSegmentMeta(id uint64) error {
	if err := s.provider.Delete(s.segmentKey(id)); err != nil {
		return fmt.Errorf("failed to delete segment meta %d: %w", id, err)
	}
	return nil
}

// DeleteSegmentMetaBatch removes several manifest entries in one write, so
// a cleaning pass that reclaims many segments commits one batch.
func (s *GenericMetaStore) DeleteSegmentMetaBatch(ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}
	batch := s.provider.Batch()
	for _, id := range ids {
		batch.Delete(s.segmentKey(id))
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("failed to delete %d segment metas: %w", len(ids), err)
	}
	return nil
}

// ListSegmentMeta returns manifest entries in segment id order.
func (s *GenericMetaStore) ListSegmentMeta() ([]SegmentMeta, error) {
	var metas []SegmentMeta
	var decodeErr error
	err := s.provider.IteratePrefix([]byte(PrefixSegmentMeta), func(key, value []byte) bool {
		var meta SegmentMeta
		if err := json.Unmarshal(value, &meta); err != nil {
			decodeErr = fmt.Errorf("failed to unmarshal segment meta %x: %w", key, err)
			return false
		}
		metas = append(metas, meta)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to iterate segment meta: %w", err)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	return metas, nil
}

func (s *GenericMetaStore) SetSnapshotMeta(meta SnapshotMeta) error {
	value, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot meta: %w", err)
	}
	if err := s.provider.Put([]byte(KeySnapshotMeta), value); err != nil {
		return fmt.Errorf("failed to store snapshot meta: %w", err)
	}
	return nil
}

func (s *GenericMetaStore) GetSnapshotMeta() (SnapshotMeta, bool, error) {
	value, err := s.provider.Get([]byte(KeySnapshotMeta))
	if err != nil {
		return SnapshotMeta{}, false, fmt.Errorf("failed to get snapshot meta: %w", err)
	}
	if len(value) == 0 {
		return SnapshotMeta{}, false, nil
	}
	var meta SnapshotMeta
	if err := json.Unmarshal(value, &meta); err != nil {
		return SnapshotMeta{}, false, fmt.Errorf("failed to unmarshal snapshot meta: %w", err)
	}
	return meta, true, nil
}

func (s *GenericMetaStore) MustClose() {
	if err := s.provider.Close(); err != nil {
		logx.Error("META_STORE", "Failed to close db provider:", err.Error())
	}
}
