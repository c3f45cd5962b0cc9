package accountsdb

import (
	"fmt"

	"accountsdb/config"
	"accountsdb/db"
	"accountsdb/segment"
	"accountsdb/snapshot"
	"accountsdb/store"
	"accountsdb/types"
)

// WriteSnapshot serializes every account visible at the given rooted slot.
// The slot is pinned against cleaning for the duration of the scan, so the
// snapshot is consistent with that single slot rather than a moving target.
func (d *DB) WriteSnapshot(path string, slot uint64) error {
	if d.closed.Load() {
		return ErrClosed
	}
	if !d.tracker.isRootedAncestor(slot) {
		return fmt.Errorf("snapshot slot %d: %w", slot, ErrSlotNotRooted)
	}

	_, err := snapshot.Write(path, slot, func(emit func(sr *segment.StoredRecord) error) error {
		var emitErr error
		scanErr := d.Scan(slot, func(addr types.Pubkey, record *types.AccountRecord) bool {
			emitErr = emit(&segment.StoredRecord{Slot: slot, Record: *record})
			return emitErr == nil
		})
		if scanErr != nil {
			return scanErr
		}
		return emitErr
	})
	if err != nil {
		return err
	}

	if err := d.meta.SetSnapshotMeta(store.SnapshotMeta{Slot: slot, Path: path}); err != nil {
		return err
	}
	return nil
}

// LoadSnapshot builds a fresh database from a snapshot blob, with
// bookkeeping in LevelDB under the configured meta dir. The blob's rooted
// slot becomes the new database's root.
func LoadSnapshot(path string, cfg config.DatabaseConfig) (*DB, error) {
	provider, err := db.NewLevelDBProvider(cfg.MetaDir)
	if err != nil {
		return nil, fmt.Errorf("open meta store: %w", err)
	}
	d, err := LoadSnapshotWithProvider(path, cfg, provider)
	if err != nil {
		provider.Close()
		return nil, err
	}
	return d, nil
}

// LoadSnapshotWithProvider is LoadSnapshot over an explicit key-value
// provider. Fails fast on a format mismatch; no partial state is loaded.
func LoadSnapshotWithProvider(path string, cfg config.DatabaseConfig, provider db.DatabaseProvider) (*DB, error) {
	hdr, err := snapshot.ReadHeader(path)
	if err != nil {
		return nil, err
	}

	d, err := OpenWithProvider(cfg, provider)
	if err != nil {
		return nil, err
	}
	if err := d.restoreFromSnapshot(path, hdr.Slot); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) restoreFromSnapshot(path string, slot uint64) error {
	if err := d.OpenSlot(slot, slot); err != nil {
		return fmt.Errorf("restore snapshot: %w", err)
	}
	_, err := snapshot.Read(path, func(sr *segment.StoredRecord) error {
		return d.Put(sr.Record.Address, &sr.Record, slot)
	})
	if err != nil {
		return err
	}
	if err := d.Flush(slot); err != nil {
		return fmt.Errorf("restore snapshot: %w", err)
	}
	if err := d.SetRoot(slot); err != nil {
		return fmt.Errorf("restore snapshot: %w", err)
	}
	return nil
}
