// Package accountsdb is the account-state storage engine of the validator:
// a versioned mapping from account address to account content across slots.
// Writers stage versions into the slot cache, flush moves them into
// append-only storage segments and the version index, rooting finalizes
// slots, and a background cleaner reclaims superseded versions.
//
// A *DB is an explicit handle passed to every collaborator (Bank, RPC,
// snapshotting); there is no process-wide instance.
package accountsdb

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"accountsdb/cache"
	"accountsdb/cleaner"
	"accountsdb/config"
	"accountsdb/db"
	"accountsdb/events"
	"accountsdb/index"
	"accountsdb/logx"
	"accountsdb/monitoring"
	"accountsdb/segment"
	"accountsdb/store"
	"accountsdb/types"
)

type DB struct {
	cfg config.DatabaseConfig

	ix      *index.Index
	segs    *segment.Manager
	staged  *cache.Cache
	meta    store.MetaStore
	tracker *slotTracker
	pins    *pinRegistry
	bus     *events.EventBus
	bg      *cleaner.Cleaner

	// writeVersion is the sole authority for version assignment, so two
	// writers can never claim the same (address, slot, write version).
	writeVersion atomic.Uint64

	// flushMu serializes flushes; each flush is the single writer of its
	// segment.
	flushMu sync.Mutex

	dirtyMu     sync.Mutex
	dirtyAddrs  map[types.Pubkey]struct{}
	dirtyPruned map[uint64]struct{}
	fullPass    bool

	cancel context.CancelFunc
	done   chan struct{}
	closed atomic.Bool
}

// Open opens (or creates) a database rooted at the configured directories,
// with bookkeeping in LevelDB.
func Open(cfg config.DatabaseConfig) (*DB, error) {
	provider, err := db.NewLevelDBProvider(cfg.MetaDir)
	if err != nil {
		return nil, fmt.Errorf("open meta store: %w", err)
	}
	handle, err := OpenWithProvider(cfg, provider)
	if err != nil {
		provider.Close()
		return nil, err
	}
	return handle, nil
}

// OpenWithProvider opens a database over an explicit key-value provider.
// Tests use the in-memory provider.
func OpenWithProvider(cfg config.DatabaseConfig, provider db.DatabaseProvider) (*DB, error) {
	meta, err := store.NewGenericMetaStore(provider)
	if err != nil {
		return nil, err
	}
	segs, err := segment.NewManager(cfg.DataDir, cfg.ReaderHandleCacheSize)
	if err != nil {
		return nil, err
	}

	d := &DB{
		cfg:         cfg,
		ix:          index.New(cfg.IndexShards),
		segs:        segs,
		staged:      cache.New(),
		meta:        meta,
		tracker:     newSlotTracker(),
		bus:         events.NewEventBus(cfg.EventBufferSize),
		dirtyAddrs:  make(map[types.Pubkey]struct{}),
		dirtyPruned: make(map[uint64]struct{}),
	}
	d.pins = newPinRegistry(cfg.PinTTL(), func() {
		d.scheduleFullPass()
		if d.bg != nil {
			d.bg.Wake()
		}
	})

	if err := d.loadExisting(); err != nil {
		segs.Close()
		return nil, err
	}

	d.bg = cleaner.New(d.ix, d.segs, d.meta, d, d)

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})
	if cfg.DisableAutoClean {
		close(d.done)
	} else {
		go func() {
			defer close(d.done)
			d.bg.Run(ctx, d.cfg.CleanInterval())
		}()
	}

	logx.Info("ACCOUNTSDB", fmt.Sprintf("Database opened | data_dir=%s | segments=%d | addresses=%d", cfg.DataDir, len(segs.All()), d.ix.Len()))
	return d, nil
}

// loadExisting rebuilds the version index from the sealed segments listed
// in the manifest. Dead-record state is re-derived by scheduling a full
// cleaning pass.
func (d *DB) loadExisting() error {
	if rooted, ok, err := d.meta.GetRootedSlot(); err != nil {
		return err
	} else if ok {
		d.tracker.setRootBase(rooted)
	}

	metas, err := d.meta.ListSegmentMeta()
	if err != nil {
		return err
	}

	var maxWV uint64
	root, haveRoot := d.tracker.rootedSlot()
	for _, m := range metas {
		if !m.Sealed {
			// A manifest entry is only written after sealing; an unsealed
			// entry is a leftover from a crashed flush.
			logx.Warn("ACCOUNTSDB", "Dropping unsealed segment from manifest: ", m.ID)
			d.meta.DeleteSegmentMeta(m.ID)
			continue
		}
		seg, err := d.segs.LoadSealed(m.ID, m.Slot, m.FileName)
		if err != nil {
			logx.Warn("ACCOUNTSDB", "Dropping unreadable segment from manifest: ", err.Error())
			d.meta.DeleteSegmentMeta(m.ID)
			continue
		}

		var addrs []types.Pubkey
		err = d.segs.ReadAll(seg, func(loc types.Location, sr *segment.StoredRecord) error {
			d.ix.Insert(sr.Record.Address, index.Entry{
				Slot:         sr.Slot,
				WriteVersion: sr.WriteVersion,
				Loc:          loc,
			})
			if sr.WriteVersion > maxWV {
				maxWV = sr.WriteVersion
			}
			addrs = append(addrs, sr.Record.Address)
			return nil
		})
		if err != nil {
			return fmt.Errorf("rebuild index from segment %d: %w", m.ID, err)
		}
		// Slots at or below the root are canonical history and stay
		// untracked; anything above came from an interrupted session and
		// waits for a fresh rooting signal.
		if !haveRoot || m.Slot > root {
			d.tracker.markFlushed(m.Slot, addrs)
		}
	}
	d.writeVersion.Store(maxWV)

	// A crash between sealing a segment and writing its manifest entry
	// leaves a file nothing points at; sweep those so a future flush can
	// reuse the id.
	kept := make(map[uint64]struct{})
	for _, seg := range d.segs.All() {
		kept[seg.ID()] = struct{}{}
	}
	d.segs.SweepOrphans(kept)

	d.scheduleFullPass()
	return nil
}

// OpenSlot declares a new active slot with its fork parent. The Bank calls
// this once per slot before applying transactions.
func (d *DB) OpenSlot(slot, parent uint64) error {
	if d.closed.Load() {
		return ErrClosed
	}
	if err := d.tracker.open(slot, parent); err != nil {
		return err
	}
	d.staged.Open(slot, parent)
	monitoring.SetOpenSlots(len(d.staged.OpenSlots()))
	return nil
}

// Put stages a new version of addr under an active slot. The write version
// is assigned here; retries by the same writer simply restage.
func (d *DB) Put(addr types.Pubkey, record *types.AccountRecord, slot uint64) error {
	if d.closed.Load() {
		return ErrClosed
	}
	status, known := d.tracker.status(slot)
	if !known {
		return ErrSlotNotOpen
	}
	if status == types.SlotPruned {
		return ErrSlotPruned
	}
	if status != types.SlotActive {
		return fmt.Errorf("put into slot %d: slot is %s", slot, status)
	}
	sc, ok := d.staged.Get(slot)
	if !ok {
		return ErrSlotNotOpen
	}
	// The database keys by addr; the stored record must carry the same key
	// so the index can be rebuilt from segments alone after a restart.
	rec := record.Clone()
	rec.Address = addr
	sc.Put(addr, rec, d.writeVersion.Add(1))
	return nil
}

// Get resolves the newest version of addr visible at slot: the slot's own
// staging cache and its unflushed ancestors first, then the version index.
func (d *DB) Get(addr types.Pubkey, slot uint64) (*types.AccountRecord, error) {
	if d.closed.Load() {
		return nil, ErrClosed
	}

	cur := slot
	for {
		if sc, ok := d.staged.Get(cur); ok {
			if staged, ok := sc.Get(addr); ok {
				return staged.Record.Clone(), nil
			}
		}
		parent, ok := d.tracker.parent(cur)
		if !ok || parent >= cur {
			break
		}
		cur = parent
	}

	// The cleaner removes index entries before it reclaims their segment,
	// so a read that fails because the segment went away means the entry
	// was retired between the lookup and the read. Resolving again against
	// the updated index settles the read; only the same entry failing
	// twice is a real storage error.
	var last index.Entry
	var haveLast bool
	for {
		entry, ok := d.ix.Resolve(addr, slot, func(s uint64) bool {
			return d.tracker.isVisible(s, slot)
		})
		if !ok {
			return nil, ErrNotFound
		}
		sr, err := d.segs.ReadRecord(entry.Loc)
		if err == nil {
			return &sr.Record, nil
		}
		if haveLast && entry == last {
			return nil, fmt.Errorf("read account %s at slot %d: %w", addr, slot, err)
		}
		last, haveLast = entry, true
	}
}

// Flush moves every staged version of a slot into a fresh storage segment
// and publishes the new locations in the version index. The index entry
// for each address is inserted only after the segment is sealed and synced,
// so a reader never observes a location that is not durable. Flushing an
// already flushed slot is a no-op, and a failed flush leaves no index
// change behind, which together make Flush idempotent and retryable.
func (d *DB) Flush(slot uint64) error {
	if d.closed.Load() {
		return ErrClosed
	}
	d.flushMu.Lock()
	defer d.flushMu.Unlock()
	started := time.Now()

	status, known := d.tracker.status(slot)
	if known && (status == types.SlotFlushed || status == types.SlotRooted) {
		return nil
	}
	if known && status == types.SlotPruned {
		logx.Warn("ACCOUNTSDB", "Dropping flush of pruned slot ", slot)
		d.staged.Evict(slot)
		return nil
	}
	sc, ok := d.staged.Get(slot)
	if !ok {
		return ErrSlotNotOpen
	}

	entries := sc.Snapshot()
	if len(entries) == 0 {
		d.tracker.markFlushed(slot, nil)
		d.staged.Evict(slot)
		return nil
	}

	seg, err := d.segs.Create(slot)
	if err != nil {
		return fmt.Errorf("flush slot %d: %w", slot, err)
	}

	locs := make([]types.Location, len(entries))
	for i, e := range entries {
		loc, err := seg.Append(&segment.StoredRecord{
			Slot:         slot,
			WriteVersion: e.Staged.WriteVersion,
			Record:       *e.Staged.Record,
		})
		if err != nil {
			d.segs.Discard(seg)
			return fmt.Errorf("flush slot %d: %w", slot, err)
		}
		locs[i] = loc
	}
	if err := seg.Seal(); err != nil {
		d.segs.Discard(seg)
		return fmt.Errorf("flush slot %d: %w", slot, err)
	}
	if err := d.meta.PutSegmentMeta(store.SegmentMeta{
		ID:       seg.ID(),
		Slot:     slot,
		Records:  seg.Count(),
		Sealed:   true,
		FileName: filepath.Base(seg.Path()),
	}); err != nil {
		d.segs.Discard(seg)
		return fmt.Errorf("flush slot %d: %w", slot, err)
	}

	addrs := make([]types.Pubkey, len(entries))
	for i, e := range entries {
		d.ix.Insert(e.Address, index.Entry{
			Slot:         slot,
			WriteVersion: e.Staged.WriteVersion,
			Loc:          locs[i],
		})
		addrs[i] = e.Address
	}

	d.tracker.markFlushed(slot, addrs)
	d.staged.Evict(slot)

	for _, e := range entries {
		d.bus.Publish(events.AccountUpdateEvent{
			Address:      e.Address,
			Slot:         slot,
			WriteVersion: e.Staged.WriteVersion,
			Record:       e.Staged.Record,
		})
	}

	monitoring.AddFlushedRecords(len(entries))
	monitoring.SetOpenSlots(len(d.staged.OpenSlots()))
	monitoring.SetLiveSegments(len(d.segs.All()))
	monitoring.RecordFlushDuration(time.Since(started))
	logx.Debug("ACCOUNTSDB", fmt.Sprintf("Flushed slot %d | records=%d | segment=%d", slot, len(entries), seg.ID()))
	return nil
}

// SetRoot marks slot and its ancestors as final. Competing branches are
// pruned, the cleaner is woken, and a repeated or out-of-order signal for
// an already rooted slot is a no-op.
func (d *DB) SetRoot(slot uint64) error {
	if d.closed.Load() {
		return ErrClosed
	}

	pruned, dirty, err := d.tracker.setRoot(slot)
	if err != nil {
		return err
	}
	root, haveRoot := d.tracker.rootedSlot()
	if !haveRoot || root != slot {
		// Tracker ignored the signal; nothing changed.
		return nil
	}

	for s := range pruned {
		d.staged.Evict(s)
	}
	if err := d.meta.SetRootedSlot(slot); err != nil {
		return fmt.Errorf("persist root %d: %w", slot, err)
	}

	d.markDirty(dirty, pruned)
	d.bg.Wake()

	monitoring.SetRootedSlot(slot)
	monitoring.SetOpenSlots(len(d.staged.OpenSlots()))
	logx.Info("ACCOUNTSDB", fmt.Sprintf("Rooted slot %d | pruned=%d", slot, len(pruned)))
	return nil
}

// Scan streams every (address, record) pair visible as of slot, in address
// order, until fn returns false. The slot is pinned against cleaning for
// the duration of the scan. Scans are read-only and restart from the
// beginning only.
func (d *DB) Scan(slot uint64, fn func(addr types.Pubkey, record *types.AccountRecord) bool) error {
	if d.closed.Load() {
		return ErrClosed
	}
	pinID := d.pins.pinSlot(slot)
	defer d.pins.release(pinID)

	// Staged versions on the slot's unflushed ancestry shadow the index;
	// the nearest slot wins.
	overlay := make(map[types.Pubkey]*types.AccountRecord)
	cur := slot
	for {
		if sc, ok := d.staged.Get(cur); ok {
			for _, e := range sc.Snapshot() {
				if _, seen := overlay[e.Address]; !seen {
					overlay[e.Address] = e.Staged.Record
				}
			}
		}
		parent, ok := d.tracker.parent(cur)
		if !ok || parent >= cur {
			break
		}
		cur = parent
	}

	addrSet := make(map[types.Pubkey]struct{}, len(overlay))
	for addr := range overlay {
		addrSet[addr] = struct{}{}
	}
	for _, addr := range d.ix.Addresses() {
		addrSet[addr] = struct{}{}
	}
	addrs := make([]types.Pubkey, 0, len(addrSet))
	for addr := range addrSet {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool {
		a, b := addrs[i], addrs[j]
		for k := range a {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return false
	})

	for _, addr := range addrs {
		if record, ok := overlay[addr]; ok {
			if !fn(addr, record.Clone()) {
				return nil
			}
			continue
		}
		entry, ok := d.ix.Resolve(addr, slot, func(s uint64) bool {
			return d.tracker.isVisible(s, slot)
		})
		if !ok {
			continue
		}
		sr, err := d.segs.ReadRecord(entry.Loc)
		if err != nil {
			return fmt.Errorf("scan at slot %d: %w", slot, err)
		}
		if !fn(addr, &sr.Record) {
			return nil
		}
	}
	return nil
}

// Pin registers a reader-held lower bound against cleaning, for long read
// operations spanning several calls. Release it when done.
func (d *DB) Pin(slot uint64) PinID {
	return d.pins.pinSlot(slot)
}

// Release drops a reader pin.
func (d *DB) Release(id PinID) {
	d.pins.release(id)
}

// PinnedSlots reports the slots of all live reader pins. Called by the
// cleaner.
func (d *DB) PinnedSlots() []uint64 {
	return d.pins.pinnedSlots()
}

// EventBus exposes the account-update egress for external subscribers.
func (d *DB) EventBus() *events.EventBus {
	return d.bus
}

// RootedSlot returns the most recently rooted slot.
func (d *DB) RootedSlot() (uint64, bool) {
	return d.tracker.rootedSlot()
}

// IsRootedAncestor reports whether slot is canonical rooted history.
func (d *DB) IsRootedAncestor(slot uint64) bool {
	return d.tracker.isRootedAncestor(slot)
}

// TakeDirty drains the accumulated cleaning work. Called by the cleaner.
func (d *DB) TakeDirty() ([]types.Pubkey, map[uint64]struct{}, bool) {
	d.dirtyMu.Lock()
	defer d.dirtyMu.Unlock()

	addrs := make([]types.Pubkey, 0, len(d.dirtyAddrs))
	for addr := range d.dirtyAddrs {
		addrs = append(addrs, addr)
	}
	pruned := d.dirtyPruned
	full := d.fullPass

	d.dirtyAddrs = make(map[types.Pubkey]struct{})
	d.dirtyPruned = make(map[uint64]struct{})
	d.fullPass = false
	return addrs, pruned, full
}

// SlotReclaimed is called by the cleaner once a slot's storage is gone.
func (d *DB) SlotReclaimed(slot uint64) {
	d.tracker.forget(slot)
}

// CleanPass runs one synchronous cleaning pass. Intended for tests and
// shutdown drains; normal operation relies on the background runner.
func (d *DB) CleanPass() {
	d.bg.RunPass()
}

func (d *DB) markDirty(addrs []types.Pubkey, pruned map[uint64]struct{}) {
	d.dirtyMu.Lock()
	defer d.dirtyMu.Unlock()

	for _, addr := range addrs {
		d.dirtyAddrs[addr] = struct{}{}
	}
	for s := range pruned {
		d.dirtyPruned[s] = struct{}{}
	}
}

func (d *DB) scheduleFullPass() {
	d.dirtyMu.Lock()
	d.fullPass = true
	d.dirtyMu.Unlock()
}

// Close stops the cleaner and releases every file handle. The handle must
// not be used afterwards.
func (d *DB) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	d.cancel()
	<-d.done
	d.segs.Close()
	d.meta.MustClose()
	logx.Info("ACCOUNTSDB", "Database closed")
	return nil
}
