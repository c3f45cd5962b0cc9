// Package cache holds account versions written during unfinalized slots,
// before they are flushed into storage segments. Several slots can be open
// at once while forks are being processed; each gets its own staging map.
package cache

import (
	"sort"
	"sync"

	"accountsdb/types"
)

// StagedAccount is the latest version written for one address within one
// open slot. The write version is assigned by the orchestrator; a retry
// carrying the same write version simply replaces the record.
type StagedAccount struct {
	Record       *types.AccountRecord
	WriteVersion uint64
}

// SlotCache stages writes for a single open slot.
type SlotCache struct {
	slot   uint64
	parent uint64

	mu      sync.RWMutex
	entries map[types.Pubkey]StagedAccount
}

func newSlotCache(slot, parent uint64) *SlotCache {
	return &SlotCache{
		slot:    slot,
		parent:  parent,
		entries: make(map[types.Pubkey]StagedAccount),
	}
}

func (sc *SlotCache) Slot() uint64   { return sc.slot }
func (sc *SlotCache) Parent() uint64 { return sc.parent }

// Put stages a record. The Bank serializes writes to one address within a
// slot, so a later call always carries an equal or higher write version.
func (sc *SlotCache) Put(addr types.Pubkey, record *types.AccountRecord, writeVersion uint64) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if existing, ok := sc.entries[addr]; ok && existing.WriteVersion > writeVersion {
		return
	}
	sc.entries[addr] = StagedAccount{Record: record, WriteVersion: writeVersion}
}

// Get returns the staged version for addr, if any.
func (sc *SlotCache) Get(addr types.Pubkey) (StagedAccount, bool) {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	staged, ok := sc.entries[addr]
	return staged, ok
}

// Len counts staged addresses.
func (sc *SlotCache) Len() int {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return len(sc.entries)
}

// FlushEntry pairs an address with its staged version for the flush path.
type FlushEntry struct {
	Address types.Pubkey
	Staged  StagedAccount
}

// Snapshot returns the staged entries in deterministic address order. The
// cache itself is untouched; the orchestrator evicts the slot only after
// the flush has fully succeeded, which keeps flush retryable.
func (sc *SlotCache) Snapshot() []FlushEntry {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	out := make([]FlushEntry, 0, len(sc.entries))
	for addr, staged := range sc.entries {
		out = append(out, FlushEntry{Address: addr, Staged: staged})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Address, out[j].Address
		for k := range a {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return false
	})
	return out
}

// Cache tracks the set of currently open slot caches.
type Cache struct {
	mu    sync.RWMutex
	slots map[uint64]*SlotCache
}

func New() *Cache {
	return &Cache{slots: make(map[uint64]*SlotCache)}
}

// Open creates the staging map for a slot. Reopening an already-open slot
// returns the existing cache.
func (c *Cache) Open(slot, parent uint64) *SlotCache {
	c.mu.Lock()
	defer c.mu.Unlock()

	if sc, ok := c.slots[slot]; ok {
		return sc
	}
	sc := newSlotCache(slot, parent)
	c.slots[slot] = sc
	return sc
}

// Get returns the cache for an open slot.
func (c *Cache) Get(slot uint64) (*SlotCache, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	sc, ok := c.slots[slot]
	return sc, ok
}

// Evict drops a slot's staging map after it has been flushed or pruned.
func (c *Cache) Evict(slot uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.slots, slot)
}

// OpenSlots lists the slots that still have staging maps.
func (c *Cache) OpenSlots() []uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]uint64, 0, len(c.slots))
	for slot := range c.slots {
		out = append(out, slot)
	}
	return out
}
