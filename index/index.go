// Package index implements the concurrent version index: a lock-sharded
// mapping from account address to the ordered list of every version written
// for that address. Contention is bounded by the shard count, not by the
// number of addresses.
package index

import (
	"sort"
	"sync"

	"github.com/spaolacci/murmur3"

	"accountsdb/types"
)

// Entry is one version of one address: where it lives and under which
// (slot, write version) coordinates it was written.
type Entry struct {
	Slot         uint64
	WriteVersion uint64
	Loc          types.Location
}

type shard struct {
	mu       sync.RWMutex
	versions map[types.Pubkey][]Entry // sorted by (Slot, WriteVersion) ascending
}

// Index is the sharded version index.
type Index struct {
	shards []*shard
	mask   uint32
}

// New creates an index with the shard count rounded up to a power of two.
func New(shardCount int) *Index {
	n := 1
	for n < shardCount {
		n <<= 1
	}
	shards := make([]*shard, n)
	for i := range shards {
		shards[i] = &shard{versions: make(map[types.Pubkey][]Entry)}
	}
	return &Index{shards: shards, mask: uint32(n - 1)}
}

func (ix *Index) shardFor(addr types.Pubkey) *shard {
	return ix.shards[murmur3.Sum32(addr[:])&ix.mask]
}

func less(a, b Entry) bool {
	if a.Slot != b.Slot {
		return a.Slot < b.Slot
	}
	return a.WriteVersion < b.WriteVersion
}

// Insert appends a version for addr, keeping the per-address list sorted by
// (slot, write version). Re-inserting the same coordinates replaces the
// location, which makes flush retries idempotent.
func (ix *Index) Insert(addr types.Pubkey, entry Entry) {
	sh := ix.shardFor(addr)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	list := sh.versions[addr]
	pos := sort.Search(len(list), func(i int) bool { return !less(list[i], entry) })
	if pos < len(list) && list[pos].Slot == entry.Slot && list[pos].WriteVersion == entry.WriteVersion {
		list[pos] = entry
		return
	}
	list = append(list, Entry{})
	copy(list[pos+1:], list[pos:])
	list[pos] = entry
	sh.versions[addr] = list
}

// Resolve returns the highest (slot, write version) entry at or below
// maxSlot whose slot the caller considers visible. The visible predicate
// carries fork ancestry; pass nil to accept every slot.
func (ix *Index) Resolve(addr types.Pubkey, maxSlot uint64, visible func(slot uint64) bool) (Entry, bool) {
	sh := ix.shardFor(addr)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	list := sh.versions[addr]
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Slot > maxSlot {
			continue
		}
		if visible == nil || visible(list[i].Slot) {
			return list[i], true
		}
	}
	return Entry{}, false
}

// Entries returns a copy of the full version list for addr.
func (ix *Index) Entries(addr types.Pubkey) []Entry {
	sh := ix.shardFor(addr)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	list := sh.versions[addr]
	if len(list) == 0 {
		return nil
	}
	out := make([]Entry, len(list))
	copy(out, list)
	return out
}

// Remove deletes the exact (slot, write version) pairs from addr's list and
// returns the removed entries so the caller can retire their storage. An
// address left with zero entries is dropped entirely.
func (ix *Index) Remove(addr types.Pubkey, victims []Entry) []Entry {
	sh := ix.shardFor(addr)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	list := sh.versions[addr]
	if len(list) == 0 {
		return nil
	}

	victimSet := make(map[[2]uint64]struct{}, len(victims))
	for _, v := range victims {
		victimSet[[2]uint64{v.Slot, v.WriteVersion}] = struct{}{}
	}

	var removed []Entry
	kept := list[:0]
	for _, e := range list {
		if _, dead := victimSet[[2]uint64{e.Slot, e.WriteVersion}]; dead {
			removed = append(removed, e)
		} else {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		delete(sh.versions, addr)
	} else {
		sh.versions[addr] = kept
	}
	return removed
}

// PruneSlots removes every entry whose slot is in the given set, across all
// addresses, invoking fn for each removed entry. Used when a branch loses
// to a competing rooted slot.
func (ix *Index) PruneSlots(slots map[uint64]struct{}, fn func(addr types.Pubkey, e Entry)) {
	if len(slots) == 0 {
		return
	}
	for _, sh := range ix.shards {
		sh.mu.Lock()
		for addr, list := range sh.versions {
			kept := list[:0]
			for _, e := range list {
				if _, pruned := slots[e.Slot]; pruned {
					fn(addr, e)
				} else {
					kept = append(kept, e)
				}
			}
			if len(kept) == 0 {
				delete(sh.versions, addr)
			} else {
				sh.versions[addr] = kept
			}
		}
		sh.mu.Unlock()
	}
}

// Addresses snapshots every indexed address. Shards are visited one at a
// time so a long scan never holds more than one shard lock.
func (ix *Index) Addresses() []types.Pubkey {
	var out []types.Pubkey
	for _, sh := range ix.shards {
		sh.mu.RLock()
		for addr := range sh.versions {
			out = append(out, addr)
		}
		sh.mu.RUnlock()
	}
	return out
}

// Len counts indexed addresses.
func (ix *Index) Len() int {
	n := 0
	for _, sh := range ix.shards {
		sh.mu.RLock()
		n += len(sh.versions)
		sh.mu.RUnlock()
	}
	return n
}
