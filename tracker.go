package accountsdb

import (
	"fmt"
	"sync"

	"accountsdb/types"
)

type slotInfo struct {
	parent uint64
	status types.SlotStatus
	addrs  []types.Pubkey // addresses flushed under this slot
}

// slotTracker records every slot the database has seen: its parent, its
// lifecycle status, and which addresses were flushed under it. Slots below
// the last root that the tracker has forgotten are treated as rooted
// history (they came in through a snapshot or were cleaned away).
type slotTracker struct {
	mu       sync.RWMutex
	slots    map[uint64]*slotInfo
	lastRoot uint64
	haveRoot bool
}

func newSlotTracker() *slotTracker {
	return &slotTracker{slots: make(map[uint64]*slotInfo)}
}

func (t *slotTracker) open(slot, parent uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.haveRoot && slot <= t.lastRoot {
		return fmt.Errorf("cannot open slot %d at or below root %d", slot, t.lastRoot)
	}
	if info, ok := t.slots[slot]; ok {
		if info.status == types.SlotPruned {
			return ErrSlotPruned
		}
		return nil
	}
	t.slots[slot] = &slotInfo{parent: parent, status: types.SlotActive}
	return nil
}

func (t *slotTracker) status(slot uint64) (types.SlotStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if info, ok := t.slots[slot]; ok {
		return info.status, true
	}
	if t.haveRoot && slot <= t.lastRoot {
		return types.SlotRooted, true
	}
	return 0, false
}

func (t *slotTracker) parent(slot uint64) (uint64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	info, ok := t.slots[slot]
	if !ok {
		return 0, false
	}
	return info.parent, true
}

func (t *slotTracker) markFlushed(slot uint64, addrs []types.Pubkey) {
	t.mu.Lock()
	defer t.mu.Unlock()

	info, ok := t.slots[slot]
	if !ok {
		info = &slotInfo{parent: slot, status: types.SlotActive}
		t.slots[slot] = info
	}
	if info.status == types.SlotActive {
		info.status = types.SlotFlushed
	}
	info.addrs = addrs
}

func (t *slotTracker) rootedSlot() (uint64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastRoot, t.haveRoot
}

func (t *slotTracker) setRootBase(slot uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastRoot = slot
	t.haveRoot = true
}

// isRootedAncestor reports whether slot lies on the canonical rooted chain.
func (t *slotTracker) isRootedAncestor(slot uint64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.isRootedAncestorLocked(slot)
}

func (t *slotTracker) isRootedAncestorLocked(slot uint64) bool {
	if !t.haveRoot || slot > t.lastRoot {
		return false
	}
	info, ok := t.slots[slot]
	if !ok {
		// Forgotten history below the root is canonical by construction.
		return true
	}
	return info.status == types.SlotRooted
}

// isVisible reports whether a version written at slot s can be observed by
// a reader querying at slot from: s must be from itself, an ancestor on
// from's (possibly unrooted) fork, or canonical rooted history below the
// fork's junction with the root.
func (t *slotTracker) isVisible(s, from uint64) bool {
	if s > from {
		return false
	}
	if s == from {
		t.mu.RLock()
		defer t.mu.RUnlock()
		info, ok := t.slots[s]
		return !ok || info.status != types.SlotPruned
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	// Walk from's unrooted ancestry toward the canonical region.
	cur := from
	for {
		if cur == s {
			return true
		}
		info, ok := t.slots[cur]
		if !ok || info.status == types.SlotRooted {
			break
		}
		if t.haveRoot && cur <= t.lastRoot {
			break
		}
		if info.parent >= cur {
			break
		}
		cur = info.parent
	}
	if s > cur {
		return false
	}
	return t.isRootedAncestorLocked(s)
}

// setRoot marks slot and its ancestors rooted and prunes every competing
// slot at or below it. It returns the pruned slot set and the addresses
// touched by the newly rooted and pruned slots, for the cleaner.
func (t *slotTracker) setRoot(slot uint64) (pruned map[uint64]struct{}, dirty []types.Pubkey, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.haveRoot && slot <= t.lastRoot {
		// Repeated or out-of-order rooting signal; already final.
		return nil, nil, nil
	}
	rootInfo, ok := t.slots[slot]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %d", ErrUnknownSlot, slot)
	}
	if rootInfo.status == types.SlotPruned {
		return nil, nil, fmt.Errorf("%w: %d", ErrSlotPruned, slot)
	}

	// Root the chain from slot down to the previous root.
	onChain := make(map[uint64]struct{})
	cur := slot
	for {
		info, ok := t.slots[cur]
		if !ok {
			break
		}
		onChain[cur] = struct{}{}
		if info.status != types.SlotPruned {
			if info.status != types.SlotRooted {
				dirty = append(dirty, info.addrs...)
			}
			info.status = types.SlotRooted
		}
		if t.haveRoot && cur <= t.lastRoot {
			break
		}
		if info.parent >= cur {
			break
		}
		cur = info.parent
	}

	// Everything else at or below the new root lost the fork.
	pruned = make(map[uint64]struct{})
	for s, info := range t.slots {
		if s > slot {
			continue
		}
		if _, ok := onChain[s]; ok {
			continue
		}
		if info.status == types.SlotRooted {
			continue
		}
		if info.status != types.SlotPruned {
			dirty = append(dirty, info.addrs...)
		}
		info.status = types.SlotPruned
		pruned[s] = struct{}{}
	}

	t.lastRoot = slot
	t.haveRoot = true
	return pruned, dirty, nil
}

// forget drops tracking state for a slot whose storage is fully gone.
func (t *slotTracker) forget(slot uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	info, ok := t.slots[slot]
	if !ok {
		return
	}
	// Keep rooted chain links that unrooted forks may still walk through.
	if info.status == types.SlotRooted && t.haveRoot && slot == t.lastRoot {
		return
	}
	delete(t.slots, slot)
}
