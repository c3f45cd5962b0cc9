// Package cleaner implements the background pass that retires superseded
// account versions and reclaims fully dead storage segments. It is
// decoupled from the read/write path: rooting wakes it, failures are
// isolated per segment, and anything it cannot free yet is retried on the
// next pass.
package cleaner

import (
	"context"
	"time"

	"accountsdb/index"
	"accountsdb/logx"
	"accountsdb/monitoring"
	"accountsdb/segment"
	"accountsdb/store"
	"accountsdb/types"
)

// StateView is the slice of orchestrator state the cleaner needs: the
// current root, canonical-chain membership, and the work accumulated since
// the last pass.
type StateView interface {
	RootedSlot() (uint64, bool)
	IsRootedAncestor(slot uint64) bool
	// TakeDirty drains the addresses touched by newly rooted or pruned
	// slots, the pruned slot set, and whether a full index sweep is due
	// (set after a restart, when dead state must be re-derived).
	TakeDirty() (addrs []types.Pubkey, pruned map[uint64]struct{}, fullPass bool)
	// SlotReclaimed tells the orchestrator a slot's storage is fully gone.
	SlotReclaimed(slot uint64)
}

// PinView exposes the live reader pins.
type PinView interface {
	PinnedSlots() []uint64
}

type Cleaner struct {
	ix       *index.Index
	segments *segment.Manager
	meta     store.MetaStore
	state    StateView
	pins     PinView

	wake chan struct{}
}

func New(ix *index.Index, segments *segment.Manager, meta store.MetaStore, state StateView, pins PinView) *Cleaner {
	return &Cleaner{
		ix:       ix,
		segments: segments,
		meta:     meta,
		state:    state,
		pins:     pins,
		wake:     make(chan struct{}, 1),
	}
}

// Wake requests a pass soon. Safe to call from any goroutine; coalesces.
func (c *Cleaner) Wake() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Run executes passes until the context is cancelled, woken by rooting or
// by the periodic interval.
func (c *Cleaner) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.wake:
		case <-ticker.C:
		}
		c.RunPass()
	}
}

// RunPass performs one cleaning pass: prune lost branches, retire
// superseded rooted versions, then reclaim fully dead segments not covered
// by a live pin.
func (c *Cleaner) RunPass() {
	started := time.Now()
	defer func() {
		monitoring.RecordCleanPassDuration(time.Since(started))
	}()

	root, haveRoot := c.state.RootedSlot()
	if !haveRoot {
		return
	}

	addrs, pruned, fullPass := c.state.TakeDirty()
	if fullPass {
		addrs = c.ix.Addresses()
	}

	dead := 0

	// Entries on pruned branches are dead unconditionally.
	if len(pruned) > 0 {
		c.ix.PruneSlots(pruned, func(addr types.Pubkey, e index.Entry) {
			c.markDead(e.Loc)
			dead++
		})
	}

	pinnedSlots := c.pins.PinnedSlots()

	seen := make(map[types.Pubkey]struct{}, len(addrs))
	for _, addr := range addrs {
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		dead += c.cleanAddress(addr, root, pinnedSlots)
	}

	if dead > 0 {
		monitoring.AddDeadRecords(dead)
		logx.Debug("CLEANER", "Marked dead records: ", dead)
	}

	c.reclaimSegments(pinnedSlots)
	monitoring.SetLiveSegments(len(c.segments.All()))
}

// cleanAddress retires every rooted version of addr strictly superseded by
// a newer rooted version, keeping the version visible at the root and the
// version visible at every live pinned slot.
func (c *Cleaner) cleanAddress(addr types.Pubkey, root uint64, pinnedSlots []uint64) int {
	entries := c.ix.Entries(addr)
	if len(entries) == 0 {
		return 0
	}

	keep := make(map[[2]uint64]struct{})
	markKeep := func(maxSlot uint64) {
		for i := len(entries) - 1; i >= 0; i-- {
			e := entries[i]
			if e.Slot > maxSlot || !c.state.IsRootedAncestor(e.Slot) {
				continue
			}
			keep[[2]uint64{e.Slot, e.WriteVersion}] = struct{}{}
			return
		}
	}

	markKeep(root)
	for _, pinned := range pinnedSlots {
		markKeep(pinned)
	}

	var victims []index.Entry
	for _, e := range entries {
		if e.Slot > root || !c.state.IsRootedAncestor(e.Slot) {
			continue // unrooted fork entries are not the cleaner's to judge
		}
		if _, kept := keep[[2]uint64{e.Slot, e.WriteVersion}]; kept {
			continue
		}
		victims = append(victims, e)
	}
	if len(victims) == 0 {
		return 0
	}

	removed := c.ix.Remove(addr, victims)
	for _, e := range removed {
		c.markDead(e.Loc)
	}
	return len(removed)
}

func (c *Cleaner) markDead(loc types.Location) {
	seg, ok := c.segments.Get(loc.Segment)
	if !ok {
		return
	}
	seg.MarkDead(loc.Index)
}

// reclaimSegments frees every fully dead segment whose slot is not covered
// by a live pin. A failure to free one segment is logged and retried next
// pass without blocking the others.
func (c *Cleaner) reclaimSegments(pinnedSlots []uint64) {
	pinnedSet := make(map[uint64]struct{}, len(pinnedSlots))
	for _, s := range pinnedSlots {
		pinnedSet[s] = struct{}{}
	}

	var reclaimed []uint64
	for _, seg := range c.segments.All() {
		if !seg.FullyDead() {
			continue
		}
		if _, pinned := pinnedSet[seg.Slot()]; pinned {
			// ReclamationDeferred: still pinned, retry next pass.
			monitoring.IncreaseReclamationDeferred()
			logx.Debug("CLEANER", "Deferring reclamation of pinned segment ", seg.ID())
			continue
		}
		if err := c.segments.Reclaim(seg); err != nil {
			monitoring.IncreaseReclamationDeferred()
			logx.Warn("CLEANER", "Failed to reclaim segment, will retry: ", err.Error())
			continue
		}
		reclaimed = append(reclaimed, seg.ID())
		c.state.SlotReclaimed(seg.Slot())
		monitoring.IncreaseReclaimedSegments()
		logx.Info("CLEANER", "Reclaimed segment ", seg.ID(), " for slot ", seg.Slot())
	}
	if len(reclaimed) == 0 {
		return
	}
	// One batch per pass; a failure here leaves stale manifest entries that
	// the next startup drops as unreadable.
	if err := c.meta.DeleteSegmentMetaBatch(reclaimed); err != nil {
		logx.Warn("CLEANER", "Failed to drop segment manifest entries: ", err.Error())
	}
}
