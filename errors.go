package accountsdb

import "errors"

var (
	// ErrNotFound means the address has no version at or below the queried
	// slot. Callers treat it as a normal result, not a failure.
	ErrNotFound = errors.New("account not found")

	// ErrSlotNotOpen is returned by Put when the target slot was never
	// opened for writes.
	ErrSlotNotOpen = errors.New("slot is not open for writes")

	// ErrSlotPruned is returned when an operation targets a slot on a
	// branch discarded by rooting.
	ErrSlotPruned = errors.New("slot belongs to a pruned branch")

	// ErrSlotNotRooted is returned when a snapshot is requested for a slot
	// outside the canonical rooted history.
	ErrSlotNotRooted = errors.New("slot is not rooted")

	// ErrUnknownSlot is returned when SetRoot targets a slot the tracker
	// does not know about.
	ErrUnknownSlot = errors.New("unknown slot")

	// ErrClosed is returned once the database handle has been closed.
	ErrClosed = errors.New("database is closed")
)
