package types

// SlotStatus tracks the lifecycle of a slot inside the database.
type SlotStatus int

const (
	// SlotActive is a slot currently accepting writes into the slot cache.
	SlotActive SlotStatus = iota
	// SlotFlushed has been written to a storage segment but is not final.
	SlotFlushed
	// SlotRooted is confirmed final; its state is permanent.
	SlotRooted
	// SlotPruned belonged to a branch discarded when a competing slot rooted.
	SlotPruned
)

func (s SlotStatus) String() string {
	switch s {
	case SlotActive:
		return "active"
	case SlotFlushed:
		return "flushed"
	case SlotRooted:
		return "rooted"
	case SlotPruned:
		return "pruned"
	default:
		return "unknown"
	}
}

// Location addresses one record inside a storage segment.
type Location struct {
	Segment uint64 // segment id
	Offset  uint32 // byte offset of the record inside the segment file
	Index   uint32 // ordinal of the record inside the segment
}
