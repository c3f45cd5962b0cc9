package events

import "accountsdb/types"

// AccountUpdateEvent is emitted once per (address, slot, record) when a
// slot is flushed into storage. Delivery is best effort; subscribers that
// fall behind lose events rather than stalling the flush path.
type AccountUpdateEvent struct {
	Address      types.Pubkey
	Slot         uint64
	WriteVersion uint64
	Record       *types.AccountRecord
}
