package accountsdb

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"accountsdb/logx"
)

// PinID identifies one reader-held pin.
type PinID string

type pin struct {
	slot    uint64
	expires time.Time
}

// pinRegistry tracks reader-held slot pins. A pinned slot is a lower bound
// the cleaner honors: it neither retires versions visible at that slot nor
// reclaims segments in its range. Pins expire after a TTL so a crashed
// reader cannot starve cleaning forever.
type pinRegistry struct {
	mu   sync.Mutex
	ttl  time.Duration
	pins map[PinID]pin
	now  func() time.Time

	// onDrop fires after a pin is released or expires, so the cleaner can
	// revisit entries the pin was protecting.
	onDrop func()
}

func newPinRegistry(ttl time.Duration, onDrop func()) *pinRegistry {
	return &pinRegistry{
		ttl:    ttl,
		pins:   make(map[PinID]pin),
		now:    time.Now,
		onDrop: onDrop,
	}
}

func (r *pinRegistry) pinSlot(slot uint64) PinID {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := PinID(uuid.Must(uuid.NewV7()).String())
	r.pins[id] = pin{slot: slot, expires: r.now().Add(r.ttl)}
	return id
}

func (r *pinRegistry) release(id PinID) {
	r.mu.Lock()
	_, existed := r.pins[id]
	delete(r.pins, id)
	r.mu.Unlock()

	if existed && r.onDrop != nil {
		r.onDrop()
	}
}

// pinnedSlots returns the slots of all live pins, dropping expired ones.
func (r *pinRegistry) pinnedSlots() []uint64 {
	r.mu.Lock()
	now := r.now()
	dropped := false
	var out []uint64
	for id, p := range r.pins {
		if now.After(p.expires) {
			logx.Warn("ACCOUNTSDB", "Dropping expired reader pin on slot ", p.slot)
			delete(r.pins, id)
			dropped = true
			continue
		}
		out = append(out, p.slot)
	}
	r.mu.Unlock()

	if dropped && r.onDrop != nil {
		r.onDrop()
	}
	return out
}
