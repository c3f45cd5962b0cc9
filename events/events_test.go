package events

import (
	"testing"
	"time"

	"accountsdb/types"
)

func update(slot uint64) AccountUpdateEvent {
	var addr types.Pubkey
	addr[0] = byte(slot)
	return AccountUpdateEvent{
		Address: addr,
		Slot:    slot,
		Record:  &types.AccountRecord{Lamports: slot * 10},
	}
}

func TestSubscribePublishReceive(t *testing.T) {
	bus := NewEventBus(8)

	id, ch := bus.Subscribe()
	if !bus.HasSubscriber(id) {
		t.Fatal("subscriber not registered")
	}

	bus.Publish(update(1))

	select {
	case ev := <-ch:
		if ev.Slot != 1 || ev.Record.Lamports != 10 {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	if !bus.Unsubscribe(id) {
		t.Fatal("unsubscribe failed")
	}
	if bus.GetTotalSubscriptions() != 0 {
		t.Fatal("subscriber count not zero")
	}
	if bus.Unsubscribe(id) {
		t.Fatal("double unsubscribe should report false")
	}
}

func TestSlowSubscriberDropsWithoutBlocking(t *testing.T) {
	bus := NewEventBus(2)

	_, ch := bus.Subscribe()

	// Nobody drains ch; publishing more than the buffer must drop, never block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(update(uint64(i)))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	if got := bus.DroppedCount(); got != 8 {
		t.Fatalf("expected 8 dropped events, got %d", got)
	}
	if len(ch) != 2 {
		t.Fatalf("expected full buffer of 2, got %d", len(ch))
	}
}
