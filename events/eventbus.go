package events

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"accountsdb/logx"
	"accountsdb/monitoring"
)

type SubscriberID string

type Subscriber struct {
	ID      SubscriberID
	Channel chan AccountUpdateEvent
}

// EventBus fans account updates out to external consumers. Publish never
// blocks: a full subscriber channel drops the event for that subscriber.
type EventBus struct {
	subscribers map[SubscriberID]*Subscriber
	mu          sync.RWMutex
	bufferSize  int
	dropped     atomic.Uint64
}

func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &EventBus{
		subscribers: make(map[SubscriberID]*Subscriber),
		bufferSize:  bufferSize,
	}
}

func (eb *EventBus) generateUUIDID() SubscriberID {
	id := uuid.Must(uuid.NewV7())
	return SubscriberID(id.String())
}

func (eb *EventBus) Subscribe() (SubscriberID, chan AccountUpdateEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	id := eb.generateUUIDID()

	ch := make(chan AccountUpdateEvent, eb.bufferSize)
	eb.subscribers[id] = &Subscriber{ID: id, Channel: ch}

	logx.Info("EVENTBUS", fmt.Sprintf("Client subscribed to account updates | subscriber_id=%s | total_subscribers=%d", id, len(eb.subscribers)))

	return id, ch
}

// Unsubscribe removes a subscription by ID
func (eb *EventBus) Unsubscribe(id SubscriberID) bool {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	subscriber, exists := eb.subscribers[id]
	if !exists {
		logx.Warn("EVENTBUS", fmt.Sprintf("Attempted to unsubscribe non-existent subscriber | subscriber_id=%s", id))
		return false
	}

	delete(eb.subscribers, id)
	close(subscriber.Channel)

	logx.Info("EVENTBUS", fmt.Sprintf("Client unsubscribed from account updates | subscriber_id=%s | remaining_subscribers=%d", id, len(eb.subscribers)))
	return true
}

// Publish delivers an event to every subscriber that has room. A slow or
// failing subscriber must never block the flush path, so a full channel
// counts the drop and moves on.
func (eb *EventBus) Publish(event AccountUpdateEvent) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	for id, subscriber := range eb.subscribers {
		select {
		case subscriber.Channel <- event:
			// Event sent successfully
		default:
			eb.dropped.Add(1)
			monitoring.IncreaseDroppedEventCount()
			logx.Warn("EVENTBUS", fmt.Sprintf("Subscriber channel full, dropping update | subscriber_id=%s | address=%s | slot=%d", id, event.Address, event.Slot))
		}
	}
}

// DroppedCount reports how many events have been dropped under
// backpressure since the bus was created.
func (eb *EventBus) DroppedCount() uint64 {
	return eb.dropped.Load()
}

// GetTotalSubscriptions returns the total number of active subscriptions
func (eb *EventBus) GetTotalSubscriptions() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	return len(eb.subscribers)
}

// HasSubscriber checks if a subscriber with the given ID exists
func (eb *EventBus) HasSubscriber(id SubscriberID) bool {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	_, exists := eb.subscribers[id]
	return exists
}
