package events

import (
	"context"
	"sync"
)

// Bus is an in-process ChangeEventSource for tests and single-node
// deployments without Kafka.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]*busSubscription
}

// NewBus creates an empty in-process event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]*busSubscription)}
}

type busSubscription struct {
	bus     *Bus
	id      int
	filter  Filter
	handler Handler
	once    sync.Once
}

func (s *busSubscription) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s.id)
		s.bus.mu.Unlock()
	})
	return nil
}

// Subscribe registers a handler for matching events.
func (b *Bus) Subscribe(_ context.Context, filter Filter, handler Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &busSubscription{bus: b, id: b.nextID, filter: filter, handler: handler}
	b.subs[sub.id] = sub
	return sub, nil
}

// Publish delivers the event synchronously to all matching subscribers.
func (b *Bus) Publish(event ChangeEvent) {
	b.mu.RLock()
	subs := make([]*busSubscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		if s.filter.Matches(event) {
			s.handler(event)
		}
	}
}
