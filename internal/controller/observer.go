package controller

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/hallgrove/iohub/internal/protocol"
)

// ObserverFilter narrows which events a subscription receives. Zero value
// means everything.
type ObserverFilter struct {
	// Device limits events to one device. Empty means all devices.
	Device protocol.DeviceID

	// Types limits events to the listed types. Empty means all types.
	Types []EventType
}

// Subscription is one registered state observer. Events arrive on the
// channel returned by Events; when the subscriber falls behind its buffer
// the oldest pending events are not displaced, new ones are dropped and
// counted instead.
type Subscription struct {
	id      uuid.UUID
	ch      chan StateChangeEvent
	device  protocol.DeviceID
	types   map[EventType]struct{}
	dropped atomic.Uint64

	closeOnce sync.Once
}

// ID returns the subscription identifier used with RemoveStateObserver.
func (s *Subscription) ID() uuid.UUID {
	return s.id
}

// Events returns the channel events are delivered on. It is closed when
// the subscription is removed or the controller shuts down.
func (s *Subscription) Events() <-chan StateChangeEvent {
	return s.ch
}

// Dropped returns how many events were discarded because the subscriber
// was not keeping up.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *Subscription) wants(ev StateChangeEvent) bool {
	if s.device != "" && s.device != ev.Device {
		return false
	}
	if s.types != nil {
		if _, ok := s.types[ev.Type]; !ok {
			return false
		}
	}
	return true
}

func (s *Subscription) close() {
	s.closeOnce.Do(func() { close(s.ch) })
}

// observerRegistry fans events out to subscriptions. Publishing never
// blocks: a full subscriber buffer drops the event for that subscriber
// only.
type observerRegistry struct {
	buffer int
	logger Logger

	mu   sync.RWMutex
	subs map[uuid.UUID]*Subscription
}

func newObserverRegistry(buffer int, logger Logger) *observerRegistry {
	return &observerRegistry{
		buffer: buffer,
		logger: logger,
		subs:   make(map[uuid.UUID]*Subscription),
	}
}

func (r *observerRegistry) subscribe(filter ObserverFilter) *Subscription {
	sub := &Subscription{
		id:     uuid.New(),
		ch:     make(chan StateChangeEvent, r.buffer),
		device: filter.Device,
	}
	if len(filter.Types) > 0 {
		sub.types = make(map[EventType]struct{}, len(filter.Types))
		for _, t := range filter.Types {
			sub.types[t] = struct{}{}
		}
	}

	r.mu.Lock()
	r.subs[sub.id] = sub
	r.mu.Unlock()

	return sub
}

func (r *observerRegistry) unsubscribe(id uuid.UUID) bool {
	r.mu.Lock()
	sub, ok := r.subs[id]
	if ok {
		delete(r.subs, id)
	}
	r.mu.Unlock()

	if ok {
		sub.close()
	}
	return ok
}

func (r *observerRegistry) publish(ev StateChangeEvent) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, sub := range r.subs {
		if !sub.wants(ev) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			if sub.dropped.Add(1) == 1 {
				r.logger.Warn("observer falling behind, dropping events",
					"observer", sub.id,
					"device", ev.Device,
				)
			}
		}
	}
}

func (r *observerRegistry) closeAll() {
	r.mu.Lock()
	subs := r.subs
	r.subs = make(map[uuid.UUID]*Subscription)
	r.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}
