// Package logstore keeps a bounded, insertion-ordered, in-memory
// record of finalized exchanges.
package logstore

import (
	"sync"
	"sync/atomic"

	"github.com/httptap/httptap/internal/entry"
)

// DefaultCapacity bounds the store when the caller does not choose one.
const DefaultCapacity = 250

const subscriberBuffer = 32

// EventKind identifies a store mutation.
type EventKind int

const (
	// EventAdd announces a newly stored entry.
	EventAdd EventKind = iota
	// EventClear announces that the store was emptied.
	EventClear
)

// Event is delivered to subscribers after each mutation. Size is the
// store size right after the mutation and never exceeds capacity.
type Event struct {
	Kind  EventKind
	Entry *entry.Entry
	Size  int
}

// Store is a fixed-capacity FIFO of entries. Reads return snapshot
// copies; subscribers get non-blocking notifications in mutation
// order. When the store is full the oldest entry is evicted before
// the new arrival is announced.
type Store struct {
	mu          sync.RWMutex
	entries     []*entry.Entry
	capacity    int
	subscribers map[chan Event]struct{}
	evicted     atomic.Int64
}

// New builds a store holding at most capacity entries. Zero or
// negative selects DefaultCapacity.
func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		entries:     make([]*entry.Entry, 0, capacity),
		capacity:    capacity,
		subscribers: make(map[chan Event]struct{}),
	}
}

// Add appends e, evicting the oldest entry first when at capacity.
func (s *Store) Add(e *entry.Entry) {
	if e == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) >= s.capacity {
		s.entries = s.entries[1:]
		s.evicted.Add(1)
	}
	s.entries = append(s.entries, e)
	s.notify(Event{Kind: EventAdd, Entry: e, Size: len(s.entries)})
}

// All returns a snapshot of the stored entries, oldest first.
func (s *Store) All() []*entry.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*entry.Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Find returns a snapshot of the entries matching pred, oldest first.
func (s *Store) Find(pred func(*entry.Entry) bool) []*entry.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*entry.Entry
	for _, e := range s.entries {
		if pred(e) {
			out = append(out, e)
		}
	}
	return out
}

// Get looks up an entry by its ID.
func (s *Store) Get(id string) (*entry.Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.entries {
		if e.ID == id {
			return e, true
		}
	}
	return nil, false
}

// Clear empties the store.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = s.entries[:0]
	s.notify(Event{Kind: EventClear, Size: 0})
}

// Len returns the current number of stored entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Capacity returns the fixed maximum size.
func (s *Store) Capacity() int {
	return s.capacity
}

// Evicted returns the number of entries dropped to make room.
func (s *Store) Evicted() int64 {
	return s.evicted.Load()
}

// Subscribe registers for mutation events. The returned cancel func
// unregisters and closes the channel. Delivery is non-blocking: a
// subscriber that falls more than subscriberBuffer events behind
// misses notifications instead of stalling writers.
func (s *Store) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
	}
	return ch, cancel
}

// notify runs with s.mu held so subscribers observe events in
// mutation order.
func (s *Store) notify(ev Event) {
	for ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}
