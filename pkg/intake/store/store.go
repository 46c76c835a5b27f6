// Package store holds the session state for one clinical-intake
// consultation and coordinates every other component through named
// events.
//
// The store is an explicitly constructed handle, not a package-level
// singleton: construct one per session and pass it to the trace
// channel, the device controllers, and the flow orchestrators. All
// mutation happens through Dispatch; Get returns snapshots that never
// alias internal state, and subscribers receive them in commit order
// even under concurrent dispatch.
package store

import (
	"sync"

	"github.com/rs/zerolog"
)

// Listener receives a snapshot after every committed dispatch.
type Listener func(State)

// Store owns the session state.
type Store struct {
	mu        sync.Mutex
	state     State
	listeners []listenerEntry
	nextID    int
	log       zerolog.Logger

	// Notification delivery is serialized through a queue drained by
	// whichever goroutine committed while nobody else was draining.
	// This keeps snapshots arriving in commit order even when a
	// listener stalls or dispatches re-entrantly.
	pending   []notification
	notifying bool
}

type notification struct {
	snapshot State
	entries  []listenerEntry
}

type listenerEntry struct {
	id int
	fn Listener
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the diagnostic sink. Defaults to a no-op logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Store) { s.log = log }
}

// New constructs a store with the documented initial state.
func New(opts ...Option) *Store {
	s := &Store{
		state: initialState(),
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns an immutable snapshot of the current state.
func (s *Store) Get() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Subscribe registers a listener invoked after every committed
// dispatch, in registration order within a delivery and in commit
// order across deliveries. The returned function removes the
// listener; it is safe to call more than once.
func (s *Store) Subscribe(fn Listener) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners = append(s.listeners, listenerEntry{id: id, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, entry := range s.listeners {
			if entry.id == id {
				s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

// Dispatch applies the event and notifies subscribers. Unknown
// events and rejected transitions leave the state unchanged and are
// surfaced as warnings, never as errors.
//
// Snapshots are delivered in commit order. If a dispatch commits
// while another goroutine is still mid-delivery, its snapshot is
// queued behind the in-flight one rather than racing past it, so a
// listener's most recent snapshot is always the newest committed
// state. A dispatch from inside a listener queues the same way,
// which also makes re-entrant dispatch deadlock-free.
func (s *Store) Dispatch(ev Event) {
	s.mu.Lock()
	next, warns := reduce(s.state, ev)
	s.state = next

	entries := make([]listenerEntry, len(s.listeners))
	copy(entries, s.listeners)
	s.pending = append(s.pending, notification{snapshot: s.state.clone(), entries: entries})

	drain := !s.notifying
	if drain {
		s.notifying = true
	}
	s.mu.Unlock()

	for _, w := range warns {
		name := ""
		if ev != nil {
			name = ev.EventName()
		}
		s.log.Warn().Str("event", name).Msg(w)
	}

	if !drain {
		return
	}

	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.notifying = false
			s.mu.Unlock()
			return
		}
		n := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()

		for _, entry := range n.entries {
			entry.fn(n.snapshot)
		}
	}
}
