package snapshot

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrNotReady is returned by Current before the first snapshot is published.
var ErrNotReady = errors.New("snapshot: no configuration published yet")

// Store holds the current snapshot and fans out change notifications.
// Readers never block writers: Current is a single atomic load, Publish a
// single atomic swap. Notifications are delivered best-effort; a subscriber
// that has not drained its channel misses intermediate signals but always
// sees the latest snapshot on its next Current call.
type Store struct {
	cur atomic.Pointer[Snapshot]

	mu   sync.Mutex
	subs map[chan struct{}]struct{}
}

// NewStore returns an empty store. Current errors with ErrNotReady until the
// first Publish.
func NewStore() *Store {
	return &Store{subs: make(map[chan struct{}]struct{})}
}

// Current returns the most recently published snapshot.
func (st *Store) Current() (*Snapshot, error) {
	s := st.cur.Load()
	if s == nil {
		return nil, ErrNotReady
	}
	return s, nil
}

// Ready reports whether at least one snapshot has been published.
func (st *Store) Ready() bool {
	return st.cur.Load() != nil
}

// Publish atomically replaces the current snapshot and signals subscribers.
func (st *Store) Publish(s *Snapshot) {
	st.cur.Store(s)

	st.mu.Lock()
	defer st.mu.Unlock()
	for ch := range st.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Subscribe registers for change signals. The returned channel carries one
// token per publish, coalescing bursts. Cancel releases the subscription;
// it is safe to call more than once.
func (st *Store) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	st.mu.Lock()
	st.subs[ch] = struct{}{}
	st.mu.Unlock()

	cancel := func() {
		st.mu.Lock()
		delete(st.subs, ch)
		st.mu.Unlock()
	}
	return ch, cancel
}
