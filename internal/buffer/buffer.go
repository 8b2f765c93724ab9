// Package buffer holds the aircraft table the renderer draws from. Each
// successful ingestion cycle replaces the whole snapshot at once; readers
// always see one complete cycle's rows and never a mix of two.
package buffer

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/unklstewy/skyplot/pkg/flights"
)

// Snapshot is one published aircraft set.
type Snapshot struct {
	// Cycle is the number of the cycle that produced the rows, 0 for the
	// initial empty snapshot
	Cycle uint64

	// FetchedAt is when the upstream response was received
	FetchedAt time.Time

	// PublishedAt is when the snapshot replaced its predecessor
	PublishedAt time.Time

	Rows []flights.TrackedAircraftRow
}

// Len returns the number of aircraft in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.Rows)
}

// Table renders the snapshot in the renderer's column layout with missing
// values filled in.
func (s *Snapshot) Table() flights.ColumnTable {
	return flights.Fill(s.Rows)
}

// Find returns the row for an ICAO24 address.
func (s *Snapshot) Find(icao24 string) (flights.TrackedAircraftRow, bool) {
	for _, r := range s.Rows {
		if v, ok := r.ICAO24.Get(); ok && v == icao24 {
			return r, true
		}
	}
	return flights.TrackedAircraftRow{}, false
}

// Buffer is the current-snapshot holder. It keeps no history.
type Buffer struct {
	current atomic.Pointer[Snapshot]

	mu          sync.Mutex
	subscribers map[int]chan *Snapshot
	nextID      int
}

// New returns a buffer holding an empty snapshot.
func New() *Buffer {
	b := &Buffer{subscribers: make(map[int]chan *Snapshot)}
	b.current.Store(&Snapshot{Rows: []flights.TrackedAircraftRow{}})
	return b
}

// Snapshot returns the current snapshot. Callers must not modify it.
func (b *Buffer) Snapshot() *Snapshot {
	return b.current.Load()
}

// Replace swaps in a new snapshot and emits one "replaced" notification to
// every subscriber. A nil Rows slice is stored as empty.
func (b *Buffer) Replace(s *Snapshot) {
	if s.Rows == nil {
		s.Rows = []flights.TrackedAircraftRow{}
	}
	if s.PublishedAt.IsZero() {
		s.PublishedAt = time.Now()
	}
	b.current.Store(s)

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subscribers {
		// Each channel holds at most one pending snapshot; a slow reader only
		// ever sees the latest one.
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
}

// Subscribe registers for "replaced" notifications. The returned function
// unsubscribes and closes the channel.
func (b *Buffer) Subscribe() (<-chan *Snapshot, func()) {
	ch := make(chan *Snapshot, 1)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subscribers[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the number of registered subscribers.
func (b *Buffer) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}
