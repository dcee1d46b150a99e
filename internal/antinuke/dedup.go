package antinuke

import (
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Deduplicator is a time-bounded set of already-processed audit-entry ids.
// It guarantees at-most-once enforcement per physical audit entry: once an
// id is marked, it stays marked until TTL eviction. Eviction happens on
// access; under very low traffic stale ids may outlive the TTL until the
// next call, which is harmless.
type Deduplicator struct {
	mu      sync.Mutex
	ttl     time.Duration
	clock   Clock
	entries map[string]time.Time
}

func NewDeduplicator(ttl time.Duration) *Deduplicator {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Deduplicator{
		ttl:     ttl,
		clock:   realClock{},
		entries: make(map[string]time.Time),
	}
}

func (d *Deduplicator) WithClock(clock Clock) {
	d.clock = clock
}

func (d *Deduplicator) AlreadyProcessed(entryID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()
	d.sweep(now)
	_, ok := d.entries[entryID]
	return ok
}

func (d *Deduplicator) MarkProcessed(entryID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()
	d.sweep(now)
	d.entries[entryID] = now
}

// CheckAndMark records the id and reports whether it was new. The check and
// the mark share one critical section so two racing enforcement calls for
// the same entry can never both see it as new.
func (d *Deduplicator) CheckAndMark(entryID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()
	d.sweep(now)
	if _, ok := d.entries[entryID]; ok {
		return false
	}
	d.entries[entryID] = now
	return true
}

func (d *Deduplicator) sweep(now time.Time) {
	for entryID, recordedAt := range d.entries {
		if now.Sub(recordedAt) > d.ttl {
			delete(d.entries, entryID)
		}
	}
}
