package antinuke

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestCheckAndMarkOnce(t *testing.T) {
	dedup := NewDeduplicator(5 * time.Minute)

	if !dedup.CheckAndMark("entry-1") {
		t.Fatalf("first check should report the entry as new")
	}
	if dedup.CheckAndMark("entry-1") {
		t.Fatalf("second check should report the entry as seen")
	}
	if !dedup.CheckAndMark("entry-2") {
		t.Fatalf("distinct entry should be new")
	}
}

func TestDedupTTLEviction(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	dedup := NewDeduplicator(5 * time.Minute)
	dedup.WithClock(clock)

	dedup.MarkProcessed("entry-1")
	if !dedup.AlreadyProcessed("entry-1") {
		t.Fatalf("entry should be marked")
	}

	clock.Advance(4 * time.Minute)
	if !dedup.AlreadyProcessed("entry-1") {
		t.Fatalf("entry should survive inside the TTL")
	}

	clock.Advance(2 * time.Minute)
	if dedup.AlreadyProcessed("entry-1") {
		t.Fatalf("entry should be evicted after the TTL")
	}
	if !dedup.CheckAndMark("entry-1") {
		t.Fatalf("evicted entry should count as new again")
	}
}

func TestCheckAndMarkConcurrent(t *testing.T) {
	dedup := NewDeduplicator(5 * time.Minute)

	const racers = 32
	var wg sync.WaitGroup
	results := make(chan bool, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- dedup.CheckAndMark("entry-race")
		}()
	}
	wg.Wait()
	close(results)

	winners := 0
	for won := range results {
		if won {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}

func TestDedupDefaultTTL(t *testing.T) {
	dedup := NewDeduplicator(0)
	if dedup.ttl != 5*time.Minute {
		t.Fatalf("expected 5m default ttl, got %v", dedup.ttl)
	}
}
