// Package cache tracks how recently each piece of sync work completed, so
// periodic resyncs can skip data that is still fresh. Entries live in memory
// only; a restart starts cold and the first pass syncs everything.
package cache

import (
	"sync"
	"time"
)

// DefaultStaleness is how long a completed sync stays fresh.
const DefaultStaleness = 5 * time.Minute

// Freshness records completion times by key.
type Freshness struct {
	mu        sync.Mutex
	entries   map[string]time.Time
	staleness time.Duration

	now func() time.Time
}

// NewFreshness creates a tracker with the given staleness window.
func NewFreshness(staleness time.Duration) *Freshness {
	if staleness <= 0 {
		staleness = DefaultStaleness
	}
	return &Freshness{
		entries:   make(map[string]time.Time),
		staleness: staleness,
		now:       time.Now,
	}
}

// Mark records that the work behind key just completed.
func (f *Freshness) Mark(key string) {
	f.mu.Lock()
	f.entries[key] = f.now()
	f.mu.Unlock()
}

// Fresh reports whether key completed within the staleness window.
func (f *Freshness) Fresh(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	at, ok := f.entries[key]
	return ok && f.now().Sub(at) < f.staleness
}

// Invalidate forgets one key, forcing the next sync through.
func (f *Freshness) Invalidate(key string) {
	f.mu.Lock()
	delete(f.entries, key)
	f.mu.Unlock()
}

// Prune drops every stale entry and returns how many were removed.
func (f *Freshness) Prune() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	removed := 0
	cutoff := f.now().Add(-f.staleness)
	for key, at := range f.entries {
		if at.Before(cutoff) {
			delete(f.entries, key)
			removed++
		}
	}
	return removed
}
