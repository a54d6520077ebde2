package ratelimit

import (
	"sync"
	"time"
)

// CounterStore tracks sliding-window hit counts per key. Implementations
// must make Increment an atomic read-modify-write for a given key within a
// single process; cross-process deployments need a shared store with the
// same property.
type CounterStore interface {
	Increment(key string, window time.Duration) int
	Count(key string, window time.Duration) int
}

// MemoryStore keeps hit timestamps in memory with a per-key mutex.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

type entry struct {
	mu   sync.Mutex
	hits []time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

func (s *MemoryStore) get(key string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		e = &entry{}
		s.entries[key] = e
	}
	return e
}

func (s *MemoryStore) Increment(key string, window time.Duration) int {
	e := s.get(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	now := s.now()
	e.prune(now, window)
	e.hits = append(e.hits, now)
	return len(e.hits)
}

func (s *MemoryStore) Count(key string, window time.Duration) int {
	e := s.get(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prune(s.now(), window)
	return len(e.hits)
}

func (e *entry) prune(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	kept := e.hits[:0]
	for _, t := range e.hits {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	e.hits = kept
}

// Limiter answers whether a key has exceeded its request ceiling within the
// sliding window.
type Limiter struct {
	store  CounterStore
	window time.Duration
	max    int
}

func NewLimiter(store CounterStore, window time.Duration, max int) *Limiter {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Limiter{store: store, window: window, max: max}
}

// Record counts one request against key and returns the current count.
func (l *Limiter) Record(key string) int {
	return l.store.Increment(key, l.window)
}

func (l *Limiter) Count(key string) int {
	return l.store.Count(key, l.window)
}

// IsLimited reports whether key has reached the ceiling. A non-positive
// ceiling disables limiting.
func (l *Limiter) IsLimited(key string) bool {
	if l.max <= 0 {
		return false
	}
	return l.store.Count(key, l.window) >= l.max
}
