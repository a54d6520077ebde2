package stream

import (
	"strings"
	"sync"
)

// Buffer is a snapshot of one conversation's in-flight streamed response.
type Buffer struct {
	Content   string
	Active    bool
	Cancelled bool
	Writes    int
}

// Store holds stream buffers keyed by conversation id. Each key has its own
// mutex so append and cancel are atomic read-modify-write within this
// process.
type Store struct {
	mu      sync.Mutex
	buffers map[string]*slot
}

type slot struct {
	mu        sync.Mutex
	tokens    strings.Builder
	active    bool
	cancelled bool
	writes    int
}

func NewStore() *Store {
	return &Store{buffers: make(map[string]*slot)}
}

func (s *Store) get(convID string) *slot {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buffers[convID]
	if !ok {
		b = &slot{}
		s.buffers[convID] = b
	}
	return b
}

// Start resets the buffer for a new streamed response.
func (s *Store) Start(convID string) {
	b := s.get(convID)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens.Reset()
	b.active = true
	b.cancelled = false
	b.writes = 0
}

// Append adds a delta. It reports false once the stream is cancelled or no
// longer active, which callers use as the chunk-boundary stop signal.
func (s *Store) Append(convID, delta string) bool {
	b := s.get(convID)
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.active || b.cancelled {
		return false
	}
	b.tokens.WriteString(delta)
	b.writes++
	return true
}

// Cancel marks the stream cancelled. Delivery loops observe this on their
// next append.
func (s *Store) Cancel(convID string) {
	b := s.get(convID)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelled = true
	b.active = false
}

// Complete ends the stream normally if it is still active.
func (s *Store) Complete(convID string) {
	b := s.get(convID)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.active {
		b.active = false
	}
}

func (s *Store) Clear(convID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buffers, convID)
}

func (s *Store) Get(convID string) Buffer {
	b := s.get(convID)
	b.mu.Lock()
	defer b.mu.Unlock()
	return Buffer{
		Content:   b.tokens.String(),
		Active:    b.active,
		Cancelled: b.cancelled,
		Writes:    b.writes,
	}
}

// IsCancelled is a cheap check for delivery loops between chunks.
func (s *Store) IsCancelled(convID string) bool {
	b := s.get(convID)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cancelled
}
