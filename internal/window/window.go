package window

import (
	"github.com/sentinelstack/sentinel-engine/internal/models"
)

// Store is a fixed-capacity FIFO buffer of the most recently accepted
// measurements. It is owned by the single pipeline writer and performs no
// locking of its own; Snapshot returns a deep copy so readers never observe
// a window mid-mutation.
type Store struct {
	buf      []models.Measurement
	capacity int
	head     int
	size     int
}

// New creates a store with the given capacity. Capacities below one are
// clamped to one.
func New(capacity int) *Store {
	if capacity < 1 {
		capacity = 1
	}
	return &Store{
		buf:      make([]models.Measurement, capacity),
		capacity: capacity,
	}
}

// Push appends a measurement, evicting the oldest entry once full.
func (s *Store) Push(m models.Measurement) {
	idx := (s.head + s.size) % s.capacity
	s.buf[idx] = m
	if s.size < s.capacity {
		s.size++
		return
	}
	// Buffer already full: idx overwrote the oldest slot, advance head.
	s.head = (s.head + 1) % s.capacity
}

// Full reports whether the window has reached capacity.
func (s *Store) Full() bool { return s.size == s.capacity }

// Len returns the current fill level.
func (s *Store) Len() int { return s.size }

// Capacity returns the configured capacity.
func (s *Store) Capacity() int { return s.capacity }

// Snapshot returns the window contents oldest-first as a deep copy.
func (s *Store) Snapshot() []models.Measurement {
	out := make([]models.Measurement, 0, s.size)
	for i := 0; i < s.size; i++ {
		out = append(out, s.buf[(s.head+i)%s.capacity].Clone())
	}
	return out
}

// Resize replaces the backing buffer with one of the new capacity, keeping
// the most recent entries that fit. Used by runtime reconfiguration; applies
// prospectively, nothing is rescored.
func (s *Store) Resize(capacity int) {
	if capacity < 1 {
		capacity = 1
	}
	if capacity == s.capacity {
		return
	}
	snap := s.Snapshot()
	if len(snap) > capacity {
		snap = snap[len(snap)-capacity:]
	}
	s.buf = make([]models.Measurement, capacity)
	copy(s.buf, snap)
	s.capacity = capacity
	s.head = 0
	s.size = len(snap)
}
