package journal

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Learath2/libtw2/internal/snap"
)

// ErrMonotonicityViolation is returned when a tick is recorded out of order.
// It signals a broken invariant in the caller rather than a network condition.
var ErrMonotonicityViolation = errors.New("tick monotonicity violation")

// MonotonicityError carries the offending tick alongside the newest one seen.
type MonotonicityError struct {
	Tick   snap.Tick
	Newest snap.Tick
}

func (e *MonotonicityError) Error() string {
	return fmt.Sprintf("tick monotonicity violation: tick %d is not newer than %d", e.Tick, e.Newest)
}

// Unwrap lets errors.Is match ErrMonotonicityViolation.
func (e *MonotonicityError) Unwrap() error {
	return ErrMonotonicityViolation
}

// Eviction describes a snapshot removed from the history and why.
type Eviction struct {
	Tick   snap.Tick `json:"tick"`
	Reason string    `json:"reason,omitempty"`
}

// Eviction reasons.
const (
	ReasonUnreferenced = "unreferenced"
	ReasonReset        = "reset"
)

// Storage keeps the rolling window of snapshots peers may still build deltas
// against. Ticks are appended in increasing order and trimmed from the oldest
// end only, so the window behaves as a queue with an index for lookups.
type Storage struct {
	mu     sync.RWMutex
	ticks  []snap.Tick
	head   int
	byTick map[snap.Tick]snap.Snap
	newest snap.Tick
	seeded bool
}

// New constructs an empty history sized for the expected window.
func New(capacity int) *Storage {
	if capacity < 0 {
		capacity = 0
	}
	return &Storage{
		ticks:  make([]snap.Tick, 0, capacity),
		byTick: make(map[snap.Tick]snap.Snap, capacity),
	}
}

// Insert records the snapshot for tick. The tick must be newer than every
// tick inserted before, including ticks that have since been trimmed.
func (s *Storage) Insert(tick snap.Tick, snapshot snap.Snap) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seeded && tick <= s.newest {
		return &MonotonicityError{Tick: tick, Newest: s.newest}
	}
	s.ticks = append(s.ticks, tick)
	s.byTick[tick] = snapshot
	s.newest = tick
	s.seeded = true
	return nil
}

// Get returns the snapshot stored for tick.
func (s *Storage) Get(tick snap.Tick) (snap.Snap, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot, ok := s.byTick[tick]
	return snapshot, ok
}

// Latest returns the newest stored snapshot and its tick.
func (s *Storage) Latest() (snap.Tick, snap.Snap, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.head >= len(s.ticks) {
		return 0, snap.Snap{}, false
	}
	tick := s.ticks[len(s.ticks)-1]
	return tick, s.byTick[tick], true
}

// Trim evicts every snapshot older than minReferenced. Callers compute the
// minimum across all peers; anything at or above it is kept.
func (s *Storage) Trim(minReferenced snap.Tick) []Eviction {
	s.mu.Lock()
	defer s.mu.Unlock()

	var evicted []Eviction
	for s.head < len(s.ticks) && s.ticks[s.head] < minReferenced {
		tick := s.ticks[s.head]
		delete(s.byTick, tick)
		evicted = append(evicted, Eviction{Tick: tick, Reason: ReasonUnreferenced})
		s.head++
	}
	s.compactLocked()
	return evicted
}

// Reset drops every stored snapshot. The monotonic cursor is kept so a reset
// cannot be used to replay older ticks.
func (s *Storage) Reset() []Eviction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var evicted []Eviction
	for _, tick := range s.ticks[s.head:] {
		evicted = append(evicted, Eviction{Tick: tick, Reason: ReasonReset})
	}
	s.ticks = s.ticks[:0]
	s.head = 0
	s.byTick = make(map[snap.Tick]snap.Snap)
	return evicted
}

// Window reports the current retention window.
func (s *Storage) Window() (size int, oldest, newest snap.Tick) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	size = len(s.ticks) - s.head
	if size == 0 {
		return 0, 0, 0
	}
	return size, s.ticks[s.head], s.ticks[len(s.ticks)-1]
}

// Len returns the number of stored snapshots.
func (s *Storage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ticks) - s.head
}

// compactLocked reclaims the consumed prefix once it dominates the slice.
func (s *Storage) compactLocked() {
	if s.head == 0 {
		return
	}
	if s.head == len(s.ticks) {
		s.ticks = s.ticks[:0]
		s.head = 0
		return
	}
	if s.head < len(s.ticks)/2 {
		return
	}
	n := copy(s.ticks, s.ticks[s.head:])
	s.ticks = s.ticks[:n]
	s.head = 0
}
