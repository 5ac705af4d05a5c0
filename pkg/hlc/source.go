package hlc

import (
	"sync"
	"time"
)

// WallClock returns the current wall-clock time in milliseconds.
func WallClock() int64 {
	return time.Now().UnixMilli()
}

// Source owns the running clock of one replica. It is safe for concurrent use.
type Source struct {
	mu   sync.Mutex
	last Clock
	now  func() int64
}

// NewSource returns a clock source for node using the system wall clock.
func NewSource(node string) *Source {
	return NewSourceWithWallClock(node, WallClock)
}

// NewSourceWithWallClock returns a clock source reading time from now.
func NewSourceWithWallClock(node string, now func() int64) *Source {
	if now == nil {
		now = WallClock
	}
	return &Source{last: Zero(node), now: now}
}

// Node returns the replica identifier stamped on every clock.
func (s *Source) Node() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last.Node
}

// Current returns the last issued clock without advancing it.
func (s *Source) Current() Clock {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Tick issues a new clock for a local event.
func (s *Source) Tick() Clock {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = TickAt(s.last, s.now())
	return s.last
}

// Observe folds a remote clock into the source so the next issued value
// dominates it, and returns the merged clock.
func (s *Source) Observe(remote Clock) Clock {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = SyncAt(s.last, remote, s.now())
	return s.last
}

// Restore seeds the source from a persisted clock, keeping this source's node.
// It never moves the clock backwards.
func (s *Source) Restore(c Clock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.Node = s.last.Node
	if Compare(c, s.last) > 0 {
		s.last = c
	}
}
