package clock

import (
	"sync"
	"time"
)

// Clock returns the current time in unix seconds. Implementations never go backwards.
type Clock interface {
	Now() uint64
}

// System reads the wall clock and clamps it so a stepped-back host clock
// cannot move deadlines or TTLs backwards.
type System struct {
	mu   sync.Mutex
	last uint64
}

func NewSystem() *System { return &System{} }

func (s *System) Now() uint64 {
	now := uint64(time.Now().Unix())
	s.mu.Lock()
	defer s.mu.Unlock()
	if now < s.last {
		return s.last
	}
	s.last = now
	return now
}

// Manual is a settable clock for tests and replay tooling.
type Manual struct {
	mu  sync.Mutex
	now uint64
}

func NewManual(start uint64) *Manual { return &Manual{now: start} }

func (m *Manual) Now() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d seconds.
func (m *Manual) Advance(d uint64) {
	m.mu.Lock()
	m.now += d
	m.mu.Unlock()
}

// Set moves the clock to t. Earlier values are ignored.
func (m *Manual) Set(t uint64) {
	m.mu.Lock()
	if t > m.now {
		m.now = t
	}
	m.mu.Unlock()
}
