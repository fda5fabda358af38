package testutil

import (
	"sync"
	"time"
)

// Epoch is the wall time a DeterministicClock starts at.
var Epoch = time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)

// DeterministicClock is a thread-safe fake wall clock for tests.
//
// Every call to Now advances the clock by Step (one second by default), so
// timestamps taken by the code under test are distinct, increasing and
// identical across runs.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu   sync.Mutex
	seq  int64
	Step time.Duration
}

// NewDeterministicClock creates a clock whose first Now returns Epoch+Step.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{Step: time.Second}
}

// Now advances the clock one tick and returns the new time.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return Epoch.Add(time.Duration(c.seq) * c.Step)
}

// Ticks returns how many times Now was called since the last Reset.
func (c *DeterministicClock) Ticks() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Rewind moves the clock back n ticks. Used to simulate a skewed source of
// timestamps.
func (c *DeterministicClock) Rewind(n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq -= n
}

// Reset returns the clock to Epoch.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = 0
}
