// internal/realtime/counter.go

package realtime

import "sync"

// ConnectionCounter enforces the per-user connection cap. A slot is pending
// from admission until the hub registers the connection. Counts can drift
// if a release is ever missed, so the hub periodically replaces them with
// the live connection set plus pending admissions via Sweep.
type ConnectionCounter struct {
	mu      sync.Mutex
	counts  map[int64]int
	pending map[int64]int
	max     int
}

func NewConnectionCounter(max int) *ConnectionCounter {
	return &ConnectionCounter{
		counts:  make(map[int64]int),
		pending: make(map[int64]int),
		max:     max,
	}
}

// Acquire reserves a pending slot, or reports false when the user is at the cap
func (c *ConnectionCounter) Acquire(userID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts[userID] >= c.max {
		return false
	}
	c.counts[userID]++
	c.pending[userID]++
	return true
}

// Promote marks one pending slot as a registered connection
func (c *ConnectionCounter) Promote(userID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	decrement(c.pending, userID)
}

// Abandon frees a slot that never became a registered connection
func (c *ConnectionCounter) Abandon(userID int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	decrement(c.pending, userID)
	return decrement(c.counts, userID)
}

// Release frees a registered connection's slot and returns what remains
func (c *ConnectionCounter) Release(userID int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := decrement(c.counts, userID)
	if c.pending[userID] > n {
		c.pending[userID] = n
		if n == 0 {
			delete(c.pending, userID)
		}
	}
	return n
}

func (c *ConnectionCounter) Count(userID int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[userID]
}

// Sweep replaces the counts with live plus pending admissions and returns
// how many users were corrected. The caller must hold the lock that guards
// live so no connection is promoted mid-sweep.
func (c *ConnectionCounter) Sweep(live map[int64]int) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := make(map[int64]int, len(live)+len(c.pending))
	for userID, n := range live {
		if n > 0 {
			next[userID] = n
		}
	}
	for userID, n := range c.pending {
		next[userID] += n
	}

	corrected := 0
	for userID, n := range c.counts {
		if next[userID] != n {
			corrected++
		}
	}
	for userID := range next {
		if _, ok := c.counts[userID]; !ok {
			corrected++
		}
	}

	c.counts = next
	return corrected
}

func decrement(m map[int64]int, userID int64) int {
	n := m[userID] - 1
	if n <= 0 {
		delete(m, userID)
		return 0
	}
	m[userID] = n
	return n
}
