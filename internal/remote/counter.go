package remote

import (
	"sync"
	"time"
)

// RequestCounter remembers when requests were made so that recent volume can be reported.
type RequestCounter struct {
	mu      sync.Mutex
	marks   []time.Time
	total   int64
	horizon time.Duration
	now     func() time.Time
}

// NewRequestCounter keeps marks for horizon. A nil clock means time.Now.
func NewRequestCounter(horizon time.Duration, now func() time.Time) *RequestCounter {
	if horizon <= 0 {
		horizon = 5 * time.Minute
	}
	if now == nil {
		now = time.Now
	}
	return &RequestCounter{horizon: horizon, now: now}
}

// Mark records one request and returns the running total since start.
func (c *RequestCounter) Mark() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.marks = append(c.marks, now)
	c.prune(now)
	c.total++
	return c.total
}

// Count returns the number of requests within the trailing window.
func (c *RequestCounter) Count(window time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := c.now().Add(-window)
	n := 0
	for i := len(c.marks) - 1; i >= 0; i-- {
		if !c.marks[i].After(cutoff) {
			break
		}
		n++
	}
	return n
}

// Total returns all requests ever marked.
func (c *RequestCounter) Total() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

func (c *RequestCounter) prune(now time.Time) {
	cutoff := now.Add(-c.horizon)
	idx := 0
	for idx < len(c.marks) && !c.marks[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		c.marks = append(c.marks[:0], c.marks[idx:]...)
	}
}
