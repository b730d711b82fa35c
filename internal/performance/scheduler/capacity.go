package scheduler

import (
	"context"
	"sync"
)

// capacity tracks active VUs against a limit that may change per phase.
type capacity struct {
	mu     sync.Mutex
	active int
	freed  chan struct{}
}

func newCapacity() *capacity {
	return &capacity{freed: make(chan struct{}, 1)}
}

// tryAcquire takes a slot if active is below limit. A limit of 0 is unbounded.
func (c *capacity) tryAcquire(limit int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if limit > 0 && c.active >= limit {
		return false
	}
	c.active++
	return true
}

func (c *capacity) release() {
	c.mu.Lock()
	if c.active > 0 {
		c.active--
	}
	c.mu.Unlock()

	select {
	case c.freed <- struct{}{}:
	default:
	}
}

// wait blocks until a slot is released or ctx is done.
func (c *capacity) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.freed:
		return nil
	}
}

func (c *capacity) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}
