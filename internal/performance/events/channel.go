package events

import (
	"sync"
	"sync/atomic"
)

// DefaultHighWater is the queue depth above which a channel reports pressure.
const DefaultHighWater = 100_000

// Channel is an unbounded multi-producer, single-consumer event queue. The
// consumer waits on Ready and collects batches with Take.
//
// Emit never blocks: events are appended to a mutex-guarded FIFO and the
// consumer is woken through a one-slot signal. Events from one producer are
// delivered in emission order. After Close, already queued events are still
// delivered and further emits are counted as dropped.
type Channel struct {
	mu     sync.Mutex
	queue  []Event
	closed bool
	wake   chan struct{}

	highWater int
	peak      atomic.Int64
	emitted   atomic.Int64
	dropped   atomic.Int64
}

// NewChannel creates a channel. A non-positive highWater uses DefaultHighWater.
func NewChannel(highWater int) *Channel {
	if highWater <= 0 {
		highWater = DefaultHighWater
	}
	return &Channel{
		wake:      make(chan struct{}, 1),
		highWater: highWater,
	}
}

// Emit implements Emitter.
func (c *Channel) Emit(e Event) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.dropped.Add(1)
		return
	}
	c.queue = append(c.queue, e)
	depth := int64(len(c.queue))
	c.mu.Unlock()

	c.emitted.Add(1)
	for {
		peak := c.peak.Load()
		if depth <= peak || c.peak.CompareAndSwap(peak, depth) {
			break
		}
	}
	c.signal()
}

func (c *Channel) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Ready returns a channel that receives when events may be available.
func (c *Channel) Ready() <-chan struct{} {
	return c.wake
}

// Take removes and returns every queued event. The second result is true
// once the channel is closed and empty.
func (c *Channel) Take() ([]Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	batch := c.queue
	c.queue = nil
	return batch, c.closed && len(batch) == 0
}

// Close stops accepting events. Queued events remain available.
func (c *Channel) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.signal()
}

// Len returns the current queue depth.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// HighWater returns the pressure threshold.
func (c *Channel) HighWater() int {
	return c.highWater
}

// Pressured reports whether the queue depth exceeds the high water mark.
func (c *Channel) Pressured() bool {
	return c.Len() > c.highWater
}

// Peak returns the largest queue depth observed.
func (c *Channel) Peak() int64 {
	return c.peak.Load()
}

// Emitted returns the number of accepted events.
func (c *Channel) Emitted() int64 {
	return c.emitted.Load()
}

// Dropped returns the number of events emitted after Close.
func (c *Channel) Dropped() int64 {
	return c.dropped.Load()
}
