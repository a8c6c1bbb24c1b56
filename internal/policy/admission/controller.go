// Package admission bounds the number of concurrently in-flight heavy
// actions (browser renders) and queues excess callers in arrival order.
package admission

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/grail/internal/metrics"
)

// Controller hands out at most limit slots. Waiters are served strictly
// FIFO: a released slot is transferred directly to the oldest waiter, so a
// newcomer can never overtake the queue.
type Controller struct {
	mu       sync.Mutex
	limit    int
	inFlight int
	waiters  *list.List
}

// New creates a Controller with the given slot count. Non-positive limits
// are raised to one.
func New(limit int) *Controller {
	if limit <= 0 {
		limit = 1
	}
	return &Controller{
		limit:   limit,
		waiters: list.New(),
	}
}

// Acquire blocks until a slot is available or ctx ends. Every successful
// Acquire must be paired with exactly one Release.
func (c *Controller) Acquire(ctx context.Context) error {
	c.mu.Lock()
	if c.inFlight < c.limit && c.waiters.Len() == 0 {
		c.inFlight++
		c.publishLocked()
		c.mu.Unlock()
		return nil
	}
	ready := make(chan struct{})
	elem := c.waiters.PushBack(ready)
	c.publishLocked()
	c.mu.Unlock()

	start := time.Now()
	select {
	case <-ready:
		metrics.ObserveAdmissionWait(time.Since(start))
		return nil
	case <-ctx.Done():
	}

	c.mu.Lock()
	select {
	case <-ready:
		// The slot was handed over while we were giving up; pass it on.
		c.mu.Unlock()
		c.Release()
	default:
		c.waiters.Remove(elem)
		c.publishLocked()
		c.mu.Unlock()
	}
	return fmt.Errorf("admission wait canceled: %w", ctx.Err())
}

// Release returns a slot. If callers are queued, the slot goes to the
// oldest one; otherwise the in-flight count drops, clamped at zero.
func (c *Controller) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if front := c.waiters.Front(); front != nil {
		c.waiters.Remove(front)
		if c.inFlight == 0 {
			c.inFlight = 1
		}
		close(front.Value.(chan struct{}))
		c.publishLocked()
		return
	}
	if c.inFlight > 0 {
		c.inFlight--
	}
	c.publishLocked()
}

// InFlight returns the number of held slots.
func (c *Controller) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// Waiting returns the number of queued callers.
func (c *Controller) Waiting() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.waiters.Len()
}

// Limit returns the configured slot count.
func (c *Controller) Limit() int {
	return c.limit
}

func (c *Controller) publishLocked() {
	metrics.SetInFlight(c.inFlight)
	metrics.SetWaiting(c.waiters.Len())
}
