package engine

import (
	"sync"
	"sync/atomic"
)

// Control carries the pause/cancel flags and the per-chunk byte counters for
// one in-flight transfer. Exactly one Control exists per running transfer and
// it is discarded when the transfer reaches a terminal state.
//
// Byte accounting is arena-style: each chunk fetcher owns one slot and adds
// to it atomically; Downloaded sums the arena. Fetchers never contend on a
// shared counter.
type Control struct {
	paused    atomic.Bool
	cancelled atomic.Bool

	mu    sync.RWMutex
	slots []atomic.Int64
}

func NewControl() *Control {
	return &Control{}
}

func (c *Control) Pause() {
	c.paused.Store(true)
}

func (c *Control) Resume() {
	c.paused.Store(false)
}

// Cancel is cooperative: fetchers poll the flag and stop consuming input.
func (c *Control) Cancel() {
	c.cancelled.Store(true)
}

func (c *Control) IsPaused() bool {
	return c.paused.Load()
}

func (c *Control) IsCancelled() bool {
	return c.cancelled.Load()
}

// InitSlots sizes the counter arena, one slot per chunk fetcher. Called once
// by the transfer before fan-out; resizing discards previous counts.
func (c *Control) InitSlots(n int) {
	if n < 1 {
		n = 1
	}
	c.mu.Lock()
	c.slots = make([]atomic.Int64, n)
	c.mu.Unlock()
}

// AddDownloaded credits n bytes to one fetcher's slot.
func (c *Control) AddDownloaded(slot int, n int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if slot >= 0 && slot < len(c.slots) {
		c.slots[slot].Add(n)
	}
}

// Downloaded sums the arena. This is the transfer-wide aggregate every
// progress figure is computed from.
func (c *Control) Downloaded() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var total int64
	for i := range c.slots {
		total += c.slots[i].Load()
	}
	return total
}
