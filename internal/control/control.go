// Package control carries the pause, cancel and emergency-stop signals
// shared by every active blog job. All signals are cooperative: they
// are observed when a job admits new work, never by aborting work
// already in flight.
package control

import (
	"context"
	"sync"
	"sync/atomic"
)

// FatalFunc receives the user-facing notification raised when the
// whole run must stop, e.g. on disk exhaustion.
type FatalFunc func(msg string)

type Control struct {
	mu     sync.Mutex
	paused bool
	gate   chan struct{} // closed while running, pending while paused

	cancelOnce sync.Once
	done       chan struct{}
	fatal      atomic.Bool

	onFatal FatalFunc
}

func New(onFatal FatalFunc) *Control {
	gate := make(chan struct{})
	close(gate)
	return &Control{
		gate:    gate,
		done:    make(chan struct{}),
		onFatal: onFatal,
	}
}

// Pause stops jobs from admitting new items until Resume. Items
// already dispatched keep running.
func (c *Control) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		c.paused = true
		c.gate = make(chan struct{})
	}
}

// Resume reopens the gate, releasing every waiter at once.
func (c *Control) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		c.paused = false
		close(c.gate)
	}
}

func (c *Control) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// WaitIfPaused blocks while the gate is down. It returns early when
// the context ends or the run is cancelled, so a paused job can still
// shut down.
func (c *Control) WaitIfPaused(ctx context.Context) error {
	for {
		c.mu.Lock()
		gate := c.gate
		c.mu.Unlock()

		select {
		case <-gate:
			// Pause may have been re-engaged between the load and
			// the wake-up; loop to observe the current gate.
			c.mu.Lock()
			paused := c.paused
			c.mu.Unlock()
			if !paused {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return context.Canceled
		}
	}
}

// Cancel stops all jobs from admitting new items. Idempotent.
func (c *Control) Cancel() {
	c.cancelOnce.Do(func() { close(c.done) })
}

func (c *Control) Cancelled() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Done exposes the cancellation channel for select loops.
func (c *Control) Done() <-chan struct{} {
	return c.done
}

// StopAll raises the fatal user notification and cancels every active
// job. Only storage exhaustion escalates this far; unlike a plain
// Cancel it also fails the result of every job it stops.
func (c *Control) StopAll(msg string) {
	c.fatal.Store(true)
	if c.onFatal != nil {
		c.onFatal(msg)
	}
	c.Cancel()
}

// Fatal reports whether the run was stopped by StopAll.
func (c *Control) Fatal() bool {
	return c.fatal.Load()
}
