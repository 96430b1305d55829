// Package aggregate coalesces a stream of small items into batches. A batch
// is delivered after a quiescent interval with no new pushes, or
// immediately once the buffered size crosses a ceiling.
package aggregate

import (
	"sync"
	"time"
)

// FlushFunc receives one ordered batch. It is never invoked concurrently
// with itself and never with an empty batch.
type FlushFunc func(items []string)

// Aggregator buffers pushed items and flushes them as a single batch.
//
// Invariants:
//   - every pushed item ends up in exactly one batch, in push order
//   - at most one flush is in flight
//   - while the buffer is non-empty exactly one timer is pending; each
//     push re-arms it, a size preemption resets it
type Aggregator struct {
	mu          sync.Mutex
	items       []string
	size        int
	interval    time.Duration
	maxBuffered int
	flush       FlushFunc
	timer       *time.Timer
	closed      bool
}

// New creates an Aggregator flushing through fn. interval is the debounce
// window; maxBuffered is the byte ceiling that preempts the timer.
func New(interval time.Duration, maxBuffered int, fn FlushFunc) *Aggregator {
	return &Aggregator{
		interval:    interval,
		maxBuffered: maxBuffered,
		flush:       fn,
	}
}

// Push appends an item and (re)arms the debounce timer. Pushing the empty
// item is a no-op. When the buffered size first reaches the ceiling the
// batch is flushed synchronously and the timer is reset.
func (a *Aggregator) Push(item string) {
	if item == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.items = append(a.items, item)
	a.size += len(item)

	if a.size >= a.maxBuffered {
		a.flushLocked()
		return
	}
	if a.timer == nil {
		a.timer = time.AfterFunc(a.interval, a.onTimer)
	} else {
		a.timer.Reset(a.interval)
	}
}

func (a *Aggregator) onTimer() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.flushLocked()
}

// flushLocked hands the buffered batch to the flush callback. The callback
// runs under the lock; Push blocks for its duration, which is the
// backpressure the caller signed up for. The timer never fires on an
// empty buffer because it is stopped here and only armed by Push.
func (a *Aggregator) flushLocked() {
	if a.timer != nil {
		a.timer.Stop()
	}
	if len(a.items) == 0 {
		return
	}
	batch := a.items
	a.items = nil
	a.size = 0
	a.flush(batch)
}

// Close flushes any buffered items and stops the timer. Further pushes are
// discarded. Safe to call more than once.
func (a *Aggregator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.flushLocked()
	a.closed = true
}

// Len reports the number of currently buffered items.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.items)
}
