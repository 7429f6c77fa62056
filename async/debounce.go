// Package async holds the engine's shared concurrency primitives: trigger
// debouncing, TTL caching with scheduled eviction, and generation tokens for
// discarding superseded in-flight work. The services consolidate all of their
// timer and cache behavior here so there is exactly one implementation of
// each policy.
package async

import (
	"sync"
	"time"
)

// Debouncer collapses bursts of triggers for the same key into a single
// callback invocation after a quiet period.
type Debouncer struct {
	interval time.Duration
	fn       func(key string)

	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
}

// NewDebouncer builds a debouncer that invokes fn once per key after
// interval has elapsed without further triggers for that key.
func NewDebouncer(interval time.Duration, fn func(key string)) *Debouncer {
	return &Debouncer{
		interval: interval,
		fn:       fn,
		timers:   make(map[string]*time.Timer),
	}
}

// Trigger schedules (or reschedules) the callback for the key.
func (d *Debouncer) Trigger(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if timer, ok := d.timers[key]; ok {
		timer.Reset(d.interval)
		return
	}
	d.timers[key] = time.AfterFunc(d.interval, func() {
		d.mu.Lock()
		delete(d.timers, key)
		stopped := d.stopped
		d.mu.Unlock()
		if !stopped {
			d.fn(key)
		}
	})
}

// Stop cancels every pending trigger. The debouncer cannot be reused.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	for key, timer := range d.timers {
		timer.Stop()
		delete(d.timers, key)
	}
}
