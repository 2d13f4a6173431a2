// Package debounce provides a trailing-edge debouncer used to coalesce
// bursts of mutations into a single side effect, such as persisting the
// session store after a stream of message updates.
package debounce

import (
	"sync"
	"time"
)

// Debouncer coalesces calls to Trigger: fn runs once the calls have been
// quiet for the configured delay. A zero delay runs fn synchronously.
type Debouncer struct {
	mu      sync.Mutex
	delay   time.Duration
	timer   *time.Timer
	fn      func()
	onError func(error)
	stopped bool
}

// Option configures a Debouncer.
type Option func(*Debouncer)

// WithDelay sets the quiet period before fn runs. Negative delays are
// treated as zero.
func WithDelay(d time.Duration) Option {
	return func(db *Debouncer) {
		if d < 0 {
			d = 0
		}
		db.delay = d
	}
}

// New creates a debouncer around fn.
func New(fn func(), opts ...Option) *Debouncer {
	db := &Debouncer{fn: fn}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

// Trigger schedules fn after the quiet period, resetting any pending timer.
func (db *Debouncer) Trigger() {
	db.mu.Lock()
	if db.stopped {
		db.mu.Unlock()
		return
	}
	if db.delay <= 0 {
		db.mu.Unlock()
		db.fn()
		return
	}
	if db.timer != nil {
		db.timer.Stop()
	}
	db.timer = time.AfterFunc(db.delay, db.run)
	db.mu.Unlock()
}

func (db *Debouncer) run() {
	db.mu.Lock()
	if db.stopped {
		db.mu.Unlock()
		return
	}
	db.timer = nil
	db.mu.Unlock()
	db.fn()
}

// Flush runs fn immediately if a trigger is pending.
func (db *Debouncer) Flush() {
	db.mu.Lock()
	pending := db.timer != nil
	if pending {
		db.timer.Stop()
		db.timer = nil
	}
	stopped := db.stopped
	db.mu.Unlock()
	if pending && !stopped {
		db.fn()
	}
}

// Stop cancels any pending trigger and rejects future ones.
func (db *Debouncer) Stop() {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.stopped = true
	if db.timer != nil {
		db.timer.Stop()
		db.timer = nil
	}
}
