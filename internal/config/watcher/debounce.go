package watcher

import (
	"sync"
	"time"
)

// DefaultDebounce is how long a file must stay quiet before its change is
// delivered. Editors often truncate and then write, or write in several
// chunks, and each step raises its own fsnotify event.
const DefaultDebounce = 50 * time.Millisecond

// debouncer groups rapid successive calls into a single callback after a
// quiet period. Callbacks never run concurrently with each other.
type debouncer struct {
	mu       sync.Mutex
	delay    time.Duration
	timer    *time.Timer
	pending  bool
	seq      uint64 // detects stale timer callbacks
	callback func()

	runMu sync.Mutex
}

func newDebouncer(delay time.Duration, callback func()) *debouncer {
	return &debouncer{
		delay:    delay,
		callback: callback,
	}
}

// call schedules the callback to run once no further call has arrived for
// the debounce delay.
func (d *debouncer) call() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending = true
	d.seq++
	currentSeq := d.seq

	if d.timer != nil {
		d.timer.Stop()
	}

	d.timer = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		if !d.pending || d.seq != currentSeq {
			d.mu.Unlock()
			return
		}
		d.pending = false
		d.mu.Unlock()

		d.runMu.Lock()
		defer d.runMu.Unlock()
		d.callback()
	})
}

// cancel drops any scheduled call.
func (d *debouncer) cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.seq++
	d.pending = false
}

func (d *debouncer) isPending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}
