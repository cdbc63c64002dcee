package autosave

import (
	"sync"
	"time"
)

// Debouncer runs the most recently scheduled function once a quiet period has
// passed since the last Schedule call.
type Debouncer struct {
	mu    sync.Mutex
	delay time.Duration
	timer *time.Timer
	fn    func()
	gen   uint64
}

// NewDebouncer returns a Debouncer that waits delay after the last Schedule.
func NewDebouncer(delay time.Duration) *Debouncer {
	return &Debouncer{delay: delay}
}

// Schedule cancels any pending call and arms a new one for fn.
func (d *Debouncer) Schedule(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.fn = fn
	d.timer = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		// A timer that already fired cannot be stopped; the generation
		// check drops callbacks superseded by a later Schedule or Stop.
		if gen != d.gen {
			d.mu.Unlock()
			return
		}
		run := d.fn
		d.timer, d.fn = nil, nil
		d.mu.Unlock()
		run()
	})
}

// Stop cancels the pending call. It reports whether one was pending.
func (d *Debouncer) Stop() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cancelLocked() != nil
}

// Fire runs the pending call now instead of waiting. It reports whether one was pending.
func (d *Debouncer) Fire() bool {
	d.mu.Lock()
	run := d.cancelLocked()
	d.mu.Unlock()
	if run == nil {
		return false
	}
	run()
	return true
}

// Pending reports whether a call is armed.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

func (d *Debouncer) cancelLocked() func() {
	if d.timer == nil {
		return nil
	}
	d.timer.Stop()
	d.gen++
	run := d.fn
	d.timer, d.fn = nil, nil
	return run
}
