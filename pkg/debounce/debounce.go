package debounce

import (
	"sync"
	"time"
)

// DefaultWindow is how long editing must be quiet before a flush.
const DefaultWindow = 800 * time.Millisecond

// Debouncer collapses a burst of Notify calls into one call of its flush function,
// made once no Notify has happened for a full window.
type Debouncer struct {
	window   time.Duration
	flush    func()
	dispatch func(func())
	now      func() time.Time

	mu       sync.Mutex
	lastEdit time.Time
	timer    *time.Timer
	pending  bool
	stopped  bool
}

type Option func(*Debouncer)

// WithDispatch makes the flush run through dispatch (for example a loop's Post)
// rather than on the timer goroutine.
func WithDispatch(dispatch func(func())) Option {
	return func(d *Debouncer) {
		d.dispatch = dispatch
	}
}

func New(window time.Duration, flush func(), opts ...Option) *Debouncer {
	if window <= 0 {
		window = DefaultWindow
	}
	d := &Debouncer{
		window:   window,
		flush:    flush,
		dispatch: func(fn func()) { fn() },
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Notify records an edit and arms the check for one window after it.
func (d *Debouncer) Notify() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.lastEdit = d.now()
	d.pending = true
	d.schedule(d.lastEdit.Add(d.window))
}

// schedule arms the single timer for deadline, replacing any earlier deadline.
func (d *Debouncer) schedule(deadline time.Time) {
	delay := deadline.Sub(d.now())
	if d.timer == nil {
		d.timer = time.AfterFunc(delay, d.check)
		return
	}
	d.timer.Stop()
	d.timer.Reset(delay)
}

// check runs when the timer fires. A check that finds a newer edit is a no-op; the
// Notify for that edit has already armed its own check.
func (d *Debouncer) check() {
	d.mu.Lock()
	due := d.dueLocked()
	d.mu.Unlock()
	if due {
		d.dispatch(d.fire)
	}
}

// fire runs on the dispatcher. The edit stays pending until here, so a Cancel that
// ran between the timer and the dispatched call still wins.
func (d *Debouncer) fire() {
	d.mu.Lock()
	if !d.dueLocked() {
		d.mu.Unlock()
		return
	}
	d.pending = false
	d.mu.Unlock()
	d.flush()
}

func (d *Debouncer) dueLocked() bool {
	return !d.stopped && d.pending && d.now().Sub(d.lastEdit) >= d.window
}

// Cancel drops a pending flush and reports whether there was one.
func (d *Debouncer) Cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cancelLocked()
}

func (d *Debouncer) cancelLocked() bool {
	if d.timer != nil {
		d.timer.Stop()
	}
	wasPending := d.pending
	d.pending = false
	return wasPending
}

// Pending reports whether an edit is waiting to be flushed.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// Stop cancels any pending flush and ignores all later edits. It reports whether a
// flush was pending, so the caller can flush synchronously on shutdown.
func (d *Debouncer) Stop() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	return d.cancelLocked()
}
