// Package debounce coalesces bursts of calls per key into one call.
//
// A Debouncer keeps at most one armed timer per key. Scheduling a key that
// already has a timer cancels it and arms a new one with the new function,
// so after a quiet period only the most recently scheduled function runs,
// exactly once. Keys are independent and may fire concurrently.
//
// Firing is fire-and-forget: nothing is returned to the scheduler and a
// panicking function is recovered and logged.
package debounce

import (
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/lessonstate/internal/clock"
)

// DefaultQuiet is the quiet interval used for exercise state pushes.
const DefaultQuiet = 1500 * time.Millisecond

// Option configures a Debouncer.
type Option func(*Debouncer)

// WithClock sets the clock used to arm timers.
func WithClock(c clock.Clock) Option {
	return func(d *Debouncer) {
		d.clock = c
	}
}

// WithLogger sets the logger used to report recovered panics.
func WithLogger(l *slog.Logger) Option {
	return func(d *Debouncer) {
		d.logger = l
	}
}

// Debouncer is a keyed timer coalescing engine.
//
// Thread-safety: All methods are safe for concurrent use. Functions run
// without the internal mutex held and may call back into the Debouncer.
type Debouncer struct {
	quiet  time.Duration
	clock  clock.Clock
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]*entry
	gen     uint64
	stopped bool

	running sync.WaitGroup
}

// entry is one armed timer. gen identifies the arming so a timer that
// fired while being replaced can tell it is stale.
type entry struct {
	timer clock.Timer
	fn    func()
	gen   uint64
}

// New creates a Debouncer with the given quiet interval.
// A non-positive quiet uses DefaultQuiet.
func New(quiet time.Duration, opts ...Option) *Debouncer {
	if quiet <= 0 {
		quiet = DefaultQuiet
	}
	d := &Debouncer{
		quiet:   quiet,
		clock:   clock.New(),
		logger:  slog.Default(),
		pending: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Quiet returns the quiet interval.
func (d *Debouncer) Quiet() time.Duration {
	return d.quiet
}

// Schedule arms fn for key, replacing any function pending for that key.
// Returns true if an earlier pending call was replaced.
// After Stop, Schedule does nothing and returns false.
func (d *Debouncer) Schedule(key string, fn func()) (replaced bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return false
	}

	if prev, ok := d.pending[key]; ok {
		prev.timer.Stop()
		replaced = true
	}

	d.gen++
	gen := d.gen
	e := &entry{fn: fn, gen: gen}
	e.timer = d.clock.AfterFunc(d.quiet, func() { d.fire(key, gen) })
	d.pending[key] = e
	return replaced
}

// fire runs the function armed for key if it is still the current arming.
func (d *Debouncer) fire(key string, gen uint64) {
	d.mu.Lock()
	e, ok := d.pending[key]
	if !ok || e.gen != gen {
		d.mu.Unlock()
		return
	}
	delete(d.pending, key)
	d.running.Add(1)
	d.mu.Unlock()

	d.run(key, e.fn)
}

func (d *Debouncer) run(key string, fn func()) {
	defer d.running.Done()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("debounced call panicked", "key", key, "panic", r)
		}
	}()
	fn()
}

// Pending reports whether key has an armed timer.
func (d *Debouncer) Pending(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pending[key]
	return ok
}

// Len returns the number of armed timers.
func (d *Debouncer) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Flush cancels every armed timer and runs its function now, on the calling
// goroutine, in no particular order. Returns the number of functions run.
func (d *Debouncer) Flush() int {
	d.mu.Lock()
	due := make(map[string]func(), len(d.pending))
	for key, e := range d.pending {
		e.timer.Stop()
		due[key] = e.fn
	}
	clear(d.pending)
	d.running.Add(len(due))
	d.mu.Unlock()

	for key, fn := range due {
		d.run(key, fn)
	}
	return len(due)
}

// Stop cancels every armed timer without running it and makes later
// Schedule calls no-ops. Returns the number of calls abandoned.
func (d *Debouncer) Stop() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := len(d.pending)
	for _, e := range d.pending {
		e.timer.Stop()
	}
	clear(d.pending)
	d.stopped = true
	return n
}

// Wait blocks until every function that has started running returns.
func (d *Debouncer) Wait() {
	d.running.Wait()
}
