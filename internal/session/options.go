package session

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/lessonstate/internal/clock"
	"github.com/roach88/lessonstate/internal/debounce"
	"github.com/roach88/lessonstate/internal/syncclient"
)

// DefaultPushTimeout bounds one debounced push.
const DefaultPushTimeout = 10 * time.Second

// CloseMode selects what Close does with pushes still waiting on their timer.
type CloseMode int

const (
	// CloseDetach leaves pending pushes armed; they fire in the background
	// after the session ends. This is the baseline behavior.
	CloseDetach CloseMode = iota

	// CloseFlush fires every pending push synchronously before Close returns.
	CloseFlush

	// CloseAbandon drops pending pushes. The last quiet interval of edits
	// is lost, as when the hosting runtime is torn down.
	CloseAbandon
)

// String returns the mode name used in configuration.
func (m CloseMode) String() string {
	switch m {
	case CloseDetach:
		return "detach"
	case CloseFlush:
		return "flush"
	case CloseAbandon:
		return "abandon"
	default:
		return fmt.Sprintf("closemode(%d)", int(m))
	}
}

// ParseCloseMode parses "detach", "flush" or "abandon".
func ParseCloseMode(s string) (CloseMode, error) {
	switch s {
	case "", "detach":
		return CloseDetach, nil
	case "flush":
		return CloseFlush, nil
	case "abandon":
		return CloseAbandon, nil
	default:
		return CloseDetach, fmt.Errorf("unknown close mode %q: must be detach, flush or abandon", s)
	}
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock sets the clock used for push timestamps and, unless
// WithDebouncer is given, for debounce timers.
func WithClock(c clock.Clock) Option {
	return func(cache *Cache) {
		cache.clock = c
	}
}

// WithQuiet sets the debounce quiet interval (default debounce.DefaultQuiet).
// Ignored when WithDebouncer is given.
func WithQuiet(d time.Duration) Option {
	return func(cache *Cache) {
		cache.quiet = d
	}
}

// WithDebouncer supplies the debouncer. A debouncer shared between caches
// must only be used with CloseDetach, since Flush and Stop act on every key.
func WithDebouncer(d *debounce.Debouncer) Option {
	return func(cache *Cache) {
		cache.debouncer = d
	}
}

// WithLogger sets the base logger. Session and lesson ids are attached.
func WithLogger(l *slog.Logger) Option {
	return func(cache *Cache) {
		cache.logger = l
	}
}

// WithSessionID sets the id attached to log lines (default: random UUID).
func WithSessionID(id string) Option {
	return func(cache *Cache) {
		cache.sessionID = id
	}
}

// WithHydrateTimeout bounds the hydration fetch. When it expires the cache
// hydrates empty, as for any other fetch failure. Zero means no bound.
func WithHydrateTimeout(d time.Duration) Option {
	return func(cache *Cache) {
		cache.hydrateTimeout = d
	}
}

// WithPushTimeout bounds each debounced push (default DefaultPushTimeout).
func WithPushTimeout(d time.Duration) Option {
	return func(cache *Cache) {
		cache.pushTimeout = d
	}
}

// WithCloseMode selects Close behavior (default CloseDetach).
func WithCloseMode(m CloseMode) Option {
	return func(cache *Cache) {
		cache.closeMode = m
	}
}

// WithPushObserver registers a callback receiving every push Result.
// It runs on the goroutine that fired the push.
func WithPushObserver(fn func(syncclient.Result)) Option {
	return func(cache *Cache) {
		cache.observer = fn
	}
}
