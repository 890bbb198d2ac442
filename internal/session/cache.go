package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/lessonstate/internal/clock"
	"github.com/roach88/lessonstate/internal/debounce"
	"github.com/roach88/lessonstate/internal/metrics"
	"github.com/roach88/lessonstate/internal/state"
	"github.com/roach88/lessonstate/internal/syncclient"
)

// Cache holds the exercise states of one lesson for one identity.
//
// Exercise ids are compared in NFC form, the same form the stores persist,
// so composed and decomposed spellings address one entry.
type Cache struct {
	lessonID  string
	identity  state.Identity
	client    syncclient.Client
	sessionID string

	clock          clock.Clock
	quiet          time.Duration
	debouncer      *debounce.Debouncer
	logger         *slog.Logger
	hydrateTimeout time.Duration
	pushTimeout    time.Duration
	closeMode      CloseMode
	observer       func(syncclient.Result)

	hydrateOnce sync.Once
	ready       chan struct{}

	mu       sync.RWMutex
	states   map[string]json.RawMessage
	lastPush map[string]syncclient.Result
	hydrated bool
	closed   bool
}

// New creates an unhydrated cache for lessonID. The client is only used
// when identity is not the guest identity.
func New(lessonID string, identity state.Identity, client syncclient.Client, opts ...Option) *Cache {
	c := &Cache{
		lessonID:    lessonID,
		identity:    identity,
		client:      client,
		clock:       clock.New(),
		quiet:       debounce.DefaultQuiet,
		pushTimeout: DefaultPushTimeout,
		ready:       make(chan struct{}),
		states:      make(map[string]json.RawMessage),
		lastPush:    make(map[string]syncclient.Result),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.sessionID == "" {
		c.sessionID = uuid.NewString()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("session_id", c.sessionID, "lesson_id", lessonID)
	if c.debouncer == nil {
		c.debouncer = debounce.New(c.quiet, debounce.WithClock(c.clock), debounce.WithLogger(c.logger))
	}
	return c
}

// LessonID returns the lesson this cache belongs to.
func (c *Cache) LessonID() string {
	return c.lessonID
}

// Identity returns the identity this cache reads and writes as.
func (c *Cache) Identity() state.Identity {
	return c.identity
}

// SessionID returns the id attached to this cache's log lines.
func (c *Cache) SessionID() string {
	return c.sessionID
}

// Hydrate loads the lesson's saved states with one bulk fetch and opens the
// hydration gate. Concurrent and repeated calls share the first call's work;
// the client is asked at most once per cache.
//
// Fetch failures are logged and the cache hydrates empty, so Hydrate only
// returns an error when the cache was closed before hydration started.
func (c *Cache) Hydrate(ctx context.Context) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed && !c.Hydrated() {
		return ErrClosed
	}

	c.hydrateOnce.Do(func() {
		c.hydrate(ctx)
	})
	return nil
}

func (c *Cache) hydrate(ctx context.Context) {
	var fetched map[string]json.RawMessage

	if c.identity.IsGuest() {
		metrics.Hydrations.WithLabelValues(metrics.OutcomeGuest).Inc()
		c.logger.Debug("guest session, skipping fetch")
	} else {
		fctx := ctx
		if c.hydrateTimeout > 0 {
			var cancel context.CancelFunc
			fctx, cancel = context.WithTimeout(ctx, c.hydrateTimeout)
			defer cancel()
		}

		states, err := c.client.FetchStates(fctx, c.identity, c.lessonID)
		switch {
		case err == nil:
			fetched = states
			metrics.Hydrations.WithLabelValues(metrics.OutcomeOK).Inc()
			c.logger.Debug("hydrated", "exercises", len(states))
		case errors.Is(err, context.DeadlineExceeded):
			metrics.Hydrations.WithLabelValues(metrics.OutcomeTimeout).Inc()
			c.logger.Warn("hydrate timed out, starting empty", "timeout", c.hydrateTimeout)
		default:
			metrics.Hydrations.WithLabelValues(metrics.OutcomeFailed).Inc()
			c.logger.Warn("hydrate failed, starting empty", "error", err)
		}
	}

	c.mu.Lock()
	for exerciseID, st := range fetched {
		exerciseID = state.CanonicalKey(exerciseID)
		// A local write made while the fetch was in flight is newer.
		if _, written := c.states[exerciseID]; !written {
			c.states[exerciseID] = st
		}
	}
	c.hydrated = true
	c.mu.Unlock()
	close(c.ready)
}

// Hydrated reports whether the hydration gate is open.
func (c *Cache) Hydrated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hydrated
}

// Ready returns a channel closed once hydration completes.
func (c *Cache) Ready() <-chan struct{} {
	return c.ready
}

// Wait blocks until the cache is hydrated or ctx ends.
func (c *Cache) Wait(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	default:
	}
	select {
	case <-c.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Read returns the cached state for exerciseID. The second result is false
// when no state is cached (the exercise uses its initial state).
func (c *Cache) Read(exerciseID string) (json.RawMessage, bool) {
	exerciseID = state.CanonicalKey(exerciseID)
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.states[exerciseID]
	if !ok {
		return nil, false
	}
	return clone(st), true
}

// States returns a copy of every cached state.
func (c *Cache) States() map[string]json.RawMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]json.RawMessage, len(c.states))
	for k, v := range c.states {
		out[k] = clone(v)
	}
	return out
}

// Write replaces the cached state for exerciseID and, for signed-in
// identities, arms a debounced push for that exercise. It never blocks on
// I/O. Writes to a closed cache update memory only.
func (c *Cache) Write(exerciseID string, st json.RawMessage) {
	exerciseID = state.CanonicalKey(exerciseID)
	c.mu.Lock()
	c.states[exerciseID] = clone(st)
	closed := c.closed
	c.mu.Unlock()

	if c.identity.IsGuest() || closed {
		return
	}
	if c.debouncer.Schedule(exerciseID, func() { c.push(exerciseID) }) {
		metrics.WritesCoalesced.Inc()
	}
}

// push sends the state cached for exerciseID at fire time.
func (c *Cache) push(exerciseID string) {
	c.mu.RLock()
	st, ok := c.states[exerciseID]
	c.mu.RUnlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.pushTimeout)
	defer cancel()

	res := syncclient.Push(ctx, c.client, c.identity, c.lessonID, exerciseID, st, c.clock.Now())
	metrics.Pushes.WithLabelValues(res.Outcome.String()).Inc()
	if res.OK() {
		c.logger.Debug("pushed", "exercise_id", exerciseID)
	} else {
		c.logger.Warn("push failed", "exercise_id", exerciseID, "error", res.Err)
	}

	c.mu.Lock()
	c.lastPush[exerciseID] = res
	c.mu.Unlock()

	if c.observer != nil {
		c.observer(res)
	}
}

// LastPush returns the result of the most recent push for exerciseID.
func (c *Cache) LastPush(exerciseID string) (syncclient.Result, bool) {
	exerciseID = state.CanonicalKey(exerciseID)
	c.mu.RLock()
	defer c.mu.RUnlock()
	res, ok := c.lastPush[exerciseID]
	return res, ok
}

// PushResults returns a copy of the latest push result per exercise.
func (c *Cache) PushResults() map[string]syncclient.Result {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.lastPush)
}

// Pending reports whether a push for exerciseID is waiting on its timer.
func (c *Cache) Pending(exerciseID string) bool {
	return c.debouncer.Pending(state.CanonicalKey(exerciseID))
}

// PendingPushes returns the number of pushes waiting on their timer.
func (c *Cache) PendingPushes() int {
	return c.debouncer.Len()
}

// Close ends the session according to its CloseMode. With CloseFlush it
// waits, bounded by ctx, for the flushed pushes to finish. Closing twice
// is a no-op.
func (c *Cache) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	switch c.closeMode {
	case CloseFlush:
		n := c.debouncer.Flush()
		c.logger.Debug("session closed", "mode", c.closeMode, "flushed", n)
		return c.waitPushes(ctx)
	case CloseAbandon:
		n := c.debouncer.Stop()
		metrics.PushesAbandoned.Add(float64(n))
		if n > 0 {
			c.logger.Info("session closed with unsent edits", "abandoned", n)
		}
	default:
		c.logger.Debug("session closed", "mode", c.closeMode, "pending", c.debouncer.Len())
	}
	return nil
}

func (c *Cache) waitPushes(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.debouncer.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func clone(st json.RawMessage) json.RawMessage {
	if st == nil {
		return nil
	}
	return append(json.RawMessage(nil), st...)
}
