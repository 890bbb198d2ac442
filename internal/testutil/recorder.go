package testutil

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/roach88/lessonstate/internal/state"
)

// SyncClient mirrors syncclient.Client so this package can wrap one
// without importing it.
type SyncClient interface {
	FetchStates(ctx context.Context, id state.Identity, lessonID string) (map[string]json.RawMessage, error)
	PushState(ctx context.Context, id state.Identity, lessonID, exerciseID string, st json.RawMessage, writtenAt time.Time) error
}

// Push is one recorded PushState call.
type Push struct {
	Identity   state.Identity  `json:"identity"`
	LessonID   string          `json:"lesson_id"`
	ExerciseID string          `json:"exercise_id"`
	State      json.RawMessage `json:"state"`
	WrittenAt  time.Time       `json:"written_at"`
}

// Fetch is one recorded FetchStates call.
type Fetch struct {
	Identity state.Identity `json:"identity"`
	LessonID string         `json:"lesson_id"`
}

// RecordingClient records every call and optionally forwards to an inner
// client. Without an inner client, fetches return an empty mapping and
// pushes succeed.
//
// Failures can be injected with SetFetchErr, SetPushErr and SetBlockFetch.
// Failed calls are still recorded.
//
// Thread-safety: All methods are safe for concurrent use.
type RecordingClient struct {
	inner SyncClient

	mu         sync.Mutex
	fetches    []Fetch
	pushes     []Push
	fetchErr   error
	pushErr    error
	blockFetch bool
}

// NewRecordingClient wraps inner, which may be nil.
func NewRecordingClient(inner SyncClient) *RecordingClient {
	return &RecordingClient{inner: inner}
}

// FetchStates records the call and forwards it.
func (c *RecordingClient) FetchStates(ctx context.Context, id state.Identity, lessonID string) (map[string]json.RawMessage, error) {
	c.mu.Lock()
	c.fetches = append(c.fetches, Fetch{Identity: id, LessonID: lessonID})
	fetchErr, block := c.fetchErr, c.blockFetch
	c.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if fetchErr != nil {
		return nil, fetchErr
	}
	if c.inner == nil {
		return map[string]json.RawMessage{}, nil
	}
	return c.inner.FetchStates(ctx, id, lessonID)
}

// PushState records the call and forwards it.
func (c *RecordingClient) PushState(ctx context.Context, id state.Identity, lessonID, exerciseID string, st json.RawMessage, writtenAt time.Time) error {
	c.mu.Lock()
	c.pushes = append(c.pushes, Push{
		Identity:   id,
		LessonID:   lessonID,
		ExerciseID: exerciseID,
		State:      append(json.RawMessage(nil), st...),
		WrittenAt:  writtenAt,
	})
	pushErr := c.pushErr
	c.mu.Unlock()

	if pushErr != nil {
		return pushErr
	}
	if c.inner == nil {
		return nil
	}
	return c.inner.PushState(ctx, id, lessonID, exerciseID, st, writtenAt)
}

// Pushes returns a copy of the recorded pushes in call order.
func (c *RecordingClient) Pushes() []Push {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Push(nil), c.pushes...)
}

// PushesFor returns the recorded pushes for one exercise.
func (c *RecordingClient) PushesFor(exerciseID string) []Push {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Push
	for _, p := range c.pushes {
		if p.ExerciseID == exerciseID {
			out = append(out, p)
		}
	}
	return out
}

// Fetches returns a copy of the recorded fetches in call order.
func (c *RecordingClient) Fetches() []Fetch {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Fetch(nil), c.fetches...)
}

// SetFetchErr makes subsequent fetches fail with err (nil clears).
func (c *RecordingClient) SetFetchErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetchErr = err
}

// SetPushErr makes subsequent pushes fail with err (nil clears).
func (c *RecordingClient) SetPushErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pushErr = err
}

// SetBlockFetch makes subsequent fetches hang until their context ends.
func (c *RecordingClient) SetBlockFetch(block bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blockFetch = block
}
