package syncclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/lessonstate/internal/state"
)

// ErrNoIdentity is returned when a push is attempted for the guest identity.
var ErrNoIdentity = errors.New("no identity")

// Client is what the session cache needs from the durable side.
type Client interface {
	// FetchStates returns exerciseId -> state for every record of
	// (id, lessonID). No records is an empty mapping, not an error.
	FetchStates(ctx context.Context, id state.Identity, lessonID string) (map[string]json.RawMessage, error)

	// PushState upserts one exercise state. Repeating a call leaves one record.
	PushState(ctx context.Context, id state.Identity, lessonID, exerciseID string, st json.RawMessage, writtenAt time.Time) error
}

// Outcome tags the result of a push.
type Outcome int

const (
	// OutcomeOK means the durable store accepted the push.
	OutcomeOK Outcome = iota
	// OutcomePersistFailed means the push was rejected or never arrived.
	OutcomePersistFailed
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomePersistFailed:
		return "persist_failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is the tagged outcome of one push.
type Result struct {
	LessonID   string
	ExerciseID string
	Outcome    Outcome
	Err        error
	At         time.Time
}

// OK reports whether the push was persisted.
func (r Result) OK() bool {
	return r.Outcome == OutcomeOK
}

// Push calls c.PushState and folds the error into a Result stamped at.
func Push(ctx context.Context, c Client, id state.Identity, lessonID, exerciseID string, st json.RawMessage, at time.Time) Result {
	res := Result{LessonID: lessonID, ExerciseID: exerciseID, Outcome: OutcomeOK, At: at}
	if err := c.PushState(ctx, id, lessonID, exerciseID, st, at); err != nil {
		res.Outcome = OutcomePersistFailed
		res.Err = err
	}
	return res
}
