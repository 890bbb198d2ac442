package syncclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/roach88/lessonstate/internal/metrics"
	"github.com/roach88/lessonstate/internal/state"
	"github.com/roach88/lessonstate/internal/store"
)

// Local is a Client that calls a StateStore in-process.
type Local struct {
	store  store.StateStore
	logger *slog.Logger
}

var _ Client = (*Local)(nil)

// NewLocal creates a Local client over st. A nil logger uses slog.Default().
func NewLocal(st store.StateStore, logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{store: st, logger: logger}
}

// FetchStates implements Client.
func (c *Local) FetchStates(ctx context.Context, id state.Identity, lessonID string) (map[string]json.RawMessage, error) {
	if id.IsGuest() {
		return map[string]json.RawMessage{}, nil
	}

	records, err := c.store.ListLesson(ctx, id, lessonID)
	if err != nil {
		return nil, fmt.Errorf("fetch states: %w", err)
	}
	return foldRecords(c.logger, lessonID, records), nil
}

// PushState implements Client.
func (c *Local) PushState(ctx context.Context, id state.Identity, lessonID, exerciseID string, st json.RawMessage, writtenAt time.Time) error {
	if id.IsGuest() {
		return fmt.Errorf("push state: %w", ErrNoIdentity)
	}

	_, applied, err := c.store.Upsert(ctx, state.Record{
		Identity:   id,
		LessonID:   lessonID,
		ExerciseID: exerciseID,
		State:      st,
		WrittenAt:  writtenAt,
	})
	if err != nil {
		return fmt.Errorf("push state: %w", err)
	}
	metrics.Upserts.WithLabelValues(strconv.FormatBool(applied)).Inc()
	return nil
}

// foldRecords maps records by exercise, logging and counting skipped ones.
func foldRecords(logger *slog.Logger, lessonID string, records []state.Record) map[string]json.RawMessage {
	states, skipped := state.StatesByExercise(records)
	for _, s := range skipped {
		metrics.RecordsSkipped.Inc()
		logger.Warn("skipping malformed stored state",
			"lesson_id", lessonID,
			"exercise_id", s.ExerciseID,
			"error", s.Err,
		)
	}
	return states
}
