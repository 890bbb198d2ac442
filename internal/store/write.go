package store

import (
	"context"
	"fmt"

	"github.com/roach88/lessonstate/internal/state"
)

// Upsert inserts or updates the record for (rec.Identity, rec.ExerciseID).
//
// Uses ON CONFLICT(identity, exercise_id) DO UPDATE so that repeating a push
// leaves exactly one row. The update is guarded by written_at: a push issued
// before the stored one is ignored and reported with applied=false.
//
// updated_at is taken from the store clock and bumped by one nanosecond when
// the clock has not advanced, so every applied upsert is observable.
//
// A zero rec.WrittenAt is replaced by the store clock.
func (s *Store) Upsert(ctx context.Context, rec state.Record) (state.Record, bool, error) {
	rec, err := state.NormalizeRecord(rec)
	if err != nil {
		return state.Record{}, false, fmt.Errorf("upsert: %w", err)
	}

	now := s.clock.Now()
	if rec.WrittenAt.IsZero() {
		rec.WrittenAt = now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return state.Record{}, false, fmt.Errorf("upsert: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	result, err := tx.ExecContext(ctx, `
		INSERT INTO exercise_states
		(identity, exercise_id, lesson_id, state, updated_at, written_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(identity, exercise_id) DO UPDATE SET
			lesson_id  = excluded.lesson_id,
			state      = excluded.state,
			updated_at = MAX(excluded.updated_at, exercise_states.updated_at + 1),
			written_at = excluded.written_at
		WHERE excluded.written_at >= exercise_states.written_at
	`,
		string(rec.Identity),
		rec.ExerciseID,
		rec.LessonID,
		string(rec.State),
		now.UnixNano(),
		rec.WrittenAt.UnixNano(),
	)
	if err != nil {
		return state.Record{}, false, fmt.Errorf("upsert: exec: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return state.Record{}, false, fmt.Errorf("upsert: rows affected: %w", err)
	}

	stored, err := scanRecord(tx.QueryRowContext(ctx, selectRecord+`
		WHERE identity = ? AND exercise_id = ?
	`, string(rec.Identity), rec.ExerciseID))
	if err != nil {
		return state.Record{}, false, fmt.Errorf("upsert: select stored: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return state.Record{}, false, fmt.Errorf("upsert: commit: %w", err)
	}

	return stored, rowsAffected > 0, nil
}
