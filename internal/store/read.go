package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/lessonstate/internal/state"
)

const selectRecord = `
	SELECT identity, exercise_id, lesson_id, state, updated_at, written_at
	FROM exercise_states
`

// ListLesson returns all records for identity within lessonID.
// Results are ordered deterministically by exercise_id.
//
// State text is returned as stored, without validation: a corrupted row
// reaches the caller, which decides whether to skip it
// (see state.StatesByExercise).
//
// Returns an empty slice (not nil) if no records exist.
func (s *Store) ListLesson(ctx context.Context, id state.Identity, lessonID string) ([]state.Record, error) {
	lessonID, err := state.NormalizeKey("lesson_id", lessonID)
	if err != nil {
		return nil, fmt.Errorf("list lesson: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, selectRecord+`
		WHERE identity = ? AND lesson_id = ?
		ORDER BY exercise_id COLLATE BINARY ASC
	`, string(id), lessonID)
	if err != nil {
		return nil, fmt.Errorf("query lesson states: %w", err)
	}
	defer rows.Close()

	records := []state.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lesson states: %w", err)
	}

	return records, nil
}

// Get retrieves the record for (id, exerciseID).
// Returns ErrNotFound if no record exists.
func (s *Store) Get(ctx context.Context, id state.Identity, exerciseID string) (state.Record, error) {
	exerciseID, err := state.NormalizeKey("exercise_id", exerciseID)
	if err != nil {
		return state.Record{}, fmt.Errorf("get: %w", err)
	}

	rec, err := scanRecord(s.db.QueryRowContext(ctx, selectRecord+`
		WHERE identity = ? AND exercise_id = ?
	`, string(id), exerciseID))
	if errors.Is(err, sql.ErrNoRows) {
		return state.Record{}, ErrNotFound
	}
	if err != nil {
		return state.Record{}, fmt.Errorf("get: %w", err)
	}
	return rec, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanRecord scans one exercise_states row.
// sql.ErrNoRows is returned unwrapped so callers can test for it.
func scanRecord(row rowScanner) (state.Record, error) {
	var (
		identity, stateText string
		rec                 state.Record
		updatedAt, written  int64
	)
	err := row.Scan(&identity, &rec.ExerciseID, &rec.LessonID, &stateText, &updatedAt, &written)
	if errors.Is(err, sql.ErrNoRows) {
		return state.Record{}, err
	}
	if err != nil {
		return state.Record{}, fmt.Errorf("scan exercise state: %w", err)
	}
	rec.Identity = state.Identity(identity)
	rec.State = []byte(stateText)
	rec.UpdatedAt = fromUnixNano(updatedAt)
	rec.WrittenAt = fromUnixNano(written)
	return rec, nil
}

func fromUnixNano(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
