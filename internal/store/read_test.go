package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lessonstate/internal/state"
)

func TestListLesson_EmptyIsNotNil(t *testing.T) {
	s, _ := createTestStore(t)

	records, err := s.ListLesson(context.Background(), "u1", "L1")
	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)
}

func TestListLesson_FiltersByIdentityAndLesson(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	for _, rec := range []state.Record{
		createTestRecord("u1", "L1", "E2", `2`),
		createTestRecord("u1", "L1", "E1", `1`),
		createTestRecord("u1", "L2", "E3", `3`),
		createTestRecord("u2", "L1", "E4", `4`),
	} {
		_, _, err := s.Upsert(ctx, rec)
		require.NoError(t, err)
	}

	records, err := s.ListLesson(ctx, "u1", "L1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "E1", records[0].ExerciseID, "ordered by exercise_id")
	assert.Equal(t, "E2", records[1].ExerciseID)
}

func TestListLesson_ReturnsCorruptedRowsVerbatim(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	_, err := s.db.Exec(`
		INSERT INTO exercise_states (identity, exercise_id, lesson_id, state, updated_at, written_at)
		VALUES ('u1', 'E1', 'L1', '{"v":', 1, 1)
	`)
	require.NoError(t, err)

	records, err := s.ListLesson(ctx, "u1", "L1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, `{"v":`, string(records[0].State))
}

func TestListLesson_GuestHasNoRecords(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	_, _, err := s.Upsert(ctx, createTestRecord("u1", "L1", "E1", `1`))
	require.NoError(t, err)

	records, err := s.ListLesson(ctx, state.Guest, "L1")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestListLesson_InvalidLesson(t *testing.T) {
	s, _ := createTestStore(t)
	_, err := s.ListLesson(context.Background(), "u1", "")
	assert.ErrorIs(t, err, state.ErrInvalidKey)
}

func TestGet_NotFound(t *testing.T) {
	s, _ := createTestStore(t)
	_, err := s.Get(context.Background(), "u1", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGet_NormalizesExerciseID(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	_, _, err := s.Upsert(ctx, createTestRecord("u1", "L1", "caf\u00e9", `1`))
	require.NoError(t, err)

	rec, err := s.Get(ctx, "u1", "cafe\u0301")
	require.NoError(t, err)
	assert.Equal(t, "caf\u00e9", rec.ExerciseID)
}
