package store

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lessonstate/internal/testutil"
)

// createTestRedisStore returns a store on an in-process miniredis server.
// Setting LESSONSTATE_TEST_REDIS_URL runs the same tests against a real
// server instead. Each test gets its own key prefix so runs never collide.
func createTestRedisStore(t *testing.T) (*RedisStore, *testutil.FakeClock) {
	t.Helper()
	clk := testutil.NewFakeClock(testutil.DefaultEpoch)
	opts := []Option{
		WithClock(clk),
		WithKeyPrefix("lessonstate-test-" + uuid.NewString()),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}

	var s *RedisStore
	if url := os.Getenv("LESSONSTATE_TEST_REDIS_URL"); url != "" {
		var err error
		s, err = OpenRedis(context.Background(), url, opts...)
		require.NoError(t, err)
	} else {
		mr := miniredis.RunT(t)
		s = NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), opts...)
	}
	t.Cleanup(func() { s.Close() })
	return s, clk
}

func TestRedisStore_IdempotentUpsert(t *testing.T) {
	s, clk := createTestRedisStore(t)
	ctx := context.Background()
	rec := createTestRecord("u1", "L1", "E1", `{"v":1}`)

	first, applied, err := s.Upsert(ctx, rec)
	require.NoError(t, err)
	assert.True(t, applied)

	clk.Advance(time.Second)
	second, applied, err := s.Upsert(ctx, rec)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))

	records, err := s.ListLesson(ctx, "u1", "L1")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestRedisStore_StalePushNotApplied(t *testing.T) {
	s, clk := createTestRedisStore(t)
	ctx := context.Background()

	newer := createTestRecord("u1", "L1", "E1", `"newer"`)
	newer.WrittenAt = clk.Now().Add(time.Second)
	_, _, err := s.Upsert(ctx, newer)
	require.NoError(t, err)

	older := createTestRecord("u1", "L1", "E1", `"older"`)
	older.WrittenAt = clk.Now()
	stored, applied, err := s.Upsert(ctx, older)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.JSONEq(t, `"newer"`, string(stored.State))
}

func TestRedisStore_LessonMoveUpdatesIndex(t *testing.T) {
	s, _ := createTestRedisStore(t)
	ctx := context.Background()

	_, _, err := s.Upsert(ctx, createTestRecord("u1", "L1", "E1", `1`))
	require.NoError(t, err)
	_, _, err = s.Upsert(ctx, createTestRecord("u1", "L2", "E1", `2`))
	require.NoError(t, err)

	l1, err := s.ListLesson(ctx, "u1", "L1")
	require.NoError(t, err)
	assert.Empty(t, l1)

	l2, err := s.ListLesson(ctx, "u1", "L2")
	require.NoError(t, err)
	require.Len(t, l2, 1)
	assert.JSONEq(t, `2`, string(l2[0].State))
}

func TestRedisStore_GetNotFound(t *testing.T) {
	s, _ := createTestRedisStore(t)
	_, err := s.Get(context.Background(), "u1", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_IdentityBoundaryIsUnambiguous(t *testing.T) {
	s, _ := createTestRedisStore(t)
	ctx := context.Background()

	_, _, err := s.Upsert(ctx, createTestRecord("alice", "L1", "x:y", `"alice-secret"`))
	require.NoError(t, err)

	_, err = s.Get(ctx, "alice:x", "y")
	assert.ErrorIs(t, err, ErrNotFound)

	_, _, err = s.Upsert(ctx, createTestRecord("alice:x", "L1", "y", `"other"`))
	require.NoError(t, err)

	mine, err := s.Get(ctx, "alice", "x:y")
	require.NoError(t, err)
	assert.JSONEq(t, `"alice-secret"`, string(mine.State))

	theirs, err := s.Get(ctx, "alice:x", "y")
	require.NoError(t, err)
	assert.JSONEq(t, `"other"`, string(theirs.State))
}

func TestRedisStore_LessonIndexIsPerIdentity(t *testing.T) {
	s, _ := createTestRedisStore(t)
	ctx := context.Background()

	_, _, err := s.Upsert(ctx, createTestRecord("alice", "x:L1", "E1", `1`))
	require.NoError(t, err)
	_, _, err = s.Upsert(ctx, createTestRecord("alice:x", "L1", "E2", `2`))
	require.NoError(t, err)

	members, err := s.client.SMembers(ctx, s.lessonKeyPrefix("alice:x")+"L1").Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"E2"}, members)

	records, err := s.ListLesson(ctx, "alice", "x:L1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "E1", records[0].ExerciseID)

	records, err = s.ListLesson(ctx, "alice:x", "L1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "E2", records[0].ExerciseID)
}

func TestRedisStore_UnreadableRecordIsSkipped(t *testing.T) {
	s, _ := createTestRedisStore(t)
	ctx := context.Background()

	_, _, err := s.Upsert(ctx, createTestRecord("u1", "L1", "E1", `1`))
	require.NoError(t, err)
	_, _, err = s.Upsert(ctx, createTestRecord("u1", "L1", "E2", `2`))
	require.NoError(t, err)

	require.NoError(t, s.client.HSet(ctx, s.recordKey("u1", "E1"), "written_at", "yesterday").Err())

	records, err := s.ListLesson(ctx, "u1", "L1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "E2", records[0].ExerciseID)

	_, err = s.Get(ctx, "u1", "E1")
	assert.Error(t, err)
}
