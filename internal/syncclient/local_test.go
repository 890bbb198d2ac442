package syncclient

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lessonstate/internal/state"
	"github.com/roach88/lessonstate/internal/store"
	"github.com/roach88/lessonstate/internal/testutil"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestLocal(t *testing.T) (*Local, *store.Store, *testutil.FakeClock) {
	t.Helper()
	clk := testutil.NewFakeClock(time.Time{})
	st, err := store.Open(":memory:", store.WithClock(clk))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return NewLocal(st, discardLogger()), st, clk
}

func TestLocal_FetchEmptyLesson(t *testing.T) {
	c, _, _ := newTestLocal(t)

	states, err := c.FetchStates(context.Background(), "u1", "L1")
	require.NoError(t, err)
	assert.NotNil(t, states)
	assert.Empty(t, states)
}

func TestLocal_PushThenFetch(t *testing.T) {
	c, _, clk := newTestLocal(t)
	ctx := context.Background()

	require.NoError(t, c.PushState(ctx, "u1", "L1", "E1", json.RawMessage(`{"typed":"S3"}`), clk.Now()))

	states, err := c.FetchStates(ctx, "u1", "L1")
	require.NoError(t, err)
	require.Contains(t, states, "E1")
	assert.JSONEq(t, `{"typed":"S3"}`, string(states["E1"]))
}

func TestLocal_PushTwiceLeavesOneRecord(t *testing.T) {
	c, st, clk := newTestLocal(t)
	ctx := context.Background()

	require.NoError(t, c.PushState(ctx, "u1", "L1", "E1", json.RawMessage(`1`), clk.Now()))
	clk.Advance(time.Second)
	require.NoError(t, c.PushState(ctx, "u1", "L1", "E1", json.RawMessage(`1`), clk.Now()))

	records, err := st.ListLesson(ctx, "u1", "L1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].UpdatedAt.Equal(testutil.DefaultEpoch.Add(time.Second)))
}

func TestLocal_MalformedRecordIsolated(t *testing.T) {
	c, st, _ := newTestLocal(t)
	ctx := context.Background()

	_, err := st.DB().Exec(`
		INSERT INTO exercise_states (identity, exercise_id, lesson_id, state, updated_at, written_at)
		VALUES
			('u1', 'E1', 'L1', '{"v":1}', 1, 1),
			('u1', 'E2', 'L1', '{"v":', 1, 1),
			('u1', 'E3', 'L1', '{"v":3}', 1, 1)
	`)
	require.NoError(t, err)

	var states map[string]json.RawMessage
	require.NotPanics(t, func() {
		states, err = c.FetchStates(ctx, "u1", "L1")
	})
	require.NoError(t, err)

	assert.Len(t, states, 2)
	assert.JSONEq(t, `{"v":1}`, string(states["E1"]))
	assert.JSONEq(t, `{"v":3}`, string(states["E3"]))
	assert.NotContains(t, states, "E2")
}

func TestLocal_GuestFetchesNothing(t *testing.T) {
	c, _, clk := newTestLocal(t)
	ctx := context.Background()
	require.NoError(t, c.PushState(ctx, "u1", "L1", "E1", json.RawMessage(`1`), clk.Now()))

	states, err := c.FetchStates(ctx, state.Guest, "L1")
	require.NoError(t, err)
	assert.Empty(t, states)
}

func TestLocal_GuestCannotPush(t *testing.T) {
	c, _, clk := newTestLocal(t)
	err := c.PushState(context.Background(), state.Guest, "L1", "E1", json.RawMessage(`1`), clk.Now())
	assert.ErrorIs(t, err, ErrNoIdentity)
}

func TestLocal_PushInvalidState(t *testing.T) {
	c, _, clk := newTestLocal(t)
	err := c.PushState(context.Background(), "u1", "L1", "E1", json.RawMessage(`{`), clk.Now())
	assert.ErrorIs(t, err, state.ErrInvalidState)
}

func TestPush_TagsOutcome(t *testing.T) {
	ctx := context.Background()
	at := testutil.DefaultEpoch

	ok := Push(ctx, testutil.NewRecordingClient(nil), "u1", "L1", "E1", json.RawMessage(`1`), at)
	assert.True(t, ok.OK())
	assert.Equal(t, "ok", ok.Outcome.String())
	assert.Equal(t, at, ok.At)

	failing := testutil.NewRecordingClient(nil)
	failing.SetPushErr(assert.AnError)
	failed := Push(ctx, failing, "u1", "L1", "E1", json.RawMessage(`1`), at)
	assert.False(t, failed.OK())
	assert.Equal(t, OutcomePersistFailed, failed.Outcome)
	assert.Equal(t, "persist_failed", failed.Outcome.String())
	assert.ErrorIs(t, failed.Err, assert.AnError)
}
