package store

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/roach88/lessonstate/internal/state"
	"github.com/roach88/lessonstate/internal/testutil"
)

// createTestStore creates a new file-backed store driven by a fake clock.
func createTestStore(t *testing.T) (*Store, *testutil.FakeClock) {
	t.Helper()
	clk := testutil.NewFakeClock(testutil.DefaultEpoch)
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithClock(clk))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, clk
}

// createTestRecord creates a record with minimal required fields.
func createTestRecord(identity, lessonID, exerciseID, stateJSON string) state.Record {
	return state.Record{
		Identity:   state.Identity(identity),
		LessonID:   lessonID,
		ExerciseID: exerciseID,
		State:      json.RawMessage(stateJSON),
	}
}
