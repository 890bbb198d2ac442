package binding

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/lessonstate/internal/state"
)

// Binding is the read/write handle for one exercise's state. Bindings come
// from Lesson.Bind; a zero Binding refuses saves with ErrNotHydrated.
type Binding struct {
	ExerciseID string

	// SavedState is the state cached when the binding was created, or nil
	// if the exercise has no saved progress.
	SavedState json.RawMessage

	save func(exerciseID string, st json.RawMessage)
}

// HasSaved reports whether the exercise has saved progress.
func (b Binding) HasSaved() bool {
	return b.SavedState != nil
}

// Save encodes v and writes it to the session cache. The returned error is
// only ever an encoding error; persistence is asynchronous and best-effort.
func (b Binding) Save(v any) error {
	if b.save == nil {
		return fmt.Errorf("save %s: %w", b.ExerciseID, ErrNotHydrated)
	}
	raw, err := state.Encode(v)
	if err != nil {
		return fmt.Errorf("save %s: %w", b.ExerciseID, err)
	}
	b.save(b.ExerciseID, raw)
	return nil
}

// SaveRaw writes an already-encoded state after checking it is valid JSON.
func (b Binding) SaveRaw(raw json.RawMessage) error {
	if b.save == nil {
		return fmt.Errorf("save %s: %w", b.ExerciseID, ErrNotHydrated)
	}
	if err := state.ValidateState(raw); err != nil {
		return fmt.Errorf("save %s: %w", b.ExerciseID, err)
	}
	b.save(b.ExerciseID, raw)
	return nil
}

// Decode unmarshals SavedState into dst. It returns false without touching
// dst when there is no saved state.
func (b Binding) Decode(dst any) (bool, error) {
	if b.SavedState == nil {
		return false, nil
	}
	if err := json.Unmarshal(b.SavedState, dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", b.ExerciseID, err)
	}
	return true, nil
}

// Load decodes the saved state of b as a T.
func Load[T any](b Binding) (T, bool, error) {
	var v T
	ok, err := b.Decode(&v)
	return v, ok, err
}
