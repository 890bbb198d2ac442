package state

import (
	"encoding/json"
	"fmt"
)

// ValidateState checks that raw is a single well-formed JSON value.
func ValidateState(raw json.RawMessage) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidState)
	}
	if !json.Valid(raw) {
		return fmt.Errorf("%w: malformed JSON", ErrInvalidState)
	}
	return nil
}

// Encode marshals v into a state value.
func Encode(v any) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return data, nil
}

// Skipped describes a stored record that could not be decoded.
type Skipped struct {
	ExerciseID string
	Err        error
}

// StatesByExercise folds records into an exerciseId -> state mapping.
//
// Records whose state is not valid JSON are left out and reported in skipped;
// one corrupted record never fails the whole fold. The result is never nil.
func StatesByExercise(records []Record) (states map[string]json.RawMessage, skipped []Skipped) {
	states = make(map[string]json.RawMessage, len(records))
	for _, r := range records {
		if err := ValidateState(r.State); err != nil {
			skipped = append(skipped, Skipped{ExerciseID: r.ExerciseID, Err: err})
			continue
		}
		states[r.ExerciseID] = r.State
	}
	return states, skipped
}
