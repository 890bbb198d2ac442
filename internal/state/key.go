package state

import (
	"errors"
	"fmt"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// MaxKeyLength bounds lesson and exercise identifiers in bytes.
const MaxKeyLength = 200

var (
	// ErrInvalidKey is returned for empty, oversized or malformed identifiers.
	ErrInvalidKey = errors.New("invalid key")

	// ErrInvalidState is returned when a state value is not valid JSON.
	ErrInvalidState = errors.New("invalid state")
)

// CanonicalKey returns the NFC form of key without validating it.
func CanonicalKey(key string) string {
	return norm.NFC.String(key)
}

// NormalizeKey returns the NFC form of an identifier and validates it.
//
// Content identifiers come from hand-edited catalogs, so the same exercise id
// may arrive composed or decomposed. NFC makes both forms address one record.
func NormalizeKey(kind, key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("%w: %s is empty", ErrInvalidKey, kind)
	}
	key = CanonicalKey(key)
	if len(key) > MaxKeyLength {
		return "", fmt.Errorf("%w: %s exceeds %d bytes", ErrInvalidKey, kind, MaxKeyLength)
	}
	for _, r := range key {
		if unicode.IsControl(r) {
			return "", fmt.Errorf("%w: %s contains control character %U", ErrInvalidKey, kind, r)
		}
	}
	return key, nil
}

// NormalizeRecord normalizes the identifiers of r and validates its state.
func NormalizeRecord(r Record) (Record, error) {
	var err error
	if r.Identity.IsGuest() {
		return Record{}, fmt.Errorf("%w: identity is empty", ErrInvalidKey)
	}
	if r.LessonID, err = NormalizeKey("lesson_id", r.LessonID); err != nil {
		return Record{}, err
	}
	if r.ExerciseID, err = NormalizeKey("exercise_id", r.ExerciseID); err != nil {
		return Record{}, err
	}
	if err := ValidateState(r.State); err != nil {
		return Record{}, err
	}
	return r, nil
}
