package state

import (
	"encoding/json"
	"time"
)

// Identity is the opaque principal whose progress is being read or written.
// It is used only as a partition key. The zero value is the guest identity.
type Identity string

// Guest is the absent identity. Caches bound to Guest never persist.
const Guest Identity = ""

// IsGuest reports whether the identity is absent.
func (id Identity) IsGuest() bool {
	return id == Guest
}

// String implements fmt.Stringer.
func (id Identity) String() string {
	return string(id)
}

// Record is the durable unit: one JSON blob per (identity, exercise).
type Record struct {
	Identity   Identity        `json:"identity"`
	LessonID   string          `json:"lesson_id"`
	ExerciseID string          `json:"exercise_id"`
	State      json.RawMessage `json:"state"`

	// UpdatedAt is assigned by the store on every applied upsert.
	UpdatedAt time.Time `json:"updated_at"`

	// WrittenAt is the client time at which the push was issued.
	// Upserts carrying an older WrittenAt than the stored one are not applied.
	WrittenAt time.Time `json:"written_at"`
}

// Key returns the uniqueness key of the record.
func (r Record) Key() Key {
	return Key{Identity: r.Identity, ExerciseID: r.ExerciseID}
}

// Key is the uniqueness key of a Record.
type Key struct {
	Identity   Identity
	ExerciseID string
}
