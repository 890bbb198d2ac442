package syncclient

import (
	"time"

	"github.com/roach88/lessonstate/internal/state"
)

// WireRecord is the JSON form of a state.Record on the HTTP surface.
// State travels as JSON text so one corrupted record cannot break decoding
// of the whole response.
type WireRecord struct {
	ExerciseID string    `json:"exercise_id"`
	LessonID   string    `json:"lesson_id"`
	State      string    `json:"state"`
	UpdatedAt  time.Time `json:"updated_at"`
	WrittenAt  time.Time `json:"written_at"`
}

// FetchResponse is the body of GET /v1/lessons/:lesson_id/states.
type FetchResponse struct {
	LessonID string       `json:"lesson_id"`
	States   []WireRecord `json:"states"`
}

// PushRequest is the body of PUT /v1/lessons/:lesson_id/exercises/:exercise_id/state.
// A zero WrittenAt is stamped by the server.
type PushRequest struct {
	State     string    `json:"state"`
	WrittenAt time.Time `json:"written_at"`
}

// PushResponse is the body of a successful push.
type PushResponse struct {
	Record  WireRecord `json:"record"`
	Applied bool       `json:"applied"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Error codes carried in ErrorResponse.Code.
const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeInvalidKey     = "INVALID_KEY"
	CodeInvalidState   = "INVALID_STATE"
	CodeUnauthorized   = "UNAUTHORIZED"
	CodeStoreFailed    = "STORE_FAILED"
)

// ToWire converts a record for transport. Identity is implied by the bearer
// token and not sent.
func ToWire(rec state.Record) WireRecord {
	return WireRecord{
		ExerciseID: rec.ExerciseID,
		LessonID:   rec.LessonID,
		State:      string(rec.State),
		UpdatedAt:  rec.UpdatedAt,
		WrittenAt:  rec.WrittenAt,
	}
}

// FromWire converts a transported record back, attaching identity.
func FromWire(id state.Identity, w WireRecord) state.Record {
	return state.Record{
		Identity:   id,
		LessonID:   w.LessonID,
		ExerciseID: w.ExerciseID,
		State:      []byte(w.State),
		UpdatedAt:  w.UpdatedAt,
		WrittenAt:  w.WrittenAt,
	}
}
