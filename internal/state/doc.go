// Package state provides the shared types for exercise state persistence.
//
// This package contains type definitions and small helpers only. All other
// internal packages import state; state imports nothing internal.
//
// Key design constraints:
//   - State values are opaque JSON; nothing in this module interprets them
//   - Exactly one live Record per (Identity, ExerciseID); LessonID is informational
//   - An empty Identity means "no persistence available"
//   - All JSON tags use snake_case
package state
