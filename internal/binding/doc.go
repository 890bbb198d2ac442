// Package binding is the façade exercise code uses to load and save its
// own state.
//
// An exercise receives a Binding from Lesson.Bind. SavedState is the only
// legitimate source for the exercise's initial state: when it is present
// the exercise must start from it rather than from a hard-coded default.
// Save must be called on every change worth keeping, including partial,
// unsubmitted progress.
//
// Lesson is the lesson-level gate. It refuses to hand out bindings until the
// session cache has hydrated, so no exercise can start from "nothing saved"
// and then overwrite real progress with its default on the first push.
package binding
