// Package syncclient implements the two remote operations the session
// cache needs: fetching every saved state of a lesson and pushing one
// exercise state.
//
// Two implementations are provided:
//   - HTTP talks to the lessonstate server (see internal/server)
//   - Local calls a store.StateStore in-process
//
// Both treat state as opaque JSON. A malformed stored state is skipped on
// fetch (the exercise falls back to its default) and never fails the fetch.
// A guest identity fetches nothing and cannot push.
package syncclient
