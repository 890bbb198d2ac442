// Package server exposes a StateStore over HTTP for remote sync clients.
//
// Routes:
//
//	GET  /v1/lessons/:lesson_id/states                        fetch every state for the caller in a lesson
//	PUT  /v1/lessons/:lesson_id/exercises/:exercise_id/state  upsert one exercise state
//	GET  /healthz                                             liveness
//	GET  /metrics                                             Prometheus exposition
//
// The caller's identity comes from an "Authorization: Bearer <token>" header.
// A fetch without a valid identity is answered with an empty state list, so
// guests and expired sessions simply start fresh; a push without one is
// rejected with 401.
//
// Stored states are returned as JSON text exactly as stored. Clients skip
// records that do not parse, one record at a time.
package server
