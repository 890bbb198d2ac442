// Package session implements the per-lesson exercise state cache.
//
// A Cache is the single authoritative in-memory view of every exercise
// state for the lesson currently open, plus the hydration gate that keeps
// exercises from rendering before saved progress has been loaded.
//
// LIFECYCLE:
//
//  1. New creates an empty cache for (lesson, identity)
//  2. Hydrate issues exactly one bulk fetch and opens the gate, whether the
//     fetch succeeded, failed or timed out
//  3. Read/Write serve exercise bindings; Write updates memory at once and
//     arms a debounced push for that exercise
//  4. Close ends the session (see CloseMode)
//
// CRITICAL PATTERNS:
//
// Optimistic Writes:
// Write never blocks on I/O and never fails. The debounced push reads the
// cache when its timer fires, so a burst of edits transmits only the value
// present at fire time.
//
// Degrade, Don't Fail:
// A failed hydrate is indistinguishable from "no saved progress". A failed
// push is recorded as a tagged Result (see LastPush) and logged; it is not
// retried, and the next edit of the same exercise pushes again.
//
// Guest Sessions:
// With the guest identity nothing is fetched or pushed; the cache works
// purely in memory.
//
// Thread-safety: all methods are safe for concurrent use.
package session
