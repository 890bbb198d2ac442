// Package harness runs lesson session scenarios described in YAML and
// records what the session did as a trace.
//
// # Scenario Format
//
//	name: navigate_away
//	description: "Three quick edits, navigate away, come back"
//	lesson: L1
//	identity: u1            # omit for a guest session
//	quiet: 1500ms           # debounce interval (default 1500ms)
//	close_mode: detach      # detach | flush | abandon
//	seed:                   # records stored before the first session
//	  - exercise: E0
//	    state: '{"done":true}'
//	steps:
//	  - open: {}
//	  - write: { exercise: E1, state: '{"typed":"S1"}' }
//	  - advance: 400ms
//	  - read: { exercise: E1, expect: '{"typed":"S1"}' }
//	  - close: {}
//	  - fail_pushes: true
//	assertions:
//	  - type: push_count
//	    exercise: E1
//	    count: 1
//	  - type: last_push
//	    exercise: E1
//	    state: '{"typed":"S3"}'
//	  - type: stored
//	    exercise: E1
//	    state: '{"typed":"S3"}'
//
// States are JSON text. A seeded state that is not valid JSON is stored
// verbatim, which is how corrupted records are simulated.
//
// # Step Types
//
//   - open: start a session (optionally as another identity or close mode) and hydrate it
//   - write: write an exercise state to the open session
//   - advance: move the fake clock, firing due pushes
//   - read: check the open session's cached state (expect or absent)
//   - close: end the open session with its close mode
//   - fail_pushes / fail_fetches: make later sync calls fail (false restores)
//
// # Assertion Types
//
//   - push_count: number of pushes, optionally for one exercise
//   - fetch_count: number of hydration fetches
//   - last_push: state (and optionally outcome) of an exercise's last push
//   - stored: durable record for an exercise (state or absent)
//
// # Deterministic Testing
//
// Every scenario runs against a fresh in-memory SQLite store through the
// in-process sync client, on a fake clock starting at testutil.DefaultEpoch.
// Pushes fire synchronously inside advance and close steps, so the trace is
// identical across runs and can be compared against golden files.
package harness
