// Package store provides durable storage for exercise state records.
//
// The store is a key-value table with upsert semantics:
//   - One row per (identity, exercise_id), enforced by the primary key
//   - lesson_id is informational and indexed for bulk lesson reads
//   - state is stored as JSON TEXT and never interpreted
//
// # Critical Patterns
//
// Idempotent Upsert:
//   - INSERT ... ON CONFLICT(identity, exercise_id) DO UPDATE
//   - Repeating a push leaves exactly one row with a newer updated_at
//
// Last-Write-Wins:
//   - Every push carries written_at (client time the push was issued)
//   - A push older than the stored written_at is not applied
//   - updated_at is assigned by the store and strictly increases per row
//
// Deterministic Query Results:
//   - Lesson reads use ORDER BY exercise_id COLLATE BINARY
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// RedisStore implements the same StateStore contract on Redis for
// deployments that already run one.
package store
