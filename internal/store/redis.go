package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/lessonstate/internal/clock"
	"github.com/roach88/lessonstate/internal/metrics"
	"github.com/roach88/lessonstate/internal/state"
)

// RedisStore is a StateStore backed by Redis.
//
// Layout:
//   - {prefix}:rec:{len(identity)}:{identity}:{exercise_id}  hash with
//     lesson_id, state, updated_at, written_at (unix microseconds)
//   - {prefix}:lesson:{len(identity)}:{identity}:{lesson_id} set of
//     exercise ids
//
// Identifiers may contain ':'. The identity's byte length comes first so
// the boundary between identity and the trailing id is never ambiguous.
//
// Upserts run as one Lua script so the written_at guard, the lesson index
// move and the updated_at bump are atomic. The script derives the previous
// lesson's index key itself, so the layout assumes a single Redis node.
type RedisStore struct {
	client *redis.Client
	clock  clock.Clock
	prefix string
	logger *slog.Logger
}

var _ StateStore = (*RedisStore)(nil)

// upsertScript applies an upsert when ARGV[5] (written_at) is not older than
// the stored one. Returns 1 when applied, 0 otherwise.
//
// KEYS[1] record hash, KEYS[2] new lesson index set
// ARGV: lesson_id, exercise_id, state, now, written_at, lesson key prefix
var upsertScript = redis.NewScript(`
local cur_written = redis.call('HGET', KEYS[1], 'written_at')
if cur_written and tonumber(cur_written) > tonumber(ARGV[5]) then
  return 0
end
local now = tonumber(ARGV[4])
local cur_updated = redis.call('HGET', KEYS[1], 'updated_at')
if cur_updated and tonumber(cur_updated) >= now then
  now = tonumber(cur_updated) + 1
end
local old_lesson = redis.call('HGET', KEYS[1], 'lesson_id')
if old_lesson and old_lesson ~= ARGV[1] then
  redis.call('SREM', ARGV[6] .. old_lesson, ARGV[2])
end
redis.call('HSET', KEYS[1],
  'lesson_id', ARGV[1],
  'state', ARGV[3],
  'updated_at', string.format('%d', now),
  'written_at', ARGV[5])
redis.call('SADD', KEYS[2], ARGV[2])
return 1
`)

// OpenRedis connects to the Redis server at url (redis://...) and pings it.
func OpenRedis(ctx context.Context, url string, opts ...Option) (*RedisStore, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(redisOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisStore(client, opts...), nil
}

// NewRedisStore wraps an existing client. The store owns the client and
// closes it on Close.
func NewRedisStore(client *redis.Client, opts ...Option) *RedisStore {
	o := applyOptions(opts)
	return &RedisStore{client: client, clock: o.clock, prefix: o.keyPrefix, logger: o.logger}
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) recordKey(id state.Identity, exerciseID string) string {
	return fmt.Sprintf("%s:rec:%d:%s:%s", s.prefix, len(id), id, exerciseID)
}

func (s *RedisStore) lessonKeyPrefix(id state.Identity) string {
	return fmt.Sprintf("%s:lesson:%d:%s:", s.prefix, len(id), id)
}

// Upsert implements StateStore.
func (s *RedisStore) Upsert(ctx context.Context, rec state.Record) (state.Record, bool, error) {
	rec, err := state.NormalizeRecord(rec)
	if err != nil {
		return state.Record{}, false, fmt.Errorf("upsert: %w", err)
	}

	now := s.clock.Now()
	if rec.WrittenAt.IsZero() {
		rec.WrittenAt = now
	}

	lessonPrefix := s.lessonKeyPrefix(rec.Identity)
	applied, err := upsertScript.Run(ctx, s.client,
		[]string{s.recordKey(rec.Identity, rec.ExerciseID), lessonPrefix + rec.LessonID},
		rec.LessonID,
		rec.ExerciseID,
		string(rec.State),
		now.UnixMicro(),
		rec.WrittenAt.UnixMicro(),
		lessonPrefix,
	).Int()
	if err != nil {
		return state.Record{}, false, fmt.Errorf("upsert: run script: %w", err)
	}

	stored, err := s.Get(ctx, rec.Identity, rec.ExerciseID)
	if err != nil {
		return state.Record{}, false, fmt.Errorf("upsert: read back: %w", err)
	}
	return stored, applied == 1, nil
}

// ListLesson implements StateStore.
//
// Index entries whose record has since moved to another lesson are ignored.
// A hash with unreadable timestamps is logged and skipped so one damaged
// record cannot fail the whole lesson.
func (s *RedisStore) ListLesson(ctx context.Context, id state.Identity, lessonID string) ([]state.Record, error) {
	lessonID, err := state.NormalizeKey("lesson_id", lessonID)
	if err != nil {
		return nil, fmt.Errorf("list lesson: %w", err)
	}

	exerciseIDs, err := s.client.SMembers(ctx, s.lessonKeyPrefix(id)+lessonID).Result()
	if err != nil {
		return nil, fmt.Errorf("list lesson index: %w", err)
	}
	sort.Strings(exerciseIDs)

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(exerciseIDs))
	for i, exerciseID := range exerciseIDs {
		cmds[i] = pipe.HGetAll(ctx, s.recordKey(id, exerciseID))
	}
	if len(cmds) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("list lesson records: %w", err)
		}
	}

	records := []state.Record{}
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 || fields["lesson_id"] != lessonID {
			continue
		}
		rec, err := recordFromHash(id, exerciseIDs[i], fields)
		if err != nil {
			metrics.RecordsSkipped.Inc()
			s.logger.Warn("skipping unreadable record",
				"lesson_id", lessonID,
				"exercise_id", exerciseIDs[i],
				"error", err,
			)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Get implements StateStore.
func (s *RedisStore) Get(ctx context.Context, id state.Identity, exerciseID string) (state.Record, error) {
	exerciseID, err := state.NormalizeKey("exercise_id", exerciseID)
	if err != nil {
		return state.Record{}, fmt.Errorf("get: %w", err)
	}

	fields, err := s.client.HGetAll(ctx, s.recordKey(id, exerciseID)).Result()
	if errors.Is(err, redis.Nil) || (err == nil && len(fields) == 0) {
		return state.Record{}, ErrNotFound
	}
	if err != nil {
		return state.Record{}, fmt.Errorf("get: %w", err)
	}
	return recordFromHash(id, exerciseID, fields)
}

func recordFromHash(id state.Identity, exerciseID string, fields map[string]string) (state.Record, error) {
	updatedAt, err := strconv.ParseInt(fields["updated_at"], 10, 64)
	if err != nil {
		return state.Record{}, fmt.Errorf("parse updated_at for %s: %w", exerciseID, err)
	}
	writtenAt, err := strconv.ParseInt(fields["written_at"], 10, 64)
	if err != nil {
		return state.Record{}, fmt.Errorf("parse written_at for %s: %w", exerciseID, err)
	}
	return state.Record{
		Identity:   id,
		LessonID:   fields["lesson_id"],
		ExerciseID: exerciseID,
		State:      []byte(fields["state"]),
		UpdatedAt:  time.UnixMicro(updatedAt).UTC(),
		WrittenAt:  time.UnixMicro(writtenAt).UTC(),
	}, nil
}
