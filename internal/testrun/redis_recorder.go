package testrun

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/mocktest-backend/internal/config"
)

// RedisRecorder mirrors runs into Redis:
//
//	run:{id}:meta               JSON Meta
//	run:{id}:answers            hash question_id -> comma separated option ids
//	user:{uid}:test:{tid}:run   run id
//
// All three keys share the TTL given to SaveMeta.
type RedisRecorder struct {
	rdb *redis.Client
}

func NewRedisRecorder(rdb *redis.Client) *RedisRecorder {
	return &RedisRecorder{rdb: rdb}
}

func (r *RedisRecorder) SaveMeta(ctx context.Context, meta Meta, ttl time.Duration) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal run meta: %w", err)
	}

	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, config.CacheKey.RunMetaKey(meta.RunID), data, ttl)
	pipe.Set(ctx, config.CacheKey.UserActiveRunKey(meta.UserID, meta.TestID), meta.RunID.String(), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save run meta: %w", err)
	}
	return nil
}

func (r *RedisRecorder) SaveSelection(ctx context.Context, runID, questionID uuid.UUID, options []uuid.UUID) error {
	metaKey := config.CacheKey.RunMetaKey(runID)
	answersKey := config.CacheKey.RunAnswersKey(runID)

	ttl, err := r.rdb.PTTL(ctx, metaKey).Result()
	if err != nil {
		return fmt.Errorf("read run ttl: %w", err)
	}

	pipe := r.rdb.TxPipeline()
	if len(options) == 0 {
		pipe.HDel(ctx, answersKey, questionID.String())
	} else {
		pipe.HSet(ctx, answersKey, questionID.String(), joinIDs(options))
	}
	if ttl > 0 {
		pipe.PExpire(ctx, answersKey, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save selection: %w", err)
	}
	return nil
}

func (r *RedisRecorder) Load(ctx context.Context, runID uuid.UUID) (*Meta, map[uuid.UUID][]uuid.UUID, error) {
	data, err := r.rdb.Get(ctx, config.CacheKey.RunMetaKey(runID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil, ErrRunNotFound
		}
		return nil, nil, fmt.Errorf("get run meta: %w", err)
	}

	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, nil, fmt.Errorf("unmarshal run meta: %w", err)
	}

	raw, err := r.rdb.HGetAll(ctx, config.CacheKey.RunAnswersKey(runID)).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("get run answers: %w", err)
	}

	selections := make(map[uuid.UUID][]uuid.UUID, len(raw))
	for field, value := range raw {
		qid, err := uuid.Parse(field)
		if err != nil {
			continue
		}
		if opts := splitIDs(value); len(opts) > 0 {
			selections[qid] = opts
		}
	}
	return &meta, selections, nil
}

func (r *RedisRecorder) FindActive(ctx context.Context, userID, testID uuid.UUID) (uuid.UUID, bool, error) {
	val, err := r.rdb.Get(ctx, config.CacheKey.UserActiveRunKey(userID, testID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, fmt.Errorf("get active run: %w", err)
	}
	id, err := uuid.Parse(val)
	if err != nil {
		return uuid.Nil, false, nil
	}
	return id, true, nil
}

func (r *RedisRecorder) Clear(ctx context.Context, meta Meta) error {
	err := r.rdb.Del(ctx,
		config.CacheKey.RunMetaKey(meta.RunID),
		config.CacheKey.RunAnswersKey(meta.RunID),
		config.CacheKey.UserActiveRunKey(meta.UserID, meta.TestID),
	).Err()
	if err != nil {
		return fmt.Errorf("clear run: %w", err)
	}
	return nil
}

func joinIDs(ids []uuid.UUID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	return strings.Join(parts, ",")
}

func splitIDs(s string) []uuid.UUID {
	var out []uuid.UUID
	for _, part := range strings.Split(s, ",") {
		if id, err := uuid.Parse(strings.TrimSpace(part)); err == nil {
			out = append(out, id)
		}
	}
	return out
}
