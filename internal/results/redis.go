package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ricesearch/rice-eval/internal/evaluation"
	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
)

const (
	redisPrefix   = "rice:eval:run:"
	redisIndexKey = "rice:eval:runs"
)

// RedisStore stores runs as JSON strings and indexes them in a sorted set
// scored by start time.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration // 0 keeps runs forever
}

// NewRedisStore connects to the Redis server at url.
// Returns error if connection fails.
func NewRedisStore(url string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, ttl), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func runKey(id string) string {
	return redisPrefix + id
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, run *evaluation.Run) error {
	if err := validateRun(run); err != nil {
		return err
	}

	data, err := json.Marshal(run)
	if err != nil {
		return apperrors.StorageError("encode run", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, runKey(run.ID), data, s.ttl)
	pipe.ZAdd(ctx, redisIndexKey, redis.Z{
		Score:  float64(run.StartedAt.UnixMilli()),
		Member: run.ID,
	})
	if s.ttl > 0 {
		// Index entries outlive their runs otherwise.
		cutoff := time.Now().Add(-s.ttl).UnixMilli()
		pipe.ZRemRangeByScore(ctx, redisIndexKey, "-inf", fmt.Sprintf("(%d", cutoff))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return apperrors.StorageError("save run", err)
	}
	return nil
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context, id string) (*evaluation.Run, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}

	data, err := s.client.Get(ctx, runKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apperrors.NotFoundError("run " + id)
	}
	if err != nil {
		return nil, apperrors.StorageError("load run", err)
	}

	var run evaluation.Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, apperrors.StorageError(fmt.Sprintf("decode run %s", id), err)
	}
	return &run, nil
}

// List implements Store. Index entries whose run has expired are dropped.
func (s *RedisStore) List(ctx context.Context) ([]RunInfo, error) {
	ids, err := s.client.ZRevRange(ctx, redisIndexKey, 0, -1).Result()
	if err != nil {
		return nil, apperrors.StorageError("list runs", err)
	}
	if len(ids) == 0 {
		return []RunInfo{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = runKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, apperrors.StorageError("list runs", err)
	}

	infos := make([]RunInfo, 0, len(ids))
	var stale []any
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var run evaluation.Run
		if err := json.Unmarshal([]byte(raw), &run); err != nil {
			return nil, apperrors.StorageError(fmt.Sprintf("decode run %s", ids[i]), err)
		}
		infos = append(infos, Info(&run))
	}

	if len(stale) > 0 {
		// Best effort, the next List retries.
		_ = s.client.ZRem(ctx, redisIndexKey, stale...).Err()
	}

	sortNewestFirst(infos)
	return infos, nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, runKey(id))
	pipe.ZRem(ctx, redisIndexKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return apperrors.StorageError("delete run", err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
