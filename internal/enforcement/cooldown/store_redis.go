package cooldown

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"aegis/pkg/domerrors"
)

const redisKeyPrefix = "aegis:cooldown:"

// RedisStore shares cooldown state across instances. Each record is a
// hash with the execution timestamp and violation counter; HIncrBy keeps
// violation counting atomic without a lock.
type RedisStore struct {
	client redis.Cmdable
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) (Record, bool, error) {
	fields, err := s.client.HGetAll(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		return Record{}, false, domerrors.Wrap(domerrors.CodeUnavailable, "cooldown get", err)
	}
	raw, ok := fields["executed_at"]
	if !ok {
		return Record{}, false, nil
	}
	nanos, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return Record{}, false, domerrors.Wrap(domerrors.CodeUnavailable, "cooldown record corrupt", err)
	}
	violations, _ := strconv.Atoi(fields["violations"])
	return Record{
		LastExecutedAt: time.Unix(0, nanos),
		ViolationCount: violations,
	}, true, nil
}

func (s *RedisStore) MarkExecuted(ctx context.Context, key string, at time.Time, ttl time.Duration) error {
	full := redisKeyPrefix + key
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, full, "executed_at", strconv.FormatInt(at.UnixNano(), 10), "violations", 0)
	pipe.Expire(ctx, full, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return domerrors.Wrap(domerrors.CodeUnavailable, "cooldown record", err)
	}
	return nil
}

func (s *RedisStore) AddViolation(ctx context.Context, key string, ttl time.Duration) (int, error) {
	full := redisKeyPrefix + key
	pipe := s.client.TxPipeline()
	incr := pipe.HIncrBy(ctx, full, "violations", 1)
	pipe.Expire(ctx, full, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, domerrors.Wrap(domerrors.CodeUnavailable, "cooldown violation", err)
	}
	return int(incr.Val()), nil
}
