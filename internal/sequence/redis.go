package sequence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	// RedisWrapThreshold is where RedisSource starts resetting the shared
	// counter. Values up to 0xFFFFFFFF stay valid while the reset races.
	RedisWrapThreshold = 0xFFFF0000

	DefaultRedisKey = "smpp_last_sequence_number"
	redisLockTTL    = 10 * time.Second
)

// RedisClient is the subset of *redis.Client used by RedisSource.
type RedisClient interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

var _ RedisClient = (*redis.Client)(nil)

// RedisSource shares one counter between processes through INCR.
type RedisSource struct {
	client  RedisClient
	key     string
	lockKey string
}

var _ Source = (*RedisSource)(nil)

// NewRedisSource uses DefaultRedisKey when key is empty.
func NewRedisSource(client RedisClient, key string) *RedisSource {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisSource{client: client, key: key, lockKey: key + "_wrap"}
}

// Next increments the shared counter. Once the counter passes
// RedisWrapThreshold one caller, holding a SETNX lock, deletes the key so
// the following INCR starts again at 1. The value already obtained is
// returned either way.
func (s *RedisSource) Next(ctx context.Context) (uint32, error) {
	seq, err := s.client.Incr(ctx, s.key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr %s: %w", s.key, err)
	}
	if seq < 1 || seq > 0xFFFFFFFF {
		return 0, fmt.Errorf("redis sequence %d out of range", seq)
	}
	if seq >= RedisWrapThreshold {
		if err := s.wrap(ctx); err != nil {
			slog.WarnContext(ctx, "Failed to reset redis sequence counter", slog.String("key", s.key), slog.Any("error", err))
		}
	}
	return uint32(seq), nil
}

func (s *RedisSource) wrap(ctx context.Context) error {
	locked, err := s.client.SetNX(ctx, s.lockKey, 1, redisLockTTL).Result()
	if err != nil {
		return err
	}
	if !locked {
		return nil // someone else is resetting
	}
	cur, err := s.client.Get(ctx, s.key).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	if cur < RedisWrapThreshold {
		return nil // already reset
	}
	slog.InfoContext(ctx, "Resetting redis sequence counter", slog.String("key", s.key), slog.Int64("value", cur))
	return s.client.Del(ctx, s.key).Err()
}
