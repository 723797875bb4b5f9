package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	DefaultRedisPrefix = "smpp"

	redisPopTimeout = time.Second
	redisErrorPause = time.Second
)

// RedisLists is the subset of *redis.Client used by RedisBus.
type RedisLists interface {
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	BLPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
}

var _ RedisLists = (*redis.Client)(nil)

// RedisBus carries messages as JSON on Redis lists:
// <prefix>:outbound is consumed, <prefix>:inbound, <prefix>:acks and
// <prefix>:reports are appended to.
type RedisBus struct {
	client RedisLists
	prefix string
}

var _ Publisher = (*RedisBus)(nil)

func NewRedisBus(client RedisLists, prefix string) *RedisBus {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisBus{client: client, prefix: prefix}
}

func (b *RedisBus) key(name string) string {
	return b.prefix + ":" + name
}

func (b *RedisBus) push(ctx context.Context, name string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	if err := b.client.RPush(ctx, b.key(name), payload).Err(); err != nil {
		return fmt.Errorf("redis rpush %s: %w", b.key(name), err)
	}
	return nil
}

func (b *RedisBus) PublishInbound(ctx context.Context, msg InboundMessage) error {
	return b.push(ctx, "inbound", msg)
}

// ackPayload adds the transport error, which SubmitAck does not marshal.
type ackPayload struct {
	SubmitAck
	Error string `json:"error,omitempty"`
}

func (b *RedisBus) PublishSubmitAck(ctx context.Context, ack SubmitAck) error {
	p := ackPayload{SubmitAck: ack}
	if ack.Err != nil {
		p.Error = ack.Err.Error()
	}
	return b.push(ctx, "acks", p)
}

func (b *RedisBus) PublishDeliveryReport(ctx context.Context, dr DeliveryReport) error {
	return b.push(ctx, "reports", dr)
}

// Consume pops outbound messages and sends them to out until ctx is done.
// Payloads that are not valid JSON are logged and dropped.
func (b *RedisBus) Consume(ctx context.Context, out chan<- OutboundMessage) error {
	key := b.key("outbound")
	slog.InfoContext(ctx, "Consuming outbound messages", slog.String("key", key))
	for {
		res, err := b.client.BLPop(ctx, redisPopTimeout, key).Result()
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			slog.ErrorContext(ctx, "Redis pop failed", slog.String("key", key), slog.Any("error", err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(redisErrorPause):
			}
			continue
		}
		if len(res) != 2 {
			continue
		}

		var msg OutboundMessage
		if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
			slog.WarnContext(ctx, "Dropping malformed outbound message", slog.String("key", key), slog.Any("error", err))
			continue
		}
		if err := send(ctx, out, msg); err != nil {
			return nil
		}
	}
}
