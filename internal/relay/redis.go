package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisBus carries events between processes over Redis pub/sub.
type RedisBus struct {
	rdb    *redis.Client
	buffer int
	logger *slog.Logger
}

var _ Bus = (*RedisBus)(nil)

// NewRedisBus connects to redisURL and verifies the connection.
func NewRedisBus(ctx context.Context, redisURL string, buffer int, logger *slog.Logger) (*RedisBus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis.ParseURL: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	if buffer <= 0 {
		buffer = 64
	}
	return &RedisBus{rdb: rdb, buffer: buffer, logger: logger}, nil
}

func (b *RedisBus) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.rdb.Publish(ctx, channel, payload).Err()
}

// Subscribe returns once Redis has confirmed the subscription, so later
// publishes are guaranteed to be delivered to it.
func (b *RedisBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	sub := b.rdb.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, nil, fmt.Errorf("redis subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, b.buffer)
	done := make(chan struct{})
	go func() {
		defer close(out)
		msgs := sub.Channel(redis.WithChannelSize(b.buffer))
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				default:
					b.logger.Warn("relay subscriber is slow, dropping event", "channel", channel)
				}
			}
		}
	}()

	var once sync.Once
	return out, func() {
		once.Do(func() {
			close(done)
			sub.Close()
		})
	}, nil
}

func (b *RedisBus) Close() error {
	return b.rdb.Close()
}
