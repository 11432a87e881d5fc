// Package bus relays global broadcasts between server instances over Redis pub/sub.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// envelope tags a relayed event with the instance that produced it
type envelope struct {
	Origin string          `json:"origin"`
	Data   json.RawMessage `json:"data"`
}

// RedisRelay publishes encoded events on a Redis channel and hands events published by
// other instances to a local delivery function.
type RedisRelay struct {
	rdb     *redis.Client
	channel string
	origin  string
	logger  *zap.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
	wg     sync.WaitGroup
}

// NewRedisRelay connects to the Redis server at url and verifies connectivity
func NewRedisRelay(ctx context.Context, url, channel string, logger *zap.Logger) (*RedisRelay, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return NewWithClient(rdb, channel, logger), nil
}

// NewWithClient creates a relay around an existing client
func NewWithClient(rdb *redis.Client, channel string, logger *zap.Logger) *RedisRelay {
	origin := uuid.NewString()

	return &RedisRelay{
		rdb:     rdb,
		channel: channel,
		origin:  origin,
		logger: logger.With(
			zap.String("component", "relay"),
			zap.String("origin", origin),
		),
	}
}

// Origin identifies this instance on the channel
func (r *RedisRelay) Origin() string {
	return r.origin
}

// Publish sends an encoded event to the other instances
func (r *RedisRelay) Publish(ctx context.Context, data []byte) error {
	raw, err := json.Marshal(envelope{Origin: r.origin, Data: data})
	if err != nil {
		return err
	}

	return r.rdb.Publish(ctx, r.channel, raw).Err()
}

// Subscribe confirms the subscription, then calls fn for every event published by another
// instance until ctx is cancelled or the relay is closed.
func (r *RedisRelay) Subscribe(ctx context.Context, fn func(data []byte)) error {
	pubsub := r.rdb.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}

	r.mu.Lock()
	r.pubsub = pubsub
	r.mu.Unlock()

	ch := pubsub.Channel()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		for {
			select {
			case <-ctx.Done():
				_ = pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var env envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					r.logger.Warn("dropping undecodable relay message", zap.Error(err))
					continue
				}

				if env.Origin == r.origin || len(env.Data) == 0 || string(env.Data) == "null" {
					continue
				}

				fn(env.Data)
			}
		}
	}()

	r.logger.Info("relay subscribed", zap.String("channel", r.channel))

	return nil
}

// Close ends the subscription and the Redis connection
func (r *RedisRelay) Close() error {
	r.mu.Lock()
	pubsub := r.pubsub
	r.pubsub = nil
	r.mu.Unlock()

	if pubsub != nil {
		_ = pubsub.Close()
	}
	r.wg.Wait()

	return r.rdb.Close()
}
