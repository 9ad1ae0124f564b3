package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alem-hub/academic-state-hub/internal/infrastructure/messaging"
)

const receiveErrorDelay = time.Second

// PubSub adapts a Redis client to messaging.RedisClient.
type PubSub struct {
	client *redis.Client
	buffer int
}

var _ messaging.RedisClient = (*PubSub)(nil)

// NewPubSub creates a pub/sub adapter over the cache connection. Closing the
// adapter does not close the shared client.
func NewPubSub(cache *Cache) *PubSub {
	return &PubSub{client: cache.Client(), buffer: 100}
}

// Publish publishes a message to a channel.
func (p *PubSub) Publish(ctx context.Context, channel string, message interface{}) error {
	if channel == "" {
		return ErrCacheKeyEmpty
	}
	return p.client.Publish(ctx, channel, message).Err()
}

// Subscribe subscribes to channels and forwards messages until ctx is done.
func (p *PubSub) Subscribe(ctx context.Context, channels ...string) (<-chan messaging.RedisMessage, error) {
	sub := p.client.Subscribe(ctx, channels...)

	// Wait for the subscription confirmation so errors surface here.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("%w: subscribe: %v", ErrCacheConnection, err)
	}

	out := make(chan messaging.RedisMessage, p.buffer)
	go func() {
		defer close(out)
		defer sub.Close()

		for {
			msg, err := sub.ReceiveMessage(ctx)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, redis.ErrClosed) {
					return
				}
				select {
				case out <- messaging.RedisMessage{Err: err}:
				case <-ctx.Done():
					return
				}
				// go-redis reconnects on the next receive; do not spin.
				select {
				case <-time.After(receiveErrorDelay):
				case <-ctx.Done():
					return
				}
				continue
			}

			select {
			case out <- messaging.RedisMessage{Channel: msg.Channel, Payload: msg.Payload}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// Close is a no-op; the client belongs to the Cache.
func (p *PubSub) Close() error {
	return nil
}
