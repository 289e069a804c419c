package messaging

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// GoRedisPubSub adapts a go-redis client to RedisClient.
type GoRedisPubSub struct {
	rdb *redis.Client
}

var _ RedisClient = (*GoRedisPubSub)(nil)

// NewGoRedisPubSub creates the adapter.
func NewGoRedisPubSub(rdb *redis.Client) *GoRedisPubSub {
	return &GoRedisPubSub{rdb: rdb}
}

// Publish implements RedisClient.
func (p *GoRedisPubSub) Publish(ctx context.Context, channel string, message interface{}) error {
	return p.rdb.Publish(ctx, channel, message).Err()
}

// Subscribe implements RedisClient. The subscription is confirmed before
// returning; the channel closes when ctx is cancelled.
func (p *GoRedisPubSub) Subscribe(ctx context.Context, channels ...string) (<-chan RedisMessage, error) {
	pubsub := p.rdb.Subscribe(ctx, channels...)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %v: %w", channels, err)
	}

	out := make(chan RedisMessage)
	in := pubsub.Channel()

	go func() {
		defer close(out)
		defer pubsub.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- RedisMessage{Channel: msg.Channel, Payload: msg.Payload}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
