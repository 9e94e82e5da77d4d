package bridge

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the Redis pub/sub channel used when none is given.
const DefaultChannel = "qx7:bridge"

// RedisChannel is a Transport over Redis pub/sub. It lets bridges in separate
// processes share identifiers.
type RedisChannel struct {
	client  redis.UniversalClient
	channel string
}

func NewRedisChannel(client redis.UniversalClient, channel string) *RedisChannel {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisChannel{client: client, channel: channel}
}

func (r *RedisChannel) Publish(ctx context.Context, payload []byte) error {
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", r.channel, err)
	}
	return nil
}

// Subscribe waits for Redis to confirm the subscription so that messages
// published afterwards are not missed.
func (r *RedisChannel) Subscribe(ctx context.Context) (*Subscription, error) {
	ps := r.client.Subscribe(ctx, r.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", r.channel, err)
	}

	out := make(chan []byte, hubBuffer)
	done := make(chan struct{})
	go func() {
		defer close(out)
		in := ps.Channel()
		for {
			select {
			case <-done:
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-done:
					return
				}
			}
		}
	}()

	return &Subscription{
		C: out,
		close: func() {
			close(done)
			_ = ps.Close()
		},
	}, nil
}
