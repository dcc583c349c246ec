package broker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Redis is a broker backed by Redis pub/sub.
type Redis struct {
	client *redis.Client
}

// NewRedis connects a broker to the Redis instance at url, e.g.
// redis://localhost:6379/0.
func NewRedis(url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	slog.Debug("connecting redis broker", "addr", opts.Addr, "db", opts.DB)
	return &Redis{client: redis.NewClient(opts)}, nil
}

func (r *Redis) Name() string { return "redis" }

func (r *Redis) Publish(ctx context.Context, channel string, payload []byte) error {
	return r.client.Publish(ctx, channel, payload).Err()
}

func (r *Redis) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	pubsub := r.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", channel, err)
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		ch:     make(chan Message, subscriberBuffer),
	}
	go sub.forward()
	return sub, nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}

type redisSubscription struct {
	pubsub *redis.PubSub
	ch     chan Message
}

func (s *redisSubscription) forward() {
	defer close(s.ch)
	for msg := range s.pubsub.Channel() {
		s.ch <- Message{Channel: msg.Channel, Payload: []byte(msg.Payload)}
	}
}

func (s *redisSubscription) Messages() <-chan Message { return s.ch }

func (s *redisSubscription) Close() error {
	return s.pubsub.Close()
}
