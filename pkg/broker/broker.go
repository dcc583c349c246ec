// Package broker abstracts the pub/sub channel agents listen on.
// Deliveries are best-effort broadcasts; durable catch-up runs over the
// event log, not the broker.
package broker

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed broker.
var ErrClosed = errors.New("broker closed")

// Message is one delivery on a subscribed channel.
type Message struct {
	Channel string
	Payload []byte
}

// Subscription receives messages for a single channel until closed.
type Subscription interface {
	Messages() <-chan Message
	Close() error
}

// Broker publishes notifications to named channels.
type Broker interface {
	Name() string
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)
	Ping(ctx context.Context) error
	Close() error
}
