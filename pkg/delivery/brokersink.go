package delivery

import (
	"context"
	"time"

	"github.com/contexhq/contex/pkg/broker"
)

const brokerTimeout = 2 * time.Second

// BrokerSink publishes envelopes onto an agent's broker channel.
// Delivery is best-effort: there is no retry, and whether anyone is
// subscribed is the agent's concern.
type BrokerSink struct {
	broker  broker.Broker
	channel string
}

// NewBrokerSink creates a sink publishing to channel on b.
func NewBrokerSink(b broker.Broker, channel string) *BrokerSink {
	return &BrokerSink{broker: b, channel: channel}
}

func (s *BrokerSink) Deliver(ctx context.Context, env Envelope) error {
	ctx, cancel := context.WithTimeout(ctx, brokerTimeout)
	defer cancel()
	return s.broker.Publish(ctx, s.channel, env.Body)
}
