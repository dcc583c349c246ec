package broker

import (
	"context"
	"sync"
)

// subscriberBuffer bounds each subscription channel. A subscriber that
// falls further behind misses messages rather than blocking publishes.
const subscriberBuffer = 64

// Memory is an in-process broker for development and tests.
type Memory struct {
	mu     sync.RWMutex
	subs   map[string]map[*memorySubscription]struct{}
	closed bool
}

// NewMemory creates an in-process broker.
func NewMemory() *Memory {
	return &Memory{subs: make(map[string]map[*memorySubscription]struct{})}
}

func (m *Memory) Name() string { return "memory" }

// Publish broadcasts payload to current subscribers of channel.
// Messages to full subscribers are dropped.
func (m *Memory) Publish(_ context.Context, channel string, payload []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrClosed
	}
	for sub := range m.subs[channel] {
		select {
		case sub.ch <- Message{Channel: channel, Payload: payload}:
		default:
		}
	}
	return nil
}

// Subscribe registers a new subscriber for channel.
func (m *Memory) Subscribe(_ context.Context, channel string) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	sub := &memorySubscription{
		broker:  m,
		channel: channel,
		ch:      make(chan Message, subscriberBuffer),
	}
	if m.subs[channel] == nil {
		m.subs[channel] = make(map[*memorySubscription]struct{})
	}
	m.subs[channel][sub] = struct{}{}
	return sub, nil
}

func (m *Memory) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrClosed
	}
	return nil
}

// Close drops every subscription and closes their channels.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	for _, subs := range m.subs {
		for sub := range subs {
			sub.closeOnce()
		}
	}
	m.subs = nil
	return nil
}

func (m *Memory) unsubscribe(sub *memorySubscription) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	if subs := m.subs[sub.channel]; subs != nil {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(m.subs, sub.channel)
		}
	}
}

type memorySubscription struct {
	broker  *Memory
	channel string
	ch      chan Message
	once    sync.Once
}

func (s *memorySubscription) Messages() <-chan Message { return s.ch }

func (s *memorySubscription) Close() error {
	s.broker.unsubscribe(s)
	s.closeOnce()
	return nil
}

func (s *memorySubscription) closeOnce() {
	s.once.Do(func() { close(s.ch) })
}
