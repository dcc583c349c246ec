// Package delivery moves serialized notifications from the publish path
// to agents. Each agent has a bounded FIFO queue and a single worker so
// one slow consumer never reorders its own events or blocks others.
package delivery

import (
	"context"
	"fmt"
)

// Notification types carried by envelopes.
const (
	TypeInitialContext = "initial_context"
	TypeDataUpdate     = "data_update"
	TypeEvent          = "event"
)

// Envelope is one serialized notification awaiting delivery. Body holds
// the exact JSON bytes that go over the wire; signatures are computed
// over these bytes.
type Envelope struct {
	AgentID  string
	Type     string
	Sequence int64
	DataKey  string // set for data_update, used when coalescing
	Body     []byte
}

// Sink delivers envelopes to one agent over its chosen transport.
type Sink interface {
	Deliver(ctx context.Context, env Envelope) error
}

// Channel returns the broker channel an agent listens on.
func Channel(projectID, agentID string) string {
	return fmt.Sprintf("agent:%s:%s", projectID, agentID)
}
