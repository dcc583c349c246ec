package delivery

import (
	"context"
	"log/slog"
	"sync"
)

// DefaultQueueSize bounds each agent's pending notifications.
const DefaultQueueSize = 256

// Dispatcher runs one delivery worker per agent. Envelopes enqueue in
// publish order and each worker delivers them strictly in that order.
// When a queue overflows, older data_update envelopes for the same key
// are coalesced away (the newest supersedes); if the queue is still
// full the agent is considered lagging, its queue is dropped and the
// onLag callback fires so the caller can reset the agent's cursor.
type Dispatcher struct {
	queueSize int
	onLag     func(agentID string)

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	workers map[string]*agentWorker
}

// NewDispatcher creates a dispatcher. A queueSize ≤ 0 uses
// DefaultQueueSize; onLag may be nil.
func NewDispatcher(queueSize int, onLag func(agentID string)) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		queueSize: queueSize,
		onLag:     onLag,
		ctx:       ctx,
		cancel:    cancel,
		workers:   make(map[string]*agentWorker),
	}
}

// Start begins delivering to agentID through sink, replacing any
// existing worker for the same agent.
func (d *Dispatcher) Start(agentID string, sink Sink) {
	w := &agentWorker{
		agentID: agentID,
		sink:    sink,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	d.mu.Lock()
	prev := d.workers[agentID]
	d.workers[agentID] = w
	d.mu.Unlock()

	if prev != nil {
		prev.halt()
	}
	go w.run(d.ctx)
}

// Stop halts the agent's worker and drops anything still queued.
func (d *Dispatcher) Stop(agentID string) bool {
	d.mu.Lock()
	w := d.workers[agentID]
	delete(d.workers, agentID)
	d.mu.Unlock()

	if w == nil {
		return false
	}
	w.halt()
	return true
}

// Enqueue queues env for the agent. It reports whether the envelope was
// accepted; false means the agent is unknown, stopped, or just went
// into lagging.
func (d *Dispatcher) Enqueue(agentID string, env Envelope) bool {
	d.mu.Lock()
	w := d.workers[agentID]
	d.mu.Unlock()
	if w == nil {
		return false
	}

	accepted, lagged := w.enqueue(env, d.queueSize)
	if lagged {
		slog.Warn("agent lagging, dropping queued notifications",
			"agent_id", agentID,
			"sequence", env.Sequence,
		)
		if d.onLag != nil {
			d.onLag(agentID)
		}
	}
	if accepted {
		w.signal()
	}
	return accepted
}

// Depth returns how many envelopes are queued for the agent.
func (d *Dispatcher) Depth(agentID string) int {
	d.mu.Lock()
	w := d.workers[agentID]
	d.mu.Unlock()
	if w == nil {
		return 0
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

// Close stops every worker and waits for them to finish their current
// delivery.
func (d *Dispatcher) Close() {
	d.cancel()

	d.mu.Lock()
	workers := make([]*agentWorker, 0, len(d.workers))
	for _, w := range d.workers {
		workers = append(workers, w)
	}
	d.workers = make(map[string]*agentWorker)
	d.mu.Unlock()

	for _, w := range workers {
		w.halt()
		<-w.done
	}
}

type agentWorker struct {
	agentID string
	sink    Sink

	mu      sync.Mutex
	queue   []Envelope
	stopped bool

	wake     chan struct{}
	stop     chan struct{}
	done     chan struct{}
	haltOnce sync.Once
}

func (w *agentWorker) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *agentWorker) halt() {
	w.mu.Lock()
	w.stopped = true
	w.queue = nil
	w.mu.Unlock()
	w.haltOnce.Do(func() { close(w.stop) })
}

func (w *agentWorker) enqueue(env Envelope, capacity int) (accepted, lagged bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return false, false
	}
	w.queue = append(w.queue, env)
	if len(w.queue) <= capacity {
		return true, false
	}

	w.queue = coalesce(w.queue)
	if len(w.queue) <= capacity {
		return true, false
	}

	w.queue = nil
	return false, true
}

// coalesce drops every data_update superseded by a newer one for the
// same key. Other notification types always survive, and relative
// order is preserved so sequences stay increasing.
func coalesce(queue []Envelope) []Envelope {
	newest := make(map[string]int)
	for i, env := range queue {
		if env.Type == TypeDataUpdate && env.DataKey != "" {
			newest[env.DataKey] = i
		}
	}

	kept := make([]Envelope, 0, len(queue))
	for i, env := range queue {
		if env.Type == TypeDataUpdate && env.DataKey != "" && newest[env.DataKey] != i {
			continue
		}
		kept = append(kept, env)
	}
	return kept
}

func (w *agentWorker) run(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-w.wake:
		}
		w.drain(ctx)
	}
}

func (w *agentWorker) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		default:
		}

		w.mu.Lock()
		if len(w.queue) == 0 {
			w.mu.Unlock()
			return
		}
		env := w.queue[0]
		w.queue = w.queue[1:]
		w.mu.Unlock()

		if err := w.sink.Deliver(ctx, env); err != nil {
			slog.Warn("notification delivery failed",
				"agent_id", w.agentID,
				"type", env.Type,
				"sequence", env.Sequence,
				"error", err,
			)
		}
	}
}
