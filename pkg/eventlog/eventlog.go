// Package eventlog assigns publish sequences and retains a bounded
// history of recent events for agent catch-up.
package eventlog

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultCapacity is the number of events retained per project.
const DefaultCapacity = 1024

// Event is one entry in a project's history.
type Event struct {
	ID        string         `json:"id"`
	Sequence  int64          `json:"sequence"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewEvent builds an event with a fresh ID and timestamp.
func NewEvent(eventType string, seq int64, data map[string]any) Event {
	return Event{
		ID:        uuid.NewString(),
		Sequence:  seq,
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// Log is a per-project sequence counter plus a fixed-size ring of the
// most recent events. Older events are evicted FIFO.
type Log struct {
	mu       sync.Mutex
	capacity int
	seq      int64

	ring  []Event
	start int
	size  int
}

// New creates a log retaining up to capacity events. Values ≤ 0 use
// DefaultCapacity.
func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{capacity: capacity}
}

// NextSeq assigns the next sequence number. The first call returns 1.
func (l *Log) NextSeq() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	return l.seq
}

// Restore advances the sequence counter to seq, typically after reloading
// a project from durable storage. The ring stays empty, so stale cursors
// report as truncated rather than silently caught up.
func (l *Log) Restore(seq int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if seq > l.seq {
		l.seq = seq
	}
}

// Latest returns the most recently assigned sequence, 0 if none.
func (l *Log) Latest() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}

// Append records an event, evicting the oldest once full.
func (l *Log) Append(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.size < l.capacity {
		l.ring = append(l.ring, e)
		l.size++
		return
	}
	l.ring[l.start] = e
	l.start = (l.start + 1) % l.capacity
}

// Len returns the number of retained events.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

// at returns the i-th retained event, oldest first. Callers hold mu.
func (l *Log) at(i int) Event {
	return l.ring[(l.start+i)%l.capacity]
}

// Since returns retained events with a sequence greater than cursor,
// oldest first. The second return is true when events past the cursor
// were already evicted, meaning the caller cannot catch up from the
// ring alone and needs a fresh snapshot.
func (l *Log) Since(cursor int64) ([]Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.size == 0 {
		// No history retained. Anything older than the counter is gone.
		return nil, cursor < l.seq
	}

	oldest := l.at(0).Sequence
	truncated := cursor < oldest-1

	var events []Event
	for i := 0; i < l.size; i++ {
		if e := l.at(i); e.Sequence > cursor {
			events = append(events, e)
		}
	}
	return events, truncated
}

// All returns every retained event, oldest first.
func (l *Log) All() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	events := make([]Event, l.size)
	for i := 0; i < l.size; i++ {
		events[i] = l.at(i)
	}
	return events
}
