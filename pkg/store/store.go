// Package store persists the latest items, agent registrations and
// delivery cursors so a restart can rebuild per-project state. The ring
// of past events is deliberately not stored: an agent whose cursor falls
// behind a restart is told to take a fresh snapshot instead of replaying.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var ErrEmptyID = errors.New("id cannot be empty")

// Item is the latest value published under one key.
type Item struct {
	Key         string
	Description string
	Data        json.RawMessage
	Format      string
	Vector      []float32
	Sequence    int64
	UpdatedAt   time.Time
}

// Need is one subscription interest with its embedded vector.
type Need struct {
	Text   string    `json:"text"`
	Vector []float32 `json:"vector"`
}

// Agent is a persisted registration. An empty WebhookURL means the
// agent listens on its broker channel.
type Agent struct {
	ID           string
	Needs        []Need
	WebhookURL   string
	Secret       string
	Cursor       int64
	RegisteredAt time.Time
}

// Project pairs a project ID with its last assigned sequence.
type Project struct {
	ID           string
	LastSequence int64
}

// Store is the durable side of a deployment. All saves are upserts and
// all deletes are idempotent, so the engine can call them without
// tracking what was written before. The engine stays fully functional
// with no store configured at all.
type Store interface {
	SaveItem(ctx context.Context, projectID string, item Item) error
	GetItems(ctx context.Context, projectID string) ([]Item, error)

	SaveAgent(ctx context.Context, projectID string, agent Agent) error
	SaveCursor(ctx context.Context, projectID, agentID string, cursor int64) error
	DeleteAgent(ctx context.Context, projectID, agentID string) error
	GetAgents(ctx context.Context, projectID string) ([]Agent, error)

	SaveSequence(ctx context.Context, projectID string, seq int64) error
	GetProjects(ctx context.Context) ([]Project, error)
	DeleteProject(ctx context.Context, projectID string) error

	Close() error
}
