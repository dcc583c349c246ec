// Package export dumps a project to a portable envelope and replays
// such dumps into a live engine. Vectors are deliberately left out of
// the envelope; imports re-embed through the regular publish path.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alpkeskin/gotoon"
	"github.com/natefinch/atomic"

	"github.com/contexhq/contex/pkg/engine"
	"github.com/contexhq/contex/pkg/eventlog"
)

// Version is written into every envelope. Imports of other versions
// still work but produce a warning.
const Version = "1.0"

// allEvents is passed as the page size when exporting, large enough to
// cover any configured ring.
const allEvents = 1 << 20

var ErrInvalid = errors.New("invalid export data")

type Format string

const (
	FormatJSON Format = "json"
	FormatTOON Format = "toon"
)

// ParseFormat maps a user supplied format name. Empty means JSON.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "", "json":
		return FormatJSON, nil
	case "toon":
		return FormatTOON, nil
	default:
		return "", fmt.Errorf("unknown export format %q", s)
	}
}

// Envelope is one project's portable dump.
type Envelope struct {
	ProjectID  string    `json:"project_id"`
	ExportedAt time.Time `json:"export_timestamp"`
	Version    string    `json:"version"`
	Data       Data      `json:"data"`
}

type Data struct {
	Items  []Item  `json:"items"`
	Events []Event `json:"events"`
	Agents []Agent `json:"agents"`
}

type Item struct {
	DataKey   string    `json:"data_key"`
	Data      any       `json:"data"`
	Format    string    `json:"data_format,omitempty"`
	Sequence  int64     `json:"sequence"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Event struct {
	ID        string         `json:"event_id"`
	Type      string         `json:"event_type"`
	Sequence  int64          `json:"sequence"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"created_at"`
}

// Agent carries a registration without its webhook secret, which never
// leaves the engine. Imported webhook agents need the secret re-set.
type Agent struct {
	AgentID            string    `json:"agent_id"`
	DataNeeds          []string  `json:"data_needs"`
	NotificationMethod string    `json:"notification_method"`
	WebhookURL         string    `json:"webhook_url,omitempty"`
	LastSeenSequence   int64     `json:"last_sequence"`
	RegisteredAt       time.Time `json:"registered_at"`
}

// Source is the read side of an engine.
type Source interface {
	ProjectData(ctx context.Context, projectID string) ([]engine.DataItem, error)
	ProjectEvents(ctx context.Context, projectID string, since int64, count int) ([]eventlog.Event, bool, error)
	Agents(projectID string) []engine.AgentDescriptor
}

// Snapshot collects the project's current items, retained events and
// registrations into an envelope.
func Snapshot(ctx context.Context, src Source, projectID string) (*Envelope, error) {
	items, err := src.ProjectData(ctx, projectID)
	if err != nil {
		return nil, err
	}
	events, _, err := src.ProjectEvents(ctx, projectID, 0, allEvents)
	if err != nil {
		return nil, err
	}

	env := &Envelope{
		ProjectID:  projectID,
		ExportedAt: time.Now().UTC(),
		Version:    Version,
		Data: Data{
			Items:  make([]Item, 0, len(items)),
			Events: make([]Event, 0, len(events)),
		},
	}
	for _, item := range items {
		env.Data.Items = append(env.Data.Items, Item{
			DataKey:   item.DataKey,
			Data:      item.Data,
			Format:    item.Format,
			Sequence:  item.Sequence,
			UpdatedAt: item.Timestamp,
		})
	}
	for _, ev := range events {
		env.Data.Events = append(env.Data.Events, Event{
			ID:        ev.ID,
			Type:      ev.Type,
			Sequence:  ev.Sequence,
			Data:      ev.Data,
			Timestamp: ev.Timestamp,
		})
	}
	for _, agent := range src.Agents(projectID) {
		env.Data.Agents = append(env.Data.Agents, Agent{
			AgentID:            agent.AgentID,
			DataNeeds:          agent.DataNeeds,
			NotificationMethod: agent.NotificationMethod,
			WebhookURL:         agent.WebhookURL,
			LastSeenSequence:   agent.LastSeenSequence,
			RegisteredAt:       agent.RegisteredAt,
		})
	}
	return env, nil
}

// Encode serializes the envelope. TOON output goes through a JSON round
// trip because the encoder works on plain maps.
func Encode(env *Envelope, format Format) ([]byte, error) {
	switch format {
	case FormatTOON:
		raw, err := json.Marshal(env)
		if err != nil {
			return nil, err
		}
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		tooned, err := gotoon.Encode(m)
		if err != nil {
			return nil, fmt.Errorf("encoding toon: %w", err)
		}
		return []byte(tooned), nil
	default:
		return json.MarshalIndent(env, "", "  ")
	}
}

// Decode reads a JSON envelope. TOON dumps are write-only; re-importing
// one requires the JSON form.
func Decode(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return &env, nil
}

// WriteFile writes the encoded dump atomically, so a crash mid-export
// never leaves a truncated file behind.
func WriteFile(path string, data []byte) error {
	return atomic.WriteFile(path, bytes.NewReader(data))
}

// Validation mirrors what a strict import would reject or flag.
type Validation struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func (env *Envelope) Validate() Validation {
	var v Validation
	if env.ProjectID == "" {
		v.Errors = append(v.Errors, "missing project_id")
	}
	switch env.Version {
	case Version:
	case "":
		v.Warnings = append(v.Warnings, "missing version")
	default:
		v.Warnings = append(v.Warnings, fmt.Sprintf("version %q differs from %q", env.Version, Version))
	}
	for i, item := range env.Data.Items {
		if item.DataKey == "" {
			v.Errors = append(v.Errors, fmt.Sprintf("item %d missing data_key", i))
		}
		if item.Data == nil {
			v.Errors = append(v.Errors, fmt.Sprintf("item %d missing data", i))
		}
	}
	for i, ev := range env.Data.Events {
		if ev.Type == "" {
			v.Errors = append(v.Errors, fmt.Sprintf("event %d missing event_type", i))
		}
	}
	for i, agent := range env.Data.Agents {
		if agent.AgentID == "" {
			v.Errors = append(v.Errors, fmt.Sprintf("agent %d missing agent_id", i))
		}
	}
	v.Valid = len(v.Errors) == 0
	return v
}
