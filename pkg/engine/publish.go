package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/contexhq/contex/pkg/delivery"
	"github.com/contexhq/contex/pkg/eventlog"
	"github.com/contexhq/contex/pkg/matcher"
	"github.com/contexhq/contex/pkg/store"
)

type PublishRequest struct {
	ProjectID string         `json:"project_id"`
	DataKey   string         `json:"data_key"`
	Data      any            `json:"data"`
	Format    string         `json:"data_format,omitempty"`
	EventType string         `json:"event_type,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type PublishResult struct {
	ProjectID string `json:"project_id"`
	DataKey   string `json:"data_key"`
	Sequence  int64  `json:"sequence"`
}

// dataUpdate is the envelope body agents receive when a publish matches
// one of their needs.
type dataUpdate struct {
	Type         string   `json:"type"`
	Sequence     int64    `json:"sequence"`
	DataKey      string   `json:"data_key"`
	Data         any      `json:"data"`
	MatchedNeeds []string `json:"matched_needs"`
}

// Publish normalizes and embeds the payload, assigns the next sequence
// and fans the update out to matching agents. Embedding happens before
// the sequence is assigned, so a failed or cancelled publish leaves no
// trace; once a sequence exists the update is delivered.
func (e *Engine) Publish(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	ctx, span := e.startSpan(ctx, "engine.publish", trace.WithAttributes(
		attribute.String("project_id", req.ProjectID),
		attribute.String("data_key", req.DataKey)))
	defer span.End()

	if strings.TrimSpace(req.ProjectID) == "" {
		return nil, fmt.Errorf("%w: project_id is required", ErrValidation)
	}
	if strings.TrimSpace(req.DataKey) == "" {
		return nil, fmt.Errorf("%w: data_key is required", ErrValidation)
	}
	if req.Data == nil {
		return nil, fmt.Errorf("%w: data is required", ErrValidation)
	}

	norm, err := e.normalizer.Normalize(req.Data, req.Format)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	embText := norm.EmbeddingText(req.DataKey)

	vec, err := e.embedder.EmbedOne(ctx, embText)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedding failed")
		return nil, fmt.Errorf("embedding %q: %w", req.DataKey, err)
	}

	dataJSON, err := json.Marshal(norm.Data)
	if err != nil {
		return nil, fmt.Errorf("encoding %q: %w", req.DataKey, err)
	}

	p, err := e.getProject(req.ProjectID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	meta := norm.Metadata
	if len(req.Metadata) > 0 {
		merged := make(map[string]any, len(norm.Metadata)+len(req.Metadata))
		maps.Copy(merged, norm.Metadata)
		maps.Copy(merged, req.Metadata)
		meta = merged
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	seq := p.log.NextSeq()
	span.SetAttributes(attribute.Int64("sequence", seq))

	p.index.Upsert(req.DataKey, vec, &itemPayload{
		Data:      norm.Data,
		Format:    norm.Format,
		Text:      embText,
		Metadata:  meta,
		UpdatedAt: now,
	}, seq)
	if p.hybrid != nil {
		if err := p.hybrid.Upsert(req.DataKey, embText, string(dataJSON)); err != nil {
			slog.Warn("Hybrid index update failed", "project_id", p.id, "data_key", req.DataKey, "error", err)
		}
	}

	eventType := req.EventType
	if eventType == "" {
		eventType = req.DataKey + "_updated"
	}
	p.log.Append(eventlog.NewEvent(eventType, seq, map[string]any{req.DataKey: norm.Data}))

	notifications := p.matcher.Publish(matcher.Item{Key: req.DataKey, Vector: vec, Sequence: seq})
	for _, n := range notifications {
		e.notify(ctx, p.id, n, seq, req.DataKey, norm.Data)
	}

	if e.store != nil {
		item := store.Item{
			Key:         req.DataKey,
			Description: embText,
			Data:        dataJSON,
			Format:      norm.Format,
			Vector:      vec,
			Sequence:    seq,
			UpdatedAt:   now,
		}
		if err := e.store.SaveItem(ctx, p.id, item); err != nil {
			slog.Warn("Persisting item failed", "project_id", p.id, "data_key", req.DataKey, "error", err)
		}
		if err := e.store.SaveSequence(ctx, p.id, seq); err != nil {
			slog.Warn("Persisting sequence failed", "project_id", p.id, "error", err)
		}
	}

	slog.Debug("Published data",
		"project_id", p.id,
		"data_key", req.DataKey,
		"sequence", seq,
		"format", norm.Format,
		"notified", len(notifications))
	span.SetStatus(codes.Ok, "")

	return &PublishResult{ProjectID: p.id, DataKey: req.DataKey, Sequence: seq}, nil
}

// notify queues one agent's data_update and moves its cursor forward.
func (e *Engine) notify(ctx context.Context, projectID string, n matcher.Notification, seq int64, dataKey string, data any) {
	reg, ok := e.agents.Load(delivery.Channel(projectID, n.AgentID))
	if !ok {
		return
	}
	body, err := json.Marshal(dataUpdate{
		Type:         delivery.TypeDataUpdate,
		Sequence:     seq,
		DataKey:      dataKey,
		Data:         data,
		MatchedNeeds: n.MatchedNeeds,
	})
	if err != nil {
		slog.Warn("Encoding update failed", "agent_id", n.AgentID, "data_key", dataKey, "error", err)
		return
	}
	if !e.dispatcher.Enqueue(reg.channel, delivery.Envelope{
		AgentID:  n.AgentID,
		Type:     delivery.TypeDataUpdate,
		Sequence: seq,
		DataKey:  dataKey,
		Body:     body,
	}) {
		return
	}
	reg.lastSeen.Store(seq)
	if e.store != nil {
		if err := e.store.SaveCursor(ctx, projectID, n.AgentID, seq); err != nil {
			slog.Warn("Persisting cursor failed", "agent_id", n.AgentID, "error", err)
		}
	}
}

type BatchEntry struct {
	DataKey   string         `json:"data_key"`
	Data      any            `json:"data"`
	Format    string         `json:"data_format,omitempty"`
	EventType string         `json:"event_type,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type BatchResult struct {
	DataKey  string `json:"data_key"`
	Sequence int64  `json:"sequence,omitempty"`
	Error    string `json:"error,omitempty"`
}

// BatchPublish runs each entry through Publish in order. Failures are
// reported per entry and do not stop the rest of the batch.
func (e *Engine) BatchPublish(ctx context.Context, projectID string, entries []BatchEntry) ([]BatchResult, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, fmt.Errorf("%w: project_id is required", ErrValidation)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: entries are required", ErrValidation)
	}

	results := make([]BatchResult, 0, len(entries))
	for _, entry := range entries {
		res, err := e.Publish(ctx, PublishRequest{
			ProjectID: projectID,
			DataKey:   entry.DataKey,
			Data:      entry.Data,
			Format:    entry.Format,
			EventType: entry.EventType,
			Metadata:  entry.Metadata,
		})
		if err != nil {
			results = append(results, BatchResult{DataKey: entry.DataKey, Error: err.Error()})
			continue
		}
		results = append(results, BatchResult{DataKey: res.DataKey, Sequence: res.Sequence})
	}
	return results, nil
}
