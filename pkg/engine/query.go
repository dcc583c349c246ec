package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/contexhq/contex/pkg/delivery"
	"github.com/contexhq/contex/pkg/eventlog"
	"github.com/contexhq/contex/pkg/index"
)

// DefaultQueryK is how many results a query returns when max_results is
// unset.
const DefaultQueryK = 5

// DefaultEventPage bounds how many events one ProjectEvents call returns.
const DefaultEventPage = 100

type QueryRequest struct {
	ProjectID  string  `json:"project_id"`
	Query      string  `json:"query"`
	MaxResults int     `json:"max_results,omitempty"`
	Threshold  float64 `json:"threshold,omitempty"`
}

type QueryResult struct {
	DataKey    string    `json:"data_key"`
	Data       any       `json:"data"`
	Similarity float64   `json:"similarity_score"`
	Sequence   int64     `json:"sequence"`
	Timestamp  time.Time `json:"timestamp"`
}

// Query runs an ad hoc similarity search over the project's items. It
// never creates a project, so querying an unknown one is an error.
func (e *Engine) Query(ctx context.Context, req QueryRequest) ([]QueryResult, error) {
	ctx, span := e.startSpan(ctx, "engine.query", trace.WithAttributes(
		attribute.String("project_id", req.ProjectID)))
	defer span.End()

	if strings.TrimSpace(req.ProjectID) == "" {
		return nil, fmt.Errorf("%w: project_id is required", ErrValidation)
	}
	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("%w: query is required", ErrValidation)
	}

	p, ok := e.lookupProject(req.ProjectID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, req.ProjectID)
	}

	k := req.MaxResults
	if k <= 0 {
		k = DefaultQueryK
	}
	if k > e.maxMatches {
		k = e.maxMatches
	}
	threshold := e.threshold
	if req.Threshold > 0 {
		threshold = req.Threshold
	}

	vec, err := e.embedder.EmbedOne(ctx, req.Query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedding failed")
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	var raw []index.Result
	if p.hybrid != nil {
		raw, err = p.hybrid.Search(req.Query, vec, k)
		if err != nil {
			return nil, fmt.Errorf("hybrid search: %w", err)
		}
	} else {
		raw = p.index.Search(vec, k)
	}

	results := make([]QueryResult, 0, len(raw))
	for _, r := range raw {
		if r.Similarity < threshold {
			continue
		}
		qr := QueryResult{
			DataKey:    r.Key,
			Similarity: r.Similarity,
			Sequence:   r.Sequence,
		}
		if payload, ok := r.Payload.(*itemPayload); ok {
			qr.Data = payload.Data
			qr.Timestamp = payload.UpdatedAt
		}
		results = append(results, qr)
	}

	slog.Debug("Query served", "project_id", req.ProjectID, "results", len(results), "k", k)
	return results, nil
}

// DataItem is one stored item as surfaced on the read endpoints.
type DataItem struct {
	DataKey   string         `json:"data_key"`
	Data      any            `json:"data"`
	Format    string         `json:"data_format,omitempty"`
	Sequence  int64          `json:"sequence"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ProjectData lists every item in the project, ordered by key.
func (e *Engine) ProjectData(ctx context.Context, projectID string) ([]DataItem, error) {
	_, span := e.startSpan(ctx, "engine.project_data", trace.WithAttributes(
		attribute.String("project_id", projectID)))
	defer span.End()

	p, ok := e.lookupProject(projectID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, projectID)
	}

	entries := p.index.All()
	items := make([]DataItem, 0, len(entries))
	for _, entry := range entries {
		item := DataItem{DataKey: entry.Key, Sequence: entry.Sequence}
		if payload, ok := entry.Payload.(*itemPayload); ok {
			item.Data = payload.Data
			item.Format = payload.Format
			item.Timestamp = payload.UpdatedAt
			item.Metadata = payload.Metadata
		}
		items = append(items, item)
	}
	return items, nil
}

// ProjectEvents returns up to count events with sequence greater than
// since, oldest first. The second return reports whether history before
// the retained window was requested.
func (e *Engine) ProjectEvents(ctx context.Context, projectID string, since int64, count int) ([]eventlog.Event, bool, error) {
	_, span := e.startSpan(ctx, "engine.project_events", trace.WithAttributes(
		attribute.String("project_id", projectID)))
	defer span.End()

	p, ok := e.lookupProject(projectID)
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", ErrProjectNotFound, projectID)
	}
	if count <= 0 {
		count = DefaultEventPage
	}

	events, truncated := p.log.Since(since)
	if len(events) > count {
		events = events[:count]
	}
	return events, truncated, nil
}

// AgentDescriptor is a registered agent as surfaced on the read
// endpoints. The webhook secret never leaves the engine.
type AgentDescriptor struct {
	AgentID             string    `json:"agent_id"`
	ProjectID           string    `json:"project_id"`
	DataNeeds           []string  `json:"data_needs"`
	NotificationMethod  string    `json:"notification_method"`
	NotificationChannel string    `json:"notification_channel,omitempty"`
	WebhookURL          string    `json:"webhook_url,omitempty"`
	LastSeenSequence    int64     `json:"last_seen_sequence"`
	RegisteredAt        time.Time `json:"registered_at"`
}

// Agents lists the project's registered agents, ordered by agent ID. An
// unknown project simply has no agents.
func (e *Engine) Agents(projectID string) []AgentDescriptor {
	var out []AgentDescriptor
	e.agents.Range(func(_ string, reg *registration) bool {
		if reg.projectID == projectID {
			out = append(out, describe(reg))
		}
		return true
	})
	sortAgents(out)
	return out
}

// AgentInfo returns one agent's registration details.
func (e *Engine) AgentInfo(projectID, agentID string) (*AgentDescriptor, error) {
	reg, ok := e.agents.Load(delivery.Channel(projectID, agentID))
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	d := describe(reg)
	return &d, nil
}

func sortAgents(agents []AgentDescriptor) {
	slices.SortFunc(agents, func(a, b AgentDescriptor) int {
		return strings.Compare(a.AgentID, b.AgentID)
	})
}

func describe(reg *registration) AgentDescriptor {
	d := AgentDescriptor{
		AgentID:            reg.agentID,
		ProjectID:          reg.projectID,
		DataNeeds:          reg.needs,
		NotificationMethod: reg.method,
		LastSeenSequence:   reg.lastSeen.Load(),
		RegisteredAt:       reg.registeredAt,
	}
	if reg.method == MethodWebhook {
		d.WebhookURL = reg.webhookURL
	} else {
		d.NotificationChannel = reg.channel
	}
	return d
}

// CleanupResult reports what a project cleanup removed.
type CleanupResult struct {
	ProjectID string `json:"project_id"`
	Items     int    `json:"items"`
	Agents    int    `json:"agents"`
	Events    int    `json:"events"`
}

// CleanupProject drops the project's in-memory state, stops its agents'
// workers and deletes its stored rows.
func (e *Engine) CleanupProject(ctx context.Context, projectID string) (*CleanupResult, error) {
	_, span := e.startSpan(ctx, "engine.cleanup", trace.WithAttributes(
		attribute.String("project_id", projectID)))
	defer span.End()

	p, ok := e.lookupProject(projectID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, projectID)
	}

	var channels []string
	e.agents.Range(func(channel string, reg *registration) bool {
		if reg.projectID == projectID {
			channels = append(channels, channel)
		}
		return true
	})

	p.mu.Lock()
	res := &CleanupResult{
		ProjectID: projectID,
		Items:     p.index.Len(),
		Agents:    len(channels),
		Events:    p.log.Len(),
	}
	for _, channel := range channels {
		e.dispatcher.Stop(channel)
		e.agents.Delete(channel)
	}
	e.projects.Delete(projectID)
	p.index.Reset()
	if p.hybrid != nil {
		_ = p.hybrid.Close()
	}
	p.mu.Unlock()

	if e.store != nil {
		if err := e.store.DeleteProject(ctx, projectID); err != nil {
			slog.Warn("Deleting stored project failed", "project_id", projectID, "error", err)
		}
	}

	slog.Info("Project cleaned up", "project_id", projectID, "items", res.Items, "agents", res.Agents)
	return res, nil
}
