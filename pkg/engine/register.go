package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/contexhq/contex/pkg/delivery"
	"github.com/contexhq/contex/pkg/matcher"
	"github.com/contexhq/contex/pkg/store"
)

type RegisterRequest struct {
	ProjectID          string   `json:"project_id"`
	AgentID            string   `json:"agent_id"`
	DataNeeds          []string `json:"data_needs"`
	NotificationMethod string   `json:"notification_method,omitempty"`
	WebhookURL         string   `json:"webhook_url,omitempty"`
	WebhookSecret      string   `json:"webhook_secret,omitempty"`
	LastSeenSequence   int64    `json:"last_seen_sequence,omitempty"`
}

type RegisterResponse struct {
	AgentID             string         `json:"agent_id"`
	ProjectID           string         `json:"project_id"`
	NotificationChannel string         `json:"notification_channel,omitempty"`
	MatchedNeeds        map[string]int `json:"matched_needs"`
	CaughtUpEvents      int            `json:"caught_up_events"`
	LastSeenSequence    int64          `json:"last_seen_sequence"`
	CatchupTruncated    bool           `json:"catchup_truncated,omitempty"`
}

// contextMatch is one matched item inside the initial context snapshot.
type contextMatch struct {
	DataKey    string  `json:"data_key"`
	Data       any     `json:"data"`
	Similarity float64 `json:"similarity"`
	Sequence   int64   `json:"sequence"`
}

type initialContext struct {
	Type     string                    `json:"type"`
	Sequence int64                     `json:"sequence"`
	Context  map[string][]contextMatch `json:"context"`
}

// eventEnvelope is one replayed event during catch-up.
type eventEnvelope struct {
	Type      string         `json:"type"`
	EventType string         `json:"event_type"`
	Sequence  int64          `json:"sequence"`
	Data      map[string]any `json:"data"`
}

// Register subscribes an agent to a project. The agent immediately gets
// an initial_context snapshot of items matching its needs, followed by
// a replay of events newer than its last seen sequence. Registering an
// existing agent ID replaces the previous registration.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error) {
	ctx, span := e.startSpan(ctx, "engine.register", trace.WithAttributes(
		attribute.String("project_id", req.ProjectID),
		attribute.String("agent_id", req.AgentID)))
	defer span.End()

	if strings.TrimSpace(req.ProjectID) == "" {
		return nil, fmt.Errorf("%w: project_id is required", ErrValidation)
	}
	if strings.TrimSpace(req.AgentID) == "" {
		return nil, fmt.Errorf("%w: agent_id is required", ErrValidation)
	}
	for _, need := range req.DataNeeds {
		if strings.TrimSpace(need) == "" {
			return nil, fmt.Errorf("%w: data_needs cannot contain empty entries", ErrValidation)
		}
	}

	method := req.NotificationMethod
	if method == "" {
		method = MethodRedis
	}
	switch method {
	case MethodRedis:
	case MethodWebhook:
		if err := validateWebhookURL(req.WebhookURL); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrValidation, err)
		}
	default:
		return nil, fmt.Errorf("%w: unknown notification_method %q", ErrValidation, method)
	}

	var needVectors [][]float32
	if len(req.DataNeeds) > 0 {
		vectors, err := e.embedder.Embed(ctx, req.DataNeeds)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "embedding failed")
			return nil, fmt.Errorf("embedding needs for %q: %w", req.AgentID, err)
		}
		needVectors = vectors
	}

	p, err := e.getProject(req.ProjectID)
	if err != nil {
		return nil, err
	}

	matcherNeeds := make([]matcher.Need, len(req.DataNeeds))
	storeNeeds := make([]store.Need, len(req.DataNeeds))
	for i, need := range req.DataNeeds {
		matcherNeeds[i] = matcher.Need{Text: need, Vector: needVectors[i]}
		storeNeeds[i] = store.Need{Text: need, Vector: needVectors[i]}
	}

	reg := &registration{
		agentID:      req.AgentID,
		projectID:    p.id,
		channel:      delivery.Channel(p.id, req.AgentID),
		needs:        req.DataNeeds,
		needVectors:  needVectors,
		method:       method,
		webhookURL:   req.WebhookURL,
		secret:       req.WebhookSecret,
		registeredAt: time.Now().UTC(),
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	matches := p.matcher.Register(req.AgentID, matcherNeeds, matcherItems(p.index))
	currentSeq := p.log.Latest()
	missed, truncated := p.log.Since(req.LastSeenSequence)

	reg.lastSeen.Store(currentSeq)
	e.startWorker(reg)

	snapshot := make(map[string][]contextMatch, len(req.DataNeeds))
	counts := make(map[string]int, len(req.DataNeeds))
	for _, need := range req.DataNeeds {
		list := make([]contextMatch, 0, len(matches[need]))
		for _, m := range matches[need] {
			entry, ok := p.index.Get(m.Key)
			if !ok {
				continue
			}
			cm := contextMatch{DataKey: m.Key, Similarity: m.Similarity, Sequence: m.Sequence}
			if payload, ok := entry.Payload.(*itemPayload); ok {
				cm.Data = payload.Data
			}
			list = append(list, cm)
		}
		snapshot[need] = list
		counts[need] = len(list)
	}

	if body, err := json.Marshal(initialContext{
		Type:     delivery.TypeInitialContext,
		Sequence: currentSeq,
		Context:  snapshot,
	}); err == nil {
		e.dispatcher.Enqueue(reg.channel, delivery.Envelope{
			AgentID:  req.AgentID,
			Type:     delivery.TypeInitialContext,
			Sequence: currentSeq,
			Body:     body,
		})
	} else {
		slog.Warn("Encoding initial context failed", "agent_id", req.AgentID, "error", err)
	}

	for _, ev := range missed {
		body, err := json.Marshal(eventEnvelope{
			Type:      delivery.TypeEvent,
			EventType: ev.Type,
			Sequence:  ev.Sequence,
			Data:      ev.Data,
		})
		if err != nil {
			slog.Warn("Encoding replay event failed", "agent_id", req.AgentID, "sequence", ev.Sequence, "error", err)
			continue
		}
		e.dispatcher.Enqueue(reg.channel, delivery.Envelope{
			AgentID:  req.AgentID,
			Type:     delivery.TypeEvent,
			Sequence: ev.Sequence,
			Body:     body,
		})
	}

	if e.store != nil {
		agent := store.Agent{
			ID:           req.AgentID,
			Needs:        storeNeeds,
			WebhookURL:   req.WebhookURL,
			Secret:       req.WebhookSecret,
			Cursor:       currentSeq,
			RegisteredAt: reg.registeredAt,
		}
		if err := e.store.SaveAgent(ctx, p.id, agent); err != nil {
			slog.Warn("Persisting agent failed", "project_id", p.id, "agent_id", req.AgentID, "error", err)
		}
	}

	slog.Info("Agent registered",
		"project_id", p.id,
		"agent_id", req.AgentID,
		"needs", len(req.DataNeeds),
		"method", method,
		"caught_up", len(missed),
		"sequence", currentSeq)
	span.SetStatus(codes.Ok, "")

	resp := &RegisterResponse{
		AgentID:          req.AgentID,
		ProjectID:        p.id,
		MatchedNeeds:     counts,
		CaughtUpEvents:   len(missed),
		LastSeenSequence: currentSeq,
		CatchupTruncated: truncated,
	}
	if method == MethodRedis {
		resp.NotificationChannel = reg.channel
	}
	return resp, nil
}

// Unregister removes the agent and stops its delivery worker. Anything
// still queued for it is dropped.
func (e *Engine) Unregister(ctx context.Context, projectID, agentID string) error {
	_, span := e.startSpan(ctx, "engine.unregister", trace.WithAttributes(
		attribute.String("project_id", projectID),
		attribute.String("agent_id", agentID)))
	defer span.End()

	p, ok := e.lookupProject(projectID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrProjectNotFound, projectID)
	}

	channel := delivery.Channel(projectID, agentID)
	if _, ok := e.agents.Load(channel); !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}

	p.mu.Lock()
	p.matcher.Unregister(agentID)
	e.dispatcher.Stop(channel)
	e.agents.Delete(channel)
	p.mu.Unlock()

	if e.store != nil {
		if err := e.store.DeleteAgent(ctx, projectID, agentID); err != nil {
			slog.Warn("Deleting stored agent failed", "project_id", projectID, "agent_id", agentID, "error", err)
		}
	}

	slog.Info("Agent unregistered", "project_id", projectID, "agent_id", agentID)
	return nil
}

func validateWebhookURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("webhook_url is required for webhook notifications")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid webhook_url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("webhook_url must be an absolute http or https URL")
	}
	return nil
}
