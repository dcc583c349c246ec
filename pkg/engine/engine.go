// Package engine wires normalization, embedding, matching and delivery
// into the publish, register and query operations. State is held in
// memory per project; an optional store makes it survive restarts.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/contexhq/contex/pkg/broker"
	"github.com/contexhq/contex/pkg/concurrent"
	"github.com/contexhq/contex/pkg/delivery"
	"github.com/contexhq/contex/pkg/eventlog"
	"github.com/contexhq/contex/pkg/index"
	"github.com/contexhq/contex/pkg/matcher"
	"github.com/contexhq/contex/pkg/normalize"
	"github.com/contexhq/contex/pkg/store"
)

// DefaultMaxMatches caps how many items a query or need snapshot returns.
const DefaultMaxMatches = 10

// Notification methods accepted at registration.
const (
	MethodRedis   = "redis"
	MethodWebhook = "webhook"
)

var (
	ErrValidation      = errors.New("validation failed")
	ErrProjectNotFound = errors.New("project not found")
	ErrAgentNotFound   = errors.New("agent not registered")
)

// Embedder turns text into vectors. embedding.Cache satisfies it.
type Embedder interface {
	Name() string
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// Engine is the orchestrator. One instance serves every project.
type Engine struct {
	embedder   Embedder
	normalizer *normalize.Normalizer
	broker     broker.Broker
	ownBroker  bool
	store      store.Store
	httpClient *http.Client
	tracer     trace.Tracer

	threshold    float64
	maxMatches   int
	ringCapacity int
	queueSize    int

	hybridEnabled bool
	bm25Weight    float64
	knnWeight     float64

	dispatcher *delivery.Dispatcher
	projects   *concurrent.Map[string, *project]
	// agents is keyed by the delivery channel name, which is unique per
	// (project, agent) pair and doubles as the dispatcher worker key.
	agents *concurrent.Map[string, *registration]
}

// project holds per-project state. mu serializes the publish path so
// sequence assignment, index upsert and match recomputation stay atomic
// with respect to other publishes and registrations on the project.
type project struct {
	id string

	mu      sync.Mutex
	index   *index.Index
	hybrid  *index.Hybrid
	log     *eventlog.Log
	matcher *matcher.Matcher
}

// registration is a live agent as the engine tracks it.
type registration struct {
	agentID      string
	projectID    string
	channel      string
	needs        []string
	needVectors  [][]float32
	method       string
	webhookURL   string
	secret       string
	registeredAt time.Time
	lastSeen     atomic.Int64
}

// itemPayload is what the vector index stores per data key.
type itemPayload struct {
	Data      any
	Format    string
	Text      string
	Metadata  map[string]any
	UpdatedAt time.Time
}

type Option func(*Engine)

// WithBroker sets the pub/sub broker for redis-method agents. The
// caller keeps ownership; without this option the engine runs its own
// in-process broker.
func WithBroker(b broker.Broker) Option {
	return func(e *Engine) {
		e.broker = b
		e.ownBroker = false
	}
}

// WithStore attaches durable storage for items, agents and cursors.
func WithStore(s store.Store) Option {
	return func(e *Engine) {
		e.store = s
	}
}

// WithThreshold sets the minimum similarity for a need to match.
func WithThreshold(t float64) Option {
	return func(e *Engine) {
		if t > 0 {
			e.threshold = t
		}
	}
}

// WithMaxMatches caps per-need and per-query result counts.
func WithMaxMatches(k int) Option {
	return func(e *Engine) {
		if k > 0 {
			e.maxMatches = k
		}
	}
}

// WithRingCapacity sets how many events each project retains.
func WithRingCapacity(n int) Option {
	return func(e *Engine) {
		e.ringCapacity = n
	}
}

// WithQueueSize bounds each agent's delivery queue.
func WithQueueSize(n int) Option {
	return func(e *Engine) {
		e.queueSize = n
	}
}

// WithHybridSearch enables BM25+vector fusion for queries. Weights ≤ 0
// fall back to the defaults.
func WithHybridSearch(bm25Weight, knnWeight float64) Option {
	return func(e *Engine) {
		e.hybridEnabled = true
		e.bm25Weight = bm25Weight
		e.knnWeight = knnWeight
	}
}

// WithHTTPClient sets the client used for webhook deliveries.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) {
		if c != nil {
			e.httpClient = c
		}
	}
}

// WithTracer enables span recording on the engine operations.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = t
	}
}

func New(embedder Embedder, opts ...Option) *Engine {
	e := &Engine{
		embedder:   embedder,
		normalizer: normalize.New(),
		broker:     broker.NewMemory(),
		ownBroker:  true,
		httpClient: http.DefaultClient,
		threshold:  matcher.DefaultThreshold,
		maxMatches: DefaultMaxMatches,
		projects:   concurrent.NewMap[string, *project](),
		agents:     concurrent.NewMap[string, *registration](),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.dispatcher = delivery.NewDispatcher(e.queueSize, e.handleLag)

	slog.Debug("Engine initialized",
		"embedder", embedder.Name(),
		"broker", e.broker.Name(),
		"threshold", e.threshold,
		"hybrid", e.hybridEnabled,
		"durable", e.store != nil)
	return e
}

// Load restores persisted projects and agent registrations. Vectors
// come back from the store, so nothing is re-embedded.
func (e *Engine) Load(ctx context.Context) error {
	if e.store == nil {
		return nil
	}

	projects, err := e.store.GetProjects(ctx)
	if err != nil {
		return fmt.Errorf("loading projects: %w", err)
	}

	for _, pr := range projects {
		p, err := e.getProject(pr.ID)
		if err != nil {
			return err
		}

		items, err := e.store.GetItems(ctx, pr.ID)
		if err != nil {
			return fmt.Errorf("loading items for %s: %w", pr.ID, err)
		}
		agents, err := e.store.GetAgents(ctx, pr.ID)
		if err != nil {
			return fmt.Errorf("loading agents for %s: %w", pr.ID, err)
		}

		p.mu.Lock()
		p.log.Restore(pr.LastSequence)
		for _, it := range items {
			var data any
			if len(it.Data) > 0 {
				if err := json.Unmarshal(it.Data, &data); err != nil {
					slog.Warn("Skipping stored item with bad data", "project_id", pr.ID, "data_key", it.Key, "error", err)
					continue
				}
			}
			payload := &itemPayload{
				Data:      data,
				Format:    it.Format,
				Text:      it.Description,
				UpdatedAt: it.UpdatedAt,
			}
			p.index.Upsert(it.Key, it.Vector, payload, it.Sequence)
			if p.hybrid != nil {
				if err := p.hybrid.Upsert(it.Key, it.Description, string(it.Data)); err != nil {
					slog.Warn("Hybrid index restore failed", "project_id", pr.ID, "data_key", it.Key, "error", err)
				}
			}
		}

		for _, ag := range agents {
			needs := make([]string, len(ag.Needs))
			needVectors := make([][]float32, len(ag.Needs))
			matcherNeeds := make([]matcher.Need, len(ag.Needs))
			for i, need := range ag.Needs {
				needs[i] = need.Text
				needVectors[i] = need.Vector
				matcherNeeds[i] = matcher.Need{Text: need.Text, Vector: need.Vector}
			}
			p.matcher.Register(ag.ID, matcherNeeds, matcherItems(p.index))

			method := MethodRedis
			if ag.WebhookURL != "" {
				method = MethodWebhook
			}
			reg := &registration{
				agentID:      ag.ID,
				projectID:    pr.ID,
				channel:      delivery.Channel(pr.ID, ag.ID),
				needs:        needs,
				needVectors:  needVectors,
				method:       method,
				webhookURL:   ag.WebhookURL,
				secret:       ag.Secret,
				registeredAt: ag.RegisteredAt,
			}
			reg.lastSeen.Store(ag.Cursor)
			e.startWorker(reg)
		}
		p.mu.Unlock()

		slog.Info("Restored project",
			"project_id", pr.ID,
			"items", len(items),
			"agents", len(agents),
			"sequence", pr.LastSequence)
	}
	return nil
}

// Close stops delivery workers and releases per-project indexes. The
// broker and store are closed only if the engine created them.
func (e *Engine) Close() error {
	e.dispatcher.Close()
	e.projects.Range(func(_ string, p *project) bool {
		if p.hybrid != nil {
			_ = p.hybrid.Close()
		}
		return true
	})
	if e.ownBroker {
		return e.broker.Close()
	}
	return nil
}

// Stats summarizes engine-wide state for health and ops surfaces.
type Stats struct {
	Projects int `json:"projects"`
	Items    int `json:"items"`
	Agents   int `json:"agents"`
}

func (e *Engine) Stats() Stats {
	s := Stats{Agents: e.agents.Length()}
	e.projects.Range(func(_ string, p *project) bool {
		s.Projects++
		s.Items += p.index.Len()
		return true
	})
	return s
}

// getProject returns the project, creating it on first use.
func (e *Engine) getProject(id string) (*project, error) {
	if p, ok := e.projects.Load(id); ok {
		return p, nil
	}

	built, err := e.newProject(id)
	if err != nil {
		return nil, err
	}
	p := e.projects.LoadOrCompute(id, func() *project { return built })
	if p != built && built.hybrid != nil {
		// Lost the creation race.
		_ = built.hybrid.Close()
	}
	return p, nil
}

// lookupProject returns the project without creating it.
func (e *Engine) lookupProject(id string) (*project, bool) {
	return e.projects.Load(id)
}

func (e *Engine) newProject(id string) (*project, error) {
	p := &project{
		id:      id,
		index:   index.New(),
		log:     eventlog.New(e.ringCapacity),
		matcher: matcher.New(e.threshold),
	}
	if e.hybridEnabled {
		hybrid, err := index.NewHybrid(p.index, e.bm25Weight, e.knnWeight)
		if err != nil {
			return nil, fmt.Errorf("creating hybrid index for %s: %w", id, err)
		}
		p.hybrid = hybrid
	}
	return p, nil
}

// startWorker builds the agent's sink and hands it a dispatcher worker.
func (e *Engine) startWorker(reg *registration) {
	var sink delivery.Sink
	if reg.method == MethodWebhook {
		sink = delivery.NewWebhookSink(e.httpClient, reg.webhookURL, reg.secret)
	} else {
		sink = delivery.NewBrokerSink(e.broker, reg.channel)
	}
	e.dispatcher.Start(reg.channel, sink)
	e.agents.Store(reg.channel, reg)
}

// handleLag resets a lagging agent's cursor so its next register gets a
// fresh snapshot instead of an impossible catch-up.
func (e *Engine) handleLag(channel string) {
	reg, ok := e.agents.Load(channel)
	if !ok {
		return
	}
	reg.lastSeen.Store(0)
	if e.store != nil {
		if err := e.store.SaveCursor(context.Background(), reg.projectID, reg.agentID, 0); err != nil {
			slog.Warn("Persisting lag reset failed", "agent_id", reg.agentID, "error", err)
		}
	}
	slog.Debug("Cursor reset after lag", "project_id", reg.projectID, "agent_id", reg.agentID)
}

func (e *Engine) startSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if e.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return e.tracer.Start(ctx, name, opts...)
}

// matcherItems adapts the index contents for matcher snapshots.
func matcherItems(ix *index.Index) []matcher.Item {
	entries := ix.All()
	items := make([]matcher.Item, len(entries))
	for i, entry := range entries {
		items[i] = matcher.Item{Key: entry.Key, Vector: entry.Vector, Sequence: entry.Sequence}
	}
	return items
}
