package engine

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contexhq/contex/pkg/broker"
	"github.com/contexhq/contex/pkg/delivery"
)

// stubEmbedder maps topics onto orthogonal axes so cosine similarity is
// exactly 1 within a topic and 0 across topics.
type stubEmbedder struct{}

func (stubEmbedder) Name() string { return "stub" }

func (stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := keywordVector(text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (stubEmbedder) EmbedOne(_ context.Context, text string) ([]float32, error) {
	return keywordVector(text)
}

func keywordVector(text string) ([]float32, error) {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "broken"):
		return nil, errors.New("embedding backend unavailable")
	case strings.Contains(lower, "style"):
		return []float32{1, 0, 0}, nil
	case strings.Contains(lower, "deploy"):
		return []float32{0, 1, 0}, nil
	case strings.Contains(lower, "topic"):
		return []float32{0, 0, 1}, nil
	}
	return []float32{0, 0, 0}, nil
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *broker.Memory) {
	t.Helper()
	b := broker.NewMemory()
	e := New(stubEmbedder{}, append([]Option{WithBroker(b)}, opts...)...)
	t.Cleanup(func() {
		require.NoError(t, e.Close())
		_ = b.Close()
	})
	return e, b
}

func subscribe(t *testing.T, b *broker.Memory, projectID, agentID string) broker.Subscription {
	t.Helper()
	sub, err := b.Subscribe(t.Context(), delivery.Channel(projectID, agentID))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })
	return sub
}

func recv(t *testing.T, sub broker.Subscription) map[string]any {
	t.Helper()
	select {
	case msg, ok := <-sub.Messages():
		require.True(t, ok, "subscription closed")
		var payload map[string]any
		require.NoError(t, json.Unmarshal(msg.Payload, &payload))
		return payload
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
		return nil
	}
}

func assertNoMessage(t *testing.T, sub broker.Subscription) {
	t.Helper()
	select {
	case msg := <-sub.Messages():
		t.Fatalf("unexpected notification: %s", msg.Payload)
	case <-time.After(200 * time.Millisecond):
	}
}

func publish(t *testing.T, e *Engine, projectID, key string, data any) *PublishResult {
	t.Helper()
	res, err := e.Publish(t.Context(), PublishRequest{ProjectID: projectID, DataKey: key, Data: data})
	require.NoError(t, err)
	return res
}

func TestPublishAssignsSequences(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t)

	res := publish(t, e, "web-app", "coding_standards", map[string]any{"style": "two space indent"})
	assert.Equal(t, "web-app", res.ProjectID)
	assert.Equal(t, "coding_standards", res.DataKey)
	assert.Equal(t, int64(1), res.Sequence)

	res = publish(t, e, "web-app", "release_plan", map[string]any{"deploy": "fridays are frozen"})
	assert.Equal(t, int64(2), res.Sequence)

	// Sequences are scoped per project.
	res = publish(t, e, "other", "coding_standards", map[string]any{"style": "tabs"})
	assert.Equal(t, int64(1), res.Sequence)
}

func TestPublishValidation(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t)
	ctx := t.Context()

	_, err := e.Publish(ctx, PublishRequest{DataKey: "k", Data: "v"})
	require.ErrorIs(t, err, ErrValidation)

	_, err = e.Publish(ctx, PublishRequest{ProjectID: "p", Data: "v"})
	require.ErrorIs(t, err, ErrValidation)

	_, err = e.Publish(ctx, PublishRequest{ProjectID: "p", DataKey: "k"})
	require.ErrorIs(t, err, ErrValidation)
}

func TestPublishEmbeddingFailureBurnsNoSequence(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t)
	ctx := t.Context()

	_, err := e.Publish(ctx, PublishRequest{ProjectID: "p", DataKey: "notes", Data: "broken backend sample"})
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrValidation)

	// The failed publish left no trace, so the next one gets sequence 1.
	res := publish(t, e, "p", "notes", "style notes")
	assert.Equal(t, int64(1), res.Sequence)

	items, err := e.ProjectData(ctx, "p")
	require.NoError(t, err)
	require.Len(t, items, 1)
}

func TestPublishNormalizesFormats(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t)
	ctx := t.Context()

	_, err := e.Publish(ctx, PublishRequest{
		ProjectID: "p",
		DataKey:   "pipeline_config",
		Data:      "deploy_target: staging\nreplicas: 3\n",
		Format:    "yaml",
	})
	require.NoError(t, err)

	items, err := e.ProjectData(ctx, "p")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "yaml", items[0].Format)

	encoded, err := json.Marshal(items[0].Data)
	require.NoError(t, err)
	assert.JSONEq(t, `{"deploy_target":"staging","replicas":3}`, string(encoded))
}

func TestQueryRanksAndFilters(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t)
	ctx := t.Context()

	publish(t, e, "p", "coding_standards", map[string]any{"style": "two space indent"})
	publish(t, e, "p", "release_plan", map[string]any{"deploy": "fridays are frozen"})

	results, err := e.Query(ctx, QueryRequest{ProjectID: "p", Query: "style guidance"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "coding_standards", results[0].DataKey)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-9)
	assert.Equal(t, int64(1), results[0].Sequence)
	require.NotNil(t, results[0].Data)

	// The orthogonal item scores 0 and stays below the threshold.
	results, err = e.Query(ctx, QueryRequest{ProjectID: "p", Query: "unrelated everything"})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestQueryMaxResults(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t)

	publish(t, e, "p", "style_a", map[string]any{"style": "a"})
	publish(t, e, "p", "style_b", map[string]any{"style": "b"})

	results, err := e.Query(t.Context(), QueryRequest{ProjectID: "p", Query: "style", MaxResults: 1})
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestQueryUnknownProject(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t)

	_, err := e.Query(t.Context(), QueryRequest{ProjectID: "ghost", Query: "anything"})
	require.ErrorIs(t, err, ErrProjectNotFound)
}

func TestQueryValidation(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t)

	_, err := e.Query(t.Context(), QueryRequest{Query: "q"})
	require.ErrorIs(t, err, ErrValidation)

	_, err = e.Query(t.Context(), QueryRequest{ProjectID: "p"})
	require.ErrorIs(t, err, ErrValidation)
}

func TestStats(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t)

	publish(t, e, "p1", "coding_standards", map[string]any{"style": "x"})
	publish(t, e, "p2", "release_plan", map[string]any{"deploy": "y"})

	_, err := e.Register(t.Context(), RegisterRequest{
		ProjectID: "p1",
		AgentID:   "assistant",
		DataNeeds: []string{"code style rules"},
	})
	require.NoError(t, err)

	stats := e.Stats()
	assert.Equal(t, Stats{Projects: 2, Items: 2, Agents: 1}, stats)
}
