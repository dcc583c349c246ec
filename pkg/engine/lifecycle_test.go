package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contexhq/contex/pkg/broker"
	"github.com/contexhq/contex/pkg/store"
)

func TestBatchPublish(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t)
	ctx := t.Context()

	results, err := e.BatchPublish(ctx, "p", []BatchEntry{
		{DataKey: "coding_standards", Data: map[string]any{"style": "x"}},
		{DataKey: "bad", Data: "broken payload"},
		{DataKey: "release_plan", Data: map[string]any{"deploy": "y"}},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, int64(1), results[0].Sequence)
	assert.Empty(t, results[0].Error)

	assert.Zero(t, results[1].Sequence)
	assert.NotEmpty(t, results[1].Error)

	// The failed entry burned no sequence.
	assert.Equal(t, int64(2), results[2].Sequence)
}

func TestBatchPublishValidation(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t)
	ctx := t.Context()

	_, err := e.BatchPublish(ctx, "", []BatchEntry{{DataKey: "k", Data: "v"}})
	require.ErrorIs(t, err, ErrValidation)

	_, err = e.BatchPublish(ctx, "p", nil)
	require.ErrorIs(t, err, ErrValidation)
}

func TestCleanupProject(t *testing.T) {
	t.Parallel()
	e, b := newTestEngine(t)
	ctx := t.Context()

	publish(t, e, "p", "coding_standards", map[string]any{"style": "x"})
	publish(t, e, "p", "release_plan", map[string]any{"deploy": "y"})

	sub := subscribe(t, b, "p", "worker")
	_, err := e.Register(ctx, RegisterRequest{
		ProjectID: "p",
		AgentID:   "worker",
		DataNeeds: []string{"code style rules"},
	})
	require.NoError(t, err)
	recv(t, sub) // initial context
	recv(t, sub) // two replayed events
	recv(t, sub)

	res, err := e.CleanupProject(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, &CleanupResult{ProjectID: "p", Items: 2, Agents: 1, Events: 2}, res)

	_, err = e.ProjectData(ctx, "p")
	require.ErrorIs(t, err, ErrProjectNotFound)
	assert.Empty(t, e.Agents("p"))
	_, err = e.AgentInfo("p", "worker")
	require.ErrorIs(t, err, ErrAgentNotFound)

	_, err = e.CleanupProject(ctx, "p")
	require.ErrorIs(t, err, ErrProjectNotFound)

	// The project starts over from scratch.
	fresh := publish(t, e, "p", "coding_standards", map[string]any{"style": "x"})
	assert.Equal(t, int64(1), fresh.Sequence)
	assertNoMessage(t, sub)
}

func TestProjectEvents(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t)
	ctx := t.Context()

	publish(t, e, "p", "a_key", map[string]any{"style": "a"})
	publish(t, e, "p", "b_key", map[string]any{"style": "b"})
	publish(t, e, "p", "c_key", map[string]any{"style": "c"})

	events, truncated, err := e.ProjectEvents(ctx, "p", 1, 0)
	require.NoError(t, err)
	assert.False(t, truncated)
	require.Len(t, events, 2)
	assert.Equal(t, int64(2), events[0].Sequence)
	assert.Equal(t, "b_key_updated", events[0].Type)

	events, _, err = e.ProjectEvents(ctx, "p", 0, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(1), events[0].Sequence)

	_, _, err = e.ProjectEvents(ctx, "ghost", 0, 0)
	require.ErrorIs(t, err, ErrProjectNotFound)
}

func TestQueryHybrid(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t, WithHybridSearch(0.7, 0.3))
	ctx := t.Context()

	publish(t, e, "p", "coding_standards", map[string]any{"style": "two space indent"})
	publish(t, e, "p", "release_plan", map[string]any{"deploy": "fridays are frozen"})

	results, err := e.Query(ctx, QueryRequest{ProjectID: "p", Query: "style indent"})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "coding_standards", results[0].DataKey)
}

func TestLoadWithoutStore(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t)
	require.NoError(t, e.Load(t.Context()))
}

func TestLoadRestoresState(t *testing.T) {
	t.Parallel()
	st := store.NewMemory()
	b := broker.NewMemory()
	t.Cleanup(func() {
		_ = b.Close()
		_ = st.Close()
	})
	ctx := t.Context()

	first := New(stubEmbedder{}, WithBroker(b), WithStore(st))
	publish(t, first, "app", "coding_standards", map[string]any{"style": "two space indent"})
	publish(t, first, "app", "release_plan", map[string]any{"deploy": "fridays are frozen"})

	sub := subscribe(t, b, "app", "helper")
	_, err := first.Register(ctx, RegisterRequest{
		ProjectID: "app",
		AgentID:   "helper",
		DataNeeds: []string{"code style rules"},
	})
	require.NoError(t, err)
	recv(t, sub) // initial context
	recv(t, sub) // two replayed events
	recv(t, sub)
	require.NoError(t, first.Close())

	second := New(stubEmbedder{}, WithBroker(b), WithStore(st))
	t.Cleanup(func() { require.NoError(t, second.Close()) })
	require.NoError(t, second.Load(ctx))

	assert.Equal(t, Stats{Projects: 1, Items: 2, Agents: 1}, second.Stats())

	agents := second.Agents("app")
	require.Len(t, agents, 1)
	assert.Equal(t, "helper", agents[0].AgentID)
	assert.Equal(t, []string{"code style rules"}, agents[0].DataNeeds)
	assert.Equal(t, int64(2), agents[0].LastSeenSequence)

	items, err := second.ProjectData(ctx, "app")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "coding_standards", items[0].DataKey)
	assert.Equal(t, int64(1), items[0].Sequence)

	// Sequences continue where the previous process stopped, and the
	// restored registration keeps receiving matching updates.
	res := publish(t, second, "app", "style_guide", map[string]any{"style": "naming"})
	assert.Equal(t, int64(3), res.Sequence)

	update := recv(t, sub)
	assert.Equal(t, "data_update", update["type"])
	assert.EqualValues(t, 3, update["sequence"])
	assert.Equal(t, "style_guide", update["data_key"])

	// Events before the restart are gone, so stale cursors are told the
	// history was truncated and get a fresh snapshot instead.
	resp, err := second.Register(ctx, RegisterRequest{
		ProjectID:        "app",
		AgentID:          "helper",
		DataNeeds:        []string{"code style rules"},
		LastSeenSequence: 1,
	})
	require.NoError(t, err)
	assert.True(t, resp.CatchupTruncated)
	assert.Equal(t, 1, resp.CaughtUpEvents)
	assert.Equal(t, int64(3), resp.LastSeenSequence)
}
