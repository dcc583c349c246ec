package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupSQLite(t *testing.T) *SQLite {
	t.Helper()

	s, err := NewSQLite(filepath.Join(t.TempDir(), "contex.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testItem(key string, seq int64) Item {
	return Item{
		Key:         key,
		Description: key + " description",
		Data:        json.RawMessage(`{"v":1}`),
		Format:      "json",
		Vector:      []float32{0.1, 0.2, 0.3},
		Sequence:    seq,
		UpdatedAt:   time.Now().UTC(),
	}
}

func testAgent(id string) Agent {
	return Agent{
		ID:           id,
		Needs:        []Need{{Text: "deployment status", Vector: []float32{1, 0}}},
		WebhookURL:   "https://example.com/hook",
		Secret:       "shh",
		Cursor:       3,
		RegisteredAt: time.Now().UTC(),
	}
}

func TestSQLiteItems(t *testing.T) {
	t.Parallel()
	s := setupSQLite(t)
	ctx := t.Context()

	require.NoError(t, s.SaveItem(ctx, "proj", testItem("beta", 1)))
	require.NoError(t, s.SaveItem(ctx, "proj", testItem("alpha", 2)))

	items, err := s.GetItems(ctx, "proj")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "alpha", items[0].Key)
	assert.Equal(t, "beta", items[1].Key)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, items[0].Vector)
	assert.JSONEq(t, `{"v":1}`, string(items[0].Data))
	assert.Equal(t, "json", items[0].Format)
	assert.WithinDuration(t, time.Now(), items[0].UpdatedAt, 5*time.Second)

	// Saving the same key again replaces the row.
	updated := testItem("alpha", 7)
	updated.Data = json.RawMessage(`{"v":2}`)
	require.NoError(t, s.SaveItem(ctx, "proj", updated))

	items, err = s.GetItems(ctx, "proj")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, int64(7), items[0].Sequence)
	assert.JSONEq(t, `{"v":2}`, string(items[0].Data))
}

func TestSQLiteAgents(t *testing.T) {
	t.Parallel()
	s := setupSQLite(t)
	ctx := t.Context()

	require.NoError(t, s.SaveAgent(ctx, "proj", testAgent("reviewer")))

	agents, err := s.GetAgents(ctx, "proj")
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, "reviewer", agents[0].ID)
	assert.Equal(t, []Need{{Text: "deployment status", Vector: []float32{1, 0}}}, agents[0].Needs)
	assert.Equal(t, "https://example.com/hook", agents[0].WebhookURL)
	assert.Equal(t, int64(3), agents[0].Cursor)

	require.NoError(t, s.SaveCursor(ctx, "proj", "reviewer", 9))
	agents, err = s.GetAgents(ctx, "proj")
	require.NoError(t, err)
	assert.Equal(t, int64(9), agents[0].Cursor)

	require.NoError(t, s.DeleteAgent(ctx, "proj", "reviewer"))
	require.NoError(t, s.DeleteAgent(ctx, "proj", "reviewer"), "deletes are idempotent")
	agents, err = s.GetAgents(ctx, "proj")
	require.NoError(t, err)
	assert.Empty(t, agents)
}

func TestSQLiteSequence(t *testing.T) {
	t.Parallel()
	s := setupSQLite(t)
	ctx := t.Context()

	projects, err := s.GetProjects(ctx)
	require.NoError(t, err)
	assert.Empty(t, projects)

	require.NoError(t, s.SaveSequence(ctx, "proj", 42))
	// Saving an item creates its project row implicitly.
	require.NoError(t, s.SaveItem(ctx, "other", testItem("k", 1)))

	projects, err = s.GetProjects(ctx)
	require.NoError(t, err)
	require.Len(t, projects, 2)
	assert.Equal(t, Project{ID: "other", LastSequence: 0}, projects[0])
	assert.Equal(t, Project{ID: "proj", LastSequence: 42}, projects[1])
}

func TestSQLiteDeleteProjectCascades(t *testing.T) {
	t.Parallel()
	s := setupSQLite(t)
	ctx := t.Context()

	require.NoError(t, s.SaveItem(ctx, "proj", testItem("k", 1)))
	require.NoError(t, s.SaveAgent(ctx, "proj", testAgent("a")))
	require.NoError(t, s.SaveSequence(ctx, "proj", 5))
	require.NoError(t, s.SaveItem(ctx, "keep", testItem("k", 1)))

	require.NoError(t, s.DeleteProject(ctx, "proj"))

	items, err := s.GetItems(ctx, "proj")
	require.NoError(t, err)
	assert.Empty(t, items)
	agents, err := s.GetAgents(ctx, "proj")
	require.NoError(t, err)
	assert.Empty(t, agents)

	projects, err := s.GetProjects(ctx)
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, "keep", projects[0].ID)
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "contex.db")
	ctx := t.Context()

	first, err := NewSQLite(path)
	require.NoError(t, err)
	require.NoError(t, first.SaveItem(ctx, "proj", testItem("k", 4)))
	require.NoError(t, first.SaveAgent(ctx, "proj", testAgent("a")))
	require.NoError(t, first.SaveSequence(ctx, "proj", 4))
	require.NoError(t, first.Close())

	second, err := NewSQLite(path)
	require.NoError(t, err)
	defer second.Close()

	items, err := second.GetItems(ctx, "proj")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, int64(4), items[0].Sequence)

	agents, err := second.GetAgents(ctx, "proj")
	require.NoError(t, err)
	require.Len(t, agents, 1)

	projects, err := second.GetProjects(ctx)
	require.NoError(t, err)
	require.Equal(t, []Project{{ID: "proj", LastSequence: 4}}, projects)
}

func TestSQLiteEmptyIDs(t *testing.T) {
	t.Parallel()
	s := setupSQLite(t)
	ctx := t.Context()

	assert.ErrorIs(t, s.SaveItem(ctx, "", testItem("k", 1)), ErrEmptyID)
	assert.ErrorIs(t, s.SaveItem(ctx, "proj", Item{}), ErrEmptyID)
	assert.ErrorIs(t, s.SaveAgent(ctx, "proj", Agent{}), ErrEmptyID)
	assert.ErrorIs(t, s.SaveCursor(ctx, "proj", "", 1), ErrEmptyID)
	assert.ErrorIs(t, s.DeleteAgent(ctx, "", "a"), ErrEmptyID)
	assert.ErrorIs(t, s.SaveSequence(ctx, "", 1), ErrEmptyID)
	assert.ErrorIs(t, s.DeleteProject(ctx, ""), ErrEmptyID)
}

func TestSQLiteCanceledContext(t *testing.T) {
	t.Parallel()
	s := setupSQLite(t)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	require.Error(t, s.SaveItem(ctx, "proj", testItem("k", 1)))
	_, err := s.GetItems(ctx, "proj")
	require.Error(t, err)
}
