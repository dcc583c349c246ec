package client

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contexhq/contex/pkg/engine"
	"github.com/contexhq/contex/pkg/export"
	"github.com/contexhq/contex/pkg/health"
	"github.com/contexhq/contex/pkg/server"
)

type stubEmbedder struct{}

func (stubEmbedder) Name() string { return "stub" }

func (stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = stubVector(text)
	}
	return out, nil
}

func (stubEmbedder) EmbedOne(_ context.Context, text string) ([]float32, error) {
	return stubVector(text), nil
}

func stubVector(text string) []float32 {
	if strings.Contains(text, "style") {
		return []float32{1, 0}
	}
	return []float32{0, 1}
}

func newFixture(t *testing.T, opts ...server.Option) *Client {
	t.Helper()

	eng := engine.New(stubEmbedder{})
	t.Cleanup(func() {
		require.NoError(t, eng.Close())
	})

	srv := httptest.NewServer(server.New(eng, opts...).Handler())
	t.Cleanup(srv.Close)

	return New(srv.URL)
}

func TestPublishAndQuery(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	c := newFixture(t)

	res, err := c.Publish(ctx, engine.PublishRequest{
		ProjectID: "app",
		DataKey:   "coding_standards",
		Data:      map[string]any{"style": "two space indent"},
	})
	require.NoError(t, err)
	assert.Equal(t, "app", res.ProjectID)
	assert.Equal(t, int64(1), res.Sequence)

	results, err := c.Query(ctx, engine.QueryRequest{
		ProjectID:  "app",
		Query:      "code style rules",
		MaxResults: 3,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "coding_standards", results[0].DataKey)
}

func TestPublishValidationError(t *testing.T) {
	t.Parallel()
	c := newFixture(t)

	_, err := c.Publish(t.Context(), engine.PublishRequest{
		DataKey: "orphan",
		Data:    map[string]any{"a": 1},
	})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 400, apiErr.Status)
	assert.Contains(t, apiErr.Message, "project_id")
}

func TestRegisterAndUnregister(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	c := newFixture(t)

	_, err := c.Publish(ctx, engine.PublishRequest{
		ProjectID: "app",
		DataKey:   "coding_standards",
		Data:      map[string]any{"style": "x"},
	})
	require.NoError(t, err)

	reg, err := c.Register(ctx, engine.RegisterRequest{
		ProjectID: "app",
		AgentID:   "helper",
		DataNeeds: []string{"code style rules"},
	})
	require.NoError(t, err)
	assert.Equal(t, "helper", reg.AgentID)
	assert.Equal(t, 1, reg.MatchedNeeds["code style rules"])

	require.NoError(t, c.Unregister(ctx, "app", "helper"))

	err = c.Unregister(ctx, "app", "helper")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 404, apiErr.Status)
}

func TestProjectData(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	c := newFixture(t)

	for _, key := range []string{"alpha", "beta"} {
		_, err := c.Publish(ctx, engine.PublishRequest{
			ProjectID: "app",
			DataKey:   key,
			Data:      map[string]any{"k": key},
		})
		require.NoError(t, err)
	}

	items, err := c.ProjectData(ctx, "app")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "alpha", items[0].DataKey)
}

func TestExportImportRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	src := newFixture(t)

	for _, key := range []string{"coding_standards", "release_plan"} {
		_, err := src.Publish(ctx, engine.PublishRequest{
			ProjectID: "app",
			DataKey:   key,
			Data:      map[string]any{"k": key},
		})
		require.NoError(t, err)
	}

	dump, err := src.Export(ctx, "app", export.FormatJSON)
	require.NoError(t, err)
	assert.Contains(t, string(dump), "coding_standards")

	dst := newFixture(t)
	res, err := dst.Import(ctx, "app", dump, false)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Items)

	items, err := dst.ProjectData(ctx, "app")
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestImportValidateOnly(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	src := newFixture(t)

	_, err := src.Publish(ctx, engine.PublishRequest{
		ProjectID: "app",
		DataKey:   "coding_standards",
		Data:      map[string]any{"style": "x"},
	})
	require.NoError(t, err)

	dump, err := src.Export(ctx, "app", export.FormatJSON)
	require.NoError(t, err)

	dst := newFixture(t)
	res, err := dst.Import(ctx, "app", dump, true)
	require.NoError(t, err)
	assert.True(t, res.Validation.Valid)
	assert.Zero(t, res.Items)

	_, err = dst.ProjectData(ctx, "app")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 404, apiErr.Status)
}

func TestImportInvalidDump(t *testing.T) {
	t.Parallel()
	c := newFixture(t)

	env := &export.Envelope{
		ProjectID:  "app",
		ExportedAt: time.Now().UTC(),
		Version:    export.Version,
		Data: export.Data{
			Items: []export.Item{{DataKey: "", Sequence: 1}},
		},
	}
	dump, err := json.Marshal(env)
	require.NoError(t, err)

	res, err := c.Import(t.Context(), "app", dump, false)
	require.ErrorIs(t, err, export.ErrInvalid)
	require.NotNil(t, res)
	assert.False(t, res.Validation.Valid)
	assert.NotEmpty(t, res.Validation.Errors)
}

func TestCleanup(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	c := newFixture(t)

	_, err := c.Publish(ctx, engine.PublishRequest{
		ProjectID: "app",
		DataKey:   "coding_standards",
		Data:      map[string]any{"style": "x"},
	})
	require.NoError(t, err)

	stats, err := c.Cleanup(ctx, "app")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Items)
}

func TestHealth(t *testing.T) {
	t.Parallel()
	c := newFixture(t)

	report, err := c.Health(t.Context())
	require.NoError(t, err)
	assert.True(t, report.Healthy())
}

func TestHealthUnhealthyStillReports(t *testing.T) {
	t.Parallel()

	checker := health.NewChecker([]health.Probe{
		{
			Name:     "broker",
			Critical: true,
			Check: func(context.Context) error {
				return assert.AnError
			},
		},
	})
	c := newFixture(t, server.WithChecker(checker))

	report, err := c.Health(t.Context())
	require.NoError(t, err)
	assert.False(t, report.Healthy())
	assert.Equal(t, health.StatusUnhealthy, report.Status)
}
