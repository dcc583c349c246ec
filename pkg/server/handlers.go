package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/contexhq/contex/pkg/engine"
	"github.com/contexhq/contex/pkg/eventlog"
	"github.com/contexhq/contex/pkg/export"
	"github.com/contexhq/contex/pkg/health"
	"github.com/contexhq/contex/pkg/parser"
	"github.com/contexhq/contex/pkg/version"
)

// httpError maps engine failures onto HTTP status codes. Anything not
// recognized is a 500.
func httpError(err error) error {
	switch {
	case errors.Is(err, engine.ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrProjectNotFound), errors.Is(err, engine.ErrAgentNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) root(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"service": "contex",
		"status":  "running",
		"version": version.Version,
	})
}

type publishPayload struct {
	ProjectID string          `json:"project_id"`
	DataKey   string          `json:"data_key"`
	Data      json.RawMessage `json:"data"`
	Format    string          `json:"data_format"`
	EventType string          `json:"event_type"`
	Metadata  map[string]any  `json:"metadata"`
}

type publishResponse struct {
	Status    string `json:"status"`
	ProjectID string `json:"project_id"`
	DataKey   string `json:"data_key"`
	Sequence  int64  `json:"sequence"`
}

// decodeData turns the raw JSON payload into the engine's value form,
// keeping object key order. An absent or null payload stays nil so the
// engine reports the missing data itself.
func decodeData(raw json.RawMessage) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	return parser.Decode(raw)
}

func (s *Server) publish(c echo.Context) error {
	var p publishPayload
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
	}

	data, err := decodeData(p.Data)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid data payload: %v", err))
	}

	res, err := s.engine.Publish(c.Request().Context(), engine.PublishRequest{
		ProjectID: p.ProjectID,
		DataKey:   p.DataKey,
		Data:      data,
		Format:    p.Format,
		EventType: p.EventType,
		Metadata:  p.Metadata,
	})
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, publishResponse{
		Status:    "published",
		ProjectID: res.ProjectID,
		DataKey:   res.DataKey,
		Sequence:  res.Sequence,
	})
}

type batchPayload struct {
	ProjectID string           `json:"project_id"`
	Entries   []batchItemInput `json:"entries"`
}

type batchItemInput struct {
	DataKey   string          `json:"data_key"`
	Data      json.RawMessage `json:"data"`
	Format    string          `json:"data_format"`
	EventType string          `json:"event_type"`
	Metadata  map[string]any  `json:"metadata"`
}

type batchPublished struct {
	DataKey  string `json:"data_key"`
	Sequence int64  `json:"sequence"`
}

type batchFailure struct {
	DataKey string `json:"data_key"`
	Error   string `json:"error"`
}

type batchResponse struct {
	Published []batchPublished `json:"published"`
	Errors    []batchFailure   `json:"errors"`
	Total     int              `json:"total"`
}

func (s *Server) batchPublish(c echo.Context) error {
	var p batchPayload
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
	}

	entries := make([]engine.BatchEntry, len(p.Entries))
	for i, in := range p.Entries {
		// The body already parsed as JSON, so per-entry decoding can
		// only trip on an absent payload; the engine rejects those.
		data, _ := decodeData(in.Data)
		entries[i] = engine.BatchEntry{
			DataKey:   in.DataKey,
			Data:      data,
			Format:    in.Format,
			EventType: in.EventType,
			Metadata:  in.Metadata,
		}
	}

	results, err := s.engine.BatchPublish(c.Request().Context(), p.ProjectID, entries)
	if err != nil {
		return httpError(err)
	}

	resp := batchResponse{
		Published: []batchPublished{},
		Errors:    []batchFailure{},
		Total:     len(results),
	}
	for _, r := range results {
		if r.Error != "" {
			resp.Errors = append(resp.Errors, batchFailure{DataKey: r.DataKey, Error: r.Error})
		} else {
			resp.Published = append(resp.Published, batchPublished{DataKey: r.DataKey, Sequence: r.Sequence})
		}
	}
	return c.JSON(http.StatusOK, resp)
}

type queryResponse struct {
	Results []engine.QueryResult `json:"results"`
	Total   int                  `json:"total"`
}

func (s *Server) query(c echo.Context) error {
	var req engine.QueryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
	}

	results, err := s.engine.Query(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	if results == nil {
		results = []engine.QueryResult{}
	}

	return c.JSON(http.StatusOK, queryResponse{Results: results, Total: len(results)})
}

func (s *Server) register(c echo.Context) error {
	var req engine.RegisterRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
	}

	res, err := s.engine.Register(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, res)
}

type unregisterPayload struct {
	ProjectID string `json:"project_id"`
}

func (s *Server) unregister(c echo.Context) error {
	agentID := c.Param("id")

	var p unregisterPayload
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
	}
	if p.ProjectID == "" {
		p.ProjectID = c.QueryParam("project_id")
	}
	if p.ProjectID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "project_id is required")
	}

	if err := s.engine.Unregister(c.Request().Context(), p.ProjectID, agentID); err != nil {
		return httpError(err)
	}

	return c.NoContent(http.StatusNoContent)
}

type agentList struct {
	Agents []engine.AgentDescriptor `json:"agents"`
	Count  int                      `json:"count"`
}

func (s *Server) listAgents(c echo.Context) error {
	projectID := c.QueryParam("project_id")
	if projectID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "project_id is required")
	}

	agents := s.engine.Agents(projectID)
	if agents == nil {
		agents = []engine.AgentDescriptor{}
	}

	return c.JSON(http.StatusOK, agentList{Agents: agents, Count: len(agents)})
}

func (s *Server) getAgent(c echo.Context) error {
	projectID := c.QueryParam("project_id")
	if projectID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "project_id is required")
	}

	agent, err := s.engine.AgentInfo(projectID, c.Param("id"))
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, agent)
}

func (s *Server) projectData(c echo.Context) error {
	items, err := s.engine.ProjectData(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

type eventList struct {
	Events    []eventlog.Event `json:"events"`
	Count     int              `json:"count"`
	Truncated bool             `json:"truncated,omitempty"`
}

func (s *Server) projectEvents(c echo.Context) error {
	var since int64
	if raw := c.QueryParam("since"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid since parameter: %v", err))
		}
		since = parsed
	}

	var count int
	if raw := c.QueryParam("count"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid count parameter: %v", err))
		}
		count = parsed
	}

	events, truncated, err := s.engine.ProjectEvents(c.Request().Context(), c.Param("id"), since, count)
	if err != nil {
		return httpError(err)
	}
	if events == nil {
		events = []eventlog.Event{}
	}

	return c.JSON(http.StatusOK, eventList{Events: events, Count: len(events), Truncated: truncated})
}

func (s *Server) exportProject(c echo.Context) error {
	format, err := export.ParseFormat(c.QueryParam("format"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	env, err := export.Snapshot(c.Request().Context(), s.engine, c.Param("id"))
	if err != nil {
		return httpError(err)
	}

	raw, err := export.Encode(env, format)
	if err != nil {
		return httpError(err)
	}

	contentType := echo.MIMEApplicationJSON
	if format == export.FormatTOON {
		contentType = echo.MIMETextPlainCharsetUTF8
	}
	return c.Blob(http.StatusOK, contentType, raw)
}

func (s *Server) importProject(c echo.Context) error {
	validateOnly := false
	if raw := c.QueryParam("validate_only"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid validate_only parameter: %v", err))
		}
		validateOnly = parsed
	}
	overwrite := true
	if raw := c.QueryParam("overwrite"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid overwrite parameter: %v", err))
		}
		overwrite = parsed
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("reading request body: %v", err))
	}

	env, err := export.Decode(body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid dump: %v", err))
	}

	projectID := c.Param("id")
	if env.ProjectID != projectID {
		return echo.NewHTTPError(http.StatusBadRequest,
			fmt.Sprintf("project ID mismatch: URL says %q, dump says %q", projectID, env.ProjectID))
	}

	res, err := export.Apply(c.Request().Context(), s.engine, env, export.ApplyOptions{
		ValidateOnly: validateOnly,
		Overwrite:    overwrite,
	})
	if err != nil {
		if errors.Is(err, export.ErrInvalid) {
			return c.JSON(http.StatusBadRequest, res)
		}
		return httpError(err)
	}

	return c.JSON(http.StatusOK, res)
}

type cleanupResponse struct {
	Status string                `json:"status"`
	Stats  *engine.CleanupResult `json:"stats"`
}

func (s *Server) cleanup(c echo.Context) error {
	stats, err := s.engine.CleanupProject(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, cleanupResponse{Status: "success", Stats: stats})
}

func (s *Server) health(c echo.Context) error {
	if s.checker == nil {
		return c.JSON(http.StatusOK, map[string]string{"status": string(health.StatusHealthy)})
	}

	report := s.checker.Check(c.Request().Context())
	code := http.StatusOK
	if report.Status == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, report)
}

type readiness struct {
	Ready bool `json:"ready"`
}

func (s *Server) ready(c echo.Context) error {
	if s.checker == nil {
		return c.JSON(http.StatusOK, readiness{Ready: true})
	}

	report := s.checker.Check(c.Request().Context())
	if !report.Healthy() {
		return c.JSON(http.StatusServiceUnavailable, readiness{Ready: false})
	}
	return c.JSON(http.StatusOK, readiness{Ready: true})
}

func (s *Server) live(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]bool{"alive": true})
}
