// Package client talks to a running Contex service over its REST API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/contexhq/contex/pkg/engine"
	"github.com/contexhq/contex/pkg/export"
	"github.com/contexhq/contex/pkg/health"
	"github.com/contexhq/contex/pkg/httpclient"
)

const DefaultBaseURL = "http://localhost:8000"

const defaultTimeout = 30 * time.Second

// APIError is a non-2xx response from the service.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

type Client struct {
	baseURL string
	http    *http.Client
}

type Option func(*Client)

// WithHTTPClient swaps the underlying HTTP client, for unix sockets or
// custom transports.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.http = h
	}
}

func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    httpclient.New(httpclient.WithTimeout(defaultTimeout)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Publish sends one item through the regular publish path. It satisfies
// the watcher's publisher interface, so directory watching can stream
// into a remote service.
func (c *Client) Publish(ctx context.Context, req engine.PublishRequest) (*engine.PublishResult, error) {
	var res engine.PublishResult
	if err := c.post(ctx, "/data/publish", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Query runs a similarity search over a project.
func (c *Client) Query(ctx context.Context, req engine.QueryRequest) ([]engine.QueryResult, error) {
	var res struct {
		Results []engine.QueryResult `json:"results"`
	}
	if err := c.post(ctx, "/query", req, &res); err != nil {
		return nil, err
	}
	return res.Results, nil
}

// Register announces an agent and its data needs.
func (c *Client) Register(ctx context.Context, req engine.RegisterRequest) (*engine.RegisterResponse, error) {
	var res engine.RegisterResponse
	if err := c.post(ctx, "/agents/register", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Unregister removes an agent from a project.
func (c *Client) Unregister(ctx context.Context, projectID, agentID string) error {
	endpoint := fmt.Sprintf("/agents/%s/unregister", url.PathEscape(agentID))
	return c.post(ctx, endpoint, map[string]string{"project_id": projectID}, nil)
}

// ProjectData lists everything the project currently holds.
func (c *Client) ProjectData(ctx context.Context, projectID string) ([]engine.DataItem, error) {
	var items []engine.DataItem
	endpoint := fmt.Sprintf("/projects/%s/data", url.PathEscape(projectID))
	if err := c.get(ctx, endpoint, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// Export fetches a project dump. The bytes come back exactly as the
// server encoded them, ready to be written to disk.
func (c *Client) Export(ctx context.Context, projectID string, format export.Format) ([]byte, error) {
	endpoint := fmt.Sprintf("/projects/%s/export?format=%s",
		url.PathEscape(projectID), url.QueryEscape(string(format)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, http.NoBody)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}
	return io.ReadAll(resp.Body)
}

// Import uploads a dump into the project. When the dump fails
// validation the returned result still carries the problems, alongside
// an error wrapping export.ErrInvalid.
func (c *Client) Import(ctx context.Context, projectID string, dump []byte, validateOnly bool) (*export.Result, error) {
	endpoint := fmt.Sprintf("/projects/%s/import", url.PathEscape(projectID))
	if validateOnly {
		endpoint += "?validate_only=true"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(dump))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var res export.Result
	if resp.StatusCode == http.StatusOK {
		if err := json.Unmarshal(buf, &res); err != nil {
			return nil, err
		}
		return &res, nil
	}
	if resp.StatusCode == http.StatusBadRequest {
		if err := json.Unmarshal(buf, &res); err == nil && len(res.Validation.Errors) > 0 {
			return &res, fmt.Errorf("%w: %d problems", export.ErrInvalid, len(res.Validation.Errors))
		}
	}
	return nil, errorFromBody(resp.StatusCode, buf)
}

// Cleanup drops a project and everything attached to it.
func (c *Client) Cleanup(ctx context.Context, projectID string) (*engine.CleanupResult, error) {
	var res struct {
		Stats *engine.CleanupResult `json:"stats"`
	}
	endpoint := fmt.Sprintf("/admin/cleanup/%s", url.PathEscape(projectID))
	if err := c.post(ctx, endpoint, nil, &res); err != nil {
		return nil, err
	}
	return res.Stats, nil
}

// Health fetches the aggregate health report. An unhealthy service
// answers 503 but still ships the report, so that is not an error here.
func (c *Client) Health(ctx context.Context) (*health.Report, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", http.NoBody)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return nil, decodeError(resp)
	}

	var report health.Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, err
	}
	return &report, nil
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, http.NoBody)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, endpoint string, in, out any) error {
	var body io.Reader = http.NoBody
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(buf, out)
}

func decodeError(resp *http.Response) error {
	buf, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return errorFromBody(resp.StatusCode, buf)
}

// errorFromBody lifts echo's {"message": ...} error shape into an
// APIError, falling back to the raw body.
func errorFromBody(status int, buf []byte) error {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(buf, &body); err == nil && body.Message != "" {
		return &APIError{Status: status, Message: body.Message}
	}
	return &APIError{Status: status, Message: strings.TrimSpace(string(buf))}
}
