// Package client talks to the canvas HTTP API. Client implements both
// canvas.GraphService and canvas.RunService.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gofiber/fiber/v3/client"
	"github.com/meikuraledutech/canvas"
	"go.uber.org/zap"
)

// DefaultTimeout matches the editor's request timeout.
const DefaultTimeout = 30 * time.Second

var (
	_ canvas.GraphService = (*Client)(nil)
	_ canvas.RunService   = (*Client)(nil)
)

// Option configures a Client.
type Option func(*Client)

// WithToken sends token as a bearer credential on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithTimeout bounds each request. The default is 30s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l.Named("client")
		}
	}
}

// Client is a remote canvas API client.
type Client struct {
	http    *client.Client
	baseURL string
	token   string
	timeout time.Duration
	log     *zap.Logger
}

// New returns a client for the API rooted at baseURL, for example
// "http://localhost:8000/api/v1".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: DefaultTimeout,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.http = client.New().
		SetBaseURL(c.baseURL).
		SetTimeout(c.timeout).
		SetJSONMarshal(json.Marshal).
		SetJSONUnmarshal(json.Unmarshal)
	return c
}

// BaseURL is the API root this client was built for.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) config(ctx context.Context, body any) client.Config {
	cfg := client.Config{Ctx: ctx, Body: body}
	if c.token != "" {
		cfg.Header = map[string]string{"Authorization": "Bearer " + c.token}
	}
	return cfg
}

// do issues one request and decodes a 2xx response into out when out is non-nil.
func (c *Client) do(ctx context.Context, op, method, path string, params map[string]string, body, out any) error {
	cfg := c.config(ctx, body)
	cfg.Param = params

	var (
		resp *client.Response
		err  error
	)
	start := time.Now()
	switch method {
	case http.MethodGet:
		resp, err = c.http.Get(path, cfg)
	case http.MethodPost:
		resp, err = c.http.Post(path, cfg)
	case http.MethodDelete:
		resp, err = c.http.Delete(path, cfg)
	default:
		return fmt.Errorf("client: unsupported method %s", method)
	}
	if err != nil {
		c.log.Warn("request failed", zap.String("op", op), zap.String("path", path), zap.Error(err))
		return canvas.NewRemoteError(op, 0, err)
	}
	defer resp.Close()

	status := resp.StatusCode()
	c.log.Debug("request",
		zap.String("op", op),
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", status),
		zap.Duration("took", time.Since(start)))

	if status >= 300 {
		return remoteError(op, status, resp.Body())
	}
	if out == nil || status == http.StatusNoContent {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return canvas.NewRemoteError(op, status, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// remoteError maps a non-2xx response. 401 surfaces as ErrSessionExpired and
// 404 as ErrNotFound; other bodies contribute their "error" message.
func remoteError(op string, status int, body []byte) error {
	switch status {
	case http.StatusUnauthorized:
		return canvas.NewRemoteError(op, status, canvas.ErrSessionExpired)
	case http.StatusNotFound:
		return canvas.NewRemoteError(op, status, canvas.ErrNotFound)
	}
	var payload struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	msg := http.StatusText(status)
	if json.Unmarshal(body, &payload) == nil {
		switch {
		case payload.Error != "":
			msg = payload.Error
		case payload.Detail != "":
			msg = payload.Detail
		}
	}
	return canvas.NewRemoteError(op, status, errors.New(msg))
}

// ── Canvases ──────────────────────────────────────────────────────────

// GetGraph fetches a persisted canvas.
func (c *Client) GetGraph(ctx context.Context, id string) (*canvas.Document, error) {
	var doc canvas.Document
	if err := c.do(ctx, "get canvas", http.MethodGet, "/canvas/"+id, nil, nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// SaveGraph replaces the stored graph of canvas id.
func (c *Client) SaveGraph(ctx context.Context, id string, g *canvas.Graph) error {
	_, err := c.SaveGraphVersion(ctx, id, g)
	return err
}

// SaveGraphVersion is SaveGraph returning the version the server assigned.
func (c *Client) SaveGraphVersion(ctx context.Context, id string, g *canvas.Graph) (int, error) {
	var out struct {
		Version int `json:"version"`
	}
	if err := c.do(ctx, "save canvas", http.MethodPost, "/canvas/"+id+"/save", nil, g.Clone(), &out); err != nil {
		return 0, err
	}
	return out.Version, nil
}

type createRequest struct {
	ProjectID   string       `json:"project_id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	CanvasData  canvas.Graph `json:"canvas_data"`
}

// CreateGraph creates an empty canvas under projectID.
func (c *Client) CreateGraph(ctx context.Context, projectID, name, description string) (*canvas.Document, error) {
	req := createRequest{ProjectID: projectID, Name: name, Description: description}
	var doc canvas.Document
	if err := c.do(ctx, "create canvas", http.MethodPost, "/canvas", nil, req, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// ListCanvases lists the canvases of a project without their graphs.
func (c *Client) ListCanvases(ctx context.Context, projectID string) ([]canvas.Document, error) {
	var docs []canvas.Document
	if err := c.do(ctx, "list canvases", http.MethodGet, "/canvas/project/"+projectID, nil, nil, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// DeleteCanvas removes the canvas.
func (c *Client) DeleteCanvas(ctx context.Context, id string) error {
	return c.do(ctx, "delete canvas", http.MethodDelete, "/canvas/"+id, nil, nil, nil)
}

// ── Runs ──────────────────────────────────────────────────────────────

// StartRun submits a graph for execution and returns the new run id.
func (c *Client) StartRun(ctx context.Context, req canvas.StartRequest) (string, error) {
	var out struct {
		RunID  string           `json:"run_id"`
		Status canvas.RunStatus `json:"status"`
	}
	if err := c.do(ctx, "start run", http.MethodPost, "/workflow/execute", nil, req, &out); err != nil {
		return "", err
	}
	if out.RunID == "" {
		return "", canvas.NewRemoteError("start run", 0, errors.New("response has no run_id"))
	}
	return out.RunID, nil
}

// CancelRun asks the server to stop a run.
func (c *Client) CancelRun(ctx context.Context, runID string) error {
	return c.do(ctx, "cancel run", http.MethodPost, "/workflow/cancel/"+runID, nil, nil, nil)
}

// GetRun fetches the stored state of one run.
func (c *Client) GetRun(ctx context.Context, runID string) (*canvas.Run, error) {
	var run canvas.Run
	if err := c.do(ctx, "get run", http.MethodGet, "/workflow/status/"+runID, nil, nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns lists runs matching filter, newest first.
func (c *Client) ListRuns(ctx context.Context, filter canvas.RunFilter) ([]canvas.Run, error) {
	params := map[string]string{}
	if filter.CanvasID != "" {
		params["canvas_id"] = filter.CanvasID
	}
	if filter.Status != "" {
		params["status"] = string(filter.Status)
	}
	if filter.Limit > 0 {
		params["limit"] = strconv.Itoa(filter.Limit)
	}
	var runs []canvas.Run
	if err := c.do(ctx, "list runs", http.MethodGet, "/workflow/runs", params, nil, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// PostEvent delivers a run event to the server, which folds and broadcasts it.
// It is the hook an execution engine uses to report progress.
func (c *Client) PostEvent(ctx context.Context, runID string, ev canvas.Event) error {
	return c.do(ctx, "post event", http.MethodPost, "/workflow/runs/"+runID+"/events", nil, ev, nil)
}
