package httpapi

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/meikuraledutech/canvas"
	"github.com/meikuraledutech/canvas/badgerstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testToken = "secret"

func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	store, err := badgerstore.Open("", true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	return New(store, opts...)
}

func call(t *testing.T, s *Server, method, path string, body any, token string) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.App().Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func graph() canvas.Graph {
	return canvas.Graph{
		Nodes: []canvas.Node{
			{ID: "agent_1", Type: canvas.NodeAgent, Data: canvas.NodeData{Label: "Agent"}, Selected: true},
			{ID: "tool_1", Type: canvas.NodeTool, Data: canvas.NodeData{Label: "Tool"}},
		},
		Edges: []canvas.Edge{{ID: "edge-agent_1-tool_1", Source: "agent_1", Target: "tool_1"}},
	}
}

func startRun(t *testing.T, s *Server) string {
	t.Helper()
	code, body := call(t, s, http.MethodPost, BasePath+"/workflow/execute",
		canvas.StartRequest{CanvasID: "c1", CanvasData: graph(), WorkflowID: "workflow_1"}, "")
	require.Equal(t, http.StatusOK, code, string(body))
	var out struct {
		RunID  string           `json:"run_id"`
		Status canvas.RunStatus `json:"status"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	require.NotEmpty(t, out.RunID)
	assert.Equal(t, canvas.StatusRunning, out.Status)
	return out.RunID
}

func getRun(t *testing.T, s *Server, id string) canvas.Run {
	t.Helper()
	code, body := call(t, s, http.MethodGet, BasePath+"/workflow/status/"+id, nil, "")
	require.Equal(t, http.StatusOK, code, string(body))
	var run canvas.Run
	require.NoError(t, json.Unmarshal(body, &run))
	return run
}

func TestHealthSkipsAuth(t *testing.T) {
	s := newTestServer(t, WithToken(testToken))

	code, body := call(t, s, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestTokenRequired(t *testing.T) {
	s := newTestServer(t, WithToken(testToken))

	code, _ := call(t, s, http.MethodGet, BasePath+"/canvas/project/p1", nil, "")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = call(t, s, http.MethodGet, BasePath+"/canvas/project/p1", nil, "wrong")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, body := call(t, s, http.MethodGet, BasePath+"/canvas/project/p1", nil, testToken)
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[]`, string(body))
}

func TestCanvasRoutes(t *testing.T) {
	s := newTestServer(t)

	code, body := call(t, s, http.MethodPost, BasePath+"/canvas",
		createCanvasRequest{ProjectID: "p1", Description: "demo", CanvasData: graph()}, "")
	require.Equal(t, http.StatusCreated, code, string(body))
	var doc canvas.Document
	require.NoError(t, json.Unmarshal(body, &doc))
	assert.Equal(t, "Untitled Canvas", doc.Name)
	assert.Equal(t, 1, doc.Version)
	assert.False(t, doc.CanvasData.Nodes[0].Selected)

	code, body = call(t, s, http.MethodGet, BasePath+"/canvas/"+doc.ID, nil, "")
	require.Equal(t, http.StatusOK, code)
	var got canvas.Document
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Len(t, got.CanvasData.Nodes, 2)

	g := graph()
	g.Nodes = g.Nodes[:1]
	g.Edges = nil
	code, body = call(t, s, http.MethodPost, BasePath+"/canvas/"+doc.ID+"/save", g, "")
	require.Equal(t, http.StatusOK, code, string(body))
	assert.JSONEq(t, `{"version":2}`, string(body))

	code, body = call(t, s, http.MethodGet, BasePath+"/canvas/project/p1", nil, "")
	require.Equal(t, http.StatusOK, code)
	var docs []canvas.Document
	require.NoError(t, json.Unmarshal(body, &docs))
	require.Len(t, docs, 1)
	assert.Equal(t, 2, docs[0].Version)

	code, _ = call(t, s, http.MethodDelete, BasePath+"/canvas/"+doc.ID, nil, "")
	assert.Equal(t, http.StatusNoContent, code)

	code, _ = call(t, s, http.MethodGet, BasePath+"/canvas/"+doc.ID, nil, "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestCanvasErrors(t *testing.T) {
	s := newTestServer(t)

	code, _ := call(t, s, http.MethodPost, BasePath+"/canvas", createCanvasRequest{Name: "x"}, "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = call(t, s, http.MethodPost, BasePath+"/canvas/missing/save", graph(), "")
	assert.Equal(t, http.StatusNotFound, code)

	_, body := call(t, s, http.MethodPost, BasePath+"/canvas", createCanvasRequest{ProjectID: "p"}, "")
	var doc canvas.Document
	require.NoError(t, json.Unmarshal(body, &doc))

	dangling := graph()
	dangling.Edges = append(dangling.Edges, canvas.Edge{ID: "e", Source: "agent_1", Target: "ghost"})
	code, body = call(t, s, http.MethodPost, BasePath+"/canvas/"+doc.ID+"/save", dangling, "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, string(body), "error")
}

func TestSaveClampsNodeConfig(t *testing.T) {
	s := newTestServer(t)

	g := graph()
	g.Nodes[0].Data.Config = json.RawMessage(`{"llm_config":{"temperature":5}}`)
	code, body := call(t, s, http.MethodPost, BasePath+"/canvas", createCanvasRequest{ProjectID: "p", CanvasData: g}, "")
	require.Equal(t, http.StatusCreated, code, string(body))
	var doc canvas.Document
	require.NoError(t, json.Unmarshal(body, &doc))
	assert.JSONEq(t, `{"llm_config":{"temperature":1}}`, string(doc.CanvasData.Nodes[0].Data.Config))

	g.Nodes[1].Data.Config = json.RawMessage(`{"tool_name":"search","timeout":9999}`)
	code, body = call(t, s, http.MethodPost, BasePath+"/canvas/"+doc.ID+"/save", g, "")
	require.Equal(t, http.StatusOK, code, string(body))

	code, body = call(t, s, http.MethodGet, BasePath+"/canvas/"+doc.ID, nil, "")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(body, &doc))
	assert.JSONEq(t, `{"tool_name":"search","timeout":300}`, string(doc.CanvasData.Nodes[1].Data.Config))

	g.Nodes[1].Data.Config = json.RawMessage(`{"tool_name":"","timeout":10}`)
	code, body = call(t, s, http.MethodPost, BasePath+"/canvas/"+doc.ID+"/save", g, "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, string(body), "tool name is required")
}

func TestExecuteRejectsEmptyGraph(t *testing.T) {
	s := newTestServer(t)

	code, body := call(t, s, http.MethodPost, BasePath+"/workflow/execute",
		canvas.StartRequest{CanvasID: "c1", WorkflowID: "workflow_1"}, "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, string(body), "no nodes")
}

func TestRunEventsFold(t *testing.T) {
	s := newTestServer(t)
	id := startRun(t, s)

	code, _ := call(t, s, http.MethodPost, BasePath+"/workflow/runs/"+id+"/events",
		canvas.Event{Type: canvas.EventLog, Message: "step 1"}, "")
	assert.Equal(t, http.StatusNoContent, code)
	assert.Equal(t, canvas.StatusRunning, getRun(t, s, id).Status)

	elapsed := 3.25
	code, _ = call(t, s, http.MethodPost, BasePath+"/workflow/runs/"+id+"/events",
		canvas.Event{Type: canvas.EventStatusUpdate, Status: canvas.StatusCompleted, ExecutionTime: &elapsed}, "")
	assert.Equal(t, http.StatusNoContent, code)

	run := getRun(t, s, id)
	assert.Equal(t, canvas.StatusCompleted, run.Status)
	require.NotNil(t, run.ExecutionTime)
	assert.Equal(t, 3.25, *run.ExecutionTime)
	assert.NotNil(t, run.CompletedAt)

	code, _ = call(t, s, http.MethodPost, BasePath+"/workflow/runs/"+id+"/events",
		canvas.Event{Type: canvas.EventStatusUpdate, Status: canvas.StatusFailed}, "")
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, canvas.StatusCompleted, getRun(t, s, id).Status)
}

func TestIngestRejectsBadEvents(t *testing.T) {
	s := newTestServer(t)
	id := startRun(t, s)

	code, _ := call(t, s, http.MethodPost, BasePath+"/workflow/runs/"+id+"/events",
		canvas.Event{Type: "bogus"}, "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = call(t, s, http.MethodPost, BasePath+"/workflow/runs/missing/events",
		canvas.Event{Type: canvas.EventLog, Message: "x"}, "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestCancelIsIdempotent(t *testing.T) {
	s := newTestServer(t)
	id := startRun(t, s)

	code, body := call(t, s, http.MethodPost, BasePath+"/workflow/cancel/"+id, nil, "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), `"cancelled"`)

	code, body = call(t, s, http.MethodPost, BasePath+"/workflow/cancel/"+id, nil, "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), `"cancelled"`)

	run := getRun(t, s, id)
	assert.Equal(t, canvas.StatusCancelled, run.Status)
	assert.NotNil(t, run.CompletedAt)

	code, _ = call(t, s, http.MethodPost, BasePath+"/workflow/cancel/missing", nil, "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestListRunsQuery(t *testing.T) {
	s := newTestServer(t)
	first := startRun(t, s)
	startRun(t, s)
	call(t, s, http.MethodPost, BasePath+"/workflow/cancel/"+first, nil, "")

	code, body := call(t, s, http.MethodGet, BasePath+"/workflow/runs?canvas_id=c1", nil, "")
	require.Equal(t, http.StatusOK, code)
	var runs []canvas.Run
	require.NoError(t, json.Unmarshal(body, &runs))
	assert.Len(t, runs, 2)

	code, body = call(t, s, http.MethodGet, BasePath+"/workflow/runs?canvas_id=c1&status=cancelled&limit=5", nil, "")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(body, &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, first, runs[0].ID)

	code, _ = call(t, s, http.MethodGet, BasePath+"/workflow/runs?limit=abc", nil, "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = call(t, s, http.MethodGet, BasePath+"/workflow/runs?status=paused", nil, "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestDispatcherFailureFailsRun(t *testing.T) {
	var dispatched canvas.Run
	s := newTestServer(t, WithDispatcher(DispatcherFunc(func(_ context.Context, run canvas.Run, g canvas.Graph) error {
		dispatched = run
		assert.Len(t, g.Nodes, 2)
		return errors.New("engine offline")
	})))

	code, body := call(t, s, http.MethodPost, BasePath+"/workflow/execute",
		canvas.StartRequest{CanvasID: "c1", CanvasData: graph(), WorkflowID: "workflow_1"}, "")
	assert.Equal(t, http.StatusBadGateway, code)
	assert.Contains(t, string(body), "engine offline")

	require.NotEmpty(t, dispatched.ID)
	run := getRun(t, s, dispatched.ID)
	assert.Equal(t, canvas.StatusFailed, run.Status)
	require.NotNil(t, run.ErrorMessage)
	assert.Contains(t, *run.ErrorMessage, "engine offline")
}

func TestStreamRequiresUpgrade(t *testing.T) {
	s := newTestServer(t)
	id := startRun(t, s)

	code, _ := call(t, s, http.MethodGet, "/ws/execution_"+id, nil, "")
	assert.Equal(t, http.StatusUpgradeRequired, code)

	code, _ = call(t, s, http.MethodGet, "/ws/"+id, nil, "")
	assert.Equal(t, http.StatusNotFound, code)
}
