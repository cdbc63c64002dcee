package graphstore

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/meikuraledutech/canvas"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func agent(id string) canvas.Node {
	return canvas.Node{ID: id, Type: canvas.NodeAgent, Data: canvas.NodeData{Label: id}}
}

func tool(id string) canvas.Node {
	return canvas.Node{ID: id, Type: canvas.NodeTool, Data: canvas.NodeData{Label: id}}
}

func TestAddNode(t *testing.T) {
	s := New(WithLogger(zaptest.NewLogger(t)))
	before := s.Graph()

	require.NoError(t, s.AddNode(agent("a")))
	after := s.Graph()

	assert.NotSame(t, before, after, "mutation must publish a new graph value")
	assert.Empty(t, before.Nodes, "previous value must not change")
	require.Len(t, after.Nodes, 1)
	assert.Equal(t, "a", after.Nodes[0].ID)

	t.Run("duplicate id is rejected", func(t *testing.T) {
		err := s.AddNode(tool("a"))
		require.Error(t, err)
		assert.True(t, canvas.IsValidation(err))
		assert.Same(t, after, s.Graph(), "rejected mutation must not publish")
	})

	t.Run("empty id and unknown type are rejected", func(t *testing.T) {
		assert.True(t, canvas.IsValidation(s.AddNode(canvas.Node{Type: canvas.NodeAgent})))
		assert.True(t, canvas.IsValidation(s.AddNode(canvas.Node{ID: "x", Type: "widget"})))
	})
}

func TestAddEdge(t *testing.T) {
	s := New()
	require.NoError(t, s.AddNode(agent("a")))
	require.NoError(t, s.AddNode(tool("b")))

	require.NoError(t, s.AddEdge(canvas.Edge{ID: "e1", Source: "a", Target: "b"}))
	assert.Len(t, s.Graph().Edges, 1)

	tests := []struct {
		name string
		edge canvas.Edge
	}{
		{"missing source", canvas.Edge{ID: "e2", Source: "zz", Target: "b"}},
		{"missing target", canvas.Edge{ID: "e3", Source: "a", Target: "zz"}},
		{"duplicate id", canvas.Edge{ID: "e1", Source: "b", Target: "a"}},
		{"empty id", canvas.Edge{Source: "a", Target: "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.AddEdge(tt.edge)
			require.Error(t, err)
			assert.True(t, canvas.IsValidation(err))
		})
	}
	assert.Len(t, s.Graph().Edges, 1)
}

func TestConnect(t *testing.T) {
	s := New()
	require.NoError(t, s.AddNode(agent("a")))
	require.NoError(t, s.AddNode(tool("b")))

	e, err := s.Connect("a", "b")
	require.NoError(t, err)
	assert.Equal(t, "edge-a-b", e.ID)

	_, err = s.Connect("a", "b")
	assert.Error(t, err, "connecting the same pair twice is a duplicate edge")
}

func TestDeleteNodeCascades(t *testing.T) {
	s := New()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.AddNode(agent(id)))
	}
	require.NoError(t, s.AddEdge(canvas.Edge{ID: "ab", Source: "a", Target: "b"}))
	require.NoError(t, s.AddEdge(canvas.Edge{ID: "bc", Source: "b", Target: "c"}))
	require.NoError(t, s.AddEdge(canvas.Edge{ID: "ca", Source: "c", Target: "a"}))

	s.DeleteNode("b")

	g := s.Graph()
	assert.Len(t, g.Nodes, 2)
	require.Len(t, g.Edges, 1)
	assert.Equal(t, "ca", g.Edges[0].ID)
	assert.NoError(t, g.Validate())
}

func TestDeleteNodeNeverLeavesDanglingEdges(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	s := New()
	ids := make([]string, 0, 20)
	for i := 0; i < 300; i++ {
		switch op := rng.Intn(3); {
		case op == 0 || len(ids) < 2:
			id := fmt.Sprintf("n%d", i)
			require.NoError(t, s.AddNode(agent(id)))
			ids = append(ids, id)
		case op == 1:
			src, dst := ids[rng.Intn(len(ids))], ids[rng.Intn(len(ids))]
			_ = s.AddEdge(canvas.Edge{ID: fmt.Sprintf("e%d", i), Source: src, Target: dst})
		default:
			k := rng.Intn(len(ids))
			victim := ids[k]
			ids = append(ids[:k], ids[k+1:]...)
			s.DeleteNode(victim)
			for _, e := range s.Graph().Edges {
				assert.NotEqual(t, victim, e.Source)
				assert.NotEqual(t, victim, e.Target)
			}
		}
	}
	assert.NoError(t, s.Graph().Validate())
}

func TestDeleteMissingIsNoop(t *testing.T) {
	s := New()
	require.NoError(t, s.AddNode(agent("a")))
	g := s.Graph()

	s.DeleteNode("nope")
	s.DeleteEdge("nope")
	s.UpdateNodeData("nope", canvas.NodeData{Label: "x"})

	assert.Same(t, g, s.Graph())
}

func TestUpdateNodeDataReplaces(t *testing.T) {
	s := New()
	n := agent("a")
	n.Data.Config = []byte(`{"role":"writer","goal":"draft"}`)
	require.NoError(t, s.AddNode(n))

	s.UpdateNodeData("a", canvas.NodeData{Label: "renamed"})

	got, ok := s.Graph().Node("a")
	require.True(t, ok)
	assert.Equal(t, "renamed", got.Data.Label)
	assert.Nil(t, got.Data.Config, "data is replaced, not merged")
}

func TestUpdateNodeDataDoesNotAliasCaller(t *testing.T) {
	s := New()
	require.NoError(t, s.AddNode(agent("a")))

	cfg := []byte(`{"role":"a"}`)
	s.UpdateNodeData("a", canvas.NodeData{Label: "a", Config: cfg})
	cfg[2] = 'X'

	got, _ := s.Graph().Node("a")
	assert.JSONEq(t, `{"role":"a"}`, string(got.Data.Config))
}

func TestEditsClampNodeConfig(t *testing.T) {
	s := New(WithLogger(zaptest.NewLogger(t)))

	a := agent("a")
	a.Data.Config = []byte(`{"role":"r","llm_config":{"model":"m","temperature":5}}`)
	require.NoError(t, s.AddNode(a))
	got, _ := s.Graph().Node("a")
	assert.JSONEq(t, `{"role":"r","llm_config":{"model":"m","temperature":1}}`, string(got.Data.Config))

	require.NoError(t, s.AddNode(tool("t")))
	s.UpdateNodeData("t", canvas.NodeData{Label: "t", Config: []byte(`{"tool_name":"search","timeout":9999,"retries":2}`)})
	got, _ = s.Graph().Node("t")
	assert.JSONEq(t, `{"tool_name":"search","timeout":300,"retries":2}`, string(got.Data.Config))

	t.Run("tool without a name is rejected", func(t *testing.T) {
		before := s.Graph()
		s.UpdateNodeData("t", canvas.NodeData{Label: "t", Config: []byte(`{"tool_name":"","timeout":9999}`)})
		assert.Same(t, before, s.Graph(), "rejected update must not publish")

		bad := tool("u")
		bad.Data.Config = []byte(`{"timeout":5}`)
		err := s.AddNode(bad)
		var ve *canvas.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "tool_name", ve.Field)
		assert.False(t, s.Graph().HasNode("u"))
	})

	t.Run("config that is not an object is rejected", func(t *testing.T) {
		bad := agent("b")
		bad.Data.Config = []byte(`[1,2]`)
		assert.True(t, canvas.IsValidation(s.AddNode(bad)))
	})
}

func TestMoveNode(t *testing.T) {
	s := New()
	require.NoError(t, s.AddNode(agent("a")))
	s.MoveNode("a", canvas.Position{X: 10, Y: 20})
	got, _ := s.Graph().Node("a")
	assert.Equal(t, canvas.Position{X: 10, Y: 20}, got.Position)
}

func TestClearAndReset(t *testing.T) {
	s := New()
	require.NoError(t, s.AddNode(agent("a")))
	s.SetDocument(&canvas.Document{ID: "c1", Name: "demo"})

	s.Clear()
	assert.True(t, s.Graph().Empty())
	_, ok := s.Document()
	assert.True(t, ok, "clear keeps the loaded document")

	require.NoError(t, s.AddNode(agent("b")))
	s.Reset()
	assert.True(t, s.Graph().Empty())
	_, ok = s.Document()
	assert.False(t, ok, "reset drops the loaded document")
}

func TestDocumentCarriesLiveGraph(t *testing.T) {
	s := New()
	s.SetDocument(&canvas.Document{
		ID:         "c1",
		CanvasData: canvas.Graph{Nodes: []canvas.Node{agent("stale")}},
	})
	require.NoError(t, s.AddNode(agent("live")))

	doc, ok := s.Document()
	require.True(t, ok)
	require.Len(t, doc.CanvasData.Nodes, 1)
	assert.Equal(t, "live", doc.CanvasData.Nodes[0].ID)
}

func TestSetGraphCopiesInput(t *testing.T) {
	s := New()
	nodes := []canvas.Node{agent("a")}
	s.SetGraph(nodes, nil)
	nodes[0].ID = "mutated"

	assert.True(t, s.Graph().HasNode("a"))
	assert.NotNil(t, s.Graph().Edges)
}

func TestSelection(t *testing.T) {
	s := New()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.AddNode(agent(id)))
	}
	require.NoError(t, s.AddEdge(canvas.Edge{ID: "ab", Source: "a", Target: "b"}))
	require.NoError(t, s.AddEdge(canvas.Edge{ID: "bc", Source: "b", Target: "c"}))

	s.SelectNode("a")
	s.SelectNode("c")
	assert.Equal(t, []string{"a", "c"}, s.SelectedNodes())

	s.DeselectNode("a")
	assert.Equal(t, []string{"c"}, s.SelectedNodes())

	s.SetSelectedNodes([]string{"b"})
	s.SetSelectedEdges([]string{"ab"})
	assert.Equal(t, []string{"b"}, s.SelectedNodes())
	assert.Equal(t, []string{"ab"}, s.SelectedEdges())

	g := s.Graph()
	s.SetSelectedNodes([]string{"b"})
	assert.Same(t, g, s.Graph(), "unchanged selection must not publish")

	s.ClearSelection()
	assert.Empty(t, s.SelectedNodes())
	assert.Empty(t, s.SelectedEdges())
}

func TestDeleteSelected(t *testing.T) {
	s := New()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.AddNode(agent(id)))
	}
	require.NoError(t, s.AddEdge(canvas.Edge{ID: "ab", Source: "a", Target: "b"}))
	require.NoError(t, s.AddEdge(canvas.Edge{ID: "bc", Source: "b", Target: "c"}))
	require.NoError(t, s.AddEdge(canvas.Edge{ID: "ac", Source: "a", Target: "c"}))

	s.SetSelectedNodes([]string{"b"})
	s.SetSelectedEdges([]string{"ac"})
	s.DeleteSelected()

	g := s.Graph()
	assert.Len(t, g.Nodes, 2)
	assert.Empty(t, g.Edges)
}

func TestSubscribe(t *testing.T) {
	s := New()
	var seen []*canvas.Graph
	cancel := s.Subscribe(func(g *canvas.Graph) { seen = append(seen, g) })

	require.NoError(t, s.AddNode(agent("a")))
	s.DeleteNode("missing")
	require.NoError(t, s.AddNode(agent("b")))

	require.Len(t, seen, 2, "no-op mutations are not published")
	assert.Same(t, s.Graph(), seen[1])

	cancel()
	cancel()
	s.Clear()
	assert.Len(t, seen, 2)
}

func TestListenerMayReadStore(t *testing.T) {
	s := New()
	var got int
	s.Subscribe(func(g *canvas.Graph) { got = len(s.Graph().Nodes) })
	require.NoError(t, s.AddNode(agent("a")))
	assert.Equal(t, 1, got)
}

func TestConcurrentMutationsKeepOrder(t *testing.T) {
	s := New()
	var mu sync.Mutex
	var sizes []int
	s.Subscribe(func(g *canvas.Graph) {
		mu.Lock()
		sizes = append(sizes, len(g.Nodes))
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.AddNode(agent(fmt.Sprintf("n%d", i)))
		}(i)
	}
	wg.Wait()

	require.Len(t, sizes, 50)
	for i, n := range sizes {
		assert.Equal(t, i+1, n, "listeners must observe graphs in commit order")
	}
}

func TestStats(t *testing.T) {
	s := New()
	require.NoError(t, s.AddNode(agent("a")))
	require.NoError(t, s.AddNode(tool("b")))
	require.NoError(t, s.AddNode(tool("c")))
	require.NoError(t, s.AddEdge(canvas.Edge{ID: "ab", Source: "a", Target: "b"}))

	assert.Equal(t, canvas.Stats{TotalNodes: 3, TotalEdges: 1, AgentCount: 1, ToolCount: 2}, s.Stats())
}
