package canvas

import (
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoNodes() *Graph {
	return &Graph{
		Nodes: []Node{
			{ID: "agent_1", Type: NodeAgent, Data: NodeData{Label: "A", Config: json.RawMessage(`{"role":"r","goal":"g"}`)}},
			{ID: "tool_1", Type: NodeTool, Position: Position{X: 5, Y: 6}, Data: NodeData{Label: "T"}},
		},
		Edges: []Edge{{ID: EdgeID("agent_1", "tool_1"), Source: "agent_1", Target: "tool_1"}},
	}
}

func TestIDHelpers(t *testing.T) {
	at := time.UnixMilli(1700000000123)
	assert.Equal(t, "agent_1700000000123", NewNodeID(NodeAgent, at))
	assert.Equal(t, "tool_1700000000123", NewNodeID(NodeTool, at))
	assert.Equal(t, "edge-a-b", EdgeID("a", "b"))
	assert.NotEqual(t, NewID(), NewID())
}

func TestGraphMarshalEmptyCollections(t *testing.T) {
	b, err := json.Marshal(Graph{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"nodes":[],"edges":[]}`, string(b))
}

func TestCloneIsDeep(t *testing.T) {
	g := twoNodes()
	c := g.Clone()
	c.Nodes[0].Data.Config[2] = 'X'
	c.Nodes[1].Position.X = 99
	c.Edges[0].Selected = true

	assert.Equal(t, byte('r'), g.Nodes[0].Data.Config[2])
	assert.Equal(t, 5.0, g.Nodes[1].Position.X)
	assert.False(t, g.Edges[0].Selected)

	var nilGraph *Graph
	assert.NotNil(t, nilGraph.Clone().Nodes)
}

func TestWithoutSelection(t *testing.T) {
	g := twoNodes()
	g.Nodes[0].Selected = true
	g.Edges[0].Selected = true

	out := g.WithoutSelection()
	assert.False(t, out.Nodes[0].Selected)
	assert.False(t, out.Edges[0].Selected)
	assert.True(t, g.Nodes[0].Selected)
}

func TestLookups(t *testing.T) {
	g := twoNodes()
	n, ok := g.Node("tool_1")
	require.True(t, ok)
	assert.Equal(t, "T", n.Data.Label)
	assert.False(t, g.HasNode("ghost"))

	_, ok = g.Edge("edge-agent_1-tool_1")
	assert.True(t, ok)
	_, ok = g.Edge("nope")
	assert.False(t, ok)

	var nilGraph *Graph
	assert.True(t, nilGraph.Empty())
	assert.False(t, g.Empty())
}

func TestStats(t *testing.T) {
	assert.Equal(t, Stats{TotalNodes: 2, TotalEdges: 1, AgentCount: 1, ToolCount: 1}, twoNodes().Stats())
	var nilGraph *Graph
	assert.Equal(t, Stats{}, nilGraph.Stats())
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(g *Graph)
		field  string
	}{
		{name: "valid", mutate: func(*Graph) {}},
		{name: "empty node id", mutate: func(g *Graph) { g.Nodes[0].ID = "" }, field: "nodes"},
		{name: "duplicate node", mutate: func(g *Graph) { g.Nodes[1].ID = "agent_1" }, field: "nodes"},
		{name: "unknown type", mutate: func(g *Graph) { g.Nodes[1].Type = "human" }, field: "nodes"},
		{name: "empty edge id", mutate: func(g *Graph) { g.Edges[0].ID = "" }, field: "edges"},
		{name: "duplicate edge", mutate: func(g *Graph) { g.Edges = append(g.Edges, g.Edges[0]) }, field: "edges"},
		{name: "dangling source", mutate: func(g *Graph) { g.Edges[0].Source = "ghost" }, field: "edges"},
		{name: "dangling target", mutate: func(g *Graph) { g.Edges[0].Target = "ghost" }, field: "edges"},
		{name: "cycles are allowed", mutate: func(g *Graph) {
			g.Edges = append(g.Edges, Edge{ID: "back", Source: "tool_1", Target: "agent_1"})
		}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			g := twoNodes()
			tc.mutate(g)
			err := g.Validate()
			if tc.field == "" {
				assert.NoError(t, err)
				return
			}
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tc.field, ve.Field)
		})
	}
}

func TestPrune(t *testing.T) {
	g := twoNodes()
	g.Edges = append(g.Edges, Edge{ID: "dangling", Source: "agent_1", Target: "ghost"})

	out := g.Prune()
	require.Len(t, out.Edges, 1)
	assert.Equal(t, "edge-agent_1-tool_1", out.Edges[0].ID)
	assert.Len(t, g.Edges, 2)
}

func TestEqual(t *testing.T) {
	a := twoNodes()
	b := twoNodes()
	b.Nodes[0], b.Nodes[1] = b.Nodes[1], b.Nodes[0]
	b.Nodes[1].Data.Config = json.RawMessage(`{ "goal": "g", "role": "r" }`)
	assert.True(t, a.Equal(b))

	b.Nodes[0].Position.Y = 1
	assert.False(t, a.Equal(b))

	c := twoNodes()
	c.Edges = nil
	assert.False(t, a.Equal(c))

	assert.True(t, (&Graph{}).Equal(nil))
}

func TestNodeDataCloneNilConfig(t *testing.T) {
	d := NodeData{Label: "x"}.Clone()
	assert.Nil(t, d.Config)
}
