package canvas

import (
	"bytes"
	"fmt"
	"reflect"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// NodeType discriminates the config carried by a node.
type NodeType string

const (
	NodeAgent NodeType = "agent"
	NodeTool  NodeType = "tool"
)

// Valid reports whether t is a known node type.
func (t NodeType) Valid() bool {
	return t == NodeAgent || t == NodeTool
}

// Position is the canvas coordinate of a node.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NodeData is the user-editable payload of a node.
// Config stays raw so fields this package does not know about survive a round-trip.
type NodeData struct {
	Label  string          `json:"label"`
	Config json.RawMessage `json:"config,omitempty"`
}

// Clone returns a copy of d that shares no memory with it.
func (d NodeData) Clone() NodeData {
	out := NodeData{Label: d.Label}
	if d.Config != nil {
		out.Config = append(json.RawMessage(nil), d.Config...)
	}
	return out
}

// Node is a vertex on the canvas.
type Node struct {
	ID       string   `json:"id"`
	Type     NodeType `json:"type"`
	Position Position `json:"position"`
	Data     NodeData `json:"data"`
	Selected bool     `json:"selected,omitempty"`
}

// Edge is a directed connection between two nodes.
type Edge struct {
	ID       string `json:"id"`
	Source   string `json:"source"`
	Target   string `json:"target"`
	Selected bool   `json:"selected,omitempty"`
}

// Graph is the unit of persistence and of undo/redo snapshotting.
// Values handed out by the graph store are never mutated in place.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// MarshalJSON writes empty collections as [] rather than null.
func (g Graph) MarshalJSON() ([]byte, error) {
	type plain Graph
	p := plain(g)
	if p.Nodes == nil {
		p.Nodes = []Node{}
	}
	if p.Edges == nil {
		p.Edges = []Edge{}
	}
	return json.Marshal(p)
}

// Stats summarises a graph.
type Stats struct {
	TotalNodes int `json:"total_nodes"`
	TotalEdges int `json:"total_edges"`
	AgentCount int `json:"agent_count"`
	ToolCount  int `json:"tool_count"`
}

// Document is a persisted canvas.
type Document struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Version     int       `json:"version"`
	CanvasData  Graph     `json:"canvas_data"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// NewID returns a random identifier suitable for canvases and runs.
func NewID() string {
	return uuid.NewString()
}

// NewNodeID returns an id in the "<type>_<unix millis>" form used by the canvas editor.
func NewNodeID(t NodeType, now time.Time) string {
	return fmt.Sprintf("%s_%d", t, now.UnixMilli())
}

// EdgeID returns the id used for an edge created by connecting source to target.
func EdgeID(source, target string) string {
	return "edge-" + source + "-" + target
}

// Clone returns a deep copy of g.
func (g *Graph) Clone() *Graph {
	if g == nil {
		return &Graph{Nodes: []Node{}, Edges: []Edge{}}
	}
	out := &Graph{
		Nodes: make([]Node, len(g.Nodes)),
		Edges: make([]Edge, len(g.Edges)),
	}
	for i, n := range g.Nodes {
		n.Data = n.Data.Clone()
		out.Nodes[i] = n
	}
	copy(out.Edges, g.Edges)
	return out
}

// WithoutSelection returns a copy of g with every selection flag cleared.
func (g *Graph) WithoutSelection() *Graph {
	out := g.Clone()
	for i := range out.Nodes {
		out.Nodes[i].Selected = false
	}
	for i := range out.Edges {
		out.Edges[i].Selected = false
	}
	return out
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (Node, bool) {
	if g == nil {
		return Node{}, false
	}
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// HasNode reports whether a node with the given id exists.
func (g *Graph) HasNode(id string) bool {
	_, ok := g.Node(id)
	return ok
}

// Edge returns the edge with the given id.
func (g *Graph) Edge(id string) (Edge, bool) {
	if g == nil {
		return Edge{}, false
	}
	for _, e := range g.Edges {
		if e.ID == id {
			return e, true
		}
	}
	return Edge{}, false
}

// Empty reports whether g has no nodes.
func (g *Graph) Empty() bool {
	return g == nil || len(g.Nodes) == 0
}

// Stats counts nodes and edges by kind.
func (g *Graph) Stats() Stats {
	var s Stats
	if g == nil {
		return s
	}
	s.TotalNodes = len(g.Nodes)
	s.TotalEdges = len(g.Edges)
	for _, n := range g.Nodes {
		switch n.Type {
		case NodeAgent:
			s.AgentCount++
		case NodeTool:
			s.ToolCount++
		}
	}
	return s
}

// Validate checks id uniqueness and that every edge references existing nodes.
func (g *Graph) Validate() error {
	if g == nil {
		return nil
	}
	nodes := make(map[string]struct{}, len(g.Nodes))
	for _, n := range g.Nodes {
		if n.ID == "" {
			return NewValidationError("nodes", "node id is empty")
		}
		if _, dup := nodes[n.ID]; dup {
			return NewValidationError("nodes", fmt.Sprintf("duplicate node id %q", n.ID))
		}
		if !n.Type.Valid() {
			return NewValidationError("nodes", fmt.Sprintf("node %q has unknown type %q", n.ID, n.Type))
		}
		nodes[n.ID] = struct{}{}
	}
	edges := make(map[string]struct{}, len(g.Edges))
	for _, e := range g.Edges {
		if e.ID == "" {
			return NewValidationError("edges", "edge id is empty")
		}
		if _, dup := edges[e.ID]; dup {
			return NewValidationError("edges", fmt.Sprintf("duplicate edge id %q", e.ID))
		}
		if _, ok := nodes[e.Source]; !ok {
			return NewValidationError("edges", fmt.Sprintf("edge %q references missing source %q", e.ID, e.Source))
		}
		if _, ok := nodes[e.Target]; !ok {
			return NewValidationError("edges", fmt.Sprintf("edge %q references missing target %q", e.ID, e.Target))
		}
		edges[e.ID] = struct{}{}
	}
	return nil
}

// Prune returns a copy of g without edges whose endpoints are missing.
func (g *Graph) Prune() *Graph {
	out := g.Clone()
	nodes := make(map[string]struct{}, len(out.Nodes))
	for _, n := range out.Nodes {
		nodes[n.ID] = struct{}{}
	}
	kept := out.Edges[:0]
	for _, e := range out.Edges {
		_, src := nodes[e.Source]
		_, dst := nodes[e.Target]
		if src && dst {
			kept = append(kept, e)
		}
	}
	out.Edges = kept
	return out
}

// Equal reports node-set and edge-set equality, ignoring order.
// Node configs are compared as JSON values, not bytes.
func (g *Graph) Equal(other *Graph) bool {
	a, b := g.Clone(), other.Clone()
	if len(a.Nodes) != len(b.Nodes) || len(a.Edges) != len(b.Edges) {
		return false
	}
	nodes := make(map[string]Node, len(a.Nodes))
	for _, n := range a.Nodes {
		nodes[n.ID] = n
	}
	for _, n := range b.Nodes {
		m, ok := nodes[n.ID]
		if !ok || !nodeEqual(m, n) {
			return false
		}
	}
	edges := make(map[string]Edge, len(a.Edges))
	for _, e := range a.Edges {
		edges[e.ID] = e
	}
	for _, e := range b.Edges {
		if f, ok := edges[e.ID]; !ok || f != e {
			return false
		}
	}
	return true
}

func nodeEqual(a, b Node) bool {
	if a.ID != b.ID || a.Type != b.Type || a.Position != b.Position ||
		a.Selected != b.Selected || a.Data.Label != b.Data.Label {
		return false
	}
	return rawEqual(a.Data.Config, b.Data.Config)
}

func rawEqual(a, b json.RawMessage) bool {
	if bytes.Equal(a, b) {
		return true
	}
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	var av, bv any
	if err := json.Unmarshal(a, &av); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		return false
	}
	return reflect.DeepEqual(av, bv)
}
