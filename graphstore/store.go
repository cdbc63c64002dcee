// Package graphstore owns the live canvas graph and its mutation operations.
//
// Every mutation that changes something publishes a fresh *canvas.Graph; the
// previous value is never touched again, so consumers detect changes by
// pointer comparison. Values returned by Graph must be treated as read-only.
package graphstore

import (
	"fmt"
	"slices"
	"sync"

	"github.com/meikuraledutech/canvas"
	"go.uber.org/zap"
)

// Listener observes every published graph. Listeners run synchronously in
// mutation order and must not mutate the store.
type Listener func(g *canvas.Graph)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for rejected mutations.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l.Named("graphstore")
		}
	}
}

// Store is the single source of truth for the live graph.
type Store struct {
	mu     sync.RWMutex
	emitMu sync.Mutex
	graph  *canvas.Graph
	doc    *canvas.Document

	listeners map[int]Listener
	nextID    int

	log *zap.Logger
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		graph:     &canvas.Graph{Nodes: []canvas.Node{}, Edges: []canvas.Edge{}},
		listeners: make(map[int]Listener),
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Graph returns the current graph value.
func (s *Store) Graph() *canvas.Graph {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.graph
}

// Stats counts the current graph.
func (s *Store) Stats() canvas.Stats {
	return s.Graph().Stats()
}

// Subscribe registers l and returns a function that removes it.
func (s *Store) Subscribe(l Listener) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// update applies fn to the current graph. fn returns the next graph, or nil
// when nothing changed. Mutations are serialised by emitMu so listeners see
// graphs in commit order and may read the store while being notified.
func (s *Store) update(fn func(cur *canvas.Graph) (*canvas.Graph, error)) error {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	next, err := fn(s.graph)
	if err != nil || next == nil {
		s.mu.Unlock()
		return err
	}
	s.graph = next
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	listeners := make([]Listener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, s.listeners[id])
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(next)
	}
	return nil
}

// SetGraph replaces the whole graph verbatim.
func (s *Store) SetGraph(nodes []canvas.Node, edges []canvas.Edge) {
	next := (&canvas.Graph{Nodes: nodes, Edges: edges}).Clone()
	_ = s.update(func(*canvas.Graph) (*canvas.Graph, error) {
		return next, nil
	})
}

// AddNode appends node. The id must be non-empty and unused.
func (s *Store) AddNode(node canvas.Node) error {
	if node.ID == "" {
		return canvas.NewValidationError("id", "node id is empty")
	}
	if !node.Type.Valid() {
		return canvas.NewValidationError("type", fmt.Sprintf("unknown node type %q", node.Type))
	}
	data, err := canvas.NormalizeNodeData(node.Type, node.Data)
	if err != nil {
		s.log.Debug("add node rejected", zap.String("node_id", node.ID), zap.Error(err))
		return err
	}
	node.Data = data.Clone()
	err = s.update(func(cur *canvas.Graph) (*canvas.Graph, error) {
		if cur.HasNode(node.ID) {
			return nil, canvas.NewValidationError("id", fmt.Sprintf("node %q already exists", node.ID))
		}
		return &canvas.Graph{
			Nodes: append(slices.Clip(cur.Nodes), node),
			Edges: cur.Edges,
		}, nil
	})
	if err != nil {
		s.log.Debug("add node rejected", zap.String("node_id", node.ID), zap.Error(err))
	}
	return err
}

// DeleteNode removes the node and every edge touching it in one step.
func (s *Store) DeleteNode(id string) {
	_ = s.update(func(cur *canvas.Graph) (*canvas.Graph, error) {
		if !cur.HasNode(id) {
			return nil, nil
		}
		return &canvas.Graph{
			Nodes: without(cur.Nodes, func(n canvas.Node) bool { return n.ID == id }),
			Edges: without(cur.Edges, func(e canvas.Edge) bool { return e.Source == id || e.Target == id }),
		}, nil
	})
}

// UpdateNodeData replaces the node's data wholesale. Callers merge prior fields themselves.
// The config is clamped for the node's type; a tool config without a tool
// name is rejected and the node keeps its previous data.
func (s *Store) UpdateNodeData(id string, data canvas.NodeData) {
	data = data.Clone()
	err := s.mapNode(id, func(n *canvas.Node) error {
		next, err := canvas.NormalizeNodeData(n.Type, data)
		if err != nil {
			return err
		}
		n.Data = next
		return nil
	})
	if err != nil {
		s.log.Warn("update node data rejected", zap.String("node_id", id), zap.Error(err))
	}
}

// MoveNode sets the node's position.
func (s *Store) MoveNode(id string, pos canvas.Position) {
	_ = s.mapNode(id, func(n *canvas.Node) error {
		n.Position = pos
		return nil
	})
}

func (s *Store) mapNode(id string, fn func(n *canvas.Node) error) error {
	return s.update(func(cur *canvas.Graph) (*canvas.Graph, error) {
		i := slices.IndexFunc(cur.Nodes, func(n canvas.Node) bool { return n.ID == id })
		if i < 0 {
			return nil, nil
		}
		nodes := slices.Clone(cur.Nodes)
		if err := fn(&nodes[i]); err != nil {
			return nil, err
		}
		return &canvas.Graph{Nodes: nodes, Edges: cur.Edges}, nil
	})
}

// AddEdge appends edge. Both endpoints must exist and the id must be unused.
func (s *Store) AddEdge(edge canvas.Edge) error {
	if edge.ID == "" {
		return canvas.NewValidationError("id", "edge id is empty")
	}
	err := s.update(func(cur *canvas.Graph) (*canvas.Graph, error) {
		if _, ok := cur.Edge(edge.ID); ok {
			return nil, canvas.NewValidationError("id", fmt.Sprintf("edge %q already exists", edge.ID))
		}
		if !cur.HasNode(edge.Source) {
			return nil, canvas.NewValidationError("source", fmt.Sprintf("node %q does not exist", edge.Source))
		}
		if !cur.HasNode(edge.Target) {
			return nil, canvas.NewValidationError("target", fmt.Sprintf("node %q does not exist", edge.Target))
		}
		return &canvas.Graph{
			Nodes: cur.Nodes,
			Edges: append(slices.Clip(cur.Edges), edge),
		}, nil
	})
	if err != nil {
		s.log.Debug("add edge rejected", zap.String("edge_id", edge.ID), zap.Error(err))
	}
	return err
}

// Connect adds an edge from source to target with a derived id.
func (s *Store) Connect(source, target string) (canvas.Edge, error) {
	e := canvas.Edge{ID: canvas.EdgeID(source, target), Source: source, Target: target}
	if err := s.AddEdge(e); err != nil {
		return canvas.Edge{}, err
	}
	return e, nil
}

// DeleteEdge removes the edge with the given id.
func (s *Store) DeleteEdge(id string) {
	_ = s.update(func(cur *canvas.Graph) (*canvas.Graph, error) {
		if _, ok := cur.Edge(id); !ok {
			return nil, nil
		}
		return &canvas.Graph{
			Nodes: cur.Nodes,
			Edges: without(cur.Edges, func(e canvas.Edge) bool { return e.ID == id }),
		}, nil
	})
}

// DeleteSelected removes every selected node, its incident edges, and every selected edge.
func (s *Store) DeleteSelected() {
	_ = s.update(func(cur *canvas.Graph) (*canvas.Graph, error) {
		gone := make(map[string]struct{})
		for _, n := range cur.Nodes {
			if n.Selected {
				gone[n.ID] = struct{}{}
			}
		}
		nodes := without(cur.Nodes, func(n canvas.Node) bool { return n.Selected })
		edges := without(cur.Edges, func(e canvas.Edge) bool {
			_, src := gone[e.Source]
			_, dst := gone[e.Target]
			return e.Selected || src || dst
		})
		if len(nodes) == len(cur.Nodes) && len(edges) == len(cur.Edges) {
			return nil, nil
		}
		return &canvas.Graph{Nodes: nodes, Edges: edges}, nil
	})
}

// Clear empties the graph. The loaded document reference is kept.
func (s *Store) Clear() {
	_ = s.update(func(*canvas.Graph) (*canvas.Graph, error) {
		return &canvas.Graph{Nodes: []canvas.Node{}, Edges: []canvas.Edge{}}, nil
	})
}

// Reset empties the graph and drops the loaded document reference.
func (s *Store) Reset() {
	s.mu.Lock()
	s.doc = nil
	s.mu.Unlock()
	s.Clear()
}

// SetDocument records the persisted canvas the graph was loaded from.
// The document's canvas data is not applied; use SetGraph for that.
func (s *Store) SetDocument(doc *canvas.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc == nil {
		s.doc = nil
		return
	}
	d := *doc
	d.CanvasData = canvas.Graph{}
	s.doc = &d
}

// Document returns the loaded canvas reference with the live graph as its data.
func (s *Store) Document() (canvas.Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.doc == nil {
		return canvas.Document{}, false
	}
	d := *s.doc
	d.CanvasData = *s.graph
	return d, true
}

// without returns a new slice holding the elements of in for which drop is false.
func without[T any](in []T, drop func(T) bool) []T {
	out := make([]T, 0, len(in))
	for _, v := range in {
		if !drop(v) {
			out = append(out, v)
		}
	}
	return out
}
