package graphstore

import (
	"slices"

	"github.com/meikuraledutech/canvas"
)

// SelectNode marks the node as selected.
func (s *Store) SelectNode(id string) {
	s.selectNodes(func(n canvas.Node) bool { return n.Selected || n.ID == id })
}

// DeselectNode clears the node's selection flag.
func (s *Store) DeselectNode(id string) {
	s.selectNodes(func(n canvas.Node) bool { return n.Selected && n.ID != id })
}

// SetSelectedNodes selects exactly the given nodes.
func (s *Store) SetSelectedNodes(ids []string) {
	s.selectNodes(func(n canvas.Node) bool { return slices.Contains(ids, n.ID) })
}

// SetSelectedEdges selects exactly the given edges.
func (s *Store) SetSelectedEdges(ids []string) {
	s.selectEdges(func(e canvas.Edge) bool { return slices.Contains(ids, e.ID) })
}

// ClearSelection deselects every node and edge.
func (s *Store) ClearSelection() {
	s.selectNodes(func(canvas.Node) bool { return false })
	s.selectEdges(func(canvas.Edge) bool { return false })
}

// SelectedNodes returns the ids of selected nodes in graph order.
func (s *Store) SelectedNodes() []string {
	g := s.Graph()
	ids := []string{}
	for _, n := range g.Nodes {
		if n.Selected {
			ids = append(ids, n.ID)
		}
	}
	return ids
}

// SelectedEdges returns the ids of selected edges in graph order.
func (s *Store) SelectedEdges() []string {
	g := s.Graph()
	ids := []string{}
	for _, e := range g.Edges {
		if e.Selected {
			ids = append(ids, e.ID)
		}
	}
	return ids
}

func (s *Store) selectNodes(want func(canvas.Node) bool) {
	_ = s.update(func(cur *canvas.Graph) (*canvas.Graph, error) {
		var nodes []canvas.Node
		for i, n := range cur.Nodes {
			if sel := want(n); sel != n.Selected {
				if nodes == nil {
					nodes = slices.Clone(cur.Nodes)
				}
				nodes[i].Selected = sel
			}
		}
		if nodes == nil {
			return nil, nil
		}
		return &canvas.Graph{Nodes: nodes, Edges: cur.Edges}, nil
	})
}

func (s *Store) selectEdges(want func(canvas.Edge) bool) {
	_ = s.update(func(cur *canvas.Graph) (*canvas.Graph, error) {
		var edges []canvas.Edge
		for i, e := range cur.Edges {
			if sel := want(e); sel != e.Selected {
				if edges == nil {
					edges = slices.Clone(cur.Edges)
				}
				edges[i].Selected = sel
			}
		}
		if edges == nil {
			return nil, nil
		}
		return &canvas.Graph{Nodes: cur.Nodes, Edges: edges}, nil
	})
}
