// Package history keeps a bounded, linear undo/redo stack of graph snapshots.
//
// Snapshots are deliberate checkpoints taken by the caller (after a drag ends,
// after a load), not a mirror of every store mutation.
package history

import (
	"sync"

	"github.com/meikuraledutech/canvas"
)

// DefaultLimit is the number of snapshots retained.
const DefaultLimit = 50

// Source is the graph the manager checkpoints and restores.
type Source interface {
	Graph() *canvas.Graph
	SetGraph(nodes []canvas.Node, edges []canvas.Edge)
}

// Option configures a Manager.
type Option func(*Manager)

// WithLimit sets the maximum number of retained snapshots. Values below 1 are ignored.
func WithLimit(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.limit = n
		}
	}
}

// Manager owns deep copies of past graphs, never the live graph.
type Manager struct {
	mu        sync.Mutex
	source    Source
	snapshots []*canvas.Graph
	cursor    int
	limit     int
}

// New returns an empty history over source.
func New(source Source, opts ...Option) *Manager {
	m := &Manager{source: source, cursor: -1, limit: DefaultLimit}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Snapshot checkpoints the current graph. Any redo states are discarded and
// the oldest snapshot is evicted once the limit is exceeded.
func (m *Manager) Snapshot() {
	snap := m.source.Graph().Clone()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.snapshots = append(m.snapshots[:m.cursor+1], snap)
	if over := len(m.snapshots) - m.limit; over > 0 {
		clear(m.snapshots[:over])
		m.snapshots = m.snapshots[over:]
	}
	m.cursor = len(m.snapshots) - 1
}

// Undo restores the previous snapshot. It reports false when there is none.
func (m *Manager) Undo() bool {
	m.mu.Lock()
	if m.cursor <= 0 {
		m.mu.Unlock()
		return false
	}
	m.cursor--
	snap := m.snapshots[m.cursor].Clone()
	m.mu.Unlock()

	m.source.SetGraph(snap.Nodes, snap.Edges)
	return true
}

// Redo restores the next snapshot. It reports false when there is none.
func (m *Manager) Redo() bool {
	m.mu.Lock()
	if m.cursor >= len(m.snapshots)-1 {
		m.mu.Unlock()
		return false
	}
	m.cursor++
	snap := m.snapshots[m.cursor].Clone()
	m.mu.Unlock()

	m.source.SetGraph(snap.Nodes, snap.Edges)
	return true
}

// CanUndo reports whether an earlier snapshot exists.
func (m *Manager) CanUndo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursor > 0
}

// CanRedo reports whether Undo has left a later snapshot to return to.
func (m *Manager) CanRedo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursor < len(m.snapshots)-1
}

// Len is the number of retained snapshots.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.snapshots)
}

// Cursor is the index of the snapshot matching the restored state, or -1 when empty.
func (m *Manager) Cursor() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursor
}

// At returns a copy of the snapshot at index i.
func (m *Manager) At(i int) (*canvas.Graph, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i < 0 || i >= len(m.snapshots) {
		return nil, false
	}
	return m.snapshots[i].Clone(), true
}

// Reset drops every snapshot.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = nil
	m.cursor = -1
}
