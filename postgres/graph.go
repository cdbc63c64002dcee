package postgres

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/meikuraledutech/canvas"
)

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// writeGraph replaces the stored nodes and edges of a canvas inside tx.
// seq keeps the caller's order so a reload returns the graph as saved.
func writeGraph(ctx context.Context, tx pgx.Tx, canvasID string, g *canvas.Graph) error {
	// Edges first; their foreign keys point at nodes.
	if _, err := tx.Exec(ctx, `DELETE FROM canvas_edges WHERE canvas_id = $1`, canvasID); err != nil {
		return fmt.Errorf("canvas: delete edges: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM canvas_nodes WHERE canvas_id = $1`, canvasID); err != nil {
		return fmt.Errorf("canvas: delete nodes: %w", err)
	}

	for i, n := range g.Nodes {
		data, err := json.Marshal(n.Data)
		if err != nil {
			return fmt.Errorf("canvas: encode node %s: %w", n.ID, err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO canvas_nodes (canvas_id, id, seq, type, pos_x, pos_y, data) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			canvasID, n.ID, i, string(n.Type), n.Position.X, n.Position.Y, data,
		); err != nil {
			return fmt.Errorf("canvas: insert node %s: %w", n.ID, err)
		}
	}

	for i, e := range g.Edges {
		if _, err := tx.Exec(ctx,
			`INSERT INTO canvas_edges (canvas_id, id, seq, source_id, target_id) VALUES ($1, $2, $3, $4, $5)`,
			canvasID, e.ID, i, e.Source, e.Target,
		); err != nil {
			return fmt.Errorf("canvas: insert edge %s: %w", e.ID, err)
		}
	}
	return nil
}

// readGraph loads the nodes and edges of a canvas in saved order.
func readGraph(ctx context.Context, db queryer, canvasID string) (*canvas.Graph, error) {
	g := &canvas.Graph{Nodes: []canvas.Node{}, Edges: []canvas.Edge{}}

	rows, err := db.Query(ctx,
		`SELECT id, type, pos_x, pos_y, data FROM canvas_nodes WHERE canvas_id = $1 ORDER BY seq`, canvasID)
	if err != nil {
		return nil, fmt.Errorf("canvas: query nodes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			n    canvas.Node
			typ  string
			data []byte
		)
		if err := rows.Scan(&n.ID, &typ, &n.Position.X, &n.Position.Y, &data); err != nil {
			return nil, fmt.Errorf("canvas: scan node: %w", err)
		}
		n.Type = canvas.NodeType(typ)
		if len(data) > 0 {
			if err := json.Unmarshal(data, &n.Data); err != nil {
				return nil, fmt.Errorf("canvas: decode node %s: %w", n.ID, err)
			}
		}
		g.Nodes = append(g.Nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("canvas: rows nodes: %w", err)
	}
	rows.Close()

	erows, err := db.Query(ctx,
		`SELECT id, source_id, target_id FROM canvas_edges WHERE canvas_id = $1 ORDER BY seq`, canvasID)
	if err != nil {
		return nil, fmt.Errorf("canvas: query edges: %w", err)
	}
	defer erows.Close()

	for erows.Next() {
		var e canvas.Edge
		if err := erows.Scan(&e.ID, &e.Source, &e.Target); err != nil {
			return nil, fmt.Errorf("canvas: scan edge: %w", err)
		}
		g.Edges = append(g.Edges, e)
	}
	if err := erows.Err(); err != nil {
		return nil, fmt.Errorf("canvas: rows edges: %w", err)
	}
	return g, nil
}
