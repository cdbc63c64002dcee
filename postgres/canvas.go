package postgres

import (
	"context"
	"fmt"

	"github.com/meikuraledutech/canvas"
	"go.uber.org/zap"
)

const canvasColumns = `id, project_id, name, description, version, created_at, updated_at`

// CreateCanvas saves a new canvas with its graph in one transaction.
// If doc.ID is empty, a UUID is auto-generated. The stored canvas starts at version 1.
func (s *PGStore) CreateCanvas(ctx context.Context, doc *canvas.Document) (*canvas.Document, error) {
	if err := doc.CanvasData.Validate(); err != nil {
		return nil, err
	}

	out := *doc
	if out.ID == "" {
		out.ID = canvas.NewID()
	}
	out.Version = 1
	out.CreatedAt = s.now().UTC()
	out.UpdatedAt = out.CreatedAt
	out.CanvasData = *doc.CanvasData.WithoutSelection()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("canvas: begin tx: %w", err)
	}
	defer s.rollback(ctx, tx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO canvases (`+canvasColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		out.ID, out.ProjectID, out.Name, out.Description, out.Version, out.CreatedAt, out.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("canvas: insert canvas: %w", err)
	}
	if err := writeGraph(ctx, tx, out.ID, &out.CanvasData); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("canvas: commit: %w", err)
	}

	s.log.Debug("canvas created", zap.String("canvas_id", out.ID), zap.String("project_id", out.ProjectID))
	return &out, nil
}

// GetCanvas retrieves a canvas with its graph.
// Returns nil, nil if not found.
func (s *PGStore) GetCanvas(ctx context.Context, id string) (*canvas.Document, error) {
	var d canvas.Document
	err := s.db.QueryRow(ctx,
		`SELECT `+canvasColumns+` FROM canvases WHERE id = $1`, id,
	).Scan(&d.ID, &d.ProjectID, &d.Name, &d.Description, &d.Version, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("canvas: get canvas: %w", err)
	}

	g, err := readGraph(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	d.CanvasData = *g
	return &d, nil
}

// SaveCanvas replaces the graph of an existing canvas and bumps its version.
// Returns canvas.ErrNotFound if the canvas doesn't exist.
func (s *PGStore) SaveCanvas(ctx context.Context, id string, g *canvas.Graph) (int, error) {
	if err := g.Validate(); err != nil {
		return 0, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("canvas: begin tx: %w", err)
	}
	defer s.rollback(ctx, tx)

	var version int
	err = tx.QueryRow(ctx,
		`UPDATE canvases SET version = version + 1, updated_at = $2 WHERE id = $1 RETURNING version`,
		id, s.now().UTC(),
	).Scan(&version)
	if err != nil {
		if isNoRows(err) {
			return 0, canvas.ErrNotFound
		}
		return 0, fmt.Errorf("canvas: bump version: %w", err)
	}
	if err := writeGraph(ctx, tx, id, g.WithoutSelection()); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("canvas: commit: %w", err)
	}
	return version, nil
}

// ListCanvases returns the canvases of a project ordered by created_at,
// without their graphs. Returns an empty slice (not nil) if none found.
func (s *PGStore) ListCanvases(ctx context.Context, projectID string) ([]canvas.Document, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+canvasColumns+` FROM canvases WHERE project_id = $1 ORDER BY created_at`, projectID)
	if err != nil {
		return nil, fmt.Errorf("canvas: list canvases: %w", err)
	}
	defer rows.Close()

	docs := []canvas.Document{}
	for rows.Next() {
		var d canvas.Document
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.Name, &d.Description, &d.Version, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("canvas: scan canvas: %w", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("canvas: rows canvases: %w", err)
	}
	return docs, nil
}

// DeleteCanvas deletes a canvas. Its nodes and edges are cascade-deleted by the DB.
// No error if the canvas doesn't exist.
func (s *PGStore) DeleteCanvas(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM canvases WHERE id = $1`, id); err != nil {
		return fmt.Errorf("canvas: delete canvas: %w", err)
	}
	return nil
}
