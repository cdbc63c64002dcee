package postgres

import (
	"context"
	"fmt"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS canvases (
    id          TEXT PRIMARY KEY,
    project_id  TEXT NOT NULL,
    name        TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    version     INTEGER NOT NULL DEFAULT 1,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS canvas_nodes (
    canvas_id TEXT NOT NULL REFERENCES canvases(id) ON DELETE CASCADE,
    id        TEXT NOT NULL,
    seq       INTEGER NOT NULL,
    type      TEXT NOT NULL,
    pos_x     DOUBLE PRECISION NOT NULL DEFAULT 0,
    pos_y     DOUBLE PRECISION NOT NULL DEFAULT 0,
    data      JSONB NOT NULL DEFAULT '{}',
    PRIMARY KEY (canvas_id, id)
);

CREATE TABLE IF NOT EXISTS canvas_edges (
    canvas_id TEXT NOT NULL,
    id        TEXT NOT NULL,
    seq       INTEGER NOT NULL,
    source_id TEXT NOT NULL,
    target_id TEXT NOT NULL,
    PRIMARY KEY (canvas_id, id),
    FOREIGN KEY (canvas_id, source_id) REFERENCES canvas_nodes(canvas_id, id) ON DELETE CASCADE,
    FOREIGN KEY (canvas_id, target_id) REFERENCES canvas_nodes(canvas_id, id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS workflow_runs (
    id             TEXT PRIMARY KEY,
    canvas_id      TEXT NOT NULL,
    workflow_id    TEXT NOT NULL DEFAULT '',
    status         TEXT NOT NULL,
    started_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    completed_at   TIMESTAMPTZ,
    execution_time DOUBLE PRECISION,
    error_message  TEXT,
    output_data    JSONB
);

CREATE INDEX IF NOT EXISTS idx_canvases_project_id    ON canvases(project_id);
CREATE INDEX IF NOT EXISTS idx_workflow_runs_canvas   ON workflow_runs(canvas_id, started_at DESC);
CREATE INDEX IF NOT EXISTS idx_workflow_runs_status   ON workflow_runs(status);
`

const dropSQL = `DROP TABLE IF EXISTS workflow_runs, canvas_edges, canvas_nodes, canvases CASCADE;`

// CreateSchema creates the canvas and run tables if they don't exist.
func (s *PGStore) CreateSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("canvas: create schema: %w", err)
	}
	return nil
}

// DropSchema drops every table CreateSchema creates.
func (s *PGStore) DropSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, dropSQL); err != nil {
		return fmt.Errorf("canvas: drop schema: %w", err)
	}
	return nil
}
