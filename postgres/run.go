package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/meikuraledutech/canvas"
)

const runColumns = `id, canvas_id, workflow_id, status, started_at, completed_at, execution_time, error_message, output_data`

// CreateRun inserts a run. If run.ID is empty, a UUID is auto-generated and written back.
func (s *PGStore) CreateRun(ctx context.Context, run *canvas.Run) error {
	if run.ID == "" {
		run.ID = canvas.NewID()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = s.now().UTC()
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO workflow_runs (`+runColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		run.ID, run.CanvasID, run.WorkflowID, string(run.Status), run.StartedAt,
		run.CompletedAt, run.ExecutionTime, run.ErrorMessage, outputArg(run.OutputData),
	)
	if err != nil {
		return fmt.Errorf("canvas: insert run: %w", err)
	}
	return nil
}

// GetRun fetches a run by its ID.
// Returns nil, nil if not found.
func (s *PGStore) GetRun(ctx context.Context, id string) (*canvas.Run, error) {
	run, err := scanRun(s.db.QueryRow(ctx, `SELECT `+runColumns+` FROM workflow_runs WHERE id = $1`, id))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("canvas: get run: %w", err)
	}
	return run, nil
}

// UpdateRun writes the mutable fields of a run.
// Returns canvas.ErrNotFound if the run doesn't exist.
func (s *PGStore) UpdateRun(ctx context.Context, run *canvas.Run) error {
	ct, err := s.db.Exec(ctx,
		`UPDATE workflow_runs SET status = $2, completed_at = $3, execution_time = $4, error_message = $5, output_data = $6 WHERE id = $1`,
		run.ID, string(run.Status), run.CompletedAt, run.ExecutionTime, run.ErrorMessage, outputArg(run.OutputData),
	)
	if err != nil {
		return fmt.Errorf("canvas: update run: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return canvas.ErrNotFound
	}
	return nil
}

// ListRuns returns runs matching filter, newest first.
// Returns an empty slice (not nil) if none found.
func (s *PGStore) ListRuns(ctx context.Context, filter canvas.RunFilter) ([]canvas.Run, error) {
	sql, args := listRunsQuery(filter)
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("canvas: list runs: %w", err)
	}
	defer rows.Close()

	runs := []canvas.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("canvas: scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("canvas: rows runs: %w", err)
	}
	return runs, nil
}

func listRunsQuery(filter canvas.RunFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	if filter.CanvasID != "" {
		args = append(args, filter.CanvasID)
		where = append(where, fmt.Sprintf("canvas_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	var b strings.Builder
	b.WriteString(`SELECT ` + runColumns + ` FROM workflow_runs`)
	if len(where) > 0 {
		b.WriteString(` WHERE ` + strings.Join(where, " AND "))
	}
	b.WriteString(` ORDER BY started_at DESC`)
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&b, ` LIMIT $%d`, len(args))
	}
	return b.String(), args
}

func scanRun(row pgx.Row) (*canvas.Run, error) {
	var (
		run    canvas.Run
		status string
		output []byte
		done   *time.Time
	)
	if err := row.Scan(&run.ID, &run.CanvasID, &run.WorkflowID, &status, &run.StartedAt,
		&done, &run.ExecutionTime, &run.ErrorMessage, &output); err != nil {
		return nil, err
	}
	run.Status = canvas.RunStatus(status)
	run.CompletedAt = done
	if len(output) > 0 {
		run.OutputData = output
	}
	return &run, nil
}

// outputArg maps an empty payload to SQL NULL.
func outputArg(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
