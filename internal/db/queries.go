package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// RunEvent represents a row in the run_events table.
type RunEvent struct {
	ID        int64
	RunID     string
	Event     string
	Stage     string
	Detail    string
	CreatedAt time.Time
}

// ToolRun represents a row in the tool_runs table.
type ToolRun struct {
	ID         int64
	RunID      string
	Adapter    string
	Tool       string
	Failed     bool
	TimedOut   bool
	ExitCode   int
	DurationMs int
	Findings   int
	Summary    string
	CreatedAt  time.Time
}

// LogRunEvent inserts a run event. stage and detail may be empty.
func (d *DB) LogRunEvent(ctx context.Context, runID, event, stage, detail string) error {
	_, err := d.pool.Exec(ctx,
		`INSERT INTO run_events (run_id, event, stage, detail) VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''))`,
		runID, event, stage, detail,
	)
	if err != nil {
		return fmt.Errorf("log run event: %w", err)
	}
	return nil
}

// RunEvents returns a run's events in insertion order.
func (d *DB) RunEvents(ctx context.Context, runID string) ([]RunEvent, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT id, run_id, event, COALESCE(stage, ''), COALESCE(detail, ''), created_at
		 FROM run_events WHERE run_id = $1 ORDER BY id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query run events: %w", err)
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (RunEvent, error) {
		var e RunEvent
		err := row.Scan(&e.ID, &e.RunID, &e.Event, &e.Stage, &e.Detail, &e.CreatedAt)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan run events: %w", err)
	}
	return events, nil
}

// LogToolRun inserts a tool run.
func (d *DB) LogToolRun(ctx context.Context, tr ToolRun) error {
	_, err := d.pool.Exec(ctx,
		`INSERT INTO tool_runs (run_id, adapter, tool, failed, timed_out, exit_code, duration_ms, findings, summary)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		tr.RunID, tr.Adapter, tr.Tool, tr.Failed, tr.TimedOut, tr.ExitCode, tr.DurationMs, tr.Findings, tr.Summary,
	)
	if err != nil {
		return fmt.Errorf("log tool run: %w", err)
	}
	return nil
}

// ToolRuns returns a run's tool executions ordered by adapter then insertion.
func (d *DB) ToolRuns(ctx context.Context, runID string) ([]ToolRun, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT id, run_id, adapter, tool, failed, timed_out, COALESCE(exit_code, 0), COALESCE(duration_ms, 0),
		        findings, COALESCE(summary, ''), created_at
		 FROM tool_runs WHERE run_id = $1 ORDER BY adapter, id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query tool runs: %w", err)
	}
	runs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ToolRun, error) {
		var r ToolRun
		err := row.Scan(&r.ID, &r.RunID, &r.Adapter, &r.Tool, &r.Failed, &r.TimedOut, &r.ExitCode,
			&r.DurationMs, &r.Findings, &r.Summary, &r.CreatedAt)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan tool runs: %w", err)
	}
	return runs, nil
}

// ToolRunsSince returns every tool execution recorded at or after since.
func (d *DB) ToolRunsSince(ctx context.Context, since time.Time) ([]ToolRun, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT id, run_id, adapter, tool, failed, timed_out, COALESCE(exit_code, 0), COALESCE(duration_ms, 0),
		        findings, COALESCE(summary, ''), created_at
		 FROM tool_runs WHERE created_at >= $1 ORDER BY id`,
		since,
	)
	if err != nil {
		return nil, fmt.Errorf("query tool runs: %w", err)
	}
	runs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ToolRun, error) {
		var r ToolRun
		err := row.Scan(&r.ID, &r.RunID, &r.Adapter, &r.Tool, &r.Failed, &r.TimedOut, &r.ExitCode,
			&r.DurationMs, &r.Findings, &r.Summary, &r.CreatedAt)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan tool runs: %w", err)
	}
	return runs, nil
}

// RunEventsSince returns every run event recorded at or after since.
func (d *DB) RunEventsSince(ctx context.Context, since time.Time) ([]RunEvent, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT id, run_id, event, COALESCE(stage, ''), COALESCE(detail, ''), created_at
		 FROM run_events WHERE created_at >= $1 ORDER BY id`,
		since,
	)
	if err != nil {
		return nil, fmt.Errorf("query run events: %w", err)
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (RunEvent, error) {
		var e RunEvent
		err := row.Scan(&e.ID, &e.RunID, &e.Event, &e.Stage, &e.Detail, &e.CreatedAt)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan run events: %w", err)
	}
	return events, nil
}
