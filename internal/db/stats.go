package db

import (
	"context"
	"fmt"
	"time"
)

// ModeStats summarizes one pipeline/mode pair for dashboard cards: the
// cron configuration, the last completed run and whether a run is in
// flight right now.
type ModeStats struct {
	Pipeline       string     `json:"pipeline"`
	Mode           string     `json:"mode"`
	LastRun        *time.Time `json:"last_run"`
	LastTrigger    *string    `json:"last_trigger"`
	LastStatus     *string    `json:"last_status"`
	LastDurationMs *int64     `json:"last_duration_ms"`
	LastRows       *int64     `json:"last_rows"`
	LastError      *string    `json:"last_error"`
	CronEnabled    bool       `json:"cron_enabled"`
	CronSchedule   string     `json:"cron_schedule"`
	IsRunning      bool       `json:"is_running"`
	RunningSince   *time.Time `json:"running_since"`
}

type lastRunRow struct {
	trigger    string
	status     string
	startedAt  time.Time
	durationMs *int64
	rows       *int64
	errMessage *string
}

// GetModeStats builds per-mode statistics for every configured
// pipeline/mode pair, optionally filtered by pipeline.
func (db *DB) GetModeStats(ctx context.Context, pipeline string) ([]ModeStats, error) {
	configs, err := db.ListPipelineConfigs(ctx, pipeline, "")
	if err != nil {
		return nil, err
	}

	lastRuns, err := db.lastCompletedRuns(ctx, pipeline)
	if err != nil {
		return nil, err
	}

	running, err := db.runningSince(ctx, pipeline)
	if err != nil {
		return nil, err
	}

	stats := make([]ModeStats, 0, len(configs))
	for _, cfg := range configs {
		key := cfg.Pipeline + "/" + cfg.Mode
		s := ModeStats{
			Pipeline:     cfg.Pipeline,
			Mode:         cfg.Mode,
			CronEnabled:  cfg.CronEnabled,
			CronSchedule: cfg.CronSchedule,
		}
		if last, ok := lastRuns[key]; ok {
			startedAt := last.startedAt
			trigger := last.trigger
			status := last.status
			s.LastRun = &startedAt
			s.LastTrigger = &trigger
			s.LastStatus = &status
			s.LastDurationMs = last.durationMs
			s.LastRows = last.rows
			s.LastError = last.errMessage
		}
		if since, ok := running[key]; ok {
			startedAt := since
			s.IsRunning = true
			s.RunningSince = &startedAt
		}
		stats = append(stats, s)
	}
	return stats, nil
}

func (db *DB) lastCompletedRuns(ctx context.Context, pipeline string) (map[string]lastRunRow, error) {
	query := `SELECT DISTINCT ON (pipeline, mode)
	            pipeline, mode, trigger, status, started_at, duration_ms, rows_processed, error_message
	          FROM pipeline_runs
	          WHERE status IN ('success', 'error')`
	args := []any{}
	if pipeline != "" {
		query += ` AND pipeline = $1`
		args = append(args, pipeline)
	}
	query += ` ORDER BY pipeline, mode, started_at DESC`

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query last completed runs: %w", err)
	}
	defer rows.Close()

	out := make(map[string]lastRunRow)
	for rows.Next() {
		var p, m string
		var r lastRunRow
		if err := rows.Scan(&p, &m, &r.trigger, &r.status, &r.startedAt,
			&r.durationMs, &r.rows, &r.errMessage); err != nil {
			return nil, fmt.Errorf("failed to scan last run: %w", err)
		}
		out[p+"/"+m] = r
	}
	return out, nil
}

func (db *DB) runningSince(ctx context.Context, pipeline string) (map[string]time.Time, error) {
	query := `SELECT pipeline, mode, started_at FROM pipeline_runs WHERE status = 'running'`
	args := []any{}
	if pipeline != "" {
		query += ` AND pipeline = $1`
		args = append(args, pipeline)
	}

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query running runs: %w", err)
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var p, m string
		var since time.Time
		if err := rows.Scan(&p, &m, &since); err != nil {
			return nil, fmt.Errorf("failed to scan running run: %w", err)
		}
		out[p+"/"+m] = since
	}
	return out, nil
}
