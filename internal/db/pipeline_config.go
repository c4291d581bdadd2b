package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const configColumns = `id, pipeline, mode, cron_enabled, cron_schedule, created_at, updated_at`

// ListPipelineConfigs retrieves config rows ordered by pipeline then mode,
// optionally filtered by pipeline and/or mode.
func (db *DB) ListPipelineConfigs(ctx context.Context, pipeline, mode string) ([]PipelineConfig, error) {
	query := `SELECT ` + configColumns + ` FROM pipeline_config WHERE 1=1`
	args := []any{}
	argNum := 1

	if pipeline != "" {
		query += fmt.Sprintf(" AND pipeline = $%d", argNum)
		args = append(args, pipeline)
		argNum++
	}
	if mode != "" {
		query += fmt.Sprintf(" AND mode = $%d", argNum)
		args = append(args, mode)
	}

	query += " ORDER BY pipeline, mode"

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list pipeline configs: %w", err)
	}
	defer rows.Close()

	var configs []PipelineConfig
	for rows.Next() {
		var c PipelineConfig
		if err := rows.Scan(&c.ID, &c.Pipeline, &c.Mode, &c.CronEnabled, &c.CronSchedule,
			&c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pipeline config: %w", err)
		}
		configs = append(configs, c)
	}
	return configs, nil
}

// UpdatePipelineConfig applies the patch to the config row for a
// pipeline/mode pair and returns the updated row, or (nil, nil) when no
// such row exists.
func (db *DB) UpdatePipelineConfig(ctx context.Context, pipeline, mode string, patch PipelineConfigPatch) (*PipelineConfig, error) {
	sets := ""
	args := []any{}
	argNum := 1

	if patch.CronEnabled != nil {
		sets += fmt.Sprintf(", cron_enabled = $%d", argNum)
		args = append(args, *patch.CronEnabled)
		argNum++
	}
	if patch.CronSchedule != nil {
		sets += fmt.Sprintf(", cron_schedule = $%d", argNum)
		args = append(args, *patch.CronSchedule)
		argNum++
	}
	if sets == "" {
		return nil, fmt.Errorf("nothing to update")
	}

	query := fmt.Sprintf(
		`UPDATE pipeline_config SET updated_at = NOW()%s
		 WHERE pipeline = $%d AND mode = $%d
		 RETURNING `+configColumns,
		sets, argNum, argNum+1,
	)
	args = append(args, pipeline, mode)

	var c PipelineConfig
	err := db.pool.QueryRow(ctx, query, args...).Scan(&c.ID, &c.Pipeline, &c.Mode,
		&c.CronEnabled, &c.CronSchedule, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to update pipeline config: %w", err)
	}
	return &c, nil
}
