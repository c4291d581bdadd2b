package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// GetDefectStatuses returns the current status for each of the given
// audit-log ids that already has a defect row.
func (db *DB) GetDefectStatuses(ctx context.Context, auditlogIDs []int64) (map[int64]string, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT auditlog_id, status FROM raw_defects WHERE auditlog_id = ANY($1)`,
		auditlogIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get defect statuses: %w", err)
	}
	defer rows.Close()

	statuses := make(map[int64]string)
	for rows.Next() {
		var id int64
		var status string
		if err := rows.Scan(&id, &status); err != nil {
			return nil, fmt.Errorf("failed to scan defect status: %w", err)
		}
		statuses[id] = status
	}
	return statuses, nil
}

// InsertDefectsBatch inserts one batch of new defect rows. Callers diff
// against GetDefectStatuses first, so conflicts are not expected; a
// conflict here means a concurrent writer and fails the batch.
func (db *DB) InsertDefectsBatch(ctx context.Context, records []DefectRecord) (int, error) {
	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(
			`INSERT INTO raw_defects (auditlog_id, product_id, defect_date, defect_by,
			   defect_to, defect_type, source_url, reason, status, revoke_date,
			   revoked_by, run_id)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			r.AuditlogID, r.ProductID, r.DefectDate, r.DefectBy,
			r.DefectTo, r.DefectType, r.SourceURL, r.Reason, r.Status, r.RevokeDate,
			r.RevokedBy, r.RunID,
		)
	}

	inserted, err := db.sendInsertBatch(ctx, batch)
	if err != nil {
		return 0, fmt.Errorf("failed to insert defects batch: %w", err)
	}
	return inserted, nil
}

// UpdateDefectStatus flips the status of an existing defect row and clears
// the is_aggregated flag so downstream recomputation picks the row up
// again.
func (db *DB) UpdateDefectStatus(ctx context.Context, r DefectRecord) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE raw_defects
		 SET status = $1, revoke_date = $2, revoked_by = $3, run_id = $4,
		     is_aggregated = FALSE, updated_at = NOW()
		 WHERE auditlog_id = $5`,
		r.Status, r.RevokeDate, r.RevokedBy, r.RunID, r.AuditlogID,
	)
	if err != nil {
		return fmt.Errorf("failed to update defect %d: %w", r.AuditlogID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("defect not found: %d", r.AuditlogID)
	}
	return nil
}
