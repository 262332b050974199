package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hataori-ai/hataori/internal/model"
)

// AddRecords inserts records into a dataset within a single transaction and
// returns the rows as persisted. The returned slice is the authoritative
// count of what was durably written.
func (db *DB) AddRecords(ctx context.Context, datasetID string, records []model.NewRecord) ([]model.DatasetRecord, error) {
	if len(records) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	persisted := make([]model.DatasetRecord, 0, len(records))

	err := WithRetry(ctx, 3, 50*time.Millisecond, func() error {
		tx, err := db.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		persisted = persisted[:0]
		for _, rec := range records {
			row := model.DatasetRecord{
				ID:          uuid.NewString(),
				DatasetID:   datasetID,
				Topic:       rec.Topic,
				Data:        rec.Data,
				Metadata:    rec.Metadata,
				IsGenerated: rec.IsGenerated,
				CreatedAt:   now,
			}
			if row.Metadata == nil {
				row.Metadata = map[string]any{}
			}

			data, err := json.Marshal(row.Data)
			if err != nil {
				return fmt.Errorf("encode record data: %w", err)
			}
			metadata, err := json.Marshal(row.Metadata)
			if err != nil {
				return fmt.Errorf("encode record metadata: %w", err)
			}

			if _, err := tx.ExecContext(ctx,
				`INSERT INTO dataset_records (id, dataset_id, topic, data, metadata, is_generated, created_at_ms)
				 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				row.ID, row.DatasetID, row.Topic, string(data), string(metadata),
				row.IsGenerated, row.CreatedAt.UnixMilli(),
			); err != nil {
				return err
			}
			persisted = append(persisted, row)
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, fmt.Errorf("storage: add records to %s: %w", datasetID, err)
	}
	return persisted, nil
}

// RecordsByDatasetID fetches records in a dataset, in insertion order. A
// non-empty ids filter restricts the result to those records; ids not
// present in the dataset are silently absent from the result.
func (db *DB) RecordsByDatasetID(ctx context.Context, datasetID string, ids []string) ([]model.DatasetRecord, error) {
	query := `SELECT id, dataset_id, topic, data, metadata, is_generated, created_at_ms
		FROM dataset_records WHERE dataset_id = ?`
	args := []any{datasetID}

	if len(ids) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
		query += fmt.Sprintf(" AND id IN (%s)", placeholders)
		for _, id := range ids {
			args = append(args, id)
		}
	}
	// rowid keeps insertion order even within the same millisecond.
	query += " ORDER BY created_at_ms, rowid"

	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: query records for %s: %w", datasetID, err)
	}
	defer rows.Close()

	var out []model.DatasetRecord
	for rows.Next() {
		var (
			rec       model.DatasetRecord
			data      string
			metadata  string
			createdMs int64
		)
		if err := rows.Scan(&rec.ID, &rec.DatasetID, &rec.Topic, &data, &metadata,
			&rec.IsGenerated, &createdMs); err != nil {
			return nil, fmt.Errorf("storage: scan record: %w", err)
		}
		if err := json.Unmarshal([]byte(data), &rec.Data); err != nil {
			return nil, fmt.Errorf("storage: decode record %s data: %w", rec.ID, err)
		}
		if err := json.Unmarshal([]byte(metadata), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("storage: decode record %s metadata: %w", rec.ID, err)
		}
		rec.CreatedAt = time.UnixMilli(createdMs).UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate records for %s: %w", datasetID, err)
	}
	return out, nil
}
