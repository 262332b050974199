package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hataori-ai/hataori/internal/model"
)

// CreateDataset inserts a new dataset. A zero ID is assigned.
func (db *DB) CreateDataset(ctx context.Context, dataset model.Dataset) (model.Dataset, error) {
	if dataset.ID == "" {
		dataset.ID = uuid.NewString()
	}
	if dataset.CreatedAt.IsZero() {
		dataset.CreatedAt = time.Now().UTC()
	}
	if dataset.TopicHierarchy == nil {
		dataset.TopicHierarchy = []model.TopicNode{}
	}

	hierarchy, err := json.Marshal(dataset.TopicHierarchy)
	if err != nil {
		return model.Dataset{}, fmt.Errorf("storage: encode topic hierarchy: %w", err)
	}

	err = WithRetry(ctx, 3, 50*time.Millisecond, func() error {
		_, err := db.db.ExecContext(ctx,
			`INSERT INTO datasets (id, name, topic_hierarchy, created_at_ms)
			 VALUES (?, ?, ?, ?)`,
			dataset.ID, dataset.Name, string(hierarchy), dataset.CreatedAt.UnixMilli(),
		)
		return err
	})
	if err != nil {
		return model.Dataset{}, fmt.Errorf("storage: create dataset: %w", err)
	}
	return dataset, nil
}

// DatasetByID fetches one dataset. Returns ErrNotFound when absent.
func (db *DB) DatasetByID(ctx context.Context, id string) (model.Dataset, error) {
	var (
		dataset   model.Dataset
		hierarchy string
		createdMs int64
	)
	err := db.db.QueryRowContext(ctx,
		`SELECT id, name, topic_hierarchy, created_at_ms FROM datasets WHERE id = ?`, id,
	).Scan(&dataset.ID, &dataset.Name, &hierarchy, &createdMs)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Dataset{}, ErrNotFound
	}
	if err != nil {
		return model.Dataset{}, fmt.Errorf("storage: get dataset %s: %w", id, err)
	}

	if err := json.Unmarshal([]byte(hierarchy), &dataset.TopicHierarchy); err != nil {
		return model.Dataset{}, fmt.Errorf("storage: decode topic hierarchy for %s: %w", id, err)
	}
	dataset.CreatedAt = time.UnixMilli(createdMs).UTC()
	return dataset, nil
}
