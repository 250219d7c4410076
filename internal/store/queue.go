package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"bcs-ingest/pkg/types"
)

const leaseSQL = `
UPDATE embedding_queue
SET status = 'processing', updated_at = now()
WHERE id IN (
    SELECT id FROM embedding_queue
    WHERE status = 'pending'
    ORDER BY created_at ASC
    LIMIT ?
    FOR UPDATE SKIP LOCKED
)
RETURNING id, entity_type, entity_id, text, metadata`

const markFailedSQL = `
UPDATE embedding_queue
SET status = 'error',
    updated_at = now(),
    metadata = jsonb_set(coalesce(metadata, '{}'::jsonb), '{error}', to_jsonb(?::text), true)
WHERE id = ?`

const requeueStuckSQL = `
UPDATE embedding_queue
SET status = 'pending', updated_at = now()
WHERE status = 'processing' AND updated_at < now() - ?::interval`

// EnqueueEmbedding adds a pending row to the embedding queue.
func (g *Gateway) EnqueueEmbedding(ctx context.Context, entityType, entityID, text string, metadata []byte) error {
	row := EmbeddingQueueRow{
		EntityType: entityType,
		EntityID:   entityID,
		Text:       text,
		Metadata:   datatypes.JSON(metadata),
		Status:     "pending",
	}
	if err := g.private.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("enqueue embedding: %w", err)
	}
	return nil
}

// LeaseEmbeddingBatch claims up to limit pending rows, marking them
// processing. SKIP LOCKED keeps concurrent workers from leasing the
// same rows.
func (g *Gateway) LeaseEmbeddingBatch(ctx context.Context, limit int) ([]types.EmbeddingJob, error) {
	var jobs []types.EmbeddingJob
	if err := g.private.WithContext(ctx).Raw(leaseSQL, limit).Scan(&jobs).Error; err != nil {
		return nil, fmt.Errorf("lease embedding batch: %w", err)
	}
	return jobs, nil
}

// StoreEmbedding writes the computed vector and marks the queue row done,
// atomically.
func (g *Gateway) StoreEmbedding(ctx context.Context, job types.EmbeddingJob, vector []float64) error {
	err := g.private.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := EmbeddingRow{
			EntityType: job.EntityType,
			EntityID:   job.EntityID,
			Embedding:  formatVector(vector),
			Metadata:   datatypes.JSON(job.Metadata),
			CreatedAt:  time.Now().UTC(),
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		return tx.Model(&EmbeddingQueueRow{}).
			Where("id = ?", job.ID).
			Updates(map[string]any{"status": "done", "updated_at": time.Now().UTC()}).Error
	})
	if err != nil {
		return fmt.Errorf("store embedding: %w", err)
	}
	return nil
}

// MarkEmbeddingFailed marks the queue row error and records the reason
// under the metadata "error" key.
func (g *Gateway) MarkEmbeddingFailed(ctx context.Context, id, reason string) error {
	if err := g.private.WithContext(ctx).Exec(markFailedSQL, reason, id).Error; err != nil {
		return fmt.Errorf("mark embedding failed: %w", err)
	}
	return nil
}

// RequeueStuck moves processing rows older than the given age back to
// pending, reclaiming work leased by a worker that died mid-batch.
// Returns the number of rows moved.
func (g *Gateway) RequeueStuck(ctx context.Context, olderThan time.Duration) (int64, error) {
	interval := fmt.Sprintf("%d seconds", int(olderThan.Seconds()))
	res := g.private.WithContext(ctx).Exec(requeueStuckSQL, interval)
	if res.Error != nil {
		return 0, fmt.Errorf("requeue stuck embeddings: %w", res.Error)
	}
	return res.RowsAffected, nil
}
