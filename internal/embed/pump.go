package embed

import (
	"context"
	"log/slog"
	"time"

	"bcs-ingest/pkg/types"
)

const (
	batchSize       = 10
	defaultIdleWait = 2 * time.Second
)

// Queue is the slice of the store gateway the pump drives.
type Queue interface {
	LeaseEmbeddingBatch(ctx context.Context, limit int) ([]types.EmbeddingJob, error)
	StoreEmbedding(ctx context.Context, job types.EmbeddingJob, vector []float64) error
	MarkEmbeddingFailed(ctx context.Context, id, reason string) error
}

// Embedder produces a vector for a text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Pump drains the embedding queue: lease a batch, embed each row, record
// done or error per row. A row failure never stops the batch or the
// pump; only ctx cancellation ends the loop.
type Pump struct {
	queue    Queue
	embedder Embedder
	logger   *slog.Logger

	// idleWait is shortened by tests; zero means the default.
	idleWait time.Duration

	// Optional hooks, wired by the engine.
	OnProcessed func(outcome string)
	OnBatch     func(n int)
}

func NewPump(queue Queue, embedder Embedder, logger *slog.Logger) *Pump {
	return &Pump{
		queue:    queue,
		embedder: embedder,
		logger:   logger.With("component", "embedding-pump"),
	}
}

// Run loops until ctx is cancelled.
func (p *Pump) Run(ctx context.Context) error {
	p.logger.Info("embedding pump started", "batch_size", batchSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch, err := p.queue.LeaseEmbeddingBatch(ctx, batchSize)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Error("lease embedding batch", "error", err)
			if !p.sleep(ctx) {
				return ctx.Err()
			}
			continue
		}
		if p.OnBatch != nil {
			p.OnBatch(len(batch))
		}
		if len(batch) == 0 {
			if !p.sleep(ctx) {
				return ctx.Err()
			}
			continue
		}

		for _, job := range batch {
			p.processJob(ctx, job)
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}
}

// processJob embeds one row and records the outcome. Cancellation leaves
// the row in processing; the janitor re-pends it later.
func (p *Pump) processJob(ctx context.Context, job types.EmbeddingJob) {
	vector, err := p.embedder.Embed(ctx, job.Text)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.logger.Error("embedding failed", "queue_id", job.ID, "entity_type", job.EntityType, "error", err)
		p.fail(ctx, job.ID, err.Error())
		return
	}
	if len(vector) == 0 {
		p.logger.Error("embedding backend returned no vector", "queue_id", job.ID)
		p.fail(ctx, job.ID, "empty embedding")
		return
	}

	if err := p.queue.StoreEmbedding(ctx, job, vector); err != nil {
		if ctx.Err() != nil {
			return
		}
		p.logger.Error("store embedding", "queue_id", job.ID, "error", err)
		p.fail(ctx, job.ID, err.Error())
		return
	}

	p.logger.Debug("embedding stored", "queue_id", job.ID, "dimensions", len(vector))
	if p.OnProcessed != nil {
		p.OnProcessed("stored")
	}
}

func (p *Pump) fail(ctx context.Context, id, reason string) {
	if err := p.queue.MarkEmbeddingFailed(ctx, id, reason); err != nil {
		p.logger.Error("mark embedding failed", "queue_id", id, "error", err)
	}
	if p.OnProcessed != nil {
		p.OnProcessed("failed")
	}
}

// sleep waits out the idle interval; false means ctx ended first.
func (p *Pump) sleep(ctx context.Context) bool {
	wait := p.idleWait
	if wait <= 0 {
		wait = defaultIdleWait
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(wait):
		return true
	}
}
