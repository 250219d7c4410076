package embed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const defaultJanitorSchedule = "@every 5m"

// StuckRequeuer returns stale processing rows to pending.
type StuckRequeuer interface {
	RequeueStuck(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Janitor periodically re-pends embedding rows that have sat in
// processing longer than olderThan, recovering leases lost to a crashed
// worker. It is the only component that moves rows backwards.
type Janitor struct {
	queue     StuckRequeuer
	olderThan time.Duration
	logger    *slog.Logger

	// schedule is overridden by tests; empty means every five minutes.
	schedule string

	OnRequeued func(n int64)
}

func NewJanitor(queue StuckRequeuer, olderThan time.Duration, logger *slog.Logger) *Janitor {
	return &Janitor{
		queue:     queue,
		olderThan: olderThan,
		logger:    logger.With("component", "queue-janitor"),
	}
}

// Run sweeps once at startup, then on the schedule, until ctx ends.
func (j *Janitor) Run(ctx context.Context) error {
	schedule := j.schedule
	if schedule == "" {
		schedule = defaultJanitorSchedule
	}

	j.sweep(ctx)

	c := cron.New()
	if _, err := c.AddFunc(schedule, func() { j.sweep(ctx) }); err != nil {
		return fmt.Errorf("schedule janitor: %w", err)
	}
	c.Start()
	j.logger.Info("queue janitor started", "schedule", schedule, "older_than", j.olderThan)

	<-ctx.Done()
	stopped := c.Stop()
	<-stopped.Done() // let an in-flight sweep finish
	return ctx.Err()
}

func (j *Janitor) sweep(ctx context.Context) {
	n, err := j.queue.RequeueStuck(ctx, j.olderThan)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		j.logger.Error("requeue stuck embedding rows", "error", err)
		return
	}
	if n > 0 {
		j.logger.Warn("requeued stuck embedding rows", "count", n, "older_than", j.olderThan)
		if j.OnRequeued != nil {
			j.OnRequeued(n)
		}
	}
}
