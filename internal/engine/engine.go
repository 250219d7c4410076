// Package engine supervises the ingestion workers.
//
// It wires together all subsystems:
//
//  1. One shared AuthClient refreshes the broker access token on demand.
//  2. Up to five stream workers (market, portfolio, orders, limits,
//     marginal) mirror websocket frames into Postgres; each is enabled
//     by its flag and all of them require a refresh token.
//  3. The embedding pump drains the embedding queue through the
//     configured LLM backend; it runs with or without a token.
//  4. The queue janitor re-pends rows stuck in processing.
//
// Lifecycle: New() → Start() → [runs until SIGINT/SIGTERM] → Stop().
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"bcs-ingest/internal/api"
	"bcs-ingest/internal/broker"
	"bcs-ingest/internal/config"
	"bcs-ingest/internal/embed"
	"bcs-ingest/internal/metrics"
	"bcs-ingest/internal/publish"
	"bcs-ingest/pkg/types"
)

// Store is the slice of the storage gateway the workers write through.
type Store interface {
	broker.MarketSink
	broker.AccountSink
	embed.Queue
	embed.StuckRequeuer
	SelectedAssets(ctx context.Context) ([]types.Instrument, error)
}

// Engine owns the lifecycle of every worker goroutine.
type Engine struct {
	cfg       config.Config
	store     Store
	auth      *broker.AuthClient
	metrics   *metrics.Metrics
	publisher *publish.Publisher
	logger    *slog.Logger

	// mu guards the snapshot state below.
	mu          sync.Mutex
	workers     []string
	instruments int
	startedAt   time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires the engine components. metrics and publisher may be nil;
// hooks are simply left unset then.
func New(cfg config.Config, store Store, m *metrics.Metrics, pub *publish.Publisher, logger *slog.Logger) *Engine {
	auth := broker.NewAuthClient(cfg.TokenURL, cfg.ClientID, cfg.RefreshToken, logger)
	if m != nil {
		auth.OnRefresh = m.TokenRefreshes.Inc
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:       cfg,
		store:     store,
		auth:      auth,
		metrics:   m,
		publisher: pub,
		logger:    logger.With("component", "engine"),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the configured workers. Stream workers need a refresh
// token; the embedding pump always runs, so the process has something to
// do even with streams disabled.
func (e *Engine) Start() error {
	e.mu.Lock()
	e.startedAt = time.Now()
	e.mu.Unlock()

	hasToken := e.cfg.RefreshToken != ""
	if hasToken {
		e.logger.Info("token present; streams enabled according to flags")
	} else {
		e.logger.Warn("refresh token is empty; streams are disabled")
	}

	instruments := e.cfg.Instruments
	if e.cfg.UseDBInstruments {
		fromDB, err := e.store.SelectedAssets(e.ctx)
		if err != nil {
			return fmt.Errorf("load instruments: %w", err)
		}
		if len(fromDB) > 0 {
			instruments = fromDB
			e.logger.Info("loaded instruments from db", "count", len(fromDB))
		} else {
			e.logger.Warn("no instruments in db; using configured list")
		}
	}
	e.mu.Lock()
	e.instruments = len(instruments)
	e.mu.Unlock()

	if hasToken && e.cfg.Streams.Market {
		ms := broker.NewMarketStream(broker.MarketConfig{
			URL:         e.cfg.MarketWSURL(),
			Instruments: instruments,
			Flags:       e.cfg.Store,
			TimeFrame:   e.cfg.CandleTimeFrame,
		}, e.auth, e.store, e.logger)
		ms.OnReconnect = e.reconnectCounter("market")
		ms.OnStored = e.storedCounter("market")
		ms.OnDropped = e.droppedCounter("market")
		if e.publisher != nil {
			ms.Publish = e.publisher.Publish
		}
		e.spawn("market", ms.Run)
	}

	if hasToken && e.cfg.Streams.Portfolio {
		ps := broker.NewPortfolioStream(e.cfg.PortfolioWSURL(), e.auth, e.store, e.logger)
		ps.OnReconnect = e.reconnectCounter("portfolio")
		ps.OnStored = e.storedCounter("portfolio")
		ps.OnDropped = e.droppedCounter("portfolio")
		e.spawn("portfolio", ps.Run)
	}

	if hasToken && e.cfg.Streams.Orders {
		ords := broker.NewOrdersStream(
			e.cfg.OrdersExecutionWSURL(),
			e.cfg.OrdersTransactionWSURL(),
			e.auth, e.store, e.logger,
		)
		ords.OnReconnect = e.reconnectCounter("orders")
		ords.OnStored = e.storedCounter("orders")
		ords.OnDropped = e.droppedCounter("orders")
		e.spawn("orders", ords.Run)
	}

	if hasToken && e.cfg.Streams.Limits {
		ls := broker.NewLimitsStream(e.cfg.LimitsWSURL(), e.auth, e.store, e.logger)
		ls.OnReconnect = e.reconnectCounter("limits")
		ls.OnStored = e.storedCounter("limits")
		ls.OnDropped = e.droppedCounter("limits")
		e.spawn("limits", ls.Run)
	}

	if hasToken && e.cfg.Streams.Marginal {
		mgs := broker.NewMarginalStream(e.cfg.MarginalWSURL(), e.auth, e.store, e.logger)
		mgs.OnReconnect = e.reconnectCounter("marginal")
		mgs.OnStored = e.storedCounter("marginal")
		mgs.OnDropped = e.droppedCounter("marginal")
		e.spawn("marginal", mgs.Run)
	}

	pump := embed.NewPump(e.store, embed.NewBackend(e.cfg.Embed, e.logger), e.logger)
	if e.metrics != nil {
		pump.OnProcessed = func(outcome string) {
			e.metrics.EmbeddingsProcessed.WithLabelValues(outcome).Inc()
		}
		pump.OnBatch = func(n int) {
			e.metrics.QueueBatchSize.Set(float64(n))
		}
	}
	e.spawn("embedding-pump", pump.Run)

	if e.cfg.Queue.Janitor {
		janitor := embed.NewJanitor(e.store, e.cfg.Queue.RequeueAfter, e.logger)
		if e.metrics != nil {
			janitor.OnRequeued = func(n int64) {
				e.metrics.QueueRequeued.Add(float64(n))
			}
		}
		e.spawn("queue-janitor", janitor.Run)
	}

	return nil
}

// Stop cancels the shared context and waits for every worker to return.
func (e *Engine) Stop() {
	e.logger.Info("shutting down...")
	e.cancel()
	e.wg.Wait()
	e.logger.Info("shutdown complete")
}

// WorkerCount reports how many workers Start spawned.
func (e *Engine) WorkerCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.workers)
}

// Snapshot implements api.StatusProvider.
func (e *Engine) Snapshot() api.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	workers := make([]string, len(e.workers))
	copy(workers, e.workers)
	return api.Status{
		StartedAt:   e.startedAt,
		Uptime:      time.Since(e.startedAt).Round(time.Second).String(),
		Workers:     workers,
		Instruments: e.instruments,
	}
}

// spawn tracks and runs one worker goroutine. Workers own their retry
// loops, so an error surfacing here before cancellation means the worker
// gave up for good.
func (e *Engine) spawn(name string, run func(context.Context) error) {
	e.mu.Lock()
	e.workers = append(e.workers, name)
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := run(e.ctx); err != nil && e.ctx.Err() == nil {
			e.logger.Error("worker stopped", "worker", name, "error", err)
		}
	}()
}

func (e *Engine) reconnectCounter(stream string) func() {
	if e.metrics == nil {
		return nil
	}
	return func() { e.metrics.Reconnects.WithLabelValues(stream).Inc() }
}

func (e *Engine) storedCounter(stream string) func(string) {
	if e.metrics == nil {
		return nil
	}
	return func(frameType string) {
		e.metrics.EventsStored.WithLabelValues(stream, frameType).Inc()
	}
}

func (e *Engine) droppedCounter(stream string) func() {
	if e.metrics == nil {
		return nil
	}
	return func() { e.metrics.EventsDropped.WithLabelValues(stream).Inc() }
}
