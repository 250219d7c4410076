// BCS Ingestion Worker — mirrors broker streaming data into Postgres and
// keeps the instrument embedding queue drained.
//
// Architecture:
//
//	main.go              — entry point: loads config, opens the store, starts the engine, waits for SIGINT/SIGTERM
//	engine/engine.go     — supervisor: wires auth → streams → store, spawns the pump and janitor
//	broker/auth.go       — OAuth2 refresh-token client with proactive renewal and retry
//	broker/stream.go     — websocket session shared by all streams: dial, token, read loop, reconnect
//	broker/market.go     — market data stream (order books, candles, trades, quotes) over selected instruments
//	broker/account.go    — portfolio, order (dual-channel), limits and marginal streams
//	embed/pump.go        — polls the embedding queue, embeds pending rows, stores vectors
//	embed/backend.go     — llm_mcp enqueue/poll embedder with direct ollama fallback
//	embed/janitor.go     — cron job re-pending rows stuck in processing
//	store/store.go       — GORM gateway over the market and private databases
//	publish/publisher.go — optional Redis fanout of stored market frames
//	api/server.go        — optional ops endpoints: /healthz, /status, /metrics
//
// Every stream owns its reconnect loop, so a dropped websocket or an
// expired token never takes the worker down. The process exits only on
// a shutdown signal or a configuration error at startup.
package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bcs-ingest/internal/api"
	"bcs-ingest/internal/config"
	"bcs-ingest/internal/engine"
	"bcs-ingest/internal/logging"
	"bcs-ingest/internal/metrics"
	"bcs-ingest/internal/publish"
	"bcs-ingest/internal/store"

	"log/slog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	if raw, err := json.Marshal(cfg); err == nil {
		logger.Debug("config loaded", "config", logging.SanitizeJSON(raw))
	}

	gw, err := store.Open(cfg.DB, logger)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	if err := gw.Ping(); err != nil {
		logger.Error("database unreachable", "error", err)
		os.Exit(1)
	}
	logger.Info("db connected", "host", cfg.DB.Host, "port", cfg.DB.Port)

	m := metrics.New()

	var pub *publish.Publisher
	if cfg.Redis.Addr != "" {
		pub, err = publish.New(cfg.Redis.Addr, cfg.Redis.Channel, logger)
		if err != nil {
			logger.Error("failed to connect redis", "error", err)
			os.Exit(1)
		}
	}

	eng := engine.New(*cfg, gw, m, pub, logger)

	var opsServer *api.Server
	if cfg.Ops.Addr != "" {
		opsServer = api.NewServer(cfg.Ops.Addr, eng, m.Handler(), logger)
		go func() {
			if err := opsServer.Start(); err != nil {
				logger.Error("ops server failed", "error", err)
			}
		}()
		logger.Info("ops server started", "addr", cfg.Ops.Addr)
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	logger.Info("bcs ingestion worker started",
		"workers", eng.WorkerCount(),
		"instruments", len(cfg.Instruments),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if eng.WorkerCount() == 0 {
		// Nothing to supervise. Park for a while so a misconfigured
		// deployment is visible in logs instead of crash-looping.
		logger.Warn("no workers started; idling")
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig.String())
		case <-time.After(time.Hour):
		}
	} else {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig.String())
	}

	// Stop the ops server first so /status never reads a torn-down engine.
	if opsServer != nil {
		if err := opsServer.Stop(); err != nil {
			logger.Error("failed to stop ops server", "error", err)
		}
	}

	eng.Stop()

	if pub != nil {
		if err := pub.Close(); err != nil {
			logger.Error("failed to close redis", "error", err)
		}
	}
	if err := gw.Close(); err != nil {
		logger.Error("failed to close database", "error", err)
	}
}
