// Package store is the persistence gateway. It owns two Postgres pools:
// the market pool for public market data (order books, quotes, trades,
// candles) and the private pool for account state (holdings, orders,
// limits, marginal indicators) plus the embedding queue.
//
// Every write takes the raw incoming frame: indexed columns are extracted
// into typed fields and the frame itself is kept verbatim in a jsonb
// column, so nothing upstream sends is ever lost to schema drift.
package store

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"bcs-ingest/internal/config"
)

// Gateway wraps the two database pools behind one storage operation per
// incoming frame kind.
type Gateway struct {
	market  *gorm.DB
	private *gorm.DB
	logger  *slog.Logger
}

// Open connects both pools and optionally runs migrations.
func Open(cfg config.DBConfig, logger *slog.Logger) (*Gateway, error) {
	market, err := openPool(cfg, cfg.MarketDB)
	if err != nil {
		return nil, fmt.Errorf("open market pool: %w", err)
	}
	private, err := openPool(cfg, cfg.PrivateDB)
	if err != nil {
		return nil, fmt.Errorf("open private pool: %w", err)
	}

	g := &Gateway{
		market:  market,
		private: private,
		logger:  logger.With("component", "store"),
	}

	if cfg.AutoMigrate {
		if err := g.migrate(); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func openPool(cfg config.DBConfig, dbName string) (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable TimeZone=UTC",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, dbName,
	)
	return gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
}

func (g *Gateway) migrate() error {
	if err := g.market.AutoMigrate(
		&OrderBookRow{}, &QuoteRow{}, &LastTradeRow{}, &CandleRow{},
	); err != nil {
		return fmt.Errorf("migrate market pool: %w", err)
	}
	// The embeddings table needs the pgvector extension installed.
	if err := g.private.AutoMigrate(
		&SelectedAsset{}, &HoldingsSnapshotRow{}, &HoldingsCurrentRow{},
		&OrderEventRow{}, &LimitsSnapshotRow{}, &MarginalSnapshotRow{},
		&EmbeddingQueueRow{}, &EmbeddingRow{},
	); err != nil {
		return fmt.Errorf("migrate private pool: %w", err)
	}
	g.logger.Info("migrations applied")
	return nil
}

// Ping verifies both pools are reachable.
func (g *Gateway) Ping() error {
	for name, db := range map[string]*gorm.DB{"market": g.market, "private": g.private} {
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("%s pool: %w", name, err)
		}
		if err := sqlDB.Ping(); err != nil {
			return fmt.Errorf("%s pool: %w", name, err)
		}
	}
	return nil
}

// Close releases both pools.
func (g *Gateway) Close() error {
	for _, db := range []*gorm.DB{g.market, g.private} {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		if err := sqlDB.Close(); err != nil {
			return err
		}
	}
	return nil
}

// parseTimestamp maps an upstream dateTime string to a concrete instant.
// Empty means "now". ISO-8601 offsets are honored (a trailing Z is UTC);
// a timestamp without offset is taken as UTC. Anything unparseable also
// falls back to now.
func parseTimestamp(value string) time.Time {
	if value == "" {
		return time.Now().UTC()
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts
	}
	if ts, err := time.Parse("2006-01-02T15:04:05.999999999", value); err == nil {
		return ts.UTC()
	}
	return time.Now().UTC()
}

// formatVector renders an embedding in the pgvector text form,
// "[v1,v2,...]", with every component at exactly 8 fraction digits.
func formatVector(vec []float64) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(v, 'f', 8, 64))
	}
	b.WriteByte(']')
	return b.String()
}
