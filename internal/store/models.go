package store

import (
	"time"

	"gorm.io/datatypes"
)

// ————————————————————————————————————————————————————————————————————————
// Market pool
// ————————————————————————————————————————————————————————————————————————

// OrderBookRow is one L2 snapshot. Bids/Asks keep the level arrays as
// sent; Data keeps the whole frame.
type OrderBookRow struct {
	ID        uint64    `gorm:"primaryKey"`
	Ticker    string    `gorm:"index:idx_order_book_instrument"`
	ClassCode string    `gorm:"index:idx_order_book_instrument"`
	TS        time.Time `gorm:"column:ts;index"`
	Depth     *int
	BidVolume *float64
	AskVolume *float64
	Bids      datatypes.JSON
	Asks      datatypes.JSON
	Data      datatypes.JSON
}

func (OrderBookRow) TableName() string { return "order_book_snapshots" }

// QuoteRow is one consolidated quote update.
type QuoteRow struct {
	ID                    uint64    `gorm:"primaryKey"`
	Ticker                string    `gorm:"index:idx_quotes_instrument"`
	ClassCode             string    `gorm:"index:idx_quotes_instrument"`
	TS                    time.Time `gorm:"column:ts;index"`
	Bid                   *float64
	Offer                 *float64
	Last                  *float64
	Open                  *float64
	Close                 *float64
	High                  *float64
	Low                   *float64
	Change                *float64
	ChangeRate            *float64
	Currency              string
	SecurityTradingStatus string
	Data                  datatypes.JSON
}

func (QuoteRow) TableName() string { return "quotes" }

// LastTradeRow is one public trade print.
type LastTradeRow struct {
	ID        uint64    `gorm:"primaryKey"`
	Ticker    string    `gorm:"index:idx_last_trades_instrument"`
	ClassCode string    `gorm:"index:idx_last_trades_instrument"`
	TS        time.Time `gorm:"column:ts;index"`
	Side      string
	Price     *float64
	Quantity  *float64
	Volume    *float64
	Data      datatypes.JSON
}

func (LastTradeRow) TableName() string { return "last_trades" }

// CandleRow is one OHLCV bar. The bar for an open interval is re-sent as
// it builds, so rows are upserted on the composite key.
type CandleRow struct {
	ID        uint64    `gorm:"primaryKey"`
	Ticker    string    `gorm:"uniqueIndex:idx_candles_bar"`
	ClassCode string    `gorm:"uniqueIndex:idx_candles_bar"`
	TimeFrame string    `gorm:"uniqueIndex:idx_candles_bar"`
	TS        time.Time `gorm:"column:ts;uniqueIndex:idx_candles_bar"`
	Open      *float64
	High      *float64
	Low       *float64
	Close     *float64
	Volume    *float64
	Data      datatypes.JSON
}

func (CandleRow) TableName() string { return "candles" }

// ————————————————————————————————————————————————————————————————————————
// Private pool
// ————————————————————————————————————————————————————————————————————————

// SelectedAsset is an operator-curated instrument row. Enabled rows
// replace the env-configured subscription list at startup.
type SelectedAsset struct {
	ID        uint64 `gorm:"primaryKey"`
	Ticker    string
	ClassCode string
	Enabled   bool
}

func (SelectedAsset) TableName() string { return "selected_assets" }

// HoldingsSnapshotRow is a full portfolio frame, append-only.
type HoldingsSnapshotRow struct {
	ID   uint64    `gorm:"primaryKey"`
	TS   time.Time `gorm:"column:ts;index"`
	Data datatypes.JSON
}

func (HoldingsSnapshotRow) TableName() string { return "holdings_snapshots" }

// HoldingsCurrentRow is the latest known state per position.
type HoldingsCurrentRow struct {
	ID        uint64 `gorm:"primaryKey"`
	Account   string `gorm:"uniqueIndex:idx_holdings_position"`
	Ticker    string `gorm:"uniqueIndex:idx_holdings_position"`
	ClassCode string `gorm:"uniqueIndex:idx_holdings_position"`
	Quantity  *float64
	AvgPrice  *float64
	Currency  string
	Data      datatypes.JSON
	UpdatedAt time.Time
}

func (HoldingsCurrentRow) TableName() string { return "holdings_current" }

// OrderEventRow is one order lifecycle event, append-only.
type OrderEventRow struct {
	ID                    uint64    `gorm:"primaryKey"`
	TS                    time.Time `gorm:"column:ts;index"`
	OriginalClientOrderID string
	ClientOrderID         string
	OrderStatus           string
	ExecutionType         string
	Ticker                string
	ClassCode             string
	Data                  datatypes.JSON
}

func (OrderEventRow) TableName() string { return "order_events" }

// LimitsSnapshotRow is one limits frame, append-only.
type LimitsSnapshotRow struct {
	ID   uint64    `gorm:"primaryKey"`
	TS   time.Time `gorm:"column:ts;index"`
	Data datatypes.JSON
}

func (LimitsSnapshotRow) TableName() string { return "limits_snapshots" }

// MarginalSnapshotRow is one marginal indicators frame, append-only.
type MarginalSnapshotRow struct {
	ID   uint64    `gorm:"primaryKey"`
	TS   time.Time `gorm:"column:ts;index"`
	Data datatypes.JSON
}

func (MarginalSnapshotRow) TableName() string { return "marginal_indicators_snapshots" }

// EmbeddingQueueRow is a unit of embedding work. Status moves
// pending -> processing -> done|error; the janitor may move stale
// processing rows back to pending.
type EmbeddingQueueRow struct {
	ID         string `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	EntityType string
	EntityID   string
	Text       string `gorm:"type:text"`
	Metadata   datatypes.JSON
	Status     string `gorm:"default:pending;index"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (EmbeddingQueueRow) TableName() string { return "embedding_queue" }

// EmbeddingRow is a computed vector. Embedding holds the pgvector text
// rendering produced by formatVector.
type EmbeddingRow struct {
	ID         uint64 `gorm:"primaryKey"`
	EntityType string `gorm:"index:idx_embeddings_entity"`
	EntityID   string `gorm:"index:idx_embeddings_entity"`
	Embedding  string `gorm:"type:vector"`
	Metadata   datatypes.JSON
	CreatedAt  time.Time
}

func (EmbeddingRow) TableName() string { return "embeddings" }
