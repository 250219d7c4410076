// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the worker: instruments,
// WebSocket subscription frames, market data envelopes, portfolio and
// order payloads, and embedding queue jobs. It has no dependencies on
// internal packages, so it can be imported by any layer.
package types

import "encoding/json"

// ————————————————————————————————————————————————————————————————————————
// Instruments
// ————————————————————————————————————————————————————————————————————————

// Instrument identifies a tradeable security on the exchange.
// ClassCode is the exchange board (e.g. "TQBR" for MOEX equities,
// "SPBFUT" for FORTS futures); Ticker is the symbol within that board.
type Instrument struct {
	Ticker    string `json:"ticker"`
	ClassCode string `json:"classCode"`
}

// ————————————————————————————————————————————————————————————————————————
// Market data subscription
// ————————————————————————————————————————————————————————————————————————

// DataType selects a market data category in a subscription frame.
type DataType int

const (
	DataOrderBook  DataType = 0
	DataCandles    DataType = 1
	DataLastTrades DataType = 2
	DataQuotes     DataType = 3
)

// SubscribeRequest is the frame sent after connecting to the market data
// WebSocket, one per data category. Depth applies to order book
// subscriptions only; TimeFrame applies to candle subscriptions only.
type SubscribeRequest struct {
	SubscribeType int          `json:"subscribeType"` // 0 = subscribe
	DataType      DataType     `json:"dataType"`
	Depth         int          `json:"depth,omitempty"`
	TimeFrame     string       `json:"timeFrame,omitempty"`
	Instruments   []Instrument `json:"instruments"`
}

// Market data frame responseType values. Frames carrying any other value
// (subscription acks, errors) are ignored.
const (
	RespOrderBook   = "OrderBook"
	RespQuotes      = "Quotes"
	RespLastTrades  = "LastTrades"
	RespCandleStick = "CandleStick"
)

// ————————————————————————————————————————————————————————————————————————
// Market data payloads
// ————————————————————————————————————————————————————————————————————————
// These structs extract the indexed columns from incoming frames. The full
// frame is always persisted verbatim alongside them, so absent fields
// simply become NULL columns. Numeric fields are pointers to distinguish
// "absent" from zero.

// OrderBookEvent is an L2 order book snapshot frame.
type OrderBookEvent struct {
	Ticker    string          `json:"ticker"`
	ClassCode string          `json:"classCode"`
	DateTime  string          `json:"dateTime"`
	Depth     *int            `json:"depth"`
	BidVolume *float64        `json:"bidVolume"`
	AskVolume *float64        `json:"askVolume"`
	Bids      json.RawMessage `json:"bids"`
	Asks      json.RawMessage `json:"asks"`
}

// QuotesEvent is a consolidated quote frame (top of book plus session stats).
type QuotesEvent struct {
	Ticker                string   `json:"ticker"`
	ClassCode             string   `json:"classCode"`
	DateTime              string   `json:"dateTime"`
	Bid                   *float64 `json:"bid"`
	Offer                 *float64 `json:"offer"`
	Last                  *float64 `json:"last"`
	Open                  *float64 `json:"open"`
	Close                 *float64 `json:"close"`
	High                  *float64 `json:"high"`
	Low                   *float64 `json:"low"`
	Change                *float64 `json:"change"`
	ChangeRate            *float64 `json:"changeRate"`
	Currency              string   `json:"currency"`
	SecurityTradingStatus string   `json:"securityTradingStatus"`
}

// LastTradeEvent is a public trade print frame.
type LastTradeEvent struct {
	Ticker    string   `json:"ticker"`
	ClassCode string   `json:"classCode"`
	DateTime  string   `json:"dateTime"`
	Side      string   `json:"side"`
	Price     *float64 `json:"price"`
	Quantity  *float64 `json:"quantity"`
	Volume    *float64 `json:"volume"`
}

// CandleEvent is an OHLCV bar frame. Bars for an open interval are
// re-sent as they build, so persistence upserts on
// (ticker, classCode, timeFrame, dateTime).
type CandleEvent struct {
	Ticker    string   `json:"ticker"`
	ClassCode string   `json:"classCode"`
	TimeFrame string   `json:"timeFrame"`
	DateTime  string   `json:"dateTime"`
	Open      *float64 `json:"open"`
	High      *float64 `json:"high"`
	Low       *float64 `json:"low"`
	Close     *float64 `json:"close"`
	Volume    *float64 `json:"volume"`
}

// ————————————————————————————————————————————————————————————————————————
// Account data payloads
// ————————————————————————————————————————————————————————————————————————

// HoldingsItem is one position within a portfolio snapshot frame.
// The upstream is inconsistent about field names across account types,
// hence the accessor methods below.
type HoldingsItem struct {
	Account        string   `json:"account"`
	Ticker         string   `json:"ticker"`
	Board          string   `json:"board"`
	ClassCode      string   `json:"classCode"`
	ClassCodeSnake string   `json:"class_code"`
	Quantity       *float64 `json:"quantity"`
	BalancePrice   *float64 `json:"balancePrice"`
	AveragePrice   *float64 `json:"averagePrice"`
	Currency       string   `json:"currency"`
}

// ClassCodeValue returns the board identifier, trying the three field
// spellings the upstream uses: board, classCode, class_code.
func (h HoldingsItem) ClassCodeValue() string {
	if h.Board != "" {
		return h.Board
	}
	if h.ClassCode != "" {
		return h.ClassCode
	}
	return h.ClassCodeSnake
}

// AvgPrice returns the position's average price, preferring balancePrice
// over averagePrice.
func (h HoldingsItem) AvgPrice() *float64 {
	if h.BalancePrice != nil {
		return h.BalancePrice
	}
	return h.AveragePrice
}

// OrderEvent is an order lifecycle frame from the execution or
// transaction stream. The interesting fields live in a nested data block.
type OrderEvent struct {
	OriginalClientOrderID string         `json:"originalClientOrderId"`
	ClientOrderID         string         `json:"clientOrderId"`
	Data                  OrderEventData `json:"data"`
}

// OrderEventData is the nested payload of an OrderEvent.
type OrderEventData struct {
	TransactionTime string `json:"transactionTime"`
	DateTime        string `json:"dateTime"`
	OrderStatus     string `json:"orderStatus"`
	ExecutionType   string `json:"executionType"`
	Ticker          string `json:"ticker"`
	ClassCode       string `json:"classCode"`
}

// Timestamp returns the event time string, preferring transactionTime.
// Empty means the receive time should be used.
func (d OrderEventData) Timestamp() string {
	if d.TransactionTime != "" {
		return d.TransactionTime
	}
	return d.DateTime
}

// ————————————————————————————————————————————————————————————————————————
// Embedding queue
// ————————————————————————————————————————————————————————————————————————

// EmbeddingJob is a leased row from the embedding queue. ID is the queue
// row key used to report the outcome (done or error) back to the queue.
type EmbeddingJob struct {
	ID         string
	EntityType string
	EntityID   string
	Text       string
	Metadata   json.RawMessage
}
