package store

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm/clause"

	"bcs-ingest/pkg/types"
)

// InsertOrderBook persists an L2 snapshot frame.
func (g *Gateway) InsertOrderBook(ctx context.Context, frame []byte) error {
	var evt types.OrderBookEvent
	if err := json.Unmarshal(frame, &evt); err != nil {
		return fmt.Errorf("decode orderbook frame: %w", err)
	}

	row := OrderBookRow{
		Ticker:    evt.Ticker,
		ClassCode: evt.ClassCode,
		TS:        parseTimestamp(evt.DateTime),
		Depth:     evt.Depth,
		BidVolume: evt.BidVolume,
		AskVolume: evt.AskVolume,
		Bids:      datatypes.JSON(evt.Bids),
		Asks:      datatypes.JSON(evt.Asks),
		Data:      datatypes.JSON(frame),
	}
	if err := g.market.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert orderbook: %w", err)
	}
	return nil
}

// InsertQuotes persists a consolidated quote frame.
func (g *Gateway) InsertQuotes(ctx context.Context, frame []byte) error {
	var evt types.QuotesEvent
	if err := json.Unmarshal(frame, &evt); err != nil {
		return fmt.Errorf("decode quotes frame: %w", err)
	}

	row := QuoteRow{
		Ticker:                evt.Ticker,
		ClassCode:             evt.ClassCode,
		TS:                    parseTimestamp(evt.DateTime),
		Bid:                   evt.Bid,
		Offer:                 evt.Offer,
		Last:                  evt.Last,
		Open:                  evt.Open,
		Close:                 evt.Close,
		High:                  evt.High,
		Low:                   evt.Low,
		Change:                evt.Change,
		ChangeRate:            evt.ChangeRate,
		Currency:              evt.Currency,
		SecurityTradingStatus: evt.SecurityTradingStatus,
		Data:                  datatypes.JSON(frame),
	}
	if err := g.market.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert quotes: %w", err)
	}
	return nil
}

// InsertLastTrade persists a trade print frame.
func (g *Gateway) InsertLastTrade(ctx context.Context, frame []byte) error {
	var evt types.LastTradeEvent
	if err := json.Unmarshal(frame, &evt); err != nil {
		return fmt.Errorf("decode last trade frame: %w", err)
	}

	row := LastTradeRow{
		Ticker:    evt.Ticker,
		ClassCode: evt.ClassCode,
		TS:        parseTimestamp(evt.DateTime),
		Side:      evt.Side,
		Price:     evt.Price,
		Quantity:  evt.Quantity,
		Volume:    evt.Volume,
		Data:      datatypes.JSON(frame),
	}
	if err := g.market.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert last trade: %w", err)
	}
	return nil
}

// UpsertCandle persists an OHLCV bar, replacing any prior version of the
// same (ticker, class_code, time_frame, ts) bar.
func (g *Gateway) UpsertCandle(ctx context.Context, frame []byte) error {
	var evt types.CandleEvent
	if err := json.Unmarshal(frame, &evt); err != nil {
		return fmt.Errorf("decode candle frame: %w", err)
	}

	row := CandleRow{
		Ticker:    evt.Ticker,
		ClassCode: evt.ClassCode,
		TimeFrame: evt.TimeFrame,
		TS:        parseTimestamp(evt.DateTime),
		Open:      evt.Open,
		High:      evt.High,
		Low:       evt.Low,
		Close:     evt.Close,
		Volume:    evt.Volume,
		Data:      datatypes.JSON(frame),
	}
	err := g.market.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "ticker"}, {Name: "class_code"}, {Name: "time_frame"}, {Name: "ts"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"open", "high", "low", "close", "volume", "data"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert candle: %w", err)
	}
	return nil
}
