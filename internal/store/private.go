package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm/clause"

	"bcs-ingest/pkg/types"
)

// SelectedAssets returns the enabled rows of the operator-curated
// instrument list. An empty result means the caller should fall back to
// its configured instruments.
func (g *Gateway) SelectedAssets(ctx context.Context) ([]types.Instrument, error) {
	var rows []SelectedAsset
	if err := g.private.WithContext(ctx).Where("enabled = ?", true).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("select assets: %w", err)
	}
	out := make([]types.Instrument, 0, len(rows))
	for _, r := range rows {
		out = append(out, types.Instrument{Ticker: r.Ticker, ClassCode: r.ClassCode})
	}
	return out, nil
}

// InsertHoldingsSnapshot appends the full portfolio frame as received.
func (g *Gateway) InsertHoldingsSnapshot(ctx context.Context, frame []byte) error {
	row := HoldingsSnapshotRow{
		TS:   time.Now().UTC(),
		Data: datatypes.JSON(frame),
	}
	if err := g.private.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert holdings snapshot: %w", err)
	}
	return nil
}

// UpsertHoldingsCurrent folds each position of a portfolio frame into
// the latest-state table, keyed by (account, ticker, class_code).
func (g *Gateway) UpsertHoldingsCurrent(ctx context.Context, frame []byte) error {
	var items []json.RawMessage
	if err := json.Unmarshal(frame, &items); err != nil {
		return fmt.Errorf("decode holdings frame: %w", err)
	}

	now := time.Now().UTC()
	for _, raw := range items {
		var item types.HoldingsItem
		if err := json.Unmarshal(raw, &item); err != nil {
			return fmt.Errorf("decode holdings item: %w", err)
		}
		row := HoldingsCurrentRow{
			Account:   item.Account,
			Ticker:    item.Ticker,
			ClassCode: item.ClassCodeValue(),
			Quantity:  item.Quantity,
			AvgPrice:  item.AvgPrice(),
			Currency:  item.Currency,
			Data:      datatypes.JSON(raw),
			UpdatedAt: now,
		}
		err := g.private.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "account"}, {Name: "ticker"}, {Name: "class_code"},
			},
			DoUpdates: clause.AssignmentColumns([]string{"quantity", "avg_price", "currency", "data", "updated_at"}),
		}).Create(&row).Error
		if err != nil {
			return fmt.Errorf("upsert holdings current: %w", err)
		}
	}
	return nil
}

// InsertOrderEvent appends one order lifecycle event.
func (g *Gateway) InsertOrderEvent(ctx context.Context, frame []byte) error {
	var evt types.OrderEvent
	if err := json.Unmarshal(frame, &evt); err != nil {
		return fmt.Errorf("decode order event: %w", err)
	}

	row := OrderEventRow{
		TS:                    parseTimestamp(evt.Data.Timestamp()),
		OriginalClientOrderID: evt.OriginalClientOrderID,
		ClientOrderID:         evt.ClientOrderID,
		OrderStatus:           evt.Data.OrderStatus,
		ExecutionType:         evt.Data.ExecutionType,
		Ticker:                evt.Data.Ticker,
		ClassCode:             evt.Data.ClassCode,
		Data:                  datatypes.JSON(frame),
	}
	if err := g.private.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert order event: %w", err)
	}
	return nil
}

// InsertLimitsSnapshot appends one limits frame.
func (g *Gateway) InsertLimitsSnapshot(ctx context.Context, frame []byte) error {
	row := LimitsSnapshotRow{
		TS:   time.Now().UTC(),
		Data: datatypes.JSON(frame),
	}
	if err := g.private.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert limits snapshot: %w", err)
	}
	return nil
}

// InsertMarginalSnapshot appends one marginal indicators frame.
func (g *Gateway) InsertMarginalSnapshot(ctx context.Context, frame []byte) error {
	row := MarginalSnapshotRow{
		TS:   time.Now().UTC(),
		Data: datatypes.JSON(frame),
	}
	if err := g.private.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert marginal snapshot: %w", err)
	}
	return nil
}
