package broker

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/gorilla/websocket"

	"bcs-ingest/internal/config"
	"bcs-ingest/pkg/types"
)

const orderBookDepth = 20

// MarketSink is the slice of the store gateway the market stream writes
// to. Every method receives the raw frame and owns its decoding.
type MarketSink interface {
	InsertOrderBook(ctx context.Context, frame []byte) error
	InsertQuotes(ctx context.Context, frame []byte) error
	InsertLastTrade(ctx context.Context, frame []byte) error
	UpsertCandle(ctx context.Context, frame []byte) error
}

// MarketConfig carries the subscription set for the market stream.
type MarketConfig struct {
	URL         string
	Instruments []types.Instrument
	Flags       config.StoreFlags
	TimeFrame   string
}

// MarketStream subscribes to market data for the configured instruments
// and persists every recognized frame.
type MarketStream struct {
	cfg    MarketConfig
	auth   *AuthClient
	sink   MarketSink
	logger *slog.Logger

	// Optional hooks, wired by the engine.
	OnReconnect func()
	OnStored    func(frameType string)
	OnDropped   func()
	Publish     func(ctx context.Context, frame []byte)
}

// NewMarketStream builds the market worker. It does not dial until Run.
func NewMarketStream(cfg MarketConfig, auth *AuthClient, sink MarketSink, logger *slog.Logger) *MarketStream {
	return &MarketStream{
		cfg:    cfg,
		auth:   auth,
		sink:   sink,
		logger: logger.With("stream", "market"),
	}
}

// Run connects and re-connects forever, returning only on ctx
// cancellation. With no instruments to subscribe it logs and returns
// immediately; an empty subscription would just hold a silent socket.
func (s *MarketStream) Run(ctx context.Context) error {
	if len(s.cfg.Instruments) == 0 {
		s.logger.Warn("no instruments configured; market stream disabled")
		return nil
	}
	return runStream(ctx, streamConn{
		name:        "market",
		url:         s.cfg.URL,
		auth:        s.auth,
		subscribe:   s.sendSubscriptions,
		handle:      s.handleFrame,
		logger:      s.logger,
		onReconnect: s.OnReconnect,
	})
}

// sendSubscriptions emits one subscription frame per enabled category.
func (s *MarketStream) sendSubscriptions(conn *websocket.Conn) error {
	if s.cfg.Flags.OrderBook {
		err := writeJSON(conn, types.SubscribeRequest{
			DataType:    types.DataOrderBook,
			Depth:       orderBookDepth,
			Instruments: s.cfg.Instruments,
		})
		if err != nil {
			return err
		}
	}
	if s.cfg.Flags.Candles {
		err := writeJSON(conn, types.SubscribeRequest{
			DataType:    types.DataCandles,
			TimeFrame:   s.cfg.TimeFrame,
			Instruments: s.cfg.Instruments,
		})
		if err != nil {
			return err
		}
	}
	if s.cfg.Flags.LastTrades {
		err := writeJSON(conn, types.SubscribeRequest{
			DataType:    types.DataLastTrades,
			Instruments: s.cfg.Instruments,
		})
		if err != nil {
			return err
		}
	}
	if s.cfg.Flags.Quotes {
		err := writeJSON(conn, types.SubscribeRequest{
			DataType:    types.DataQuotes,
			Instruments: s.cfg.Instruments,
		})
		if err != nil {
			return err
		}
	}
	s.logger.Info("subscriptions sent", "instruments", len(s.cfg.Instruments))
	return nil
}

// handleFrame routes one inbound frame by responseType. Frames that are
// not JSON objects, carry an unknown type, or belong to a disabled
// category are dropped; a store failure tears the connection down.
func (s *MarketStream) handleFrame(ctx context.Context, frame []byte) error {
	var envelope struct {
		ResponseType string `json:"responseType"`
		Ticker       string `json:"ticker"`
	}
	if err := json.Unmarshal(frame, &envelope); err != nil {
		return s.drop()
	}

	if s.logger.Enabled(ctx, slog.LevelDebug) {
		s.logger.Debug("market frame", "type", envelope.ResponseType, "ticker", envelope.Ticker)
	}

	var err error
	switch envelope.ResponseType {
	case types.RespOrderBook:
		if !s.cfg.Flags.OrderBook {
			return s.drop()
		}
		err = s.sink.InsertOrderBook(ctx, frame)
	case types.RespQuotes:
		if !s.cfg.Flags.Quotes {
			return s.drop()
		}
		err = s.sink.InsertQuotes(ctx, frame)
	case types.RespLastTrades:
		if !s.cfg.Flags.LastTrades {
			return s.drop()
		}
		err = s.sink.InsertLastTrade(ctx, frame)
	case types.RespCandleStick:
		if !s.cfg.Flags.Candles {
			return s.drop()
		}
		err = s.sink.UpsertCandle(ctx, frame)
	default:
		// Subscription acks and error notices.
		return s.drop()
	}
	if err != nil {
		return err
	}

	if s.OnStored != nil {
		s.OnStored(envelope.ResponseType)
	}
	if s.Publish != nil {
		s.Publish(ctx, frame)
	}
	return nil
}

func (s *MarketStream) drop() error {
	if s.OnDropped != nil {
		s.OnDropped()
	}
	return nil
}
