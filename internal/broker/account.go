package broker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
)

// AccountSink is the slice of the store gateway the private streams
// write to.
type AccountSink interface {
	InsertHoldingsSnapshot(ctx context.Context, frame []byte) error
	UpsertHoldingsCurrent(ctx context.Context, frame []byte) error
	InsertOrderEvent(ctx context.Context, frame []byte) error
	InsertLimitsSnapshot(ctx context.Context, frame []byte) error
	InsertMarginalSnapshot(ctx context.Context, frame []byte) error
}

// PortfolioStream persists holdings frames twice: append-only history
// and an upserted current-state table.
type PortfolioStream struct {
	url    string
	auth   *AuthClient
	sink   AccountSink
	logger *slog.Logger

	OnReconnect func()
	OnStored    func(frameType string)
	OnDropped   func()
}

func NewPortfolioStream(url string, auth *AuthClient, sink AccountSink, logger *slog.Logger) *PortfolioStream {
	return &PortfolioStream{
		url:    url,
		auth:   auth,
		sink:   sink,
		logger: logger.With("stream", "portfolio"),
	}
}

func (s *PortfolioStream) Run(ctx context.Context) error {
	return runStream(ctx, streamConn{
		name:        "portfolio",
		url:         s.url,
		auth:        s.auth,
		handle:      s.handleFrame,
		logger:      s.logger,
		onReconnect: s.OnReconnect,
	})
}

// handleFrame accepts JSON array frames only; the portfolio endpoint
// pushes holdings as a bare list of positions.
func (s *PortfolioStream) handleFrame(ctx context.Context, frame []byte) error {
	var items []json.RawMessage
	if err := json.Unmarshal(frame, &items); err != nil {
		if s.OnDropped != nil {
			s.OnDropped()
		}
		return nil
	}
	if err := s.sink.InsertHoldingsSnapshot(ctx, frame); err != nil {
		return err
	}
	if err := s.sink.UpsertHoldingsCurrent(ctx, frame); err != nil {
		return err
	}
	if s.OnStored != nil {
		s.OnStored("Holdings")
	}
	return nil
}

// OrdersStream consumes both order endpoints: execution reports and
// transaction updates land in the same table, tagged by source.
type OrdersStream struct {
	executionURL   string
	transactionURL string
	auth           *AuthClient
	sink           AccountSink
	logger         *slog.Logger

	OnReconnect func()
	OnStored    func(frameType string)
	OnDropped   func()
}

func NewOrdersStream(executionURL, transactionURL string, auth *AuthClient, sink AccountSink, logger *slog.Logger) *OrdersStream {
	return &OrdersStream{
		executionURL:   executionURL,
		transactionURL: transactionURL,
		auth:           auth,
		sink:           sink,
		logger:         logger.With("stream", "orders"),
	}
}

// Run drives the two endpoints as independent reconnect loops and
// returns after both have observed cancellation.
func (s *OrdersStream) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, sub := range []struct {
		name string
		url  string
	}{
		{"orders-execution", s.executionURL},
		{"orders-transaction", s.transactionURL},
	} {
		wg.Add(1)
		go func(name, url string) {
			defer wg.Done()
			runStream(ctx, streamConn{
				name:        name,
				url:         url,
				auth:        s.auth,
				handle:      s.handleFrame,
				logger:      s.logger,
				onReconnect: s.OnReconnect,
			})
		}(sub.name, sub.url)
	}
	wg.Wait()
	return ctx.Err()
}

// handleFrame accepts JSON object frames only.
func (s *OrdersStream) handleFrame(ctx context.Context, frame []byte) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(frame, &obj); err != nil {
		if s.OnDropped != nil {
			s.OnDropped()
		}
		return nil
	}
	if err := s.sink.InsertOrderEvent(ctx, frame); err != nil {
		return err
	}
	if s.OnStored != nil {
		s.OnStored("OrderEvent")
	}
	return nil
}

// SnapshotStream is the shared shape of the limits and marginal
// indicator streams: every JSON object frame becomes one snapshot row.
type SnapshotStream struct {
	name   string
	url    string
	auth   *AuthClient
	insert func(ctx context.Context, frame []byte) error
	logger *slog.Logger

	OnReconnect func()
	OnStored    func(frameType string)
	OnDropped   func()
}

func NewLimitsStream(url string, auth *AuthClient, sink AccountSink, logger *slog.Logger) *SnapshotStream {
	return &SnapshotStream{
		name:   "limits",
		url:    url,
		auth:   auth,
		insert: sink.InsertLimitsSnapshot,
		logger: logger.With("stream", "limits"),
	}
}

func NewMarginalStream(url string, auth *AuthClient, sink AccountSink, logger *slog.Logger) *SnapshotStream {
	return &SnapshotStream{
		name:   "marginal",
		url:    url,
		auth:   auth,
		insert: sink.InsertMarginalSnapshot,
		logger: logger.With("stream", "marginal"),
	}
}

func (s *SnapshotStream) Run(ctx context.Context) error {
	return runStream(ctx, streamConn{
		name:        s.name,
		url:         s.url,
		auth:        s.auth,
		handle:      s.handleFrame,
		logger:      s.logger,
		onReconnect: s.OnReconnect,
	})
}

func (s *SnapshotStream) handleFrame(ctx context.Context, frame []byte) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(frame, &obj); err != nil {
		if s.OnDropped != nil {
			s.OnDropped()
		}
		return nil
	}
	if err := s.insert(ctx, frame); err != nil {
		return err
	}
	if s.OnStored != nil {
		s.OnStored(s.name)
	}
	return nil
}
