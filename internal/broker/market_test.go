package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"bcs-ingest/internal/config"
	"bcs-ingest/pkg/types"
)

type fakeMarketSink struct {
	mu         sync.Mutex
	orderBooks [][]byte
	quotes     [][]byte
	trades     [][]byte
	candles    [][]byte
	err        error
}

func (f *fakeMarketSink) record(dst *[][]byte, frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	*dst = append(*dst, bytes.Clone(frame))
	return nil
}

func (f *fakeMarketSink) InsertOrderBook(_ context.Context, frame []byte) error {
	return f.record(&f.orderBooks, frame)
}
func (f *fakeMarketSink) InsertQuotes(_ context.Context, frame []byte) error {
	return f.record(&f.quotes, frame)
}
func (f *fakeMarketSink) InsertLastTrade(_ context.Context, frame []byte) error {
	return f.record(&f.trades, frame)
}
func (f *fakeMarketSink) UpsertCandle(_ context.Context, frame []byte) error {
	return f.record(&f.candles, frame)
}

func (f *fakeMarketSink) counts() (orderBooks, quotes, trades, candles int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.orderBooks), len(f.quotes), len(f.trades), len(f.candles)
}

func newDispatchStream(sink *fakeMarketSink, flags config.StoreFlags) *MarketStream {
	return NewMarketStream(MarketConfig{
		Instruments: []types.Instrument{{Ticker: "SBER", ClassCode: "TQBR"}},
		Flags:       flags,
		TimeFrame:   "M1",
	}, nil, sink, testLogger())
}

var allFlags = config.StoreFlags{OrderBook: true, Quotes: true, LastTrades: true, Candles: true}

func TestMarketDispatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		frame string
		want  func(orderBooks, quotes, trades, candles int) bool
	}{
		{
			name:  "order book",
			frame: `{"responseType":"OrderBook","ticker":"SBER","classCode":"TQBR"}`,
			want:  func(ob, q, tr, c int) bool { return ob == 1 && q+tr+c == 0 },
		},
		{
			name:  "quotes",
			frame: `{"responseType":"Quotes","ticker":"SBER","classCode":"TQBR"}`,
			want:  func(ob, q, tr, c int) bool { return q == 1 && ob+tr+c == 0 },
		},
		{
			name:  "last trades",
			frame: `{"responseType":"LastTrades","ticker":"SBER","classCode":"TQBR"}`,
			want:  func(ob, q, tr, c int) bool { return tr == 1 && ob+q+c == 0 },
		},
		{
			name:  "candle",
			frame: `{"responseType":"CandleStick","ticker":"SBER","classCode":"TQBR","timeFrame":"M1"}`,
			want:  func(ob, q, tr, c int) bool { return c == 1 && ob+q+tr == 0 },
		},
		{
			name:  "unknown type dropped",
			frame: `{"responseType":"SubscriptionAck"}`,
			want:  func(ob, q, tr, c int) bool { return ob+q+tr+c == 0 },
		},
		{
			name:  "non-json dropped",
			frame: `not json at all`,
			want:  func(ob, q, tr, c int) bool { return ob+q+tr+c == 0 },
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sink := &fakeMarketSink{}
			ms := newDispatchStream(sink, allFlags)
			if err := ms.handleFrame(context.Background(), []byte(tt.frame)); err != nil {
				t.Fatalf("handleFrame: %v", err)
			}
			if !tt.want(sink.counts()) {
				ob, q, tr, c := sink.counts()
				t.Errorf("sink counts = orderbook %d, quotes %d, trades %d, candles %d", ob, q, tr, c)
			}
		})
	}
}

func TestMarketDispatchDisabledCategory(t *testing.T) {
	t.Parallel()

	sink := &fakeMarketSink{}
	ms := newDispatchStream(sink, config.StoreFlags{OrderBook: true}) // candles disabled

	frame := []byte(`{"responseType":"CandleStick","ticker":"SBER"}`)
	if err := ms.handleFrame(context.Background(), frame); err != nil {
		t.Fatalf("handleFrame: %v", err)
	}
	if ob, q, tr, c := sink.counts(); ob+q+tr+c != 0 {
		t.Errorf("disabled category stored: orderbook %d, quotes %d, trades %d, candles %d", ob, q, tr, c)
	}
}

func TestMarketDispatchSinkErrorPropagates(t *testing.T) {
	t.Parallel()

	sink := &fakeMarketSink{err: errors.New("db down")}
	ms := newDispatchStream(sink, allFlags)

	frame := []byte(`{"responseType":"Quotes","ticker":"SBER"}`)
	if err := ms.handleFrame(context.Background(), frame); err == nil {
		t.Error("handleFrame = nil, want sink error to propagate")
	}
}

func TestMarketCandleFramePersistedVerbatim(t *testing.T) {
	t.Parallel()

	frame := []byte(`{"responseType":"CandleStick","ticker":"SBER","classCode":"TQBR","timeFrame":"M1",` +
		`"dateTime":"2024-05-01T10:00:00Z","open":100.5,"high":101.0,"low":100.1,"close":100.8,"volume":1234}`)

	sink := &fakeMarketSink{}
	ms := newDispatchStream(sink, allFlags)
	if err := ms.handleFrame(context.Background(), frame); err != nil {
		t.Fatalf("handleFrame: %v", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.candles) != 1 {
		t.Fatalf("candles stored = %d, want 1", len(sink.candles))
	}
	if !bytes.Equal(sink.candles[0], frame) {
		t.Errorf("stored frame = %s, want original bytes", sink.candles[0])
	}

	var event types.CandleEvent
	if err := json.Unmarshal(sink.candles[0], &event); err != nil {
		t.Fatalf("decode stored frame: %v", err)
	}
	if event.Ticker != "SBER" || event.TimeFrame != "M1" {
		t.Errorf("decoded event = %+v", event)
	}
	if event.Close == nil || *event.Close != 100.8 {
		t.Errorf("close = %v, want 100.8", event.Close)
	}
}

func TestMarketStoredHookAndPublish(t *testing.T) {
	t.Parallel()

	sink := &fakeMarketSink{}
	ms := newDispatchStream(sink, allFlags)

	var storedTypes []string
	var published [][]byte
	var dropped int
	ms.OnStored = func(frameType string) { storedTypes = append(storedTypes, frameType) }
	ms.Publish = func(_ context.Context, frame []byte) { published = append(published, bytes.Clone(frame)) }
	ms.OnDropped = func() { dropped++ }

	frames := []string{
		`{"responseType":"Quotes","ticker":"SBER"}`,
		`{"responseType":"SubscriptionAck"}`, // dropped: no hook, no publish
		`{"responseType":"OrderBook","ticker":"SBER"}`,
	}
	for _, frame := range frames {
		if err := ms.handleFrame(context.Background(), []byte(frame)); err != nil {
			t.Fatalf("handleFrame(%s): %v", frame, err)
		}
	}

	if len(storedTypes) != 2 || storedTypes[0] != types.RespQuotes || storedTypes[1] != types.RespOrderBook {
		t.Errorf("OnStored calls = %v, want [Quotes OrderBook]", storedTypes)
	}
	if len(published) != 2 {
		t.Errorf("published frames = %d, want 2", len(published))
	}
	if dropped != 1 {
		t.Errorf("OnDropped calls = %d, want 1", dropped)
	}
}

func TestMarketPublishNotCalledOnSinkError(t *testing.T) {
	t.Parallel()

	sink := &fakeMarketSink{err: errors.New("db down")}
	ms := newDispatchStream(sink, allFlags)

	var published int
	ms.Publish = func(context.Context, []byte) { published++ }

	ms.handleFrame(context.Background(), []byte(`{"responseType":"Quotes"}`))
	if published != 0 {
		t.Errorf("published = %d, want 0 after sink failure", published)
	}
}
