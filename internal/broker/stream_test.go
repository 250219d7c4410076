package broker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"bcs-ingest/internal/config"
	"bcs-ingest/pkg/types"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// newWSServer upgrades every request and hands the connection to handler.
func newWSServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestAuth(t *testing.T) *AuthClient {
	t.Helper()
	srv, _ := newTokenServer(t, 3600, 0)
	return NewAuthClient(srv.URL, "broker-api", "refresh-secret", testLogger())
}

func TestRunStreamSendsBearerToken(t *testing.T) {
	t.Parallel()

	auth := newTestAuth(t)

	headers := make(chan string, 1)
	srv := newWSServer(t, func(conn *websocket.Conn, r *http.Request) {
		select {
		case headers <- r.Header.Get("Authorization"):
		default:
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{"hello":1}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	frames := make(chan []byte, 1)
	done := make(chan error, 1)
	go func() {
		done <- runStream(ctx, streamConn{
			name: "test",
			url:  wsURL(srv),
			auth: auth,
			handle: func(ctx context.Context, frame []byte) error {
				select {
				case frames <- frame:
				default:
				}
				return nil
			},
			logger:  testLogger(),
			backoff: 10 * time.Millisecond,
		})
	}()

	select {
	case got := <-headers:
		if got != "Bearer token-1" {
			t.Errorf("Authorization = %q, want %q", got, "Bearer token-1")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no connection within 2s")
	}
	select {
	case <-frames:
	case <-time.After(2 * time.Second):
		t.Fatal("no frame delivered within 2s")
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("runStream returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("runStream did not stop within 2s")
	}
}

func TestRunStreamReconnects(t *testing.T) {
	t.Parallel()

	auth := newTestAuth(t)

	var dials atomic.Int64
	srv := newWSServer(t, func(conn *websocket.Conn, r *http.Request) {
		dials.Add(1)
		// Drop the connection right away.
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var reconnects atomic.Int64
	done := make(chan error, 1)
	go func() {
		done <- runStream(ctx, streamConn{
			name:        "test",
			url:         wsURL(srv),
			auth:        auth,
			handle:      func(context.Context, []byte) error { return nil },
			logger:      testLogger(),
			onReconnect: func() { reconnects.Add(1) },
			backoff:     10 * time.Millisecond,
		})
	}()

	deadline := time.After(3 * time.Second)
	for dials.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("only %d dials within 3s, want >= 3", dials.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runStream did not stop within 2s")
	}
	if reconnects.Load() < 2 {
		t.Errorf("onReconnect calls = %d, want >= 2", reconnects.Load())
	}
}

func TestRunStreamHandlerErrorTriggersReconnect(t *testing.T) {
	t.Parallel()

	auth := newTestAuth(t)

	var dials atomic.Int64
	srv := newWSServer(t, func(conn *websocket.Conn, r *http.Request) {
		dials.Add(1)
		conn.WriteMessage(websocket.TextMessage, []byte(`{"n":1}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- runStream(ctx, streamConn{
			name: "test",
			url:  wsURL(srv),
			auth: auth,
			handle: func(context.Context, []byte) error {
				return errors.New("store unavailable")
			},
			logger:  testLogger(),
			backoff: 10 * time.Millisecond,
		})
	}()

	deadline := time.After(3 * time.Second)
	for dials.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("only %d dials within 3s, want >= 2", dials.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runStream did not stop within 2s")
	}
}

func TestRunStreamAuthFailureRetries(t *testing.T) {
	t.Parallel()

	var refreshes atomic.Int64
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refreshes.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(tokenSrv.Close)
	auth := NewAuthClient(tokenSrv.URL, "broker-api", "refresh-secret", testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- runStream(ctx, streamConn{
			name:    "test",
			url:     "ws://127.0.0.1:1", // never reached
			auth:    auth,
			handle:  func(context.Context, []byte) error { return nil },
			logger:  testLogger(),
			backoff: 10 * time.Millisecond,
		})
	}()

	deadline := time.After(3 * time.Second)
	for refreshes.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("only %d refresh attempts within 3s, want >= 2", refreshes.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runStream did not stop within 2s")
	}
}

// readSubscriptions collects the frames a market stream sends right
// after the handshake, stopping at the first read timeout.
func readSubscriptions(conn *websocket.Conn, wait time.Duration) []map[string]any {
	var subs []map[string]any
	for {
		conn.SetReadDeadline(time.Now().Add(wait))
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return subs
		}
		var sub map[string]any
		if err := json.Unmarshal(frame, &sub); err == nil {
			subs = append(subs, sub)
		}
	}
}

func TestMarketStreamSubscriptionGating(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		flags     config.StoreFlags
		wantTypes []float64
	}{
		{
			name:      "all enabled",
			flags:     config.StoreFlags{OrderBook: true, Quotes: true, LastTrades: true, Candles: true},
			wantTypes: []float64{0, 1, 2, 3},
		},
		{
			name:      "orderbook and quotes",
			flags:     config.StoreFlags{OrderBook: true, Quotes: true},
			wantTypes: []float64{0, 3},
		},
		{
			name:      "none",
			flags:     config.StoreFlags{},
			wantTypes: nil,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			auth := newTestAuth(t)
			got := make(chan []map[string]any, 1)
			srv := newWSServer(t, func(conn *websocket.Conn, r *http.Request) {
				select {
				case got <- readSubscriptions(conn, 300*time.Millisecond):
				default:
				}
			})

			ms := NewMarketStream(MarketConfig{
				URL: wsURL(srv),
				Instruments: []types.Instrument{
					{Ticker: "SBER", ClassCode: "TQBR"},
					{Ticker: "GAZP", ClassCode: "TQBR"},
				},
				Flags:     tt.flags,
				TimeFrame: "M1",
			}, auth, &fakeMarketSink{}, testLogger())

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			done := make(chan error, 1)
			go func() { done <- ms.Run(ctx) }()

			var subs []map[string]any
			select {
			case subs = <-got:
			case <-time.After(3 * time.Second):
				t.Fatal("no subscription capture within 3s")
			}
			cancel()
			<-done

			if len(subs) != len(tt.wantTypes) {
				t.Fatalf("got %d subscription frames, want %d", len(subs), len(tt.wantTypes))
			}
			var gotTypes []float64
			for _, sub := range subs {
				dt, ok := sub["dataType"].(float64)
				if !ok {
					t.Fatalf("frame missing dataType: %v", sub)
				}
				gotTypes = append(gotTypes, dt)

				instruments, ok := sub["instruments"].([]any)
				if !ok || len(instruments) != 2 {
					t.Errorf("dataType %v: instruments = %v, want 2 entries", dt, sub["instruments"])
				}
				switch dt {
				case 0:
					if depth, ok := sub["depth"].(float64); !ok || depth != 20 {
						t.Errorf("orderbook depth = %v, want 20", sub["depth"])
					}
				case 1:
					if tf, ok := sub["timeFrame"].(string); !ok || tf != "M1" {
						t.Errorf("candle timeFrame = %v, want M1", sub["timeFrame"])
					}
				default:
					if _, present := sub["depth"]; present {
						t.Errorf("dataType %v carries depth, want omitted", dt)
					}
					if _, present := sub["timeFrame"]; present {
						t.Errorf("dataType %v carries timeFrame, want omitted", dt)
					}
				}
			}
			for i, want := range tt.wantTypes {
				if gotTypes[i] != want {
					t.Errorf("subscription order mismatch: got %v, want %v", gotTypes, tt.wantTypes)
					break
				}
			}
		})
	}
}

func TestMarketStreamNoInstruments(t *testing.T) {
	t.Parallel()

	ms := NewMarketStream(MarketConfig{
		URL:   "ws://127.0.0.1:1",
		Flags: config.StoreFlags{OrderBook: true},
	}, nil, &fakeMarketSink{}, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := ms.Run(ctx); err != nil {
		t.Errorf("Run = %v, want nil for empty instrument list", err)
	}
}
