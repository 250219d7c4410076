// Package broker implements the authenticated streaming side of the BCS
// Trade API: the OAuth token source and the websocket workers that feed
// incoming frames into the store gateway.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pingInterval  = 20 * time.Second
	pongWait      = 20 * time.Second
	reconnectWait = 3 * time.Second
	writeWait     = 10 * time.Second
)

// streamConn describes one websocket session: where to dial, how to
// subscribe after the handshake, and what to do with each inbound frame.
// The handler returning an error tears the connection down.
type streamConn struct {
	name      string
	url       string
	auth      *AuthClient
	subscribe func(conn *websocket.Conn) error
	handle    func(ctx context.Context, frame []byte) error
	logger    *slog.Logger

	onReconnect func()
	// backoff overrides reconnectWait in tests; zero means the default.
	backoff time.Duration
}

// runStream is the eternal reconnect loop shared by every stream worker:
// fetch a bearer token, dial, subscribe, pump frames into the handler
// until something breaks, sleep, repeat. Only ctx cancellation ends it.
func runStream(ctx context.Context, sc streamConn) error {
	wait := sc.backoff
	if wait <= 0 {
		wait = reconnectWait
	}
	for {
		err := connectOnce(ctx, sc)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		sc.logger.Error("stream failed; reconnecting", "stream", sc.name, "error", err, "backoff", wait)
		if sc.onReconnect != nil {
			sc.onReconnect()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// connectOnce runs a single session from dial to first failure.
func connectOnce(ctx context.Context, sc streamConn) error {
	token, err := sc.auth.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("access token: %w", err)
	}

	header := http.Header{"Authorization": {"Bearer " + token}}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, sc.url, header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", sc.url, err)
	}
	defer conn.Close()

	sc.logger.Info("stream connected", "stream", sc.name, "url", sc.url)

	if sc.subscribe != nil {
		if err := sc.subscribe(conn); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}

	// A silent peer is declared dead after a ping goes unanswered for
	// pongWait on top of the ping interval.
	deadline := func() time.Time { return time.Now().Add(pingInterval + pongWait) }
	conn.SetReadDeadline(deadline())
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(deadline())
	})

	done := make(chan struct{})
	defer close(done)
	go keepalive(ctx, conn, done)

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}
		conn.SetReadDeadline(deadline())
		if err := sc.handle(ctx, frame); err != nil {
			return fmt.Errorf("handle frame: %w", err)
		}
	}
}

// keepalive pings the peer on a fixed cadence and closes the connection
// on cancellation so a blocked reader wakes up immediately.
func keepalive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			conn.Close()
			return
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// writeJSON sends one frame with a bounded write deadline.
func writeJSON(conn *websocket.Conn, v any) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}
