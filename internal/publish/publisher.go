// Package publish fans persisted market frames out to a Redis channel so
// downstream consumers see the same stream the database does.
package publish

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Publisher pushes frames to one pub/sub channel. Publish failures are
// logged and swallowed: fanout must never disturb ingestion.
type Publisher struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

// New connects to Redis and verifies the connection with a ping.
func New(addr, channel string, logger *slog.Logger) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}

	logger.Info("redis fanout enabled", "addr", addr, "channel", channel)
	return &Publisher{
		client:  client,
		channel: channel,
		logger:  logger.With("component", "publish"),
	}, nil
}

// Publish sends one frame to the channel.
func (p *Publisher) Publish(ctx context.Context, frame []byte) {
	if err := p.client.Publish(ctx, p.channel, frame).Err(); err != nil {
		p.logger.Warn("redis publish failed", "channel", p.channel, "error", err)
	}
}

// Close releases the client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
