// Package config defines all configuration for the ingestion worker.
// Everything is environment-driven: each key is bound to one env var with
// a default, so the worker runs with an empty environment (streams
// disabled, pump idle) and gets progressively enabled by setting vars.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"bcs-ingest/pkg/types"
)

const defaultTokenURL = "https://be.broker.ru/trade-api-keycloak/realms/tradeapi/protocol/openid-connect/token"

// Config is the top-level configuration for the worker process.
type Config struct {
	// Auth. An empty RefreshToken disables every stream worker; the
	// embedding pump runs regardless.
	RefreshToken string
	ClientID     string
	TokenURL     string
	WSBaseURL    string

	DB      DBConfig
	Streams StreamFlags
	Store   StoreFlags

	// Instruments to subscribe on the market stream. Parsed from
	// BCS_SUBSCRIBE_INSTRUMENTS ("CLASS:TICKER,CLASS:TICKER,...") and
	// optionally replaced from the selected_assets table at startup.
	Instruments      []types.Instrument
	UseDBInstruments bool
	CandleTimeFrame  string

	Embed   EmbedConfig
	Redis   RedisConfig
	Ops     OpsConfig
	Queue   QueueConfig
	Logging LoggingConfig
}

// DBConfig holds connection settings shared by the market and private
// pools; only the database name differs between the two.
type DBConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	MarketDB    string
	PrivateDB   string
	AutoMigrate bool
}

// StreamFlags enables or disables individual stream workers.
type StreamFlags struct {
	Market    bool
	Portfolio bool
	Orders    bool
	Limits    bool
	Marginal  bool
}

// StoreFlags gates both the subscription frames sent on the market stream
// and the persistence of the corresponding incoming frames.
type StoreFlags struct {
	OrderBook  bool
	Quotes     bool
	LastTrades bool
	Candles    bool
}

// EmbedConfig selects and tunes the embedding backend.
type EmbedConfig struct {
	Backend        string // "llm_mcp" or "ollama"
	MCPBaseURL     string
	Provider       string // "auto" or "ollama"
	FallbackOllama bool
	TimeoutSec     int
	OllamaBaseURL  string
	OllamaModel    string
}

// RedisConfig enables the optional market event fanout when Addr is set.
type RedisConfig struct {
	Addr    string
	Channel string
}

// OpsConfig enables the optional ops HTTP server when Addr is set.
type OpsConfig struct {
	Addr string
}

// QueueConfig tunes the embedding queue janitor.
type QueueConfig struct {
	Janitor      bool
	RequeueAfter time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

// Load reads the whole configuration from the environment.
func Load() (*Config, error) {
	v := viper.New()

	bind := func(key, env string, def any) {
		v.SetDefault(key, def)
		v.BindEnv(key, env)
	}

	bind("auth.refresh_token", "BCS_REFRESH_TOKEN", "")
	bind("auth.client_id", "BCS_CLIENT_ID", "trade-api-read")
	bind("auth.token_url", "BCS_TOKEN_URL", defaultTokenURL)
	bind("ws.base_url", "BCS_WS_BASE_URL", "wss://ws.broker.ru")

	bind("db.host", "BCS_DB_HOST", "127.0.0.1")
	bind("db.port", "BCS_DB_PORT", 5433)
	bind("db.user", "BCS_DB_USER", "bcs")
	bind("db.password", "BCS_DB_PASSWORD", "bcs_secret")
	bind("db.market", "BCS_DB_MARKET", "bcs_market")
	bind("db.private", "BCS_DB_PRIVATE", "bcs_private")
	bind("db.automigrate", "BCS_DB_AUTOMIGRATE", false)

	bind("stream.market", "BCS_STREAM_MARKET", true)
	bind("stream.portfolio", "BCS_STREAM_PORTFOLIO", false)
	bind("stream.orders", "BCS_STREAM_ORDERS", false)
	bind("stream.limits", "BCS_STREAM_LIMITS", false)
	bind("stream.marginal", "BCS_STREAM_MARGINAL", false)

	bind("store.orderbook", "BCS_STORE_ORDERBOOK", true)
	bind("store.quotes", "BCS_STORE_QUOTES", true)
	bind("store.last_trades", "BCS_STORE_LAST_TRADES", true)
	bind("store.candles", "BCS_STORE_CANDLES", true)

	bind("instruments", "BCS_SUBSCRIBE_INSTRUMENTS", "")
	bind("use_db_instruments", "BCS_USE_DB_INSTRUMENTS", false)
	bind("candle_time_frame", "BCS_CANDLE_TIMEFRAME", "M1")

	bind("embed.backend", "LLM_BACKEND", "llm_mcp")
	bind("embed.mcp_base_url", "LLM_MCP_BASE_URL", "http://llmcore:8080")
	bind("embed.provider", "LLM_MCP_PROVIDER", "auto")
	bind("embed.fallback_ollama", "LLM_BACKEND_FALLBACK_OLLAMA", true)
	bind("embed.timeout_sec", "LLM_BACKEND_TIMEOUT_SEC", 30)
	bind("embed.ollama_base_url", "OLLAMA_BASE_URL", "http://127.0.0.1:11434")
	bind("embed.ollama_model", "OLLAMA_EMBED_MODEL", "nomic-embed-text")

	bind("redis.addr", "BCS_REDIS_ADDR", "")
	bind("redis.channel", "BCS_REDIS_CHANNEL", "CH:BCS:MARKET:DATA")

	bind("ops.addr", "BCS_OPS_ADDR", "")

	bind("queue.janitor", "BCS_QUEUE_JANITOR", true)
	bind("queue.requeue_after_min", "BCS_QUEUE_REQUEUE_AFTER_MIN", 15)

	bind("logging.level", "LOG_LEVEL", "info")
	bind("logging.format", "LOG_FORMAT", "text")

	cfg := &Config{
		RefreshToken: v.GetString("auth.refresh_token"),
		ClientID:     v.GetString("auth.client_id"),
		TokenURL:     v.GetString("auth.token_url"),
		WSBaseURL:    strings.TrimRight(v.GetString("ws.base_url"), "/"),
		DB: DBConfig{
			Host:        v.GetString("db.host"),
			Port:        parseInt(v.GetString("db.port"), 5433),
			User:        v.GetString("db.user"),
			Password:    v.GetString("db.password"),
			MarketDB:    v.GetString("db.market"),
			PrivateDB:   v.GetString("db.private"),
			AutoMigrate: parseBool(v.GetString("db.automigrate")),
		},
		Streams: StreamFlags{
			Market:    parseBool(v.GetString("stream.market")),
			Portfolio: parseBool(v.GetString("stream.portfolio")),
			Orders:    parseBool(v.GetString("stream.orders")),
			Limits:    parseBool(v.GetString("stream.limits")),
			Marginal:  parseBool(v.GetString("stream.marginal")),
		},
		Store: StoreFlags{
			OrderBook:  parseBool(v.GetString("store.orderbook")),
			Quotes:     parseBool(v.GetString("store.quotes")),
			LastTrades: parseBool(v.GetString("store.last_trades")),
			Candles:    parseBool(v.GetString("store.candles")),
		},
		Instruments:      ParseInstruments(v.GetString("instruments")),
		UseDBInstruments: parseBool(v.GetString("use_db_instruments")),
		CandleTimeFrame:  v.GetString("candle_time_frame"),
		Embed: EmbedConfig{
			Backend:        normalize(v.GetString("embed.backend"), "llm_mcp"),
			MCPBaseURL:     v.GetString("embed.mcp_base_url"),
			Provider:       normalize(v.GetString("embed.provider"), "auto"),
			FallbackOllama: parseBool(v.GetString("embed.fallback_ollama")),
			TimeoutSec:     parseInt(v.GetString("embed.timeout_sec"), 30),
			OllamaBaseURL:  v.GetString("embed.ollama_base_url"),
			OllamaModel:    v.GetString("embed.ollama_model"),
		},
		Redis: RedisConfig{
			Addr:    v.GetString("redis.addr"),
			Channel: v.GetString("redis.channel"),
		},
		Ops: OpsConfig{Addr: v.GetString("ops.addr")},
		Queue: QueueConfig{
			Janitor:      parseBool(v.GetString("queue.janitor")),
			RequeueAfter: time.Duration(parseInt(v.GetString("queue.requeue_after_min"), 15)) * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  v.GetString("logging.level"),
			Format: v.GetString("logging.format"),
		},
	}

	return cfg, nil
}

// ParseInstruments parses the "CLASS:TICKER,CLASS:TICKER" env list.
// Malformed items (no colon) and empty items are skipped.
func ParseInstruments(raw string) []types.Instrument {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	var out []types.Instrument
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		classCode, ticker, ok := strings.Cut(item, ":")
		if !ok {
			continue
		}
		out = append(out, types.Instrument{
			Ticker:    strings.TrimSpace(ticker),
			ClassCode: strings.TrimSpace(classCode),
		})
	}
	return out
}

// Stream endpoint paths on the WS gateway.
const (
	marketWSPath            = "/trade-api-market-data-connector/api/v1/market-data/ws"
	portfolioWSPath         = "/trade-api-bff-portfolio/api/v1/portfolio/ws"
	limitsWSPath            = "/trade-api-bff-limit/api/v1/limits/ws"
	ordersExecutionWSPath   = "/trade-api-bff-operations/api/v1/orders/execution/ws"
	ordersTransactionWSPath = "/trade-api-bff-operations/api/v1/orders/transaction/ws"
	marginalWSPath          = "/trade-api-bff-marginal-indicators/api/v1/marginal-indicators/ws"
)

func (c *Config) MarketWSURL() string            { return c.WSBaseURL + marketWSPath }
func (c *Config) PortfolioWSURL() string         { return c.WSBaseURL + portfolioWSPath }
func (c *Config) LimitsWSURL() string            { return c.WSBaseURL + limitsWSPath }
func (c *Config) OrdersExecutionWSURL() string   { return c.WSBaseURL + ordersExecutionWSPath }
func (c *Config) OrdersTransactionWSURL() string { return c.WSBaseURL + ordersTransactionWSPath }
func (c *Config) MarginalWSURL() string          { return c.WSBaseURL + marginalWSPath }

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.DB.Host == "" {
		return fmt.Errorf("db.host is required (set BCS_DB_HOST)")
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		return fmt.Errorf("db.port must be in 1..65535, got %d", c.DB.Port)
	}
	if c.DB.User == "" {
		return fmt.Errorf("db.user is required (set BCS_DB_USER)")
	}
	if c.DB.MarketDB == "" || c.DB.PrivateDB == "" {
		return fmt.Errorf("db.market and db.private are required (set BCS_DB_MARKET / BCS_DB_PRIVATE)")
	}
	if c.CandleTimeFrame == "" {
		return fmt.Errorf("candle_time_frame must not be empty (set BCS_CANDLE_TIMEFRAME)")
	}
	if c.Embed.TimeoutSec < 0 {
		return fmt.Errorf("embed.timeout_sec must be >= 0, got %d", c.Embed.TimeoutSec)
	}
	if c.Queue.RequeueAfter < 0 {
		return fmt.Errorf("queue.requeue_after_min must be >= 0")
	}
	return nil
}

// parseBool accepts 1/true/yes/y (any case) as true; anything else,
// including garbage, is false.
func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "y":
		return true
	}
	return false
}

// parseInt falls back to def when the value is unset or not an integer.
func parseInt(s string, def int) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// normalize lowercases and trims an enum-ish value, substituting def for
// the empty string.
func normalize(s, def string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return def
	}
	return s
}
