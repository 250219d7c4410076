// Package logging sets up the process logger and provides payload
// redaction for log output. Incoming frames and config dumps pass through
// Sanitize before logging so credentials never reach stdout and oversized
// payloads stay readable.
package logging

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Setup builds the process-wide logger. Format is "json" or "text";
// level is one of debug/info/warn/error (anything else means info).
func Setup(level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

const (
	maxStringLen  = 500
	maxListItems  = 20
	maxMapEntries = 50
	maxDepth      = 4
)

var sensitiveKeys = []string{
	"token", "authorization", "password", "secret", "refresh", "access", "clientsecret",
}

func isSensitive(key string) bool {
	key = strings.ToLower(key)
	for _, part := range sensitiveKeys {
		if strings.Contains(key, part) {
			return true
		}
	}
	return false
}

// Sanitize redacts and truncates a decoded JSON value for logging:
// values under sensitive keys become "***", long strings are cut to 500
// chars, lists to 20 items, maps to 50 entries, and nesting past depth 4
// collapses to "[max-depth]". The input is never modified.
func Sanitize(v any) any {
	return sanitize(v, 0)
}

// SanitizeJSON decodes a raw payload and sanitizes it. Undecodable input
// comes back as a truncated string so it can still be logged.
func SanitizeJSON(raw []byte) any {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return sanitize(string(raw), 0)
	}
	return sanitize(v, 0)
}

func sanitize(v any, depth int) any {
	if v == nil {
		return nil
	}
	if depth > maxDepth {
		return "[max-depth]"
	}

	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		idx := 0
		for k, val := range t {
			if idx >= maxMapEntries {
				out["_truncated"] = len(t) - maxMapEntries
				break
			}
			if isSensitive(k) {
				out[k] = "***"
			} else {
				out[k] = sanitize(val, depth+1)
			}
			idx++
		}
		return out

	case []any:
		n := len(t)
		limit := n
		if limit > maxListItems {
			limit = maxListItems
		}
		out := make([]any, 0, limit+1)
		for _, item := range t[:limit] {
			out = append(out, sanitize(item, depth+1))
		}
		if n > maxListItems {
			out = append(out, fmt.Sprintf("[+%d more]", n-maxListItems))
		}
		return out

	case string:
		if len(t) > maxStringLen {
			return t[:maxStringLen] + "..."
		}
		return t

	default:
		return v
	}
}
