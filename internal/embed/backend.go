// Package embed turns queued text rows into stored vectors: a backend
// adapter for the embedding services and the pump that drains the queue.
package embed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"bcs-ingest/internal/config"
)

const (
	backendMCP    = "llm_mcp"
	backendOllama = "ollama"

	defaultPollInterval = 500 * time.Millisecond
	minJobTimeout       = 3 * time.Second
)

// ErrJobTimeout marks an embedding job that never reached a terminal
// status within the configured window.
var ErrJobTimeout = errors.New("embedding job timed out")

// BackendError wraps a failure from a specific embedding backend.
type BackendError struct {
	Backend string
	Err     error
}

func (e *BackendError) Error() string { return fmt.Sprintf("%s: %v", e.Backend, e.Err) }
func (e *BackendError) Unwrap() error { return e.Err }

// Backend computes embeddings. The primary path enqueues a job on the
// shared llm_mcp service and polls it to completion; the direct path
// calls an ollama instance. When the primary fails and the fallback is
// enabled, the direct path is tried before giving up.
type Backend struct {
	cfg    config.EmbedConfig
	http   *resty.Client
	logger *slog.Logger

	// pollInterval is shortened by tests; zero means the default.
	pollInterval time.Duration
}

// NewBackend builds the adapter from the embedding configuration.
func NewBackend(cfg config.EmbedConfig, logger *slog.Logger) *Backend {
	if cfg.Backend != backendOllama {
		cfg.Backend = backendMCP
	}
	if cfg.Provider == "" {
		cfg.Provider = "auto"
	}
	return &Backend{
		cfg:    cfg,
		http:   resty.New().SetTimeout(30 * time.Second),
		logger: logger.With("component", "embed"),
	}
}

// Embed returns the vector for text, or an error after every configured
// path has failed.
func (b *Backend) Embed(ctx context.Context, text string) ([]float64, error) {
	if b.cfg.Backend == backendOllama {
		return b.embedOllama(ctx, text)
	}

	vector, err := b.embedMCP(ctx, text)
	if err != nil {
		if !b.cfg.FallbackOllama {
			return nil, err
		}
		b.logger.Warn("llm_mcp embedding failed; falling back to ollama", "error", err)
		return b.embedOllama(ctx, text)
	}
	return vector, nil
}

// embedMCP runs the enqueue-then-poll protocol of the job service.
func (b *Backend) embedMCP(ctx context.Context, text string) ([]float64, error) {
	jobID, err := b.enqueueJob(ctx, text)
	if err != nil {
		return nil, &BackendError{Backend: backendMCP, Err: err}
	}
	result, err := b.awaitJob(ctx, jobID)
	if err != nil {
		return nil, &BackendError{Backend: backendMCP, Err: err}
	}
	vector, err := decodeEmbedding(result)
	if err != nil {
		return nil, &BackendError{Backend: backendMCP, Err: fmt.Errorf("job %s: %w", jobID, err)}
	}
	return vector, nil
}

func (b *Backend) enqueueJob(ctx context.Context, text string) (string, error) {
	payload := map[string]any{
		"task":         "embed",
		"provider":     b.cfg.Provider,
		"prompt":       text,
		"source":       "bcs-mcp",
		"priority":     2,
		"max_attempts": 2,
	}
	if b.cfg.OllamaModel != "" {
		payload["model"] = b.cfg.OllamaModel
	}

	resp, err := b.http.R().
		SetContext(ctx).
		SetBody(payload).
		Post(b.mcpURL("/v1/llm/request"))
	if err != nil {
		return "", fmt.Errorf("enqueue: %w", err)
	}
	if code := resp.StatusCode(); code != 200 && code != 202 {
		return "", fmt.Errorf("enqueue: status %d: %s", code, truncate(resp.String(), 280))
	}

	var out struct {
		JobID string `json:"job_id"`
	}
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", fmt.Errorf("enqueue: decode response: %w", err)
	}
	if out.JobID == "" {
		return "", errors.New("enqueue: response has no job_id")
	}
	return out.JobID, nil
}

// awaitJob polls the job until done, failed, or the deadline passes.
func (b *Backend) awaitJob(ctx context.Context, jobID string) (json.RawMessage, error) {
	interval := b.pollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	timeout := b.jobTimeout()
	deadline := time.Now().Add(timeout)
	url := b.mcpURL("/v1/jobs/" + jobID)

	for {
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: job %s after %s", ErrJobTimeout, jobID, timeout)
		}

		resp, err := b.http.R().SetContext(ctx).Get(url)
		if err != nil {
			return nil, fmt.Errorf("poll job %s: %w", jobID, err)
		}
		if resp.StatusCode() != 200 {
			return nil, fmt.Errorf("poll job %s: status %d: %s", jobID, resp.StatusCode(), truncate(resp.String(), 280))
		}

		var job struct {
			Status string          `json:"status"`
			Error  string          `json:"error"`
			Result json.RawMessage `json:"result"`
		}
		if err := json.Unmarshal(resp.Body(), &job); err != nil {
			return nil, fmt.Errorf("poll job %s: decode response: %w", jobID, err)
		}

		switch strings.ToLower(job.Status) {
		case "done":
			if len(job.Result) == 0 {
				return nil, fmt.Errorf("job %s done without result", jobID)
			}
			return job.Result, nil
		case "failed", "error", "cancelled", "canceled":
			reason := job.Error
			if reason == "" {
				reason = job.Status
			}
			return nil, fmt.Errorf("job %s failed: %s", jobID, reason)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}

// decodeEmbedding digs result.data.embedding out of a finished job.
func decodeEmbedding(result json.RawMessage) ([]float64, error) {
	var body struct {
		Data struct {
			Embedding []any `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(result, &body); err != nil {
		return nil, fmt.Errorf("result is not structured: %w", err)
	}
	if body.Data.Embedding == nil {
		return nil, errors.New("result has no embedding")
	}
	vector := coerceFloats(body.Data.Embedding)
	if len(vector) == 0 {
		return nil, errors.New("embedding is empty")
	}
	return vector, nil
}

// embedOllama calls the ollama embeddings endpoint directly.
func (b *Backend) embedOllama(ctx context.Context, text string) ([]float64, error) {
	var out struct {
		Embedding []any `json:"embedding"`
	}
	resp, err := b.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"model": b.cfg.OllamaModel, "prompt": text}).
		SetResult(&out).
		Post(strings.TrimRight(b.cfg.OllamaBaseURL, "/") + "/api/embeddings")
	if err != nil {
		return nil, &BackendError{Backend: backendOllama, Err: err}
	}
	if code := resp.StatusCode(); code < 200 || code >= 300 {
		return nil, &BackendError{
			Backend: backendOllama,
			Err:     fmt.Errorf("status %d: %s", code, truncate(resp.String(), 280)),
		}
	}
	return coerceFloats(out.Embedding), nil
}

func (b *Backend) mcpURL(path string) string {
	return strings.TrimRight(b.cfg.MCPBaseURL, "/") + path
}

// jobTimeout floors the configured window at 3s so a zero or tiny value
// still allows one poll round trip.
func (b *Backend) jobTimeout() time.Duration {
	timeout := time.Duration(b.cfg.TimeoutSec) * time.Second
	if timeout < minJobTimeout {
		return minJobTimeout
	}
	return timeout
}

// coerceFloats converts a heterogeneous JSON array to floats, skipping
// elements that cannot be read as a number.
func coerceFloats(items []any) []float64 {
	out := make([]float64, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case float64:
			out = append(out, v)
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				out = append(out, f)
			}
		case bool:
			if v {
				out = append(out, 1)
			} else {
				out = append(out, 0)
			}
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
