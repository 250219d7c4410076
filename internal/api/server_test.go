package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"bcs-ingest/internal/metrics"
)

type stubProvider struct {
	status Status
}

func (p *stubProvider) Snapshot() Status { return p.status }

func testServer(t *testing.T, metricsHandler http.Handler) (*Server, *stubProvider) {
	t.Helper()
	provider := &stubProvider{status: Status{
		StartedAt:   time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC),
		Uptime:      "1m30s",
		Workers:     []string{"market", "embedding-pump"},
		Instruments: 2,
	}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(":0", provider, metricsHandler, logger), provider
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	s, _ := testServer(t, nil)
	rec := get(t, s, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}

func TestStatusSnapshot(t *testing.T) {
	t.Parallel()
	s, provider := testServer(t, nil)
	rec := get(t, s, "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got Status
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if got.Instruments != provider.status.Instruments || got.Uptime != provider.status.Uptime {
		t.Fatalf("got = %+v, want %+v", got, provider.status)
	}
	if len(got.Workers) != 2 || got.Workers[0] != "market" {
		t.Fatalf("workers = %v", got.Workers)
	}
}

func TestMetricsExposition(t *testing.T) {
	t.Parallel()
	m := metrics.New()
	m.TokenRefreshes.Inc()
	s, _ := testServer(t, m.Handler())

	rec := get(t, s, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "bcs_token_refreshes_total 1") {
		t.Fatalf("exposition missing counter:\n%s", rec.Body.String())
	}
}

func TestMetricsRouteAbsentWithoutHandler(t *testing.T) {
	t.Parallel()
	s, _ := testServer(t, nil)
	if rec := get(t, s, "/metrics"); rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
