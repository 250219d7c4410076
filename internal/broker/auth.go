package broker

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// tokenMargin is how long before the recorded expiry a cached token is
// already treated as stale, so no stream ever dials with a token about
// to die mid-handshake.
const tokenMargin = 60 * time.Second

// AuthError is a token refresh rejected by the auth server. Stream
// workers treat it like any other connection failure and retry after
// the reconnect backoff.
type AuthError struct {
	Status int
	Body   string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("token refresh failed: status %d: %s", e.Status, e.Body)
}

// tokenResponse is the refresh grant response from Keycloak.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// AuthClient mints short-lived access tokens from the long-lived
// refresh token and caches them until shortly before expiry. A single
// instance is shared by every stream worker; the mutex serializes
// refreshes so concurrent callers ride one request.
type AuthClient struct {
	tokenURL     string
	clientID     string
	refreshToken string
	http         *resty.Client
	logger       *slog.Logger

	// OnRefresh is an optional hook invoked after each successful
	// refresh (wired to a metrics counter by the engine).
	OnRefresh func()

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
}

// NewAuthClient creates the shared token source.
func NewAuthClient(tokenURL, clientID, refreshToken string, logger *slog.Logger) *AuthClient {
	httpClient := resty.New().
		SetTimeout(10 * time.Second).
		SetHeader("Accept", "application/json")

	return &AuthClient{
		tokenURL:     tokenURL,
		clientID:     clientID,
		refreshToken: refreshToken,
		http:         httpClient,
		logger:       logger.With("component", "auth"),
	}
}

// AccessToken returns a token valid for at least another minute,
// refreshing first when needed. A failed refresh never evicts a
// previously cached token; the caller just gets the error.
func (a *AuthClient) AccessToken(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.accessToken != "" && time.Now().Before(a.expiresAt.Add(-tokenMargin)) {
		return a.accessToken, nil
	}
	if err := a.refresh(ctx); err != nil {
		return "", err
	}
	return a.accessToken, nil
}

// refresh performs the OAuth refresh-token grant. Caller holds the lock.
func (a *AuthClient) refresh(ctx context.Context) error {
	a.logger.Debug("token refresh start")

	var payload tokenResponse
	resp, err := a.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"client_id":     a.clientID,
			"refresh_token": a.refreshToken,
			"grant_type":    "refresh_token",
		}).
		SetResult(&payload).
		Post(a.tokenURL)
	if err != nil {
		return fmt.Errorf("token refresh: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		a.logger.Error("token refresh rejected", "status", resp.StatusCode())
		return &AuthError{Status: resp.StatusCode(), Body: truncate(resp.String(), 280)}
	}
	if payload.AccessToken == "" {
		return &AuthError{Status: resp.StatusCode(), Body: "response has no access_token"}
	}

	a.accessToken = payload.AccessToken
	a.expiresAt = time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	a.logger.Debug("token refresh ok", "expires_in", payload.ExpiresIn)

	if a.OnRefresh != nil {
		a.OnRefresh()
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
