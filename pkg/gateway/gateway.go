// Package gateway is the resilient authenticated-request pipeline.
//
// Every backend call the client makes goes through the Gateway: it attaches
// the bearer token, detects 401 responses, performs a single-flighted token
// refresh, retries the original request exactly once, and normalizes all
// failures into the package's error taxonomy. On an irrecoverable auth
// failure it clears the session and fires the registered sign-out hook.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/verdantlabs/canopy/pkg/logging"
	"github.com/verdantlabs/canopy/pkg/protocol"
	"github.com/verdantlabs/canopy/pkg/session"
)

// Timeouts holds the explicit per-call deadlines.
type Timeouts struct {
	Request time.Duration // default for most calls
	Health  time.Duration // readiness probe attempts
	Batch   time.Duration // batched children fetch
	Switch  time.Duration // collection switch
}

// DefaultTimeouts returns the standard per-call deadlines.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Request: 30 * time.Second,
		Health:  15 * time.Second,
		Batch:   20 * time.Second,
		Switch:  30 * time.Second,
	}
}

// Config holds gateway configuration.
type Config struct {
	BaseURL    string
	HealthPath string
	Sessions   *session.Store
	Timeouts   Timeouts
}

// Gateway wraps all outbound backend calls.
type Gateway struct {
	baseURL    string
	healthPath string
	httpClient *http.Client
	sessions   *session.Store
	timeouts   Timeouts

	refreshGroup singleflight.Group

	onSignOut func()
}

// New creates a gateway.
func New(cfg Config) *Gateway {
	if cfg.HealthPath == "" {
		cfg.HealthPath = "/api/health"
	}
	if cfg.Timeouts == (Timeouts{}) {
		cfg.Timeouts = DefaultTimeouts()
	}

	return &Gateway{
		baseURL:    cfg.BaseURL,
		healthPath: cfg.HealthPath,
		httpClient: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		sessions: cfg.Sessions,
		timeouts: cfg.Timeouts,
	}
}

// OnSignOut registers the hook fired after a hard sign-out. The surrounding
// shell uses it to discard tree and chat state and return to the login view.
func (g *Gateway) OnSignOut(fn func()) {
	g.onSignOut = fn
}

// do issues one authenticated request and decodes the JSON response into
// out. The request is retried at most once, and only after a successful
// token refresh triggered by a 401.
func (g *Gateway) do(ctx context.Context, method, path string, body, out any, timeout time.Duration) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	start := time.Now()
	tokenUsed := g.sessions.AccessToken()
	resp, err := g.send(ctx, method, path, payload, tokenUsed, timeout)
	if err != nil {
		recordRequest(path, "offline")
		return fmt.Errorf("%w: %v", ErrOffline, err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()

		// A concurrent caller may have rotated the token between our send
		// and this 401; in that case retry with the fresh token instead of
		// refreshing again.
		token := g.sessions.AccessToken()
		if token == "" || token == tokenUsed {
			var rerr error
			token, rerr = g.refreshAccessToken(ctx)
			if rerr != nil {
				g.hardSignOut()
				recordRequest(path, "auth_expired")
				return ErrAuthExpired
			}
		}

		authRetriesTotal.Inc()
		resp, err = g.send(ctx, method, path, payload, token, timeout)
		if err != nil {
			recordRequest(path, "offline")
			return fmt.Errorf("%w: %v", ErrOffline, err)
		}
		if resp.StatusCode == http.StatusUnauthorized {
			// The refreshed token was rejected too; nothing left to try.
			resp.Body.Close()
			g.hardSignOut()
			recordRequest(path, "auth_expired")
			return ErrAuthExpired
		}
	}
	defer resp.Body.Close()
	requestDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())

	if resp.StatusCode == http.StatusServiceUnavailable {
		recordRequest(path, "not_ready")
		return ErrNotReady
	}
	if resp.StatusCode >= 400 {
		var errResp protocol.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		recordRequest(path, "error")
		if errResp.Code == "initializing" {
			return ErrNotReady
		}
		if errResp.Error == "" {
			errResp.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Code: errResp.Code, Message: errResp.Error}
	}

	recordRequest(path, "ok")
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// send builds and issues a single HTTP request with the given token.
// The payload is re-wrapped per attempt so a retried request replays the
// full body.
func (g *Gateway) send(ctx context.Context, method, path string, payload []byte, token string, timeout time.Duration) (*http.Response, error) {
	if timeout <= 0 {
		timeout = g.timeouts.Request
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader *bytes.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return g.httpClient.Do(req)
}

// refreshAccessToken exchanges the refresh token for a new access token.
// Concurrent callers converge on a single in-flight refresh and all receive
// the same new token, so a burst of 401s never replays the refresh token.
func (g *Gateway) refreshAccessToken(ctx context.Context) (string, error) {
	refreshToken := g.sessions.RefreshToken()
	if refreshToken == "" {
		return "", fmt.Errorf("no refresh token")
	}

	result, err, _ := g.refreshGroup.Do("refresh", func() (any, error) {
		payload, _ := json.Marshal(protocol.RefreshRequest{RefreshToken: refreshToken})

		resp, err := g.send(ctx, http.MethodPost, "/auth/refresh", payload, "", g.timeouts.Request)
		if err != nil {
			recordRefresh(false)
			return nil, fmt.Errorf("refresh request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			recordRefresh(false)
			return nil, fmt.Errorf("refresh rejected: %d", resp.StatusCode)
		}

		var rr protocol.RefreshResponse
		if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
			recordRefresh(false)
			return nil, fmt.Errorf("parse refresh response: %w", err)
		}

		g.sessions.SetAccessToken(rr.AccessToken)
		recordRefresh(true)
		logging.Debug("access token refreshed")
		return rr.AccessToken, nil
	})
	if err != nil {
		logging.Error("token refresh failed", zap.Error(err))
		return "", err
	}
	return result.(string), nil
}

// hardSignOut discards the session and notifies the shell.
func (g *Gateway) hardSignOut() {
	logging.Warn("session irrecoverable, signing out")
	g.sessions.Clear()
	if g.onSignOut != nil {
		g.onSignOut()
	}
}

// BaseURL returns the backend base URL the gateway talks to.
func (g *Gateway) BaseURL() string {
	return g.baseURL
}
