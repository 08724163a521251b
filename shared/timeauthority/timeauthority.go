// Package timeauthority supplies best-effort cross-node-consistent Unix
// timestamps. The primary path asks an external time authority over HTTP;
// any failure falls back to the local wall clock so callers always get a
// value within the bounded timeout.
package timeauthority

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Source yields Unix timestamps in seconds.
type Source interface {
	Now(ctx context.Context) int64
}

// Config holds time authority client configuration
type Config struct {
	URL     string
	Timeout time.Duration
}

// Authority is an HTTP-backed Source with local-clock fallback.
type Authority struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// authorityResponse is the JSON body returned by the time endpoint
type authorityResponse struct {
	UnixTime int64 `json:"unixtime"`
}

// New creates an Authority. The request timeout is capped at two seconds so a
// slow authority can never stall job bookkeeping.
func New(config *Config, logger *slog.Logger) *Authority {
	timeout := config.Timeout
	if timeout <= 0 || timeout > 2*time.Second {
		timeout = 2 * time.Second
	}

	return &Authority{
		url:    config.URL,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Now returns the authority's current Unix time, or the local wall clock on
// any failure. It never returns an error.
func (a *Authority) Now(ctx context.Context) int64 {
	ts, err := a.fetch(ctx)
	if err != nil {
		a.logger.Warn("Time authority unavailable, using local clock",
			slog.String("source", "fallback"),
			slog.Any("error", err),
		)
		return time.Now().Unix()
	}

	a.logger.Debug("Timestamp fetched from time authority",
		slog.String("source", "authority"),
		slog.Int64("unixtime", ts),
	)
	return ts
}

func (a *Authority) fetch(ctx context.Context) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build time authority request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("time authority request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("time authority returned status %d", resp.StatusCode)
	}

	var body authorityResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("failed to decode time authority response: %w", err)
	}

	if body.UnixTime <= 0 {
		return 0, fmt.Errorf("time authority returned implausible unixtime %d", body.UnixTime)
	}

	return body.UnixTime, nil
}

// Local is a Source that only reads the local wall clock, for tests and for
// deployments without a time authority.
type Local struct{}

func (Local) Now(context.Context) int64 {
	return time.Now().Unix()
}
