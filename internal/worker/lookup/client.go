// Package lookup queries the external vulnerability database by keyword.
// Rate-limit (429) and server-side errors are retried with exponential
// backoff up to a fixed attempt cap; other client errors fail immediately.
package lookup

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// CVERecord is one vulnerability record returned by the database
type CVERecord struct {
	ID          string
	Description string
	Severity    string
	CVSSScore   float64
	Published   string
	Raw         json.RawMessage
}

// Config holds lookup client settings
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	MaxAttempts int
	RetryDelay  time.Duration
}

// Client is the vulnerability database API client
type Client struct {
	baseURL     string
	httpClient  *http.Client
	maxAttempts int
	retryDelay  time.Duration
	logger      *slog.Logger
}

func New(config *Config, logger *slog.Logger) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	maxAttempts := config.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	retryDelay := config.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 500 * time.Millisecond
	}

	return &Client{
		baseURL:     config.BaseURL,
		httpClient:  &http.Client{Timeout: timeout},
		maxAttempts: maxAttempts,
		retryDelay:  retryDelay,
		logger:      logger,
	}
}

// Search queries the database for CVEs matching the keyword
func (c *Client) Search(ctx context.Context, keyword string) ([]CVERecord, error) {
	var lastErr error

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := c.retryDelay * time.Duration(1<<uint(attempt-1))
			c.logger.Warn("Retrying vulnerability lookup",
				slog.Int("attempt", attempt+1),
				slog.Int("max_attempts", c.maxAttempts),
				slog.Duration("backoff", backoff),
				slog.Any("error", lastErr),
			)

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, fmt.Errorf("lookup canceled: %w", ctx.Err())
			}
		}

		records, retryable, err := c.search(ctx, keyword)
		if err == nil {
			return records, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("lookup failed after %d attempts: %w", c.maxAttempts, lastErr)
}

// search performs one attempt; the bool reports whether the failure may be
// retried
func (c *Client) search(ctx context.Context, keyword string) ([]CVERecord, bool, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, false, fmt.Errorf("invalid lookup base url: %w", err)
	}

	q := u.Query()
	q.Set("keywordSearch", keyword)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to build lookup request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("lookup request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fallthrough to decoding below
	case resp.StatusCode == http.StatusTooManyRequests:
		io.Copy(io.Discard, resp.Body)
		return nil, true, fmt.Errorf("vulnerability database rate limited the request (429)")
	case resp.StatusCode >= 500:
		io.Copy(io.Discard, resp.Body)
		return nil, true, fmt.Errorf("vulnerability database returned status %d", resp.StatusCode)
	default:
		io.Copy(io.Discard, resp.Body)
		return nil, false, fmt.Errorf("vulnerability database returned status %d", resp.StatusCode)
	}

	records, err := decodeResponse(resp.Body)
	if err != nil {
		return nil, false, err
	}

	c.logger.Debug("Vulnerability lookup succeeded",
		slog.String("keyword", keyword),
		slog.Int("records", len(records)),
	)

	return records, false, nil
}
