package dataplane

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Config contains configuration for the data plane API client.
type Config struct {
	// BaseURL is the proxy admin API base URL (e.g. "http://127.0.0.1:5555/v1").
	BaseURL string

	// Username and Password are the basic-auth credentials.
	Username string
	Password string

	// Timeout bounds each request, including retries of a single call.
	// Default: 15 seconds.
	Timeout time.Duration

	// MaxRetries is the number of retries for transient failures
	// (network errors and 5xx responses). Default: 2.
	MaxRetries int

	// Connection pool settings.
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration

	// Logger is the structured logger. Defaults to slog.Default().
	Logger *slog.Logger
}

// Client is the proxy admin API client.
type Client struct {
	config Config
	client *http.Client
	logger *slog.Logger
}

// New creates a new data plane API client with connection pooling.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", cfg.BaseURL, err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 20
	}
	if cfg.MaxIdleConnsPerHost == 0 {
		cfg.MaxIdleConnsPerHost = 10
	}
	if cfg.IdleConnTimeout == 0 {
		cfg.IdleConnTimeout = 90 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		ForceAttemptHTTP2:   true,
	}

	return &Client{
		config: cfg,
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		logger: cfg.Logger.With("component", "dataplane"),
	}, nil
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// Close releases idle connections held by the client.
func (c *Client) Close() {
	c.client.CloseIdleConnections()
}

// do performs a request against the admin API with retry for transient
// failures. The response body, if any, is decoded into out.
func (c *Client) do(ctx context.Context, operation, method, path string, query url.Values, reqBody, out any) error {
	endpoint := strings.TrimRight(c.config.BaseURL, "/") + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var bodyBytes []byte
	if reqBody != nil {
		var err error
		bodyBytes, err = json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", operation, err)
		}
	}

	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * 250 * time.Millisecond
			c.logger.Debug("retrying request",
				"operation", operation,
				"attempt", attempt,
				"backoff", backoff,
			)
			select {
			case <-ctx.Done():
				return c.ctxError(ctx, operation)
			case <-time.After(backoff):
			}
		}

		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}

		req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
		if err != nil {
			return fmt.Errorf("failed to create %s request: %w", operation, err)
		}
		req.SetBasicAuth(c.config.Username, c.config.Password)
		if bodyBytes != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return c.ctxError(ctx, operation)
			}
			lastErr = fmt.Errorf("%s: %w", operation, err)
			c.logger.Warn("request failed, will retry",
				"operation", operation,
				"attempt", attempt+1,
				"error", err,
			)
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			err = decodeResponse(resp, out)
			if err != nil {
				return fmt.Errorf("%s: %w", operation, err)
			}
			return nil
		}

		errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()

		apiErr := &APIError{
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(errorBody)),
		}

		// Client errors are final; server errors are retried.
		if resp.StatusCode < 500 {
			return apiErr
		}

		lastErr = apiErr
		c.logger.Warn("request returned server error, will retry",
			"operation", operation,
			"status", resp.StatusCode,
			"attempt", attempt+1,
		)
	}

	return lastErr
}

// ctxError translates a context failure into the client's error taxonomy.
func (c *Client) ctxError(ctx context.Context, operation string) error {
	if ctx.Err() == context.DeadlineExceeded {
		return &TimeoutError{Operation: operation, Timeout: c.config.Timeout}
	}
	return ctx.Err()
}

// decodeResponse decodes a successful response body into out, draining and
// closing the body.
func decodeResponse(resp *http.Response, out any) error {
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// txnQuery builds the query parameters for a call scoped to a transaction.
// An empty transaction id yields no parameters (the change applies
// immediately, outside any transaction).
func txnQuery(transactionID string) url.Values {
	if transactionID == "" {
		return nil
	}
	q := url.Values{}
	q.Set("transaction_id", transactionID)
	return q
}
