// Package client provides the rate-limited HubSpot HTTP executor with
// retry, backoff, and error classification.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/crmsync/hubspot-extractor/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for executor operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hubspot_requests_total",
		Help: "Total HubSpot requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hubspot_request_duration_seconds",
		Help:    "HubSpot request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hubspot_errors_total",
		Help: "Total HubSpot errors by class",
	}, []string{"class"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hubspot_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hubspot_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hubspot_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// DefaultBaseURL is the HubSpot API base URL.
const DefaultBaseURL = "https://api.hubapi.com"

// Config holds the executor configuration.
type Config struct {
	// BaseURL of the HubSpot API (default: https://api.hubapi.com).
	BaseURL string

	// AccessToken is the HubSpot private app bearer token.
	AccessToken string

	// UserAgent sent with every request.
	UserAgent string

	// Limiter gates every attempt, including retries. Required. Share one
	// limiter across all clients targeting the same account.
	Limiter *ratelimit.Limiter

	// MaxRetries is the number of additional attempts after the first.
	MaxRetries int

	// Timeout is the per-attempt HTTP deadline.
	Timeout time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(limiter *ratelimit.Limiter, accessToken string) Config {
	return Config{
		BaseURL:     DefaultBaseURL,
		AccessToken: accessToken,
		UserAgent:   "hubspot-extractor/1.0",
		Limiter:     limiter,
		MaxRetries:  3,
		Timeout:     30 * time.Second,
	}
}

// Client executes HubSpot API requests with rate limiting and retries.
type Client struct {
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	config     Config
	logger     zerolog.Logger

	// sleep is an injection point for tests.
	sleep func(context.Context, time.Duration) error
}

// New creates a new HubSpot executor.
func New(cfg Config) (*Client, error) {
	if cfg.Limiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("access token is required")
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	logger := log.With().Str("component", "hubspot-client").Logger()

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: cfg.Limiter,
		config:  cfg,
		logger:  logger,
		sleep:   sleepContext,
	}, nil
}

// RequestOptions carries the per-request parameters for Do.
type RequestOptions struct {
	// Query parameters appended to the URL.
	Query url.Values

	// Headers merged over the client defaults.
	Headers http.Header

	// Body is JSON-encoded when non-nil.
	Body any
}

// Do executes one logical HubSpot request. Every attempt (including
// retries) consumes a rate-limiter slot. Retry policy per attempt i of
// 0..MaxRetries:
//
//   - 429: sleep Retry-After seconds (default 1) and retry; when attempts
//     are exhausted the 429 response is returned as-is.
//   - 5xx: sleep 2^i+1 seconds and retry; exhausted responses are
//     returned as-is.
//   - network error or timeout: sleep 2^i+1 seconds and retry; exhausted
//     failures are propagated.
//   - anything else (2xx, non-429 4xx) is returned immediately.
//
// The caller owns the response body.
func (c *Client) Do(ctx context.Context, method, path string, opts RequestOptions) (*http.Response, error) {
	endpoint := path
	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	var bodyBytes []byte
	if opts.Body != nil {
		var err error
		bodyBytes, err = json.Marshal(opts.Body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
	}

	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		// Rate limiting applies to every attempt: retries are not free.
		if err := c.limiter.Acquire(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrContextCancelled, err)
		}

		req, err := c.newRequest(ctx, method, path, opts, bodyBytes)
		if err != nil {
			return nil, err
		}

		resp, reqErr := c.httpClient.Do(req)

		// Network-level failure (timeout, connection refused, DNS).
		if reqErr != nil {
			lastErr = reqErr
			errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			requestsTotal.WithLabelValues(endpoint, "network_error").Inc()

			if attempt >= c.config.MaxRetries {
				break
			}
			if err := c.backoff(ctx, ErrorClassNetwork, attempt, backoffForAttempt(attempt)); err != nil {
				return nil, err
			}
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			requestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()
			errorsTotal.WithLabelValues(string(ErrorClassThrottle)).Inc()

			if attempt >= c.config.MaxRetries {
				// Exhausted: surface the 429 itself, not an error.
				retryExhaustedTotal.WithLabelValues(string(ErrorClassThrottle)).Inc()
				return resp, nil
			}

			retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
			resp.Body.Close()

			c.logger.Warn().
				Str("endpoint", endpoint).
				Dur("retry_after", retryAfter).
				Int("attempt", attempt+1).
				Msg("HubSpot rate limit hit, waiting")

			if err := c.backoff(ctx, ErrorClassThrottle, attempt, retryAfter); err != nil {
				return nil, err
			}

		case resp.StatusCode >= 500 && resp.StatusCode < 600:
			requestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()
			errorsTotal.WithLabelValues(string(ErrorClassServer)).Inc()

			if attempt >= c.config.MaxRetries {
				retryExhaustedTotal.WithLabelValues(string(ErrorClassServer)).Inc()
				return resp, nil
			}

			resp.Body.Close()

			c.logger.Warn().
				Str("endpoint", endpoint).
				Int("status_code", resp.StatusCode).
				Int("attempt", attempt+1).
				Msg("Server error, retrying")

			if err := c.backoff(ctx, ErrorClassServer, attempt, backoffForAttempt(attempt)); err != nil {
				return nil, err
			}

		default:
			// 2xx and non-retriable 4xx are returned without further
			// attempts; status handling is the caller's concern.
			requestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()
			return resp, nil
		}
	}

	// Network failures exhausted all attempts.
	retryExhaustedTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
	c.logger.Error().
		Err(lastErr).
		Str("endpoint", endpoint).
		Int("max_retries", c.config.MaxRetries).
		Msg("Request failed after all retries")

	return nil, fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, c.config.MaxRetries+1, lastErr)
}

// Get performs a GET request against a HubSpot endpoint path.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*http.Response, error) {
	return c.Do(ctx, http.MethodGet, path, RequestOptions{Query: query})
}

// newRequest builds one attempt's HTTP request. The body reader is fresh
// per attempt so retries resend the full payload.
func (c *Client) newRequest(ctx context.Context, method, path string, opts RequestOptions, body []byte) (*http.Request, error) {
	u := c.config.BaseURL + path
	if len(opts.Query) > 0 {
		u += "?" + opts.Query.Encode()
	}

	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	var req *http.Request
	var err error
	if reader != nil {
		req, err = http.NewRequestWithContext(ctx, method, u, reader)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, u, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.config.AccessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	for key, values := range opts.Headers {
		req.Header.Del(key)
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	return req, nil
}

// backoff records retry metrics and sleeps for the given duration,
// honoring context cancellation.
func (c *Client) backoff(ctx context.Context, class ErrorClass, attempt int, d time.Duration) error {
	retriesTotal.WithLabelValues(string(class)).Inc()
	retryBackoffSeconds.WithLabelValues(string(class)).Observe(d.Seconds())

	c.logger.Debug().
		Str("error_class", string(class)).
		Int("attempt", attempt+1).
		Dur("backoff", d).
		Msg("Retrying request after backoff")

	if err := c.sleep(ctx, d); err != nil {
		return fmt.Errorf("%w: %v", ErrContextCancelled, err)
	}
	return nil
}

// backoffForAttempt returns the fixed exponential backoff for server and
// network failures: 2^attempt + 1 seconds.
func backoffForAttempt(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt)+1) * time.Second
}

// parseRetryAfter reads a Retry-After value in seconds, defaulting to 1s
// when absent or invalid.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return time.Second
	}
	seconds, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || seconds < 0 {
		return time.Second
	}
	return time.Duration(seconds) * time.Second
}

// sleepContext sleeps for the given duration, aborting early if the
// context is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
