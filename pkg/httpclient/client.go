// Package httpclient provides an HTTP client with retry and backoff
// tuned for LLM provider APIs (rate-limit aware, body replay on retry).
package httpclient

import (
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"
)

// RetryStrategy selects how a failed attempt is retried.
type RetryStrategy int

const (
	// NoRetry fails immediately.
	NoRetry RetryStrategy = iota
	// ConservativeRetry retries a small fixed number of times with linear delay.
	ConservativeRetry
	// SmartRetry honors rate-limit headers, falling back to exponential backoff.
	SmartRetry
)

// RateLimitInfo carries the provider's rate-limit hints from response headers.
type RateLimitInfo struct {
	RetryAfter time.Duration
	ResetTime  int64
}

// HeaderParser extracts RateLimitInfo from response headers.
type HeaderParser func(http.Header) RateLimitInfo

// StrategyFunc maps a status code to a retry strategy.
type StrategyFunc func(statusCode int) RetryStrategy

// Client wraps http.Client with retry behavior.
type Client struct {
	client       *http.Client
	maxRetries   int
	baseDelay    time.Duration
	headerParser HeaderParser
	strategyFunc StrategyFunc
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying http.Client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.client = client }
}

// WithMaxRetries sets the maximum number of retries.
func WithMaxRetries(max int) Option {
	return func(c *Client) { c.maxRetries = max }
}

// WithBaseDelay sets the base backoff delay.
func WithBaseDelay(delay time.Duration) Option {
	return func(c *Client) { c.baseDelay = delay }
}

// WithHeaderParser sets the rate-limit header parser.
func WithHeaderParser(parser HeaderParser) Option {
	return func(c *Client) { c.headerParser = parser }
}

// WithRetryStrategy sets the status-code to strategy mapping.
func WithRetryStrategy(fn StrategyFunc) Option {
	return func(c *Client) { c.strategyFunc = fn }
}

// New creates a Client with sensible defaults (3 retries, 1s base delay).
func New(opts ...Option) *Client {
	c := &Client{
		client:       &http.Client{Timeout: 60 * time.Second},
		maxRetries:   3,
		baseDelay:    time.Second,
		headerParser: StandardHeaderParser,
		strategyFunc: DefaultRetryStrategy,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DefaultRetryStrategy retries on throttling and transient server errors.
func DefaultRetryStrategy(statusCode int) RetryStrategy {
	switch statusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return SmartRetry
	case http.StatusRequestTimeout,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusGatewayTimeout:
		return ConservativeRetry
	default:
		return NoRetry
	}
}

// StandardHeaderParser reads Retry-After and X-RateLimit-Reset headers.
func StandardHeaderParser(h http.Header) RateLimitInfo {
	var info RateLimitInfo
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			info.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	if v := h.Get("X-RateLimit-Reset"); v != "" {
		if ts, err := strconv.ParseInt(v, 10, 64); err == nil {
			info.ResetTime = ts
		}
	}
	return info
}

// Do executes the request, retrying per the configured strategy.
// The request must have GetBody set for bodies to be replayed on retry.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("failed to recreate request body for retry: %w", err)
			}
			req.Body = body
		}

		resp, strategy, info, err := c.attempt(req)
		if strategy == NoRetry || err == nil {
			return resp, err
		}

		delay := c.delay(strategy, attempt, info)
		if attempt >= c.maxRetries || delay <= 0 {
			statusCode := 0
			if resp != nil {
				statusCode = resp.StatusCode
			}
			return resp, &RetryableError{
				StatusCode: statusCode,
				Message:    fmt.Sprintf("max HTTP retries (%d) exceeded", c.maxRetries),
				RetryAfter: delay,
				Err:        err,
			}
		}

		slog.Debug("Retrying HTTP request",
			"attempt", attempt+1,
			"delay", delay,
			"url", req.URL.Path)
		time.Sleep(delay)
	}

	return nil, &RetryableError{
		Message: fmt.Sprintf("max retries exceeded after %d attempts", c.maxRetries),
		Err:     fmt.Errorf("max retries exceeded"),
	}
}

func (c *Client) attempt(req *http.Request) (*http.Response, RetryStrategy, RateLimitInfo, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, NoRetry, RateLimitInfo{}, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, NoRetry, RateLimitInfo{}, nil
	}

	var info RateLimitInfo
	if c.headerParser != nil {
		info = c.headerParser(resp.Header)
	}
	return resp, c.strategyFunc(resp.StatusCode), info, fmt.Errorf("HTTP %d", resp.StatusCode)
}

func (c *Client) delay(strategy RetryStrategy, attempt int, info RateLimitInfo) time.Duration {
	switch strategy {
	case SmartRetry:
		if info.RetryAfter > 0 {
			return info.RetryAfter
		}
		if info.ResetTime > 0 {
			if d := time.Until(time.Unix(info.ResetTime, 0)); d > 0 {
				return d
			}
		}
		exponential := time.Duration(math.Pow(2, float64(attempt))) * c.baseDelay
		jitter := time.Duration(float64(exponential) * 0.1)
		return exponential + jitter
	case ConservativeRetry:
		if attempt >= 2 {
			return 0
		}
		return time.Duration(1+attempt) * c.baseDelay
	default:
		return 0
	}
}
