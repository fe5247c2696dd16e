// Package httpclient provides the HTTP plumbing for talking to IPTV
// providers: a retrying client with circuit breaker and transparent
// decompression for playlist and guide downloads, and bare probe clients
// with explicit redirect policies for upstream analysis.
package httpclient

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
)

// Common errors returned by the client.
var (
	ErrCircuitOpen = errors.New("circuit breaker is open")
	ErrMaxRetries  = errors.New("max retries exceeded")
)

// Default configuration values.
const (
	DefaultTimeout            = 30 * time.Second
	DefaultRetryAttempts      = 3
	DefaultRetryDelay         = 1 * time.Second
	DefaultRetryMaxDelay      = 30 * time.Second
	DefaultBackoffMultiplier  = 2.0
	DefaultCircuitThreshold   = 5
	DefaultCircuitTimeout     = 30 * time.Second
	DefaultCircuitHalfOpenMax = 1
	DefaultUserAgent          = "tunerr-httpclient/1.0"

	acceptEncodings = "gzip, deflate, br"
)

// Config holds the configuration for the retrying client.
type Config struct {
	// Timeout is the overall request timeout.
	Timeout time.Duration

	// RetryAttempts is the number of retries after the first attempt.
	RetryAttempts int

	// RetryDelay is the initial delay between retries; each retry multiplies
	// it by BackoffMultiplier up to RetryMaxDelay.
	RetryDelay        time.Duration
	RetryMaxDelay     time.Duration
	BackoffMultiplier float64

	// CircuitThreshold is the number of consecutive failures before the
	// circuit opens; CircuitTimeout is how long it stays open.
	CircuitThreshold   int
	CircuitTimeout     time.Duration
	CircuitHalfOpenMax int

	// UserAgent is sent when the request carries none. Sources that need a
	// specific player identity set the header on the request instead.
	UserAgent string

	Logger *slog.Logger

	// EnableDecompression transparently inflates gzip, deflate, and brotli
	// response bodies.
	EnableDecompression bool

	// BaseClient overrides the underlying http.Client.
	BaseClient *http.Client
}

// DefaultConfig returns a Config with defaults suited to provider playlist
// and guide downloads.
func DefaultConfig() Config {
	return Config{
		Timeout:             DefaultTimeout,
		RetryAttempts:       DefaultRetryAttempts,
		RetryDelay:          DefaultRetryDelay,
		RetryMaxDelay:       DefaultRetryMaxDelay,
		BackoffMultiplier:   DefaultBackoffMultiplier,
		CircuitThreshold:    DefaultCircuitThreshold,
		CircuitTimeout:      DefaultCircuitTimeout,
		CircuitHalfOpenMax:  DefaultCircuitHalfOpenMax,
		UserAgent:           DefaultUserAgent,
		Logger:              slog.Default(),
		EnableDecompression: true,
	}
}

// Client is a retrying HTTP client with circuit breaker protection. One
// Client per upstream source keeps breaker state per provider.
type Client struct {
	config  Config
	client  *http.Client
	breaker *CircuitBreaker
	logger  *slog.Logger
}

// New creates a client with the given configuration.
func New(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	baseClient := cfg.BaseClient
	if baseClient == nil {
		baseClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		config:  cfg,
		client:  baseClient,
		breaker: NewCircuitBreaker(cfg.CircuitThreshold, cfg.CircuitTimeout, cfg.CircuitHalfOpenMax),
		logger:  cfg.Logger,
	}
}

// NewWithDefaults creates a client with default configuration.
func NewWithDefaults() *Client {
	return New(DefaultConfig())
}

// Do executes the request with retries and circuit breaker protection. The
// request's context bounds all attempts including backoff sleeps.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	if req.Header.Get("User-Agent") == "" && c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	if c.config.EnableDecompression && req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", acceptEncodings)
	}

	var lastErr error
	delay := c.config.RetryDelay

	for attempt := 0; attempt <= c.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			c.logger.Debug("retrying request",
				"attempt", attempt,
				"delay", delay,
				"url", RedactURL(req.URL),
			)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}

			delay = time.Duration(float64(delay) * c.config.BackoffMultiplier)
			if delay > c.config.RetryMaxDelay {
				delay = c.config.RetryMaxDelay
			}
		}

		if !c.breaker.Allow() {
			lastErr = ErrCircuitOpen
			c.logger.Warn("circuit breaker open, skipping attempt",
				"url", RedactURL(req.URL),
				"state", c.breaker.State().String(),
			)
			continue
		}

		resp, err := c.attempt(ctx, req, attempt)
		if err != nil {
			lastErr = err
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			continue
		}

		return resp, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrMaxRetries, lastErr)
	}
	return nil, ErrMaxRetries
}

// attempt executes a single request and records the outcome on the breaker.
func (c *Client) attempt(ctx context.Context, req *http.Request, attempt int) (*http.Response, error) {
	start := time.Now()
	resp, err := c.client.Do(req.WithContext(ctx))
	duration := time.Since(start)

	if err != nil {
		c.breaker.RecordFailure()
		c.logger.Warn("request failed",
			"url", RedactURL(req.URL),
			"method", req.Method,
			"duration", duration,
			"error", err,
			"attempt", attempt,
		)
		return nil, err
	}

	if isRetryableStatus(resp.StatusCode) {
		c.breaker.RecordFailure()
		c.logger.Warn("retryable upstream status",
			"url", RedactURL(req.URL),
			"method", req.Method,
			"status", resp.StatusCode,
			"duration", duration,
			"attempt", attempt,
		)
		resp.Body.Close()
		return nil, fmt.Errorf("retryable status code: %d", resp.StatusCode)
	}

	c.breaker.RecordSuccess()
	c.logger.Debug("request completed",
		"url", RedactURL(req.URL),
		"method", req.Method,
		"status", resp.StatusCode,
		"duration", duration,
		"content_length", resp.ContentLength,
	)

	if c.config.EnableDecompression {
		resp.Body = c.wrapDecompression(resp)
	}

	return resp, nil
}

// Get performs a GET request to the specified URL.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	return c.Do(req)
}

// CircuitState returns the current state of the circuit breaker.
func (c *Client) CircuitState() CircuitState {
	return c.breaker.State()
}

// ResetCircuit forces the circuit breaker closed.
func (c *Client) ResetCircuit() {
	c.breaker.Reset()
}

// NewProbeClient returns a bare http.Client for upstream probing: fixed
// timeout, no redirect following, no retries. Probes want a fast verdict on
// the URL exactly as given; a redirect is itself a signal.
func NewProbeClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// NewBoundedRedirectClient returns a bare http.Client that follows at most
// maxRedirects redirects before giving up.
func NewBoundedRedirectClient(timeout time.Duration, maxRedirects int) *http.Client {
	return &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}
}

// ReadAllLimit reads at most maxBytes from r and reports whether the input
// was truncated at the cap.
func ReadAllLimit(r io.Reader, maxBytes int64) (data []byte, truncated bool, err error) {
	data, err = io.ReadAll(io.LimitReader(r, maxBytes))
	if err != nil {
		return nil, false, err
	}
	if int64(len(data)) < maxBytes {
		return data, false, nil
	}
	// At the cap: peek one byte to distinguish exact fit from truncation.
	var one [1]byte
	n, err := r.Read(one[:])
	if n > 0 {
		return data, true, nil
	}
	if err != nil && err != io.EOF {
		return nil, false, err
	}
	return data, false, nil
}

// wrapDecompression wraps the response body with the decoder named by
// Content-Encoding, passing through unknown encodings untouched.
func (c *Client) wrapDecompression(resp *http.Response) io.ReadCloser {
	encoding := resp.Header.Get("Content-Encoding")
	if encoding == "" {
		return resp.Body
	}

	switch strings.ToLower(encoding) {
	case "gzip":
		reader, err := gzip.NewReader(resp.Body)
		if err != nil {
			c.logger.Warn("failed to create gzip reader, returning raw body", "error", err)
			return resp.Body
		}
		return &decompressReader{reader: reader, closer: resp.Body}

	case "deflate":
		return &decompressReader{reader: flate.NewReader(resp.Body), closer: resp.Body}

	case "br":
		return &decompressReader{reader: brotli.NewReader(resp.Body), closer: resp.Body}

	default:
		c.logger.Debug("unknown content encoding, returning raw body", "encoding", encoding)
		return resp.Body
	}
}

// decompressReader pairs a decompressing reader with the original body closer.
type decompressReader struct {
	reader io.Reader
	closer io.Closer
}

func (d *decompressReader) Read(p []byte) (int, error) {
	return d.reader.Read(p)
}

func (d *decompressReader) Close() error {
	if closer, ok := d.reader.(io.Closer); ok {
		closer.Close()
	}
	return d.closer.Close()
}

// isRetryableStatus reports whether the status code is worth retrying.
func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// sensitiveParams are query parameter names whose values never reach logs.
// IPTV providers put credentials and signed tokens in the query string.
var sensitiveParams = []string{
	"password", "passwd", "pass", "pwd",
	"token", "api_key", "apikey", "key",
	"secret", "auth", "authorization",
	"credential", "credentials",
	"signature", "sessionid", "sid", "jwt", "bearer",
}

// RedactURL returns the URL with userinfo and sensitive query parameter
// values replaced, safe for logging.
func RedactURL(u *url.URL) string {
	if u == nil {
		return ""
	}

	sanitized := *u
	if sanitized.User != nil {
		sanitized.User = url.User("***")
	}

	query := sanitized.Query()
	for _, param := range sensitiveParams {
		if query.Has(param) {
			query.Set(param, "***")
		}
	}
	sanitized.RawQuery = query.Encode()

	return sanitized.String()
}

// RedactURLString parses and redacts raw, falling back to a fixed marker
// when the URL does not parse (it could be sensitive in its entirety).
func RedactURLString(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<unparseable-url>"
	}
	return RedactURL(u)
}
