// Package oasis implements a client for the CAISO OASIS SingleZip API, which
// serves market reports as ZIP archives of XML. Downloads retry transient
// failures with exponential backoff and jitter.
package oasis

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"time"
)

const (
	// DefaultBaseURL is the production OASIS SingleZip endpoint.
	DefaultBaseURL = "http://oasis.caiso.com/oasisapi/SingleZip"

	defaultTimeout    = 60 * time.Second
	defaultMaxRetries = 3
	defaultBaseDelay  = 5 * time.Second
	defaultMaxJitter  = 2 * time.Second
	defaultUserAgent  = "caiso-fetch/1.0"

	// maxRetryDelay caps the backoff growth; unbounded doubling overflows
	// time.Duration once the retry count reaches the dozens.
	maxRetryDelay = 5 * time.Minute
)

// Client downloads report archives from the OASIS SingleZip endpoint.
type Client struct {
	client     *http.Client
	baseURL    string
	maxRetries int
	baseDelay  time.Duration
	maxJitter  time.Duration
	userAgent  string
}

// New creates a Client with the given options applied.
func New(opts ...Option) *Client {
	c := &Client{
		client:     &http.Client{Timeout: defaultTimeout},
		baseURL:    DefaultBaseURL,
		maxRetries: defaultMaxRetries,
		baseDelay:  defaultBaseDelay,
		maxJitter:  defaultMaxJitter,
		userAgent:  defaultUserAgent,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Option configures a Client.
type Option func(*Client)

// WithClient sets the HTTP client.
func WithClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithBaseURL overrides the SingleZip endpoint.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithMaxRetries sets how many additional attempts follow a failed first one.
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// WithBaseDelay sets the backoff base. The wait before the nth retry is the
// base doubled n-1 times, plus jitter.
func WithBaseDelay(d time.Duration) Option {
	return func(c *Client) { c.baseDelay = d }
}

// WithMaxJitter bounds the random addition to each backoff wait.
func WithMaxJitter(d time.Duration) Option {
	return func(c *Client) { c.maxJitter = d }
}

// WithUserAgent sets the User-Agent header sent with each request.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// Download fetches the archive for q, retrying transient failures. It returns
// the raw archive bytes and the number of attempts made. Rate-limited and
// unavailable responses and network errors are retried up to maxRetries
// additional times; any other non-2xx status fails on the first attempt.
func (c *Client) Download(ctx context.Context, q Query) ([]byte, int, error) {
	reqURL := c.baseURL + "?" + q.Values().Encode()

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries+1; attempt++ {
		if attempt > 1 {
			delay := c.retryDelay(attempt)
			slog.Info("retrying oasis download", "attempt", attempt,
				"maxAttempts", c.maxRetries+1, "delay", delay.Round(100*time.Millisecond))
			if err := sleep(ctx, delay); err != nil {
				return nil, attempt - 1, &FetchError{Attempts: attempt - 1, Err: err}
			}
		}

		data, err := c.get(ctx, reqURL)
		if err == nil {
			return data, attempt, nil
		}
		lastErr = err

		// A dead caller context stops the loop no matter how the request
		// itself failed.
		if ctx.Err() != nil || !transient(err) {
			return nil, attempt, &FetchError{Attempts: attempt, Err: err}
		}
		slog.Warn("transient oasis failure", "attempt", attempt, "error", err)
	}

	attempts := c.maxRetries + 1
	return nil, attempts, &FetchError{Attempts: attempts, Err: lastErr}
}

// get performs a single request and returns the response body.
func (c *Client) get(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)

	res, err := c.client.Do(req) //nolint:gosec // URL built from internal config
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode/100 != 2 {
		return nil, &StatusError{Code: res.StatusCode}
	}

	return io.ReadAll(res.Body)
}

// retryDelay computes the wait before the given attempt: the base delay
// doubled once per prior retry, capped at maxRetryDelay, plus uniform jitter
// so parallel clients do not retry in lockstep.
func (c *Client) retryDelay(attempt int) time.Duration {
	d := c.baseDelay
	for i := 2; i < attempt && d < maxRetryDelay; i++ {
		d *= 2
	}
	if d > maxRetryDelay {
		d = maxRetryDelay
	}
	if c.maxJitter > 0 {
		d += time.Duration(rand.Float64() * float64(c.maxJitter))
	}
	return d
}

// sleep waits for d or until ctx is done, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
