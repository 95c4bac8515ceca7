// Package todoist is the remote access layer for the Todoist REST API.
package todoist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	terrors "github.com/p-blackswan/tod/internal/errors"
	"github.com/p-blackswan/tod/internal/metrics"
	"github.com/p-blackswan/tod/internal/requestid"
	"github.com/p-blackswan/tod/internal/retry"
)

const (
	service = "todoist"

	// DefaultBaseURL is the API root used when none is configured.
	DefaultBaseURL = "https://api.todoist.com/api/v1"

	requestIDHeader = "X-Request-Id"
	maxErrorBody    = 4096
)

// HTTPClient abstracts HTTP calls for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Authenticator applies authentication to requests.
type Authenticator interface {
	Apply(req *http.Request) error
}

// BearerAuth authenticates with a personal API token.
type BearerAuth struct {
	Token string
}

// Apply sets the Authorization header.
func (a *BearerAuth) Apply(req *http.Request) error {
	if a.Token == "" {
		return fmt.Errorf("%w: empty API token", terrors.ErrAuthFailure)
	}
	req.Header.Set("Authorization", "Bearer "+a.Token)
	return nil
}

// Options tunes retries, pagination and pacing.
type Options struct {
	Retry             retry.Config
	Timeout           time.Duration
	MaxPages          int
	PageSize          int
	RequestsPerSecond float64
	Burst             int
	Metrics           *metrics.Metrics
}

// DefaultOptions returns sensible client defaults.
func DefaultOptions() Options {
	return Options{
		Retry:             retry.DefaultConfig(),
		Timeout:           30 * time.Second,
		MaxPages:          50,
		PageSize:          200,
		RequestsPerSecond: 1,
		Burst:             10,
	}
}

// Client wraps the Todoist REST API.
type Client struct {
	baseURL    string
	httpClient HTTPClient
	auth       Authenticator
	retry      retry.Config
	limiter    *rate.Limiter
	maxPages   int
	pageSize   int
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

// NewClient creates a new Todoist API client.
func NewClient(baseURL string, auth Authenticator, opts Options, logger zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if opts.MaxPages < 1 {
		opts.MaxPages = 1
	}
	if opts.PageSize < 1 {
		opts.PageSize = DefaultOptions().PageSize
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	burst := opts.Burst
	if burst < 1 {
		burst = 1
	}

	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: opts.Timeout},
		auth:       auth,
		retry:      opts.Retry,
		limiter:    rate.NewLimiter(limit, burst),
		maxPages:   opts.MaxPages,
		pageSize:   opts.PageSize,
		metrics:    opts.Metrics,
		logger:     logger.With().Str("component", "todoist").Logger(),
	}
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(hc HTTPClient) {
	c.httpClient = hc
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// NewIdempotencyToken returns a fresh token for create operations.
func NewIdempotencyToken() string {
	return uuid.NewString()
}

// request describes one logical API call.
type request struct {
	op        string
	method    string
	path      string
	query     url.Values
	body      any
	requestID string
}

// call runs req with the given retry policy and classifies the final failure.
func (c *Client) call(ctx context.Context, cfg retry.Config, req request, out any) error {
	var payload []byte
	if req.body != nil {
		var err error
		payload, err = json.Marshal(req.body)
		if err != nil {
			return terrors.Classify(req.op, fmt.Errorf("%w: encoding body: %v", terrors.ErrInvalidInput, err), 0)
		}
	}

	cfg.OnRetry = func(attempt int, delay time.Duration, err error) {
		reason := "unavailable"
		if terrors.IsRateLimit(err) {
			reason = "rate_limited"
		}
		c.metrics.RecordRetry(req.op, reason)
		c.logger.Info().
			Str("op", req.op).
			Int("attempt", attempt).
			Dur("delay", delay).
			Str("reason", reason).
			Err(err).
			Msg("retrying remote call")
	}

	res := retry.Run(ctx, cfg, func(ctx context.Context) error {
		return c.do(ctx, req, payload, out)
	})
	return terrors.Classify(req.op, res.Err, res.Attempts)
}

// do executes a single authenticated attempt.
func (c *Client) do(ctx context.Context, r request, payload []byte, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("waiting for request slot: %w", err)
	}

	u := c.baseURL + r.path
	if len(r.query) > 0 {
		u += "?" + r.query.Encode()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, u, body)
	if err != nil {
		return fmt.Errorf("%w: creating request: %v", terrors.ErrInvalidInput, err)
	}

	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.requestID != "" {
		req.Header.Set(requestIDHeader, r.requestID)
	}
	if err := c.auth.Apply(req); err != nil {
		return fmt.Errorf("applying auth: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		c.metrics.RecordRemote(r.op, "error", elapsed.Seconds())
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("%w: %v", terrors.ErrTimeout, err)
		}
		return fmt.Errorf("%w: %v", terrors.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	c.metrics.RecordRemote(r.op, strconv.Itoa(resp.StatusCode), elapsed.Seconds())
	c.logger.Debug().
		Str("request_id", requestid.FromContext(ctx)).
		Str("op", r.op).
		Str("method", r.method).
		Str("path", r.path).
		Int("status", resp.StatusCode).
		Dur("elapsed", elapsed).
		Msg("remote call")

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := terrors.NewAPIError(service, resp.StatusCode, strings.TrimSpace(string(respBody)))
		if resp.StatusCode == http.StatusTooManyRequests {
			apiErr.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		}
		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", r.op, err)
	}
	return nil
}

// listAll follows next_cursor until the collection is complete or the page bound is hit.
func listAll[T any](ctx context.Context, c *Client, op, path string, query url.Values) ([]T, error) {
	var all []T
	cursor := ""
	for pageNum := 0; ; pageNum++ {
		if pageNum >= c.maxPages {
			return nil, terrors.Classify(op,
				fmt.Errorf("%w: collection exceeds %d pages", terrors.ErrTooManyPages, c.maxPages), pageNum)
		}

		q := url.Values{}
		for k, v := range query {
			q[k] = append([]string(nil), v...)
		}
		q.Set("limit", strconv.Itoa(c.pageSize))
		if cursor != "" {
			q.Set("cursor", cursor)
		}

		var p page[T]
		err := c.call(ctx, c.retry, request{op: op, method: http.MethodGet, path: path, query: q}, &p)
		if err != nil {
			return nil, err
		}
		all = append(all, p.Results...)

		if p.NextCursor == nil || *p.NextCursor == "" {
			return all, nil
		}
		cursor = *p.NextCursor
	}
}

// parseRetryAfter parses the Retry-After header (seconds or HTTP date).
func parseRetryAfter(header string, now time.Time) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
