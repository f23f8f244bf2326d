// Package api is the REST client for the fitness backend.
package api

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
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/fitpanda/internal/convert"
	"github.com/and161185/fitpanda/internal/errs"
	"github.com/and161185/fitpanda/internal/telemetry"
)

const (
	DefaultBaseURL   = "http://127.0.0.1:8080"
	DefaultTimeout   = 15 * time.Second
	defaultUserAgent = "fitpanda/0.1"

	// MaxBodyBytes caps how much of any response body is read.
	MaxBodyBytes = 4 << 20

	maxErrExcerpt = 256
)

// Client talks to the backend. It is safe for concurrent use.
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	timeout   time.Duration
	userAgent string
	token     func() string
	log       *zap.Logger
	metrics   *telemetry.Recorder
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Its transport is still
// wrapped for request logging.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			cp := *hc
			c.http = &cp
		}
	}
}

// WithTimeout bounds every request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMetrics records every request on r.
func WithMetrics(r *telemetry.Recorder) Option { return func(c *Client) { c.metrics = r } }

// WithToken supplies the bearer token; an empty result sends no header.
func WithToken(fn func() string) Option { return func(c *Client) { c.token = fn } }

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua = strings.TrimSpace(ua); ua != "" {
			c.userAgent = ua
		}
	}
}

// New builds a Client for baseURL (host:port or a full URL).
func New(baseURL string, opts ...Option) (*Client, error) {
	base, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	c := &Client{
		baseURL:   base,
		http:      &http.Client{},
		timeout:   DefaultTimeout,
		userAgent: defaultUserAgent,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.http.Transport = LoggingTransport(c.http.Transport, c.log)
	if c.http.Timeout == 0 {
		c.http.Timeout = c.timeout
	}
	return c, nil
}

// BaseURL returns the normalized backend address.
func (c *Client) BaseURL() string { return c.baseURL.String() }

// do sends body as JSON (when non-nil) and returns the response body of a
// 2xx reply. op names the call in errors, logs and metrics.
func (c *Client) do(ctx context.Context, op, method string, rel *url.URL, body any) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("%s: client is nil", op)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(raw)
	}

	reqURL := JoinURL(c.baseURL, rel)
	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if id, err := uuid.NewV4(); err == nil {
		req.Header.Set("X-Request-ID", id.String())
	}
	if c.token != nil {
		if tok := c.token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		err = TransportError(op, err)
		c.metrics.Request(ctx, op, 0, time.Since(start), err)
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes))
	if err != nil {
		err = TransportError(op, err)
		c.metrics.Request(ctx, op, resp.StatusCode, time.Since(start), err)
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err = &errs.HTTPError{Op: op, Status: resp.StatusCode, Body: excerpt(data)}
		c.metrics.Request(ctx, op, resp.StatusCode, time.Since(start), err)
		return nil, err
	}
	c.metrics.Request(ctx, op, resp.StatusCode, time.Since(start), nil)
	return data, nil
}

// TransportError classifies a failure that produced no response: deadlines
// become errs.ErrTimeout, cancellation passes through, the rest is
// errs.ErrTransport.
func TransportError(op string, err error) error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return fmt.Errorf("%s: %w: %w", op, errs.ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, errs.ErrTransport, err)
}

// excerpt prefers the backend's {"message"} and otherwise truncates the body.
func excerpt(data []byte) string {
	if msg := convert.ErrorMessage(data); msg != "" {
		return msg
	}
	s := strings.TrimSpace(string(data))
	if len(s) > maxErrExcerpt {
		s = s[:maxErrExcerpt] + "..."
	}
	return s
}

func parseBaseURL(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		trimmed = DefaultBaseURL
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse base url %q: %w", raw, err)
	}
	if u.Host == "" {
		return nil, errs.Validation("base url %q has no host", raw)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

// JoinURL appends rel's path to base's path and takes rel's query, so a base
// such as https://host/fit keeps its prefix.
func JoinURL(base, rel *url.URL) *url.URL {
	u := *base
	u.Path = strings.TrimRight(base.Path, "/") + "/" + strings.TrimLeft(rel.Path, "/")
	u.RawPath = ""
	u.RawQuery = rel.RawQuery
	u.Fragment = ""
	return &u
}
