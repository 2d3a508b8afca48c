// Package apiclient is the outbound HTTP client shared by the MediaWiki and
// ORES collaborators. Each Client is rate limited and guarded by a circuit
// breaker so a failing service is not hammered once per population row.
package apiclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/civilservant/gratsample/internal/metrics"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrStatus is returned for non-2xx responses.
var ErrStatus = errors.New("apiclient: unexpected status")

const defaultUserAgent = "gratsample/1.0 (CivilServant research; https://civilservant.io)"

// Option configures a Client
type Option struct {
	HTTPClient  *http.Client
	UserAgent   string
	RPS         float64
	Burst       int
	MinRequests uint32
	FailureRate float64
	OpenTimeout time.Duration
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
}

func WithHTTPClient(c *http.Client) func(*Option) {
	return func(o *Option) { o.HTTPClient = c }
}

func WithUserAgent(ua string) func(*Option) {
	return func(o *Option) { o.UserAgent = ua }
}

// WithRate limits requests to rps with the given burst.
func WithRate(rps float64, burst int) func(*Option) {
	return func(o *Option) {
		o.RPS = rps
		o.Burst = burst
	}
}

// WithBreaker trips the breaker when at least minRequests were made in the
// current interval and the failure ratio reaches failureRate. It stays open
// for openTimeout.
func WithBreaker(minRequests uint32, failureRate float64, openTimeout time.Duration) func(*Option) {
	return func(o *Option) {
		o.MinRequests = minRequests
		o.FailureRate = failureRate
		o.OpenTimeout = openTimeout
	}
}

func WithMetrics(m *metrics.Metrics) func(*Option) {
	return func(o *Option) { o.Metrics = m }
}

func WithLogger(l *zap.Logger) func(*Option) {
	return func(o *Option) { o.Logger = l }
}

// Client issues GET requests against one service.
type Client struct {
	service   string
	http      *http.Client
	userAgent string
	limiter   *rate.Limiter
	breaker   *gobreaker.CircuitBreaker
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// New creates a client for service (used in logs, metrics and the breaker name).
func New(service string, opts ...func(*Option)) *Client {
	o := &Option{
		HTTPClient:  &http.Client{Timeout: 60 * time.Second},
		UserAgent:   defaultUserAgent,
		RPS:         10,
		Burst:       5,
		MinRequests: 10,
		FailureRate: 0.6,
		OpenTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}
	logger := o.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named(service)

	limit := rate.Limit(o.RPS)
	if o.RPS <= 0 {
		limit = rate.Inf
	}
	c := &Client{
		service:   service,
		http:      o.HTTPClient,
		userAgent: o.UserAgent,
		limiter:   rate.NewLimiter(limit, max(o.Burst, 1)),
		metrics:   o.Metrics,
		logger:    logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     service,
		Interval: time.Minute,
		Timeout:  o.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < o.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= o.FailureRate
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return c
}

// Get fetches endpoint?query and returns the response body.
func (c *Client) Get(ctx context.Context, endpoint string, query url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	body, err := c.breaker.Execute(func() (interface{}, error) {
		return c.do(ctx, endpoint, query)
	})
	switch {
	case err == nil:
		c.metrics.APIRequest(c.service, "ok")
		return body.([]byte), nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		c.metrics.APIRequest(c.service, "rejected")
	default:
		c.metrics.APIRequest(c.service, "error")
	}
	return nil, fmt.Errorf("%s: %w", c.service, err)
}

func (c *Client) do(ctx context.Context, endpoint string, query url.Values) ([]byte, error) {
	u := endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("request",
		zap.String("url", endpoint),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode)
	}
	return body, nil
}
