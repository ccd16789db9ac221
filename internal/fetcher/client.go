package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Coderopp/vc-thesis-scraper/pkg/types"
)

// RobotsPolicy answers whether a URL may be fetched at all.
type RobotsPolicy interface {
	Allowed(ctx context.Context, target *url.URL) bool
}

// Waiter blocks until per-host politeness constraints are satisfied.
type Waiter interface {
	Wait(ctx context.Context, host string, delay time.Duration) error
}

// Renderer executes JavaScript and returns the rendered DOM.
type Renderer interface {
	Render(ctx context.Context, u *url.URL) (*types.Page, error)
}

// Policy carries the per-request politeness knobs that vary by firm.
type Policy struct {
	// Delay is the firm's minimum gap between requests to the same host.
	Delay time.Duration
	// Render asks for JavaScript rendering when a renderer is configured.
	Render bool
}

// Client is the polite fetcher: it consults the robots policy, waits out the
// host rate limit, then issues the request with retry and exponential
// backoff. Transient failures (network errors, 5xx, 429) are retried up to
// MaxRetries times; other 4xx are returned immediately as not-found.
type Client struct {
	transport  Transport
	renderer   Renderer
	robots     RobotsPolicy
	limiter    Waiter
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger
}

// ClientOptions configures a Client.
type ClientOptions struct {
	Transport  Transport
	Renderer   Renderer
	Robots     RobotsPolicy
	Limiter    Waiter
	MaxRetries int
	Backoff    time.Duration
	Logger     *slog.Logger
}

// NewClient builds a polite fetching client.
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.Transport == nil {
		return nil, errors.New("fetcher client requires a transport")
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 500 * time.Millisecond
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		transport:  opts.Transport,
		renderer:   opts.Renderer,
		robots:     opts.Robots,
		limiter:    opts.Limiter,
		maxRetries: opts.MaxRetries,
		backoff:    opts.Backoff,
		logger:     logger,
	}, nil
}

// Fetch retrieves u subject to robots rules and the host rate limit.
// Errors carry a types.ErrorKind: RobotsDisallowed before any network call,
// NotFound for non-retryable 4xx, Unreachable once retries are exhausted.
func (c *Client) Fetch(ctx context.Context, u *url.URL, policy Policy) (*types.Page, error) {
	if u == nil {
		return nil, errors.New("fetch URL is nil")
	}

	if c.robots != nil && !c.robots.Allowed(ctx, u) {
		return nil, types.NewScrapeError(types.KindRobotsDisallowed, u.String(), nil)
	}

	if policy.Render && c.renderer != nil {
		if err := c.wait(ctx, u, policy); err != nil {
			return nil, err
		}
		page, err := c.renderer.Render(ctx, u)
		if err == nil && len(page.Body) > 0 {
			return page, nil
		}
		c.logger.Warn("renderer failed, falling back to HTTP fetch", "url", u.String(), "error", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, c.retryDelay(attempt, lastErr)); err != nil {
				return nil, types.NewScrapeError(types.KindUnreachable, u.String(), err)
			}
		}

		if err := c.wait(ctx, u, policy); err != nil {
			return nil, types.NewScrapeError(types.KindUnreachable, u.String(), err)
		}

		page, err := c.transport.Get(ctx, u)
		if err != nil {
			if ctx.Err() != nil {
				return nil, types.NewScrapeError(types.KindUnreachable, u.String(), ctx.Err())
			}
			lastErr = err
			c.logger.Debug("fetch attempt failed", "url", u.String(), "attempt", attempt, "error", err)
			continue
		}

		switch {
		case page.StatusCode >= 200 && page.StatusCode < 300:
			if len(page.Body) == 0 {
				lastErr = fmt.Errorf("status %d with empty body", page.StatusCode)
				continue
			}
			return page, nil
		case page.StatusCode == http.StatusTooManyRequests || page.StatusCode >= 500:
			lastErr = &statusError{status: page.StatusCode, retryAfter: retryAfter(page.Headers)}
			c.logger.Debug("transient status, will retry", "url", u.String(), "status", page.StatusCode, "attempt", attempt)
		case page.StatusCode >= 400:
			return nil, types.NewScrapeError(types.KindNotFound, u.String(),
				fmt.Errorf("status %d", page.StatusCode))
		default:
			lastErr = &statusError{status: page.StatusCode}
		}
	}

	return nil, types.NewScrapeError(types.KindUnreachable, u.String(), lastErr)
}

func (c *Client) wait(ctx context.Context, u *url.URL, policy Policy) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx, u.Hostname(), policy.Delay)
}

// retryDelay doubles the base backoff per attempt; a Retry-After hint from
// the server wins when it asks for longer.
func (c *Client) retryDelay(attempt int, lastErr error) time.Duration {
	delay := c.backoff << (attempt - 1)
	var se *statusError
	if errors.As(lastErr, &se) && se.retryAfter > delay {
		delay = se.retryAfter
	}
	return delay
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type statusError struct {
	status     int
	retryAfter time.Duration
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d", e.status)
}

// retryAfter parses a Retry-After header given either as delay seconds or an
// HTTP date.
func retryAfter(h http.Header) time.Duration {
	if h == nil {
		return 0
	}
	raw := h.Get("Retry-After")
	if raw == "" {
		return 0
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(raw); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
