package robots

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"

	"github.com/Coderopp/vc-thesis-scraper/internal/config"
)

// Checker evaluates robots.txt rules with per-host caching. One robots.txt
// fetch happens per distinct host per run; the parsed rule set is reused for
// every URL on that host.
//
// When the robots.txt fetch itself fails the outcome is governed by the
// configured on_error policy: "allow" (fail-open) or "deny" (fail-closed).
type Checker struct {
	client    *http.Client
	userAgent string
	ttl       time.Duration
	respect   bool
	failOpen  bool
	logger    *slog.Logger

	mu        sync.RWMutex
	cache     map[string]cacheEntry
	overrides map[string]struct{}
}

type cacheEntry struct {
	fetched time.Time
	rules   *robotstxt.RobotsData
	err     error
}

// NewChecker constructs a robots checker from configuration.
func NewChecker(cfg config.RobotsConfig, client *http.Client, logger *slog.Logger) *Checker {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}

	ttl := cfg.CacheTTL.Duration
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}

	overrides := make(map[string]struct{}, len(cfg.Overrides))
	for _, host := range cfg.Overrides {
		host = strings.ToLower(strings.TrimSpace(host))
		if host == "" {
			continue
		}
		overrides[host] = struct{}{}
	}

	return &Checker{
		client:    client,
		userAgent: cfg.UserAgent,
		ttl:       ttl,
		respect:   cfg.Respect,
		failOpen:  cfg.OnError != "deny",
		logger:    logger,
		cache:     make(map[string]cacheEntry),
		overrides: overrides,
	}
}

// Allowed reports whether the target URL is permitted for the configured
// user agent.
func (c *Checker) Allowed(ctx context.Context, target *url.URL) bool {
	if target == nil || !target.IsAbs() {
		return false
	}
	if !c.respect {
		return true
	}

	host := strings.ToLower(target.Hostname())
	if _, ok := c.overrides[host]; ok {
		return true
	}

	rules, err := c.rules(ctx, target)
	if err != nil {
		if !c.failOpen {
			c.logger.Debug("robots fetch failed, denying by policy", "host", host, "error", err)
		}
		return c.failOpen
	}

	group := rules.FindGroup(c.userAgent)
	if group == nil {
		group = rules.FindGroup("*")
		if group == nil {
			return true
		}
	}
	return group.Test(target.Path)
}

// rules returns the cached rule set for the target's host, fetching
// https://{host}/robots.txt on first use. Fetch failures are cached too so a
// dead host costs one request per run, not one per URL.
func (c *Checker) rules(ctx context.Context, target *url.URL) (*robotstxt.RobotsData, error) {
	host := strings.ToLower(target.Host)

	c.mu.RLock()
	entry, ok := c.cache[host]
	c.mu.RUnlock()
	if ok && time.Since(entry.fetched) < c.ttl {
		return entry.rules, entry.err
	}

	rules, err := c.fetch(ctx, target)

	c.mu.Lock()
	c.cache[host] = cacheEntry{fetched: time.Now(), rules: rules, err: err}
	c.mu.Unlock()

	return rules, err
}

func (c *Checker) fetch(ctx context.Context, target *url.URL) (*robotstxt.RobotsData, error) {
	robotsURL := target.Scheme + "://" + target.Host + "/robots.txt"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build robots request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots.txt: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("robots returned status %d", resp.StatusCode)
	}

	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("parse robots.txt: %w", err)
	}
	return data, nil
}

// Purge evicts cached robots rules for a host.
func (c *Checker) Purge(host string) {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return
	}
	c.mu.Lock()
	delete(c.cache, host)
	c.mu.Unlock()
}
