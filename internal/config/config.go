package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the full configuration required to run the scraper.
type Config struct {
	Firms     []FirmConfig    `yaml:"firms"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Robots    RobotsConfig    `yaml:"robots"`
	Extract   ExtractConfig   `yaml:"extract"`
	Dedupe    DedupeConfig    `yaml:"dedupe"`
	Rendering RenderingConfig `yaml:"rendering"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Output    OutputConfig    `yaml:"output"`
	State     StateConfig     `yaml:"state"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// FirmConfig describes one venture-capital website source. Immutable once
// loaded.
type FirmConfig struct {
	Name             string   `yaml:"name"`
	ListingURL       string   `yaml:"listing_url"`
	Keywords         []string `yaml:"keywords"`
	ExcludeKeywords  []string `yaml:"exclude_keywords"`
	ArticleSelectors []string `yaml:"article_selectors"`
	MaxArticles      int      `yaml:"max_articles"`
	RateLimit        Duration `yaml:"rate_limit"`
	UseSitemap       bool     `yaml:"use_sitemap"`
}

// FetchConfig controls the HTTP client, retries, and per-host throttling.
type FetchConfig struct {
	UserAgent        string            `yaml:"user_agent"`
	Headers          map[string]string `yaml:"headers"`
	RequestTimeout   Duration          `yaml:"request_timeout"`
	MaxBodyBytes     int64             `yaml:"max_body_bytes"`
	MaxRetries       int               `yaml:"max_retries"`
	RetryBackoff     Duration          `yaml:"retry_backoff"`
	ProxyURL         string            `yaml:"proxy_url"`
	RateLimitPerHost RateLimitConfig   `yaml:"rate_limit_per_host"`
}

// RateLimitConfig applies a token bucket per host on top of firm delays.
type RateLimitConfig struct {
	Requests int      `yaml:"requests"`
	Window   Duration `yaml:"window"`
}

// Enabled reports whether per-host token-bucket limiting is active.
func (r RateLimitConfig) Enabled() bool {
	return r.Requests > 0 && !r.Window.IsZero()
}

// RobotsConfig configures robots.txt handling. OnError names the policy when
// the robots.txt fetch itself fails: "allow" (fail-open, the default) or
// "deny" (fail-closed). Both are defensible; the choice is deliberately a
// configuration knob rather than a hardcoded behaviour.
type RobotsConfig struct {
	Respect   bool     `yaml:"respect"`
	OnError   string   `yaml:"on_error"`
	UserAgent string   `yaml:"user_agent"`
	CacheTTL  Duration `yaml:"cache_ttl"`
	Overrides []string `yaml:"overrides"`
}

// ExtractConfig tunes article body extraction.
type ExtractConfig struct {
	Strategy         string   `yaml:"strategy"`
	MinContentLength int      `yaml:"min_content_length"`
	DropSelectors    []string `yaml:"drop_selectors"`
}

// DedupeConfig tunes near-duplicate detection.
type DedupeConfig struct {
	Enabled             bool    `yaml:"enabled"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
}

// RenderingConfig controls optional JavaScript rendering for listing pages
// that build their article lists client-side.
type RenderingConfig struct {
	Enabled            bool     `yaml:"enabled"`
	Engine             string   `yaml:"engine"`
	Timeout            Duration `yaml:"timeout"`
	WaitForSelector    string   `yaml:"wait_for_selector"`
	ConcurrentSessions int      `yaml:"concurrent_sessions"`
	DisableHeadless    bool     `yaml:"disable_headless"`
}

// PipelineConfig controls run-wide orchestration.
type PipelineConfig struct {
	FirmConcurrency int      `yaml:"firm_concurrency"`
	FirmDelay       Duration `yaml:"firm_delay"`
}

// OutputConfig selects and configures the output sinks.
type OutputConfig struct {
	CSV      CSVConfig      `yaml:"csv"`
	Notion   NotionConfig   `yaml:"notion"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// CSVConfig configures the CSV sink.
type CSVConfig struct {
	Path string `yaml:"path"`
}

// NotionConfig configures the Notion sink. Token and DatabaseID support
// ${VAR} expansion so secrets can live in the environment.
type NotionConfig struct {
	Token      string `yaml:"token"`
	DatabaseID string `yaml:"database_id"`
}

// Enabled reports whether the Notion sink should be constructed.
func (n NotionConfig) Enabled() bool {
	return n.Token != "" && n.DatabaseID != ""
}

// PostgresConfig configures the relational sink.
type PostgresConfig struct {
	DSN             string   `yaml:"dsn"`
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
	AutoMigrate     bool     `yaml:"auto_migrate"`
}

// Enabled reports whether the Postgres sink should be constructed.
func (p PostgresConfig) Enabled() bool {
	return p.DSN != ""
}

// StateConfig configures the incremental seen-URL store.
type StateConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

// MonitorConfig configures scheduled monitoring runs.
type MonitorConfig struct {
	Schedule      string `yaml:"schedule"`
	PruneSchedule string `yaml:"prune_schedule"`
}

// LoggingConfig selects log verbosity and format.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Structured bool   `yaml:"structured"`
}

// Default returns a Config populated with sensible defaults.
func Default() Config {
	return Config{
		Fetch: FetchConfig{
			UserAgent:      "vc-thesis-bot/1.0 (+https://github.com/Coderopp/vc-thesis-scraper)",
			Headers:        map[string]string{},
			RequestTimeout: DurationFrom(15 * time.Second),
			MaxBodyBytes:   6 * 1024 * 1024,
			MaxRetries:     3,
			RetryBackoff:   DurationFrom(500 * time.Millisecond),
		},
		Robots: RobotsConfig{
			Respect:   true,
			OnError:   "allow",
			UserAgent: "vc-thesis-bot/1.0",
			CacheTTL:  DurationFrom(6 * time.Hour),
			Overrides: []string{},
		},
		Extract: ExtractConfig{
			Strategy:         "largest_block",
			MinContentLength: 300,
		},
		Dedupe: DedupeConfig{
			Enabled:             true,
			SimilarityThreshold: 0.9,
		},
		Rendering: RenderingConfig{
			Enabled:            false,
			Engine:             "chromedp",
			Timeout:            DurationFrom(20 * time.Second),
			ConcurrentSessions: 2,
		},
		Pipeline: PipelineConfig{
			FirmConcurrency: 4,
			FirmDelay:       DurationFrom(2 * time.Second),
		},
		Output: OutputConfig{
			CSV: CSVConfig{Path: "output/vc_articles.csv"},
		},
		State: StateConfig{
			Path:          "data/scraper_state.json",
			RetentionDays: 90,
		},
		Monitor: MonitorConfig{
			Schedule:      "0 9 * * *",
			PruneSchedule: "0 2 * * 0",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Structured: true,
		},
	}
}

// Load reads, merges, and validates configuration from a YAML file.
func Load(path string) (*Config, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer fh.Close()
	return LoadFromReader(fh)
}

// LoadFromReader decodes configuration from an arbitrary reader.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces required invariants for the scraper configuration.
func (c Config) Validate() error {
	if len(c.Firms) == 0 {
		return errors.New("at least one firm must be configured")
	}
	seen := make(map[string]struct{}, len(c.Firms))
	for i, firm := range c.Firms {
		if firm.Name == "" {
			return fmt.Errorf("firm %d has empty name", i)
		}
		key := strings.ToLower(firm.Name)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("duplicate firm name %q", firm.Name)
		}
		seen[key] = struct{}{}
		if firm.ListingURL == "" {
			return fmt.Errorf("firm %s has empty listing_url", firm.Name)
		}
		u, err := url.Parse(firm.ListingURL)
		if err != nil || !u.IsAbs() || u.Host == "" {
			return fmt.Errorf("firm %s has invalid listing_url %q", firm.Name, firm.ListingURL)
		}
		if firm.MaxArticles <= 0 {
			return fmt.Errorf("firm %s must set max_articles > 0 (got %d)", firm.Name, firm.MaxArticles)
		}
		if firm.RateLimit.Duration < 0 {
			return fmt.Errorf("firm %s has negative rate_limit", firm.Name)
		}
		if len(firm.Keywords) == 0 {
			return fmt.Errorf("firm %s must set at least one keyword", firm.Name)
		}
	}
	if c.Fetch.MaxRetries < 0 {
		return fmt.Errorf("fetch.max_retries must be >= 0 (got %d)", c.Fetch.MaxRetries)
	}
	if c.Fetch.MaxBodyBytes <= 0 {
		return fmt.Errorf("fetch.max_body_bytes must be > 0 (got %d)", c.Fetch.MaxBodyBytes)
	}
	if strings.TrimSpace(c.Fetch.UserAgent) == "" {
		return errors.New("fetch.user_agent must be set")
	}
	switch c.Robots.OnError {
	case "allow", "deny":
	default:
		return fmt.Errorf("robots.on_error must be \"allow\" or \"deny\" (got %q)", c.Robots.OnError)
	}
	if c.Robots.Respect && strings.TrimSpace(c.Robots.UserAgent) == "" {
		return errors.New("robots.user_agent must be set when robots.respect is true")
	}
	switch c.Extract.Strategy {
	case "largest_block", "readability":
	default:
		return fmt.Errorf("unsupported extract.strategy %q", c.Extract.Strategy)
	}
	if c.Extract.MinContentLength < 0 {
		return fmt.Errorf("extract.min_content_length must be >= 0 (got %d)", c.Extract.MinContentLength)
	}
	if t := c.Dedupe.SimilarityThreshold; t <= 0 || t > 1 {
		return fmt.Errorf("dedupe.similarity_threshold must be in (0, 1] (got %g)", t)
	}
	if c.Pipeline.FirmConcurrency <= 0 {
		return fmt.Errorf("pipeline.firm_concurrency must be > 0 (got %d)", c.Pipeline.FirmConcurrency)
	}
	if c.Rendering.Enabled {
		switch strings.ToLower(c.Rendering.Engine) {
		case "chromedp", "chrome", "none":
		default:
			return fmt.Errorf("unsupported rendering.engine %q", c.Rendering.Engine)
		}
	}
	if c.State.RetentionDays < 0 {
		return fmt.Errorf("state.retention_days must be >= 0 (got %d)", c.State.RetentionDays)
	}
	return nil
}

func (c *Config) normalise() {
	for i := range c.Firms {
		firm := &c.Firms[i]
		firm.Name = strings.TrimSpace(firm.Name)
		firm.ListingURL = strings.TrimSpace(firm.ListingURL)
		firm.Keywords = dedupeLower(firm.Keywords)
		firm.ExcludeKeywords = dedupeLower(firm.ExcludeKeywords)
		if firm.MaxArticles == 0 {
			firm.MaxArticles = 10
		}
		if firm.RateLimit.IsZero() {
			firm.RateLimit = DurationFrom(2 * time.Second)
		}
		selectors := make([]string, 0, len(firm.ArticleSelectors))
		for _, sel := range firm.ArticleSelectors {
			sel = strings.TrimSpace(sel)
			if sel != "" {
				selectors = append(selectors, sel)
			}
		}
		firm.ArticleSelectors = selectors
	}
	c.Fetch.UserAgent = strings.TrimSpace(c.Fetch.UserAgent)
	c.Robots.UserAgent = strings.TrimSpace(c.Robots.UserAgent)
	c.Robots.OnError = strings.ToLower(strings.TrimSpace(c.Robots.OnError))
	if c.Robots.OnError == "" {
		c.Robots.OnError = "allow"
	}
	if len(c.Robots.Overrides) > 0 {
		c.Robots.Overrides = sortedDedupeLower(c.Robots.Overrides)
	}
	c.Extract.Strategy = strings.ToLower(strings.TrimSpace(c.Extract.Strategy))

	// Secrets may be referenced as ${VAR} so they never land in the file.
	c.Output.Notion.Token = os.ExpandEnv(c.Output.Notion.Token)
	c.Output.Notion.DatabaseID = os.ExpandEnv(c.Output.Notion.DatabaseID)
	c.Output.Postgres.DSN = os.ExpandEnv(c.Output.Postgres.DSN)
}

// dedupeLower trims, lowercases, and removes duplicates while preserving the
// configured order. Keyword matching is case-insensitive, so lowering here
// lets matchers compare directly.
func dedupeLower(values []string) []string {
	unique := make(map[string]struct{}, len(values))
	cleaned := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, ok := unique[v]; ok {
			continue
		}
		unique[v] = struct{}{}
		cleaned = append(cleaned, v)
	}
	return cleaned
}

func sortedDedupeLower(values []string) []string {
	cleaned := dedupeLower(values)
	sort.Strings(cleaned)
	return cleaned
}
