// Package pipeline orchestrates one scraping run across all configured
// firms: discover links, fetch each, extract, deduplicate, deliver to sinks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Coderopp/vc-thesis-scraper/internal/config"
	"github.com/Coderopp/vc-thesis-scraper/internal/dedupe"
	"github.com/Coderopp/vc-thesis-scraper/internal/discover"
	"github.com/Coderopp/vc-thesis-scraper/internal/extract"
	"github.com/Coderopp/vc-thesis-scraper/internal/fetcher"
	"github.com/Coderopp/vc-thesis-scraper/internal/hostpolicy"
	"github.com/Coderopp/vc-thesis-scraper/internal/robots"
	"github.com/Coderopp/vc-thesis-scraper/internal/sink"
	"github.com/Coderopp/vc-thesis-scraper/internal/state"
	"github.com/Coderopp/vc-thesis-scraper/pkg/types"
)

// Fetcher is the polite fetch operation the pipeline depends on.
type Fetcher interface {
	Fetch(ctx context.Context, u *url.URL, policy fetcher.Policy) (*types.Page, error)
}

// Options are the per-run knobs exposed to the CLI surface.
type Options struct {
	// Firms restricts the run to the named firms (case-insensitive). Empty
	// means all configured firms.
	Firms []string
	// MaxArticles overrides each firm's cap when positive.
	MaxArticles int
	// Incremental skips URLs already recorded in the state store.
	Incremental bool
	// DryRun skips sink delivery.
	DryRun bool
	// Since/Until filter records by publication date when non-zero. Records
	// without a date are kept: absence of a date is not evidence of age.
	Since time.Time
	Until time.Time
}

// Pipeline wires the fetcher, discoverer, extractor, deduplicator, and
// sinks. Host politeness state (rate limiter, robots cache) lives inside the
// fetch client and is shared by all firms for the duration of a run.
type Pipeline struct {
	cfg       config.Config
	fetch     Fetcher
	disc      *discover.Discoverer
	extractor extract.Strategy
	output    *sink.Fanout
	seen      *state.Store
	logger    *slog.Logger
}

// New assembles a pipeline from pre-built components. Tests use this to
// substitute fakes; production wiring goes through NewFromConfig.
func New(cfg config.Config, fetch Fetcher, disc *discover.Discoverer, strategy extract.Strategy, output *sink.Fanout, seen *state.Store, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:       cfg,
		fetch:     fetch,
		disc:      disc,
		extractor: strategy,
		output:    output,
		seen:      seen,
		logger:    logger,
	}
}

// NewFromConfig builds the full production pipeline.
func NewFromConfig(cfg config.Config, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}

	transport, err := fetcher.NewHTTPTransport(fetcher.HTTPOptions{
		UserAgent:    cfg.Fetch.UserAgent,
		Headers:      cfg.Fetch.Headers,
		Timeout:      cfg.Fetch.RequestTimeout.Duration,
		MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
		ProxyURL:     cfg.Fetch.ProxyURL,
	})
	if err != nil {
		return nil, fmt.Errorf("http transport: %w", err)
	}

	var renderer fetcher.Renderer
	if cfg.Rendering.Enabled {
		switch strings.ToLower(cfg.Rendering.Engine) {
		case "chromedp", "chrome":
			renderer = fetcher.NewChromedpRenderer(fetcher.RenderOptions{
				Timeout:            cfg.Rendering.Timeout.Duration,
				WaitForSelector:    cfg.Rendering.WaitForSelector,
				UserAgent:          cfg.Fetch.UserAgent,
				MaxBodyBytes:       cfg.Fetch.MaxBodyBytes,
				DisableHeadless:    cfg.Rendering.DisableHeadless,
				ConcurrentSessions: cfg.Rendering.ConcurrentSessions,
			}, logger)
		case "none":
			// Explicit opt-out even if enabled flag toggled.
		default:
			return nil, fmt.Errorf("unsupported rendering engine %q", cfg.Rendering.Engine)
		}
	}

	checker := robots.NewChecker(cfg.Robots, transport.HTTPClient(), logger)
	limiter := hostpolicy.NewLimiter(hostpolicy.RateSettings{
		Requests: cfg.Fetch.RateLimitPerHost.Requests,
		Window:   cfg.Fetch.RateLimitPerHost.Window.Duration,
	})

	client, err := fetcher.NewClient(fetcher.ClientOptions{
		Transport:  transport,
		Renderer:   renderer,
		Robots:     checker,
		Limiter:    limiter,
		MaxRetries: cfg.Fetch.MaxRetries,
		Backoff:    cfg.Fetch.RetryBackoff.Duration,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	strategy, err := extract.New(cfg.Extract)
	if err != nil {
		return nil, err
	}

	var sinks []sink.Sink
	if cfg.Output.CSV.Path != "" {
		sinks = append(sinks, sink.NewCSVSink(cfg.Output.CSV.Path))
	}
	if cfg.Output.Notion.Enabled() {
		sinks = append(sinks, sink.NewNotionSink(cfg.Output.Notion, logger))
	}
	if cfg.Output.Postgres.Enabled() {
		pg, err := sink.NewPostgresSink(cfg.Output.Postgres)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, pg)
	}

	seen, err := state.Load(cfg.State.Path)
	if err != nil {
		return nil, err
	}

	return New(cfg, client, discover.New(logger), strategy, sink.NewFanout(logger, sinks...), seen, logger), nil
}

// Run executes one full scrape. Per-firm and per-article failures are
// recorded in the report and never abort the run; only configuration-level
// problems (no firms selected, sink delivery failure) surface as errors.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*types.RunReport, error) {
	firms := selectFirms(p.cfg.Firms, opts.Firms)
	if len(firms) == 0 {
		return nil, errors.New("no firms selected")
	}

	report := &types.RunReport{StartedAt: time.Now()}

	type firmResult struct {
		records []types.ArticleRecord
		report  types.FirmReport
	}
	results := make([]firmResult, len(firms))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Pipeline.FirmConcurrency)

	for i, firm := range firms {
		i, firm := i, firm
		g.Go(func() error {
			records, fr := p.scrapeFirm(gctx, firm, opts)
			mu.Lock()
			results[i] = firmResult{records: records, report: fr}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	var all []types.ArticleRecord
	for _, res := range results {
		all = append(all, res.records...)
		report.Firms = append(report.Firms, res.report)
	}

	if p.cfg.Dedupe.Enabled {
		before := len(all)
		all = dedupe.Deduplicate(all, dedupe.Options{
			SimilarityThreshold: p.cfg.Dedupe.SimilarityThreshold,
		})
		p.markDuplicates(report, before-len(all), all)
	}

	all = filterByDate(all, opts.Since, opts.Until)
	report.Records = all
	report.FinishedAt = time.Now()

	if p.seen != nil && opts.Incremental {
		if err := p.seen.Save(); err != nil {
			p.logger.Error("state save failed", "error", err)
		}
	}

	if opts.DryRun || p.output == nil {
		p.logSummary(report, opts.DryRun)
		return report, nil
	}
	if err := p.output.Write(ctx, all); err != nil {
		return report, fmt.Errorf("sink delivery: %w", err)
	}
	p.logSummary(report, false)
	return report, nil
}

// ScrapeURL runs the fetch-and-extract path for a single URL under a firm's
// configuration. Used by the CLI's single-URL test mode.
func (p *Pipeline) ScrapeURL(ctx context.Context, firm config.FirmConfig, raw string) (types.ArticleRecord, error) {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() {
		return types.ArticleRecord{}, fmt.Errorf("invalid url %q", raw)
	}

	page, err := p.fetch.Fetch(ctx, u, fetcher.Policy{
		Delay:  firm.RateLimit.Duration,
		Render: p.cfg.Rendering.Enabled,
	})
	if err != nil {
		return types.ArticleRecord{}, err
	}

	ex, err := p.extractor.Extract(pageURL(page, u), page.Body)
	if err != nil {
		return types.ArticleRecord{}, err
	}

	return types.ArticleRecord{
		Firm:      firm.Name,
		Title:     ex.Title,
		URL:       u.String(),
		Content:   ex.Content,
		Published: ex.Published,
		FetchedAt: page.FetchedAt,
	}, nil
}

// State exposes the seen-URL store for pruning jobs.
func (p *Pipeline) State() *state.Store {
	return p.seen
}

// Close releases sink-held resources.
func (p *Pipeline) Close() error {
	return p.output.Close()
}

// scrapeFirm walks one firm from listing fetch to extracted records. Every
// failure is absorbed into the firm report so the rest of the run proceeds.
func (p *Pipeline) scrapeFirm(ctx context.Context, firm config.FirmConfig, opts Options) ([]types.ArticleRecord, types.FirmReport) {
	fr := types.FirmReport{Firm: firm.Name}
	logger := p.logger.With("firm", firm.Name)

	listingURL, err := url.Parse(firm.ListingURL)
	if err != nil {
		fr.Err = fmt.Sprintf("invalid listing url: %v", err)
		return nil, fr
	}

	policy := fetcher.Policy{
		Delay:  firm.RateLimit.Duration,
		Render: p.cfg.Rendering.Enabled,
	}

	listing, err := p.fetch.Fetch(ctx, listingURL, policy)
	if err != nil {
		fr.Err = fmt.Sprintf("listing fetch: %v", err)
		logger.Warn("listing page unreachable", "url", firm.ListingURL, "error", err)
		return nil, fr
	}

	links := p.disc.Discover(firm, pageURL(listing, listingURL), listing.Body)
	if firm.UseSitemap {
		links = discover.Merge(firm.MaxArticles, links, p.discoverFromSitemaps(ctx, firm, listingURL, policy))
	}
	fr.Discovered = len(links)
	if len(links) == 0 {
		logger.Info("no candidate links discovered")
		return nil, fr
	}

	maxArticles := firm.MaxArticles
	if opts.MaxArticles > 0 && opts.MaxArticles < maxArticles {
		maxArticles = opts.MaxArticles
	}

	var records []types.ArticleRecord
	for _, link := range links {
		if ctx.Err() != nil {
			break
		}
		if len(records) >= maxArticles {
			break
		}
		target := link.URL.String()

		if opts.Incremental && p.seen.Seen(target) {
			fr.Skipped++
			continue
		}

		page, err := p.fetch.Fetch(ctx, link.URL, policy)
		if err != nil {
			switch types.KindOf(err) {
			case types.KindRobotsDisallowed:
				fr.Skipped++
				logger.Debug("blocked by robots", "url", target)
			default:
				fr.Failed++
				logger.Warn("article fetch failed", "url", target, "error", err)
			}
			continue
		}
		fr.Fetched++

		ex, err := p.extractor.Extract(pageURL(page, link.URL), page.Body)
		if err != nil {
			switch types.KindOf(err) {
			case types.KindEmptyContent:
				fr.Skipped++
				logger.Debug("content below quality threshold", "url", target)
			default:
				fr.Failed++
				logger.Warn("extraction failed", "url", target, "error", err)
			}
			continue
		}

		rec := types.ArticleRecord{
			Firm:      firm.Name,
			Title:     ex.Title,
			URL:       target,
			Content:   ex.Content,
			Published: ex.Published,
			FetchedAt: page.FetchedAt,
		}

		if opts.Incremental {
			if !p.seen.IsNew(rec) {
				fr.Skipped++
				continue
			}
			p.seen.Record(rec)
		}

		records = append(records, rec)
		fr.Extracted++
		logger.Debug("article extracted", "url", target, "title", ex.Title)
	}

	logger.Info("firm complete",
		"discovered", fr.Discovered,
		"extracted", fr.Extracted,
		"skipped", fr.Skipped,
		"failed", fr.Failed,
	)
	return records, fr
}

// discoverFromSitemaps checks the conventional sitemap locations plus any
// Sitemap directives in robots.txt, one nesting level deep.
func (p *Pipeline) discoverFromSitemaps(ctx context.Context, firm config.FirmConfig, base *url.URL, policy fetcher.Policy) []types.CandidateLink {
	candidates := discover.SitemapURLs(base)

	robotsURL := &url.URL{Scheme: base.Scheme, Host: base.Host, Path: "/robots.txt"}
	if page, err := p.fetch.Fetch(ctx, robotsURL, policy); err == nil {
		candidates = append(candidates, discover.SitemapsFromRobots(page.Body)...)
	}

	var links []types.CandidateLink
	var nested []*url.URL
	for _, sm := range candidates {
		page, err := p.fetch.Fetch(ctx, sm, policy)
		if err != nil {
			continue
		}
		found, more := discover.ParseSitemap(firm, base, page.Body)
		links = append(links, found...)
		nested = append(nested, more...)
	}

	const maxNested = 3
	for i, sm := range nested {
		if i >= maxNested {
			break
		}
		page, err := p.fetch.Fetch(ctx, sm, policy)
		if err != nil {
			continue
		}
		found, _ := discover.ParseSitemap(firm, base, page.Body)
		links = append(links, found...)
	}
	return links
}

func (p *Pipeline) markDuplicates(report *types.RunReport, dropped int, kept []types.ArticleRecord) {
	if dropped <= 0 {
		return
	}
	// Attribute dropped counts to firms by comparing extracted vs surviving.
	surviving := make(map[string]int)
	for _, rec := range kept {
		surviving[rec.Firm]++
	}
	for i := range report.Firms {
		fr := &report.Firms[i]
		if d := fr.Extracted - surviving[fr.Firm]; d > 0 {
			fr.Duplicates = d
		}
	}
	p.logger.Info("deduplication complete", "dropped", dropped)
}

func (p *Pipeline) logSummary(report *types.RunReport, dryRun bool) {
	p.logger.Info("run complete",
		"firms", len(report.Firms),
		"records", len(report.Records),
		"duration", report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond).String(),
		"dry_run", dryRun,
	)
}

func selectFirms(configured []config.FirmConfig, filter []string) []config.FirmConfig {
	if len(filter) == 0 {
		return configured
	}
	wanted := make(map[string]struct{}, len(filter))
	for _, name := range filter {
		wanted[strings.ToLower(strings.TrimSpace(name))] = struct{}{}
	}
	var out []config.FirmConfig
	for _, firm := range configured {
		if _, ok := wanted[strings.ToLower(firm.Name)]; ok {
			out = append(out, firm)
		}
	}
	return out
}

// filterByDate keeps records published inside [since, until]. Records with
// no publication date always survive.
func filterByDate(records []types.ArticleRecord, since, until time.Time) []types.ArticleRecord {
	if since.IsZero() && until.IsZero() {
		return records
	}
	out := records[:0]
	for _, rec := range records {
		if rec.Published == "" {
			out = append(out, rec)
			continue
		}
		published, err := time.Parse("2006-01-02", rec.Published)
		if err != nil {
			out = append(out, rec)
			continue
		}
		if !since.IsZero() && published.Before(since) {
			continue
		}
		if !until.IsZero() && published.After(until) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func pageURL(page *types.Page, fallback *url.URL) *url.URL {
	if page != nil && page.FinalURL != nil {
		return page.FinalURL
	}
	if page != nil && page.URL != nil {
		return page.URL
	}
	return fallback
}
