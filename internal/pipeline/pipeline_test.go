package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Coderopp/vc-thesis-scraper/internal/config"
	"github.com/Coderopp/vc-thesis-scraper/internal/discover"
	"github.com/Coderopp/vc-thesis-scraper/internal/extract"
	"github.com/Coderopp/vc-thesis-scraper/internal/fetcher"
	"github.com/Coderopp/vc-thesis-scraper/internal/sink"
	"github.com/Coderopp/vc-thesis-scraper/internal/state"
	"github.com/Coderopp/vc-thesis-scraper/pkg/types"
)

// fakeFetcher serves canned pages by URL, recording every request. Firms
// fetch concurrently, so the request log is mutex-protected.
type fakeFetcher struct {
	pages    map[string]string
	failures map[string]error

	mu       sync.Mutex
	requests []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, u *url.URL, policy fetcher.Policy) (*types.Page, error) {
	key := u.String()
	f.mu.Lock()
	f.requests = append(f.requests, key)
	f.mu.Unlock()
	if err, ok := f.failures[key]; ok {
		return nil, err
	}
	body, ok := f.pages[key]
	if !ok {
		return nil, types.NewScrapeError(types.KindNotFound, key, fmt.Errorf("status 404"))
	}
	return &types.Page{
		URL:        u,
		FinalURL:   u,
		Body:       []byte(body),
		StatusCode: 200,
		FetchedAt:  time.Now(),
	}, nil
}

// articleHTML builds a page whose body repeats the given sentence, so two
// pages built from different sentences stay well below the near-duplicate
// threshold.
func articleHTML(title, sentence string, pars int) string {
	var sb strings.Builder
	sb.WriteString("<html><body><article><h1>" + title + "</h1>")
	for i := 0; i < pars; i++ {
		fmt.Fprintf(&sb, "<p>Part %d. %s</p>", i, sentence)
	}
	sb.WriteString("</article></body></html>")
	return sb.String()
}

const fintechBody = "Embedded finance turns every software company into a financial services distributor with better unit economics."

const climateBody = "Industrial heat electrification is finally cheaper than gas in most geographies and the retrofit market is enormous."

const secondBody = "Vertical marketplaces win by owning the workflow first and monetizing the transaction second."

func testConfig(statePath string) config.Config {
	cfg := config.Default()
	cfg.State.Path = statePath
	cfg.Firms = []config.FirmConfig{
		{
			Name:             "Alpha Ventures",
			ListingURL:       "https://alpha.example.com/blog",
			Keywords:         []string{"thesis"},
			ExcludeKeywords:  []string{"about"},
			ArticleSelectors: []string{".posts a"},
			MaxArticles:      10,
		},
		{
			Name:             "Beta Capital",
			ListingURL:       "https://beta.example.com/insights",
			Keywords:         []string{"thesis"},
			ArticleSelectors: []string{".posts a"},
			MaxArticles:      10,
		},
	}
	return cfg
}

func testPipeline(t *testing.T, cfg config.Config, fetch Fetcher, out *sink.Fanout) *Pipeline {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	strategy, err := extract.New(config.ExtractConfig{Strategy: "largest_block", MinContentLength: 100})
	if err != nil {
		t.Fatal(err)
	}
	seen, err := state.Load(cfg.State.Path)
	if err != nil {
		t.Fatal(err)
	}
	return New(cfg, fetch, discover.New(logger), strategy, out, seen, logger)
}

type captureSink struct {
	records []types.ArticleRecord
}

func (s *captureSink) Name() string { return "capture" }
func (s *captureSink) Write(ctx context.Context, records []types.ArticleRecord) error {
	s.records = append([]types.ArticleRecord(nil), records...)
	return nil
}

func alphaListing() string {
	return `<div class="posts">
		<a href="/thesis/fintech">Fintech thesis</a>
		<a href="/thesis/missing">Another thesis</a>
		<a href="/about">About us</a>
	</div>`
}

func TestRunEndToEnd(t *testing.T) {
	fetch := &fakeFetcher{
		pages: map[string]string{
			"https://alpha.example.com/blog":           alphaListing(),
			"https://alpha.example.com/thesis/fintech": articleHTML("Fintech Thesis", fintechBody, 4),
			"https://beta.example.com/insights":        `<div class="posts"><a href="/thesis/climate">Climate thesis</a></div>`,
			"https://beta.example.com/thesis/climate":  articleHTML("Climate Thesis", climateBody, 4),
		},
	}

	out := &captureSink{}
	cfg := testConfig(filepath.Join(t.TempDir(), "state.json"))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := testPipeline(t, cfg, fetch, sink.NewFanout(logger, out))

	report, err := p.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("expected run to succeed, got %v", err)
	}

	if got := report.TotalRecords(); got != 2 {
		t.Fatalf("expected 2 records, got %d", got)
	}
	if len(out.records) != 2 {
		t.Fatalf("expected sink delivery of 2 records, got %d", len(out.records))
	}
	if out.records[0].Firm != "Alpha Ventures" || out.records[1].Firm != "Beta Capital" {
		t.Errorf("expected configured firm order, got %s then %s", out.records[0].Firm, out.records[1].Firm)
	}

	var alpha types.FirmReport
	for _, fr := range report.Firms {
		if fr.Firm == "Alpha Ventures" {
			alpha = fr
		}
	}
	if alpha.Discovered != 2 {
		t.Errorf("expected 2 discovered for alpha, got %d", alpha.Discovered)
	}
	if alpha.Extracted != 1 {
		t.Errorf("expected 1 extracted for alpha, got %d", alpha.Extracted)
	}
	if alpha.Failed != 1 {
		t.Errorf("expected the 404 article counted as failed, got %d", alpha.Failed)
	}
}

func TestRunIsolatesFirmFailures(t *testing.T) {
	fetch := &fakeFetcher{
		pages: map[string]string{
			"https://beta.example.com/insights":       `<div class="posts"><a href="/thesis/climate">Climate thesis</a></div>`,
			"https://beta.example.com/thesis/climate": articleHTML("Climate Thesis", climateBody, 4),
		},
		failures: map[string]error{
			"https://alpha.example.com/blog": types.NewScrapeError(types.KindUnreachable, "https://alpha.example.com/blog", fmt.Errorf("connection refused")),
		},
	}

	cfg := testConfig(filepath.Join(t.TempDir(), "state.json"))
	p := testPipeline(t, cfg, fetch, nil)

	report, err := p.Run(context.Background(), Options{DryRun: true})
	if err != nil {
		t.Fatalf("expected run to survive a dead firm, got %v", err)
	}
	if got := report.TotalRecords(); got != 1 {
		t.Fatalf("expected 1 record from the healthy firm, got %d", got)
	}
	for _, fr := range report.Firms {
		if fr.Firm == "Alpha Ventures" && fr.Err == "" {
			t.Error("expected alpha's listing failure recorded in its report")
		}
	}
}

func TestRunRobotsDisallowedCountsAsSkipped(t *testing.T) {
	fetch := &fakeFetcher{
		pages: map[string]string{
			"https://alpha.example.com/blog": alphaListing(),
		},
		failures: map[string]error{
			"https://alpha.example.com/thesis/fintech": types.NewScrapeError(types.KindRobotsDisallowed, "https://alpha.example.com/thesis/fintech", nil),
			"https://alpha.example.com/thesis/missing": types.NewScrapeError(types.KindRobotsDisallowed, "https://alpha.example.com/thesis/missing", nil),
		},
	}

	cfg := testConfig(filepath.Join(t.TempDir(), "state.json"))
	cfg.Firms = cfg.Firms[:1]
	p := testPipeline(t, cfg, fetch, nil)

	report, err := p.Run(context.Background(), Options{DryRun: true})
	if err != nil {
		t.Fatal(err)
	}
	fr := report.Firms[0]
	if fr.Skipped != 2 {
		t.Errorf("expected 2 robots skips, got %d", fr.Skipped)
	}
	if fr.Failed != 0 {
		t.Errorf("expected no failures, got %d", fr.Failed)
	}
}

func TestRunFirmFilterAndMaxOverride(t *testing.T) {
	fetch := &fakeFetcher{
		pages: map[string]string{
			"https://alpha.example.com/blog":           alphaListing(),
			"https://alpha.example.com/thesis/fintech": articleHTML("Fintech Thesis", fintechBody, 4),
			"https://alpha.example.com/thesis/missing": articleHTML("Second Thesis", secondBody, 4),
		},
	}

	cfg := testConfig(filepath.Join(t.TempDir(), "state.json"))
	p := testPipeline(t, cfg, fetch, nil)

	report, err := p.Run(context.Background(), Options{
		Firms:       []string{"alpha ventures"},
		MaxArticles: 1,
		DryRun:      true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Firms) != 1 {
		t.Fatalf("expected only the filtered firm, got %d", len(report.Firms))
	}
	if got := report.TotalRecords(); got != 1 {
		t.Errorf("expected max override to cap at 1 record, got %d", got)
	}
}

func TestRunNoFirmsSelected(t *testing.T) {
	cfg := testConfig(filepath.Join(t.TempDir(), "state.json"))
	p := testPipeline(t, cfg, &fakeFetcher{}, nil)
	if _, err := p.Run(context.Background(), Options{Firms: []string{"nope"}}); err == nil {
		t.Fatal("expected error when the firm filter matches nothing")
	}
}

func TestRunIncrementalSkipsSeenURLs(t *testing.T) {
	pages := map[string]string{
		"https://alpha.example.com/blog":           alphaListing(),
		"https://alpha.example.com/thesis/fintech": articleHTML("Fintech Thesis", fintechBody, 4),
		"https://alpha.example.com/thesis/missing": articleHTML("Second Thesis", secondBody, 4),
	}
	statePath := filepath.Join(t.TempDir(), "state.json")

	cfg := testConfig(statePath)
	cfg.Firms = cfg.Firms[:1]

	first := testPipeline(t, cfg, &fakeFetcher{pages: pages}, nil)
	report, err := first.Run(context.Background(), Options{Incremental: true, DryRun: true})
	if err != nil {
		t.Fatal(err)
	}
	if got := report.TotalRecords(); got != 2 {
		t.Fatalf("expected 2 records on first run, got %d", got)
	}

	second := testPipeline(t, cfg, &fakeFetcher{pages: pages}, nil)
	report, err = second.Run(context.Background(), Options{Incremental: true, DryRun: true})
	if err != nil {
		t.Fatal(err)
	}
	if got := report.TotalRecords(); got != 0 {
		t.Errorf("expected second incremental run to skip everything, got %d", got)
	}
	if report.Firms[0].Skipped != 2 {
		t.Errorf("expected 2 skips on second run, got %d", report.Firms[0].Skipped)
	}
}

func TestRunDateFilterKeepsUndatedRecords(t *testing.T) {
	records := []types.ArticleRecord{
		{URL: "a", Published: "2024-01-01"},
		{URL: "b", Published: ""},
		{URL: "c", Published: "2022-06-01"},
	}
	since, _ := time.Parse("2006-01-02", "2023-01-01")

	kept := filterByDate(records, since, time.Time{})
	if len(kept) != 2 {
		t.Fatalf("expected 2 survivors, got %d", len(kept))
	}
	if kept[0].URL != "a" || kept[1].URL != "b" {
		t.Errorf("expected dated-in-range and undated kept, got %v", kept)
	}
}

func TestScrapeURL(t *testing.T) {
	fetch := &fakeFetcher{
		pages: map[string]string{
			"https://alpha.example.com/thesis/fintech": articleHTML("Fintech Thesis", fintechBody, 4),
		},
	}
	cfg := testConfig(filepath.Join(t.TempDir(), "state.json"))
	p := testPipeline(t, cfg, fetch, nil)

	rec, err := p.ScrapeURL(context.Background(), cfg.Firms[0], "https://alpha.example.com/thesis/fintech")
	if err != nil {
		t.Fatalf("expected extraction, got %v", err)
	}
	if rec.Title != "Fintech Thesis" {
		t.Errorf("expected extracted title, got %q", rec.Title)
	}
	if rec.Firm != "Alpha Ventures" {
		t.Errorf("expected firm provenance, got %q", rec.Firm)
	}
}
