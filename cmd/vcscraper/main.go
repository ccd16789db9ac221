package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Coderopp/vc-thesis-scraper/internal/config"
	"github.com/Coderopp/vc-thesis-scraper/internal/monitor"
	"github.com/Coderopp/vc-thesis-scraper/internal/pipeline"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "Path to scraper configuration file")
	firms := flag.String("firms", "", "Comma-separated firm names to scrape (default: all)")
	output := flag.String("output", "", "Override CSV output path")
	maxArticles := flag.Int("max-articles", 0, "Override per-firm article cap")
	incremental := flag.Bool("incremental", false, "Skip articles seen in previous runs")
	dryRun := flag.Bool("dry-run", false, "Scrape without writing to any sink")
	singleURL := flag.String("url", "", "Scrape a single article URL and print the result")
	validate := flag.Bool("validate", false, "Validate the configuration and exit")
	schedule := flag.String("schedule", "", "Run continuously on a cron schedule; pass an expression to override monitor.schedule, or \"config\" to use the configured one")
	since := flag.String("since", "", "Keep only articles published on or after this date (YYYY-MM-DD)")
	until := flag.String("until", "", "Keep only articles published on or before this date (YYYY-MM-DD)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *validate {
		fmt.Printf("configuration valid: %d firms\n", len(cfg.Firms))
		return
	}
	if *output != "" {
		cfg.Output.CSV.Path = *output
	}

	opts := pipeline.Options{
		MaxArticles: *maxArticles,
		Incremental: *incremental,
		DryRun:      *dryRun,
	}
	if *firms != "" {
		opts.Firms = strings.Split(*firms, ",")
	}
	if opts.Since, err = parseDate(*since); err != nil {
		fmt.Fprintf(os.Stderr, "invalid -since: %v\n", err)
		os.Exit(1)
	}
	if opts.Until, err = parseDate(*until); err != nil {
		fmt.Fprintf(os.Stderr, "invalid -until: %v\n", err)
		os.Exit(1)
	}

	logger, err := pipeline.BuildLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to configure logging: %v\n", err)
		os.Exit(1)
	}

	p, err := pipeline.NewFromConfig(*cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise pipeline: %v\n", err)
		os.Exit(1)
	}
	defer p.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch {
	case *singleURL != "":
		if err := scrapeSingle(ctx, p, cfg, *singleURL); err != nil {
			fmt.Fprintf(os.Stderr, "scrape failed: %v\n", err)
			os.Exit(1)
		}
	case *schedule != "":
		applyScheduleOverride(cfg, *schedule)
		mon := monitor.New(*cfg, p, p.State(), logger)
		if err := mon.Start(ctx, opts); err != nil {
			fmt.Fprintf(os.Stderr, "monitor stopped with error: %v\n", err)
			os.Exit(1)
		}
	default:
		report, err := p.Run(ctx, opts)
		if err != nil {
			fmt.Fprintf(os.Stderr, "run failed: %v\n", err)
			os.Exit(1)
		}
		for _, fr := range report.Firms {
			if fr.Err != "" {
				fmt.Fprintf(os.Stderr, "warning: %s: %s\n", fr.Firm, fr.Err)
			}
		}
		fmt.Printf("scraped %d articles from %d firms\n", report.TotalRecords(), len(report.Firms))
	}
}

// scrapeSingle fetches one URL under the matching firm's settings, or a
// synthetic firm when the URL belongs to none of the configured hosts.
func scrapeSingle(ctx context.Context, p *pipeline.Pipeline, cfg *config.Config, raw string) error {
	firm := config.FirmConfig{Name: "ad-hoc"}
	for _, f := range cfg.Firms {
		if strings.Contains(raw, hostOf(f.ListingURL)) {
			firm = f
			break
		}
	}

	rec, err := p.ScrapeURL(ctx, firm, raw)
	if err != nil {
		return err
	}

	fmt.Printf("Firm:      %s\n", rec.Firm)
	fmt.Printf("Title:     %s\n", rec.Title)
	fmt.Printf("URL:       %s\n", rec.URL)
	fmt.Printf("Published: %s\n", rec.Published)
	fmt.Printf("Content:   %d chars\n\n", len(rec.Content))
	fmt.Println(preview(rec.Content, 500))
	return nil
}

// applyScheduleOverride installs a cron expression given on the command line.
// The value "config" keeps the schedule from the configuration file.
func applyScheduleOverride(cfg *config.Config, expr string) {
	if expr != "" && expr != "config" {
		cfg.Monitor.Schedule = expr
	}
}

func hostOf(raw string) string {
	raw = strings.TrimPrefix(raw, "https://")
	raw = strings.TrimPrefix(raw, "http://")
	if i := strings.IndexByte(raw, '/'); i >= 0 {
		raw = raw[:i]
	}
	return raw
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", s)
}
