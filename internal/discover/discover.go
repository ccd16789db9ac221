// Package discover turns a firm's listing page into candidate article links.
package discover

import (
	"bytes"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/Coderopp/vc-thesis-scraper/internal/config"
	"github.com/Coderopp/vc-thesis-scraper/pkg/types"
)

// Discoverer extracts candidate article links from listing pages using the
// firm's selector and keyword configuration.
type Discoverer struct {
	logger *slog.Logger
}

// New constructs a Discoverer.
func New(logger *slog.Logger) *Discoverer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discoverer{logger: logger}
}

// Discover returns the ordered, deduplicated candidate links found in
// listingHTML, capped at the firm's max_articles. Selectors run in
// configured order and their matches are concatenated before deduplication,
// so the first selector to mention a URL decides its position. No selector
// matching anything is a legitimate zero-result outcome, not an error.
func (d *Discoverer) Discover(firm config.FirmConfig, base *url.URL, listingHTML []byte) []types.CandidateLink {
	if base == nil || len(listingHTML) == 0 {
		return nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(listingHTML))
	if err != nil {
		d.logger.Debug("listing parse failed", "firm", firm.Name, "error", err)
		return nil
	}

	selectors := firm.ArticleSelectors
	if len(selectors) == 0 {
		selectors = defaultSelectors
	}

	now := time.Now()
	seen := make(map[string]struct{})
	links := make([]types.CandidateLink, 0, firm.MaxArticles)

	for _, sel := range selectors {
		if len(links) >= firm.MaxArticles {
			break
		}
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			anchor := s
			if !anchor.Is("a") {
				anchor = s.Find("a[href]").First()
			}
			href, ok := anchor.Attr("href")
			if !ok {
				return true
			}
			href = strings.TrimSpace(href)
			if href == "" || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
				return true
			}

			u, err := base.Parse(href)
			if err != nil {
				return true
			}
			u.Fragment = ""
			scheme := strings.ToLower(u.Scheme)
			if scheme != "http" && scheme != "https" {
				return true
			}

			text := strings.TrimSpace(anchor.Text())
			if !Relevant(u.String(), text, firm) {
				return true
			}

			key := u.String()
			if _, exists := seen[key]; exists {
				return true
			}
			seen[key] = struct{}{}
			links = append(links, types.CandidateLink{
				Firm:         firm.Name,
				URL:          u,
				Text:         text,
				DiscoveredAt: now,
			})
			return len(links) < firm.MaxArticles
		})
	}

	return links
}

// defaultSelectors cover the listing shapes common to VC blog templates,
// used when a firm configures none.
var defaultSelectors = []string{
	"article a", ".post a", ".blog-post a",
	".content a", ".insights a", ".news-item a",
}

// Relevant reports whether a link should be kept: its URL or surrounding
// text must contain at least one keyword (case-insensitive) and none of the
// exclude keywords.
func Relevant(href, text string, firm config.FirmConfig) bool {
	haystack := strings.ToLower(href) + " " + strings.ToLower(text)

	for _, exclude := range firm.ExcludeKeywords {
		if strings.Contains(haystack, exclude) {
			return false
		}
	}
	for _, keyword := range firm.Keywords {
		if strings.Contains(haystack, keyword) {
			return true
		}
	}
	return false
}

// Merge concatenates link sets preserving order, dropping URLs already seen
// and truncating at max. Used to combine selector and sitemap discovery.
func Merge(max int, sets ...[]types.CandidateLink) []types.CandidateLink {
	seen := make(map[string]struct{})
	merged := make([]types.CandidateLink, 0, max)
	for _, set := range sets {
		for _, link := range set {
			if link.URL == nil {
				continue
			}
			key := link.URL.String()
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			merged = append(merged, link)
			if len(merged) >= max {
				return merged
			}
		}
	}
	return merged
}
