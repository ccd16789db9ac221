package discover

import (
	"bufio"
	"bytes"
	"encoding/xml"
	"net/url"
	"strings"
	"time"

	"github.com/Coderopp/vc-thesis-scraper/internal/config"
	"github.com/Coderopp/vc-thesis-scraper/pkg/types"
)

// SitemapURLs returns the conventional sitemap locations for a site. The
// caller fetches them; missing sitemaps are a normal outcome.
func SitemapURLs(base *url.URL) []*url.URL {
	if base == nil {
		return nil
	}
	root := &url.URL{Scheme: base.Scheme, Host: base.Host}
	out := make([]*url.URL, 0, 2)
	for _, path := range []string{"/sitemap.xml", "/sitemap_index.xml"} {
		u := *root
		u.Path = path
		out = append(out, &u)
	}
	return out
}

type sitemapDoc struct {
	XMLName xml.Name     `xml:""`
	URLs    []sitemapLoc `xml:"url"`
	Maps    []sitemapLoc `xml:"sitemap"`
}

type sitemapLoc struct {
	Loc string `xml:"loc"`
}

// ParseSitemap extracts keyword-relevant article links from a sitemap or
// sitemap-index document. Nested sitemap locations are returned separately
// so the caller can fetch them (one level deep is enough in practice).
func ParseSitemap(firm config.FirmConfig, base *url.URL, body []byte) ([]types.CandidateLink, []*url.URL) {
	var doc sitemapDoc
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, nil
	}

	now := time.Now()
	var links []types.CandidateLink
	for _, entry := range doc.URLs {
		loc := strings.TrimSpace(entry.Loc)
		if loc == "" {
			continue
		}
		u, err := url.Parse(loc)
		if err != nil || !u.IsAbs() {
			continue
		}
		if base != nil && !strings.EqualFold(u.Hostname(), base.Hostname()) {
			continue
		}
		if !Relevant(u.String(), "", firm) {
			continue
		}
		links = append(links, types.CandidateLink{
			Firm:         firm.Name,
			URL:          u,
			DiscoveredAt: now,
		})
	}

	var nested []*url.URL
	for _, entry := range doc.Maps {
		loc := strings.TrimSpace(entry.Loc)
		if loc == "" {
			continue
		}
		if u, err := url.Parse(loc); err == nil && u.IsAbs() {
			nested = append(nested, u)
		}
	}
	return links, nested
}

// SitemapsFromRobots scans a robots.txt body for Sitemap directives.
func SitemapsFromRobots(body []byte) []*url.URL {
	var out []*url.URL
	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if len(line) < len("sitemap:") || !strings.EqualFold(line[:len("sitemap:")], "sitemap:") {
			continue
		}
		loc := strings.TrimSpace(line[len("sitemap:"):])
		if u, err := url.Parse(loc); err == nil && u.IsAbs() {
			out = append(out, u)
		}
	}
	return out
}
