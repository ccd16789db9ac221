// Package extract turns a fetched article page into a cleaned record.
package extract

import (
	"fmt"
	"net/url"

	"github.com/Coderopp/vc-thesis-scraper/internal/config"
)

// Extraction is the cleaned result for one article page. Published is an ISO
// date (2006-01-02) or empty when no publication date was found; a missing
// date is not an error.
type Extraction struct {
	Title     string
	Content   string
	Published string
}

// Strategy extracts title, body text, and publication date from article
// HTML. Strategies are interchangeable so the body heuristic can be swapped
// without touching the rest of the pipeline.
type Strategy interface {
	Extract(u *url.URL, body []byte) (Extraction, error)
}

// New builds the configured extraction strategy.
func New(cfg config.ExtractConfig) (Strategy, error) {
	minLen := cfg.MinContentLength
	if minLen <= 0 {
		minLen = 300
	}
	switch cfg.Strategy {
	case "", "largest_block":
		return &LargestBlock{minContentLength: minLen, dropSelectors: cfg.DropSelectors}, nil
	case "readability":
		return &Readability{minContentLength: minLen}, nil
	default:
		return nil, fmt.Errorf("unsupported extraction strategy %q", cfg.Strategy)
	}
}
