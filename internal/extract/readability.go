package extract

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"github.com/Coderopp/vc-thesis-scraper/pkg/types"
)

// Readability delegates body extraction to go-readability's scoring model.
// Useful for multi-column layouts where the largest-block heuristic picks
// the wrong container.
type Readability struct {
	minContentLength int
}

// Extract implements Strategy.
func (r *Readability) Extract(u *url.URL, body []byte) (Extraction, error) {
	target := ""
	if u != nil {
		target = u.String()
	}
	if len(body) == 0 {
		return Extraction{}, types.NewScrapeError(types.KindParseError, target, nil)
	}

	article, err := readability.FromReader(bytes.NewReader(body), u)
	if err != nil {
		return Extraction{}, types.NewScrapeError(types.KindParseError, target, err)
	}

	content := strings.TrimSpace(article.TextContent)
	content = trimBoilerplate(content)

	// Readability does not surface date markup; scan the original document.
	published := ""
	if doc, derr := goquery.NewDocumentFromReader(bytes.NewReader(body)); derr == nil {
		published = FindDate(doc)
	}
	if published == "" {
		published = dateFromText(content)
	}

	if len(content) < r.minContentLength {
		return Extraction{}, types.NewScrapeError(types.KindEmptyContent, target, nil)
	}

	return Extraction{
		Title:     strings.TrimSpace(article.Title),
		Content:   content,
		Published: published,
	}, nil
}
