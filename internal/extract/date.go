package extract

import (
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Date markup patterns tried in order of reliability: explicit time
// elements, structured-data meta tags, then JSON-LD.
var metaDateSelectors = []struct {
	selector string
	attr     string
}{
	{"time[datetime]", "datetime"},
	{"meta[property='article:published_time']", "content"},
	{"meta[name='article:published_time']", "content"},
	{"meta[itemprop='datePublished']", "content"},
	{"meta[name='date']", "content"},
	{"meta[name='publish-date']", "content"},
}

var jsonLDDate = regexp.MustCompile(`"datePublished"\s*:\s*"([^"]+)"`)

// FindDate scans a document for publication-date markup and returns an ISO
// date, or "" when none is present.
func FindDate(doc *goquery.Document) string {
	for _, pattern := range metaDateSelectors {
		value, ok := doc.Find(pattern.selector).First().Attr(pattern.attr)
		if !ok {
			continue
		}
		if iso := parseDate(strings.TrimSpace(value)); iso != "" {
			return iso
		}
	}

	found := ""
	doc.Find("script[type='application/ld+json']").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		m := jsonLDDate.FindStringSubmatch(s.Text())
		if m == nil {
			return true
		}
		if iso := parseDate(m[1]); iso != "" {
			found = iso
			return false
		}
		return true
	})
	return found
}

var textDatePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`),
	regexp.MustCompile(`\b((?:January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{1,2},?\s+\d{4})\b`),
	regexp.MustCompile(`\b(\d{1,2}\s+(?:January|February|March|April|May|June|July|August|September|October|November|December),?\s+\d{4})\b`),
	regexp.MustCompile(`\b((?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)\s+\d{1,2},?\s+\d{4})\b`),
}

// dateFromText looks for a date-like substring near the top of the body, the
// spot where blog templates print the byline.
func dateFromText(text string) string {
	head := text
	if len(head) > 400 {
		head = head[:400]
	}
	for _, pat := range textDatePatterns {
		m := pat.FindStringSubmatch(head)
		if m == nil {
			continue
		}
		if iso := parseDate(m[1]); iso != "" {
			return iso
		}
	}
	return ""
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"January 2, 2006",
	"January 2 2006",
	"2 January, 2006",
	"2 January 2006",
	"Jan 2, 2006",
	"Jan 2 2006",
}

func parseDate(raw string) string {
	if raw == "" {
		return ""
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return ""
}
