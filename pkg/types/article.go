package types

import (
	"net/http"
	"net/url"
	"time"
)

// CandidateLink is a URL discovered on a firm's listing page, not yet fetched.
type CandidateLink struct {
	Firm         string
	URL          *url.URL
	Text         string
	DiscoveredAt time.Time
}

// ArticleRecord is one cleaned article extracted from a fetched page.
// Published holds an ISO date (2006-01-02) or is empty when no publication
// date could be found.
type ArticleRecord struct {
	Firm      string
	Title     string
	URL       string
	Content   string
	Published string
	FetchedAt time.Time
}

// Page represents a fetched HTTP response body plus transport metadata.
type Page struct {
	URL         *url.URL
	FinalURL    *url.URL
	Body        []byte
	ContentType string
	StatusCode  int
	Headers     http.Header
	FetchedAt   time.Time
	Rendered    bool
}

// FirmReport summarises a single firm's outcome within one run. A firm that
// failed entirely still appears here with zero records.
type FirmReport struct {
	Firm       string
	Discovered int
	Fetched    int
	Extracted  int
	Skipped    int
	Duplicates int
	Failed     int
	Err        string
}

// RunReport is the result of one pipeline run: the surviving records after
// deduplication plus per-firm accounting.
type RunReport struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Records    []ArticleRecord
	Firms      []FirmReport
}

// TotalRecords reports the number of surviving records across all firms.
func (r *RunReport) TotalRecords() int {
	if r == nil {
		return 0
	}
	return len(r.Records)
}
