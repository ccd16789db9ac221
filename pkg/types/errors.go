package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies scrape failures so the pipeline can decide whether to
// retry, skip, or record them.
type ErrorKind string

const (
	// KindRobotsDisallowed means robots.txt forbids fetching the URL.
	KindRobotsDisallowed ErrorKind = "robots_disallowed"
	// KindUnreachable means the URL could not be fetched after exhausting
	// retries (network errors, timeouts, persistent 5xx).
	KindUnreachable ErrorKind = "unreachable"
	// KindNotFound means the server answered with a non-retryable 4xx.
	KindNotFound ErrorKind = "not_found"
	// KindEmptyContent means extraction produced less text than the quality
	// threshold allows.
	KindEmptyContent ErrorKind = "empty_content"
	// KindParseError means the HTML was malformed beyond recovery.
	KindParseError ErrorKind = "parse_error"
)

// ScrapeError carries a classified failure for one URL.
type ScrapeError struct {
	Kind ErrorKind
	URL  string
	Err  error
}

func (e *ScrapeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.URL, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.URL)
}

func (e *ScrapeError) Unwrap() error {
	return e.Err
}

// NewScrapeError wraps err with a kind and the URL it concerns.
func NewScrapeError(kind ErrorKind, url string, err error) *ScrapeError {
	return &ScrapeError{Kind: kind, URL: url, Err: err}
}

// KindOf extracts the error kind from err, or "" when err carries none.
func KindOf(err error) ErrorKind {
	var se *ScrapeError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}
