// Package state persists which article URLs have been scraped so incremental
// runs skip pages whose content has not changed.
package state

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Coderopp/vc-thesis-scraper/pkg/types"
)

// Entry records one previously scraped URL.
type Entry struct {
	Hash      string    `json:"hash"`
	Firm      string    `json:"firm"`
	ScrapedAt time.Time `json:"scraped_at"`
}

type fileFormat struct {
	SeenURLs map[string]Entry `json:"seen_urls"`
	LastRun  *time.Time       `json:"last_run,omitempty"`
}

// Store tracks seen URLs across runs, backed by a JSON file. Safe for
// concurrent use by firms running in parallel.
type Store struct {
	mu      sync.Mutex
	path    string
	entries map[string]Entry
	lastRun *time.Time
}

// Load opens the store at path; a missing file yields an empty store.
func Load(path string) (*Store, error) {
	store := &Store{
		path:    path,
		entries: make(map[string]Entry),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return store, nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}

	var ff fileFormat
	if err := json.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("decode state file %s: %w", path, err)
	}
	if ff.SeenURLs != nil {
		store.entries = ff.SeenURLs
	}
	store.lastRun = ff.LastRun
	return store, nil
}

// Signature derives a content fingerprint for change detection: title, URL,
// and the leading slice of the body, so trivial footer edits on a page don't
// register as new content.
func Signature(rec types.ArticleRecord) string {
	content := rec.Content
	if len(content) > 500 {
		content = content[:500]
	}
	sum := md5.Sum([]byte(rec.Title + rec.URL + content))
	return hex.EncodeToString(sum[:])
}

// Seen reports whether the URL has been scraped before, regardless of
// whether its content changed since.
func (s *Store) Seen(url string) bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[url]
	return ok
}

// IsNew reports whether the record is unseen or its content signature
// differs from the stored one.
func (s *Store) IsNew(rec types.ArticleRecord) bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[rec.URL]
	if !ok {
		return true
	}
	return entry.Hash != Signature(rec)
}

// Record marks the record as scraped now.
func (s *Store) Record(rec types.ArticleRecord) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[rec.URL] = Entry{
		Hash:      Signature(rec),
		Firm:      rec.Firm,
		ScrapedAt: time.Now(),
	}
}

// Len reports the number of tracked URLs.
func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Prune drops entries older than the retention window and reports how many
// were removed, keeping the state file from growing without bound.
func (s *Store) Prune(retention time.Duration) int {
	if s == nil || retention <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-retention)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for url, entry := range s.entries {
		if entry.ScrapedAt.Before(cutoff) {
			delete(s.entries, url)
			removed++
		}
	}
	return removed
}

// Save writes the store atomically (temp file plus rename) so an interrupted
// run never leaves a truncated state file.
func (s *Store) Save() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	now := time.Now()
	s.lastRun = &now
	ff := fileFormat{SeenURLs: s.entries, LastRun: s.lastRun}
	data, err := json.MarshalIndent(ff, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create state dir: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
