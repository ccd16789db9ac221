package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Coderopp/vc-thesis-scraper/pkg/types"
)

func testRecord() types.ArticleRecord {
	return types.ArticleRecord{
		Firm:    "Example Ventures",
		Title:   "Our Fintech Thesis",
		URL:     "https://example.com/thesis/fintech",
		Content: "We believe embedded finance is the defining shift of the decade.",
	}
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	store, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err != nil {
		t.Fatalf("expected empty store for missing file, got %v", err)
	}
	if store.Len() != 0 {
		t.Errorf("expected empty store, got %d entries", store.Len())
	}
}

func TestLoadRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for corrupt state file")
	}
}

func TestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	store, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	rec := testRecord()
	store.Record(rec)
	if err := store.Save(); err != nil {
		t.Fatalf("expected save to create parent dirs, got %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reloaded.Seen(rec.URL) {
		t.Error("expected URL remembered across save/load")
	}
	if reloaded.IsNew(rec) {
		t.Error("expected unchanged record to not be new")
	}
}

func TestIsNewDetectsContentChange(t *testing.T) {
	store, err := Load(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatal(err)
	}

	rec := testRecord()
	store.Record(rec)
	if store.IsNew(rec) {
		t.Error("expected recorded article to not be new")
	}

	rec.Content = "A substantially rewritten thesis with different conclusions."
	if !store.IsNew(rec) {
		t.Error("expected changed content to register as new")
	}
	if !store.Seen(rec.URL) {
		t.Error("expected URL still seen despite content change")
	}
}

func TestSignatureIgnoresDeepContentChanges(t *testing.T) {
	rec := testRecord()
	long := make([]byte, 600)
	for i := range long {
		long[i] = 'a'
	}
	rec.Content = string(long)
	before := Signature(rec)

	rec.Content = string(long) + " trailing footer edit"
	if Signature(rec) != before {
		t.Error("expected edits past the leading slice to not change the signature")
	}
}

func TestPrune(t *testing.T) {
	store, err := Load(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatal(err)
	}

	old := testRecord()
	store.Record(old)
	store.mu.Lock()
	entry := store.entries[old.URL]
	entry.ScrapedAt = time.Now().Add(-100 * 24 * time.Hour)
	store.entries[old.URL] = entry
	store.mu.Unlock()

	fresh := testRecord()
	fresh.URL = "https://example.com/thesis/recent"
	store.Record(fresh)

	removed := store.Prune(90 * 24 * time.Hour)
	if removed != 1 {
		t.Fatalf("expected 1 pruned entry, got %d", removed)
	}
	if store.Seen(old.URL) {
		t.Error("expected stale entry removed")
	}
	if !store.Seen(fresh.URL) {
		t.Error("expected fresh entry kept")
	}

	if store.Prune(0) != 0 {
		t.Error("expected zero retention to prune nothing")
	}
}

func TestNilStoreIsSafe(t *testing.T) {
	var store *Store
	if store.Seen("x") {
		t.Error("expected nil store to report unseen")
	}
	if !store.IsNew(testRecord()) {
		t.Error("expected nil store to report new")
	}
	store.Record(testRecord())
	if err := store.Save(); err != nil {
		t.Errorf("expected nil store save to be a no-op, got %v", err)
	}
}
