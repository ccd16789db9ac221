package robots

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/Coderopp/vc-thesis-scraper/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() config.RobotsConfig {
	return config.RobotsConfig{
		Respect:   true,
		OnError:   "allow",
		UserAgent: "test-bot",
	}
}

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("bad url %q: %v", raw, err)
	}
	return u
}

func TestAllowedHonoursDisallowRules(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/robots.txt" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		io.WriteString(w, "User-agent: *\nDisallow: /private/\n")
	}))
	defer srv.Close()

	checker := NewChecker(testConfig(), srv.Client(), testLogger())

	if !checker.Allowed(context.Background(), mustParse(t, srv.URL+"/blog/post")) {
		t.Error("expected /blog/post to be allowed")
	}
	if checker.Allowed(context.Background(), mustParse(t, srv.URL+"/private/page")) {
		t.Error("expected /private/page to be disallowed")
	}
}

func TestAllowedCachesPerHost(t *testing.T) {
	fetches := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches++
		io.WriteString(w, "User-agent: *\nDisallow:\n")
	}))
	defer srv.Close()

	checker := NewChecker(testConfig(), srv.Client(), testLogger())
	for i := 0; i < 5; i++ {
		checker.Allowed(context.Background(), mustParse(t, srv.URL+"/page"))
	}
	if fetches != 1 {
		t.Errorf("expected 1 robots fetch for 5 checks, got %d", fetches)
	}
}

func TestAllowedCachesFetchFailures(t *testing.T) {
	fetches := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	checker := NewChecker(testConfig(), srv.Client(), testLogger())
	for i := 0; i < 3; i++ {
		checker.Allowed(context.Background(), mustParse(t, srv.URL+"/page"))
	}
	if fetches != 1 {
		t.Errorf("expected failure to be cached after 1 fetch, got %d", fetches)
	}
}

func TestOnErrorPolicy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	open := NewChecker(testConfig(), srv.Client(), testLogger())
	if !open.Allowed(context.Background(), mustParse(t, srv.URL+"/page")) {
		t.Error("expected fail-open policy to allow on fetch error")
	}

	cfg := testConfig()
	cfg.OnError = "deny"
	closed := NewChecker(cfg, srv.Client(), testLogger())
	if closed.Allowed(context.Background(), mustParse(t, srv.URL+"/page")) {
		t.Error("expected fail-closed policy to deny on fetch error")
	}
}

func TestOverridesSkipRobots(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "User-agent: *\nDisallow: /\n")
	}))
	defer srv.Close()

	target := mustParse(t, srv.URL+"/anything")

	cfg := testConfig()
	cfg.Overrides = []string{target.Hostname()}
	checker := NewChecker(cfg, srv.Client(), testLogger())
	if !checker.Allowed(context.Background(), target) {
		t.Error("expected override host to bypass robots rules")
	}
}

func TestRespectDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Respect = false
	checker := NewChecker(cfg, nil, testLogger())
	if !checker.Allowed(context.Background(), mustParse(t, "https://example.com/anything")) {
		t.Error("expected everything allowed when respect is off")
	}
}

func TestPurgeForcesRefetch(t *testing.T) {
	fetches := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches++
		io.WriteString(w, "User-agent: *\nDisallow:\n")
	}))
	defer srv.Close()

	target := mustParse(t, srv.URL+"/page")
	checker := NewChecker(testConfig(), srv.Client(), testLogger())
	checker.Allowed(context.Background(), target)
	checker.Purge(target.Host)
	checker.Allowed(context.Background(), target)
	if fetches != 2 {
		t.Errorf("expected refetch after purge, got %d fetches", fetches)
	}
}
