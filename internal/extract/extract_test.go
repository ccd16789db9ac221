package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"

	"github.com/Coderopp/vc-thesis-scraper/internal/config"
	"github.com/Coderopp/vc-thesis-scraper/pkg/types"
)

func newLargestBlock(t *testing.T, minLen int) Strategy {
	t.Helper()
	s, err := New(config.ExtractConfig{Strategy: "largest_block", MinContentLength: minLen})
	if err != nil {
		t.Fatalf("expected strategy, got %v", err)
	}
	return s
}

func articleURL(t *testing.T) *url.URL {
	t.Helper()
	u, err := url.Parse("https://example.com/thesis/fintech")
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func paragraphs(n int) string {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&sb, "<p>Paragraph %d of the investment thesis, covering market size, competition, and the team's edge in detail.</p>", i)
	}
	return sb.String()
}

func TestExtractArticleBody(t *testing.T) {
	page := `<html><head><title>Site | Fintech Thesis</title></head><body>
		<nav><a href="/">Home</a><a href="/about">About</a></nav>
		<header>Example Ventures</header>
		<article>
			<h1>Our Fintech Thesis</h1>
			` + paragraphs(5) + `
		</article>
		<footer>Copyright 2024 Example Ventures. All rights reserved.</footer>
	</body></html>`

	ex, err := newLargestBlock(t, 100).Extract(articleURL(t), []byte(page))
	if err != nil {
		t.Fatalf("expected extraction, got %v", err)
	}
	if ex.Title != "Our Fintech Thesis" {
		t.Errorf("expected h1 title, got %q", ex.Title)
	}
	if strings.Contains(ex.Content, "Home") || strings.Contains(ex.Content, "Copyright") {
		t.Errorf("expected nav and footer removed, got %q", ex.Content)
	}
	if !strings.Contains(ex.Content, "Paragraph 4") {
		t.Errorf("expected full body kept, got %q", ex.Content)
	}
}

func TestExtractTitleFallsBackToTitleTag(t *testing.T) {
	page := `<html><head><title>Fallback Title</title></head><body><div>` +
		paragraphs(3) + `</div></body></html>`
	ex, err := newLargestBlock(t, 100).Extract(articleURL(t), []byte(page))
	if err != nil {
		t.Fatalf("expected extraction, got %v", err)
	}
	if ex.Title != "Fallback Title" {
		t.Errorf("expected title tag fallback, got %q", ex.Title)
	}
}

func TestExtractShortContentIsEmptyContentError(t *testing.T) {
	page := `<html><body><nav>Home About Contact</nav><div>Too short.</div></body></html>`
	_, err := newLargestBlock(t, 300).Extract(articleURL(t), []byte(page))
	if types.KindOf(err) != types.KindEmptyContent {
		t.Fatalf("expected empty_content, got %v", err)
	}
}

func TestExtractEmptyBodyIsParseError(t *testing.T) {
	_, err := newLargestBlock(t, 300).Extract(articleURL(t), nil)
	if types.KindOf(err) != types.KindParseError {
		t.Fatalf("expected parse_error, got %v", err)
	}
}

func TestExtractDateFromTimeElement(t *testing.T) {
	page := `<html><body><article><h1>T</h1>
		<time datetime="2024-03-15T10:00:00Z">March 15, 2024</time>
		` + paragraphs(3) + `</article></body></html>`
	ex, err := newLargestBlock(t, 100).Extract(articleURL(t), []byte(page))
	if err != nil {
		t.Fatalf("expected extraction, got %v", err)
	}
	if ex.Published != "2024-03-15" {
		t.Errorf("expected 2024-03-15, got %q", ex.Published)
	}
}

func TestExtractDateFromMetaTag(t *testing.T) {
	page := `<html><head>
		<meta property="article:published_time" content="2024-07-01T08:30:00+05:30">
	</head><body><article><h1>T</h1>` + paragraphs(3) + `</article></body></html>`
	ex, err := newLargestBlock(t, 100).Extract(articleURL(t), []byte(page))
	if err != nil {
		t.Fatalf("expected extraction, got %v", err)
	}
	if ex.Published != "2024-07-01" {
		t.Errorf("expected 2024-07-01, got %q", ex.Published)
	}
}

func TestExtractDateFromJSONLD(t *testing.T) {
	page := `<html><head><script type="application/ld+json">
		{"@type":"Article","datePublished":"2023-11-20","author":"x"}
	</script></head><body><article><h1>T</h1>` + paragraphs(3) + `</article></body></html>`
	ex, err := newLargestBlock(t, 100).Extract(articleURL(t), []byte(page))
	if err != nil {
		t.Fatalf("expected extraction, got %v", err)
	}
	if ex.Published != "2023-11-20" {
		t.Errorf("expected 2023-11-20, got %q", ex.Published)
	}
}

func TestExtractDateFromBodyText(t *testing.T) {
	page := `<html><body><article><h1>T</h1>
		<p>Published on January 5, 2024 by the investment team.</p>
		` + paragraphs(3) + `</article></body></html>`
	ex, err := newLargestBlock(t, 100).Extract(articleURL(t), []byte(page))
	if err != nil {
		t.Fatalf("expected extraction, got %v", err)
	}
	if ex.Published != "2024-01-05" {
		t.Errorf("expected 2024-01-05, got %q", ex.Published)
	}
}

func TestExtractMissingDateIsEmpty(t *testing.T) {
	page := `<html><body><article><h1>T</h1>` + paragraphs(3) + `</article></body></html>`
	ex, err := newLargestBlock(t, 100).Extract(articleURL(t), []byte(page))
	if err != nil {
		t.Fatalf("expected extraction, got %v", err)
	}
	if ex.Published != "" {
		t.Errorf("expected empty date, got %q", ex.Published)
	}
}

func TestTrimBoilerplateOnlyAtTail(t *testing.T) {
	body := strings.Repeat("Real paragraph content about the thesis. ", 30)
	tail := "Subscribe to our newsletter for updates."
	trimmed := trimBoilerplate(body + tail)
	if strings.Contains(trimmed, "Subscribe to our") {
		t.Error("expected trailing subscribe block removed")
	}

	early := "Subscribe to our thinking: we believe markets reward patience. " +
		strings.Repeat("More real analysis follows here with substance. ", 30)
	if got := trimBoilerplate(early); got != early {
		t.Error("expected early mention of subscribe to be left alone")
	}
}

func TestFindDatePrefersTimeElement(t *testing.T) {
	page := `<html><body>
		<time datetime="2024-01-01">Jan 1</time>
		<meta name="date" content="2023-01-01">
	</body></html>`
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader([]byte(page)))
	if err != nil {
		t.Fatal(err)
	}
	if got := FindDate(doc); got != "2024-01-01" {
		t.Errorf("expected time element to win, got %q", got)
	}
}

func TestNewRejectsUnknownStrategy(t *testing.T) {
	if _, err := New(config.ExtractConfig{Strategy: "magic"}); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
}
