package extract

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/Coderopp/vc-thesis-scraper/pkg/types"
)

// LargestBlock extracts the article body by stripping structural chrome and
// taking the largest remaining contiguous text block. The heuristic assumes
// the body is the single largest text container, which holds for typical
// blog and news templates; layouts that split the body across siblings need
// the readability strategy instead.
type LargestBlock struct {
	minContentLength int
	dropSelectors    []string
}

// defaultDropSelectors name the structural roles removed before the body
// search: navigation, page furniture, scripts, and ad/cookie-banner markers.
var defaultDropSelectors = []string{
	"script", "style", "noscript", "iframe", "svg",
	"nav", "header", "footer", "aside", "form", "button",
	"[role='navigation']", "[role='banner']", "[role='contentinfo']",
	"[class*='cookie']", "[id*='cookie']",
	"[class*='advert']", "[class*='ad-']", "[id*='ad-']", "[class*='sponsor']",
	"[class*='subscribe']", "[class*='newsletter']",
	"[class*='sidebar']", "[class*='breadcrumb']",
}

// Extract implements Strategy.
func (lb *LargestBlock) Extract(u *url.URL, body []byte) (Extraction, error) {
	target := ""
	if u != nil {
		target = u.String()
	}
	if len(body) == 0 {
		return Extraction{}, types.NewScrapeError(types.KindParseError, target, nil)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Extraction{}, types.NewScrapeError(types.KindParseError, target, err)
	}

	// Title and date come from the full document: the primary heading and
	// date markup often live inside elements the denylist removes.
	title := strings.TrimSpace(doc.Find("h1").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	published := FindDate(doc)

	selectors := defaultDropSelectors
	if len(lb.dropSelectors) > 0 {
		selectors = append(selectors, lb.dropSelectors...)
	}
	for _, sel := range selectors {
		doc.Find(sel).Remove()
	}

	cleaned, err := doc.Html()
	if err != nil {
		return Extraction{}, types.NewScrapeError(types.KindParseError, target, err)
	}

	content := largestBlockText(cleaned)
	content = trimBoilerplate(content)

	if published == "" {
		published = dateFromText(content)
	}

	if len(content) < lb.minContentLength {
		return Extraction{}, types.NewScrapeError(types.KindEmptyContent, target, nil)
	}

	return Extraction{Title: title, Content: content, Published: published}, nil
}

// largestBlockText locates the densest content node and flattens it to text.
// Starting from <body>, it descends while a single child still holds most of
// the remaining text; the node where the text spreads out across children is
// taken as the article body.
func largestBlockText(cleanHTML string) string {
	root, err := html.Parse(strings.NewReader(cleanHTML))
	if err != nil {
		return ""
	}

	node := findElement(root, "body")
	if node == nil {
		node = root
	}

	for {
		total := textLen(node)
		if total == 0 {
			break
		}
		var best *html.Node
		bestLen := 0
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			if child.Type != html.ElementNode {
				continue
			}
			if l := textLen(child); l > bestLen {
				best, bestLen = child, l
			}
		}
		if best == nil || bestLen*5 < total*4 {
			break
		}
		node = best
	}

	return flattenText(node)
}

func findElement(node *html.Node, tag string) *html.Node {
	if node == nil {
		return nil
	}
	if node.Type == html.ElementNode && strings.EqualFold(node.Data, tag) {
		return node
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		if found := findElement(child, tag); found != nil {
			return found
		}
	}
	return nil
}

func textLen(node *html.Node) int {
	if node == nil {
		return 0
	}
	if node.Type == html.TextNode {
		return len(strings.TrimSpace(node.Data))
	}
	total := 0
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		total += textLen(child)
	}
	return total
}

var blockLevelTags = map[string]struct{}{
	"p": {}, "div": {}, "section": {}, "article": {},
	"h1": {}, "h2": {}, "h3": {}, "h4": {}, "h5": {}, "h6": {},
	"li": {}, "blockquote": {}, "figure": {}, "figcaption": {},
	"table": {}, "tr": {}, "br": {},
}

// flattenText walks the node emitting normalized text, with newlines at
// block boundaries so paragraph structure survives into the record.
func flattenText(node *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			text := normalizeWhitespace(n.Data)
			if text == "" {
				return
			}
			if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
				b.WriteString(" ")
			}
			b.WriteString(text)
		case html.ElementNode:
			tag := strings.ToLower(n.Data)
			_, block := blockLevelTags[tag]
			if block {
				ensureNewline(&b)
			}
			for child := n.FirstChild; child != nil; child = child.NextSibling {
				walk(child)
			}
			if block {
				ensureNewline(&b)
			}
		}
	}
	walk(node)
	return collapseBlankLines(b.String())
}

func ensureNewline(b *strings.Builder) {
	if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
		b.WriteString("\n")
	}
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	result := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		result = append(result, line)
	}
	return strings.Join(result, "\n")
}

// Trailing boilerplate commonly left behind by the denylist pass. Matches
// only count when they sit in the final stretch of the text so a body that
// merely mentions "subscribe" is untouched.
var boilerplatePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)copyright.*$`),
	regexp.MustCompile(`(?is)all rights reserved.*$`),
	regexp.MustCompile(`(?is)follow us.*$`),
	regexp.MustCompile(`(?is)share this.*$`),
	regexp.MustCompile(`(?is)get in touch.*$`),
	regexp.MustCompile(`(?is)subscribe to our.*$`),
}

func trimBoilerplate(text string) string {
	for _, pat := range boilerplatePatterns {
		loc := pat.FindStringIndex(text)
		if loc == nil {
			continue
		}
		if loc[0]*10 >= len(text)*6 {
			text = strings.TrimSpace(text[:loc[0]])
		}
	}
	return text
}
