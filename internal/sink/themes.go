package sink

import (
	"regexp"
	"strings"
)

// themeKeywords maps investment themes to the vocabulary that signals them.
// Detection is plain case-insensitive substring matching; tagging exists to
// make the Notion database filterable, not to classify precisely. Order is
// fixed so tags come out the same across runs.
var themeKeywords = []struct {
	theme    string
	keywords []string
}{
	{"AI/ML", []string{"artificial intelligence", "machine learning", " ai ", "deep learning", "neural network", "llm"}},
	{"Fintech", []string{"fintech", "payments", "banking", "lending", "insurance"}},
	{"Healthcare", []string{"healthcare", "medical", "biotech", "pharma", "telemedicine"}},
	{"SaaS", []string{"saas", "software as a service", "enterprise software"}},
	{"E-commerce", []string{"ecommerce", "e-commerce", "marketplace", "retail"}},
	{"EdTech", []string{"edtech", "online courses", "education"}},
	{"Gaming", []string{"gaming", "esports"}},
	{"Mobility", []string{"mobility", "logistics", "ride-sharing", "transportation"}},
	{"Crypto/Web3", []string{"crypto", "blockchain", "web3", "defi"}},
	{"Developer Tools", []string{"developer tools", "devtools", "infrastructure", " api "}},
}

// DetectThemes returns the investment themes whose keywords appear in the
// content, in a fixed order, or ["General"] when none match.
func DetectThemes(content string) []string {
	haystack := " " + strings.ToLower(content) + " "
	var detected []string
	for _, entry := range themeKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(haystack, kw) {
				detected = append(detected, entry.theme)
				break
			}
		}
	}
	if len(detected) == 0 {
		return []string{"General"}
	}
	return detected
}

// Patterns that announce a portfolio company in investment writeups.
var companyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)investment in ([A-Z][A-Za-z0-9 ]{2,40})`),
	regexp.MustCompile(`(?i)backing ([A-Z][A-Za-z0-9 ]{2,40})`),
	regexp.MustCompile(`(?i)funding ([A-Z][A-Za-z0-9 ]{2,40})`),
	regexp.MustCompile(`(?i)partnering with ([A-Z][A-Za-z0-9 ]{2,40})`),
}

var companyStopwords = map[string]struct{}{
	"the": {}, "and": {}, "our": {}, "new": {}, "this": {}, "a": {}, "an": {},
}

// ExtractCompany guesses the portfolio company named in an announcement,
// returning "" when nothing plausible is found.
func ExtractCompany(title, content string) string {
	text := title + " " + truncateUTF8(content, 500)

	for _, pat := range companyPatterns {
		m := pat.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		company := strings.TrimSpace(m[1])
		if len(company) <= 2 {
			continue
		}
		if _, stop := companyStopwords[strings.ToLower(company)]; stop {
			continue
		}
		return company
	}
	return ""
}
