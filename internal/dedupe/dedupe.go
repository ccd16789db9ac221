// Package dedupe removes exact and near-duplicate article records.
package dedupe

import (
	"strings"
	"unicode"

	"github.com/Coderopp/vc-thesis-scraper/pkg/types"
)

// Options tunes near-duplicate detection.
type Options struct {
	// SimilarityThreshold is the minimum word-bigram Dice coefficient at
	// which two normalized contents count as the same article.
	SimilarityThreshold float64
}

// Deduplicate returns the surviving subset of records in stable order, first
// occurrence winning. Two passes: exact-URL duplicates go first, then
// near-duplicate content within the same firm. Cross-firm identical content
// is preserved deliberately: a syndicated press release from two firms has
// different provenance. The operation is idempotent.
func Deduplicate(records []types.ArticleRecord, opts Options) []types.ArticleRecord {
	threshold := opts.SimilarityThreshold
	if threshold <= 0 || threshold > 1 {
		threshold = 0.9
	}

	seenURL := make(map[string]struct{}, len(records))
	keptByFirm := make(map[string][]bigramSet)
	kept := make([]types.ArticleRecord, 0, len(records))

	for _, rec := range records {
		if _, dup := seenURL[rec.URL]; dup {
			continue
		}

		set := bigrams(Normalize(rec.Content))
		if isNearDuplicate(set, keptByFirm[rec.Firm], threshold) {
			seenURL[rec.URL] = struct{}{}
			continue
		}

		seenURL[rec.URL] = struct{}{}
		keptByFirm[rec.Firm] = append(keptByFirm[rec.Firm], set)
		kept = append(kept, rec)
	}
	return kept
}

// Normalize lowers case, strips punctuation, and collapses whitespace so
// cosmetic differences don't defeat comparison.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

type bigramSet map[string]struct{}

func bigrams(normalized string) bigramSet {
	words := strings.Fields(normalized)
	set := make(bigramSet, len(words))
	if len(words) == 1 {
		set[words[0]] = struct{}{}
		return set
	}
	for i := 0; i+1 < len(words); i++ {
		set[words[i]+" "+words[i+1]] = struct{}{}
	}
	return set
}

func isNearDuplicate(set bigramSet, kept []bigramSet, threshold float64) bool {
	for _, other := range kept {
		if Similarity(set, other) >= threshold {
			return true
		}
	}
	return false
}

// Similarity is the Sørensen–Dice coefficient over word bigrams; identical
// normalized texts score 1, disjoint texts 0. Pairwise comparison is fine
// here because per-firm record counts are bounded by max_articles.
func Similarity(a, b bigramSet) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	shared := 0
	for gram := range small {
		if _, ok := large[gram]; ok {
			shared++
		}
	}
	return 2 * float64(shared) / float64(len(a)+len(b))
}
