package speculative

import (
	"strings"
	"unicode"
)

// Consensus measures agreement among independently generated responses as
// the average pairwise Jaccard similarity of their keyword sets. A single
// response has consensus 1.0; the measure is symmetric and order-independent.
func Consensus(responses []string) float64 {
	if len(responses) <= 1 {
		return 1.0
	}

	sets := make([]map[string]struct{}, len(responses))
	for i, r := range responses {
		sets[i] = keywordSet(r)
	}

	var sum float64
	var pairs int
	for i := 0; i < len(sets); i++ {
		for j := i + 1; j < len(sets); j++ {
			sum += jaccard(sets[i], sets[j])
			pairs++
		}
	}
	return sum / float64(pairs)
}

// keywordSet extracts the significant words (>4 chars) of a response.
func keywordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.TrimFunc(w, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		})
		if len(w) > 4 {
			set[w] = struct{}{}
		}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	var intersection int
	for w := range a {
		if _, ok := b[w]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
