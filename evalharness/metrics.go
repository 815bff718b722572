package evalharness

import (
	"math"
	"strings"
	"unicode"
)

// Metric functions are pure over (candidate, reference) text so each can be
// tested in isolation before it is wired into the aggregate report.

// Tokenize lowercases and splits text on non-alphanumeric runes. All lexical
// metrics share this tokenization so their scores are comparable.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func fMeasure(precision, recall float64) float64 {
	if precision+recall == 0 {
		return 0
	}
	return 2 * precision * recall / (precision + recall)
}

// Rouge1 is the unigram-overlap F-measure. Overlap counts are clipped to the
// reference's count per token.
func Rouge1(candidate, reference string) float64 {
	candTokens, refTokens := Tokenize(candidate), Tokenize(reference)
	if len(candTokens) == 0 || len(refTokens) == 0 {
		return 0
	}

	refCounts := make(map[string]int, len(refTokens))
	for _, token := range refTokens {
		refCounts[token]++
	}

	overlap := 0
	for _, token := range candTokens {
		if refCounts[token] > 0 {
			refCounts[token]--
			overlap++
		}
	}

	precision := float64(overlap) / float64(len(candTokens))
	recall := float64(overlap) / float64(len(refTokens))
	return fMeasure(precision, recall)
}

// RougeL is the F-measure over the longest common subsequence of tokens, so
// it rewards in-order agreement rather than bag-of-words overlap.
func RougeL(candidate, reference string) float64 {
	candTokens, refTokens := Tokenize(candidate), Tokenize(reference)
	if len(candTokens) == 0 || len(refTokens) == 0 {
		return 0
	}

	lcs := lcsLength(candTokens, refTokens)
	precision := float64(lcs) / float64(len(candTokens))
	recall := float64(lcs) / float64(len(refTokens))
	return fMeasure(precision, recall)
}

func lcsLength(a, b []string) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
			} else {
				curr[j] = max(prev[j], curr[j-1])
			}
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

// TokenF1 is precision/recall over the sets of distinct tokens, ignoring
// repetition entirely.
func TokenF1(candidate, reference string) float64 {
	candSet := tokenSet(candidate)
	refSet := tokenSet(reference)
	if len(candSet) == 0 || len(refSet) == 0 {
		return 0
	}

	common := 0
	for token := range candSet {
		if _, ok := refSet[token]; ok {
			common++
		}
	}

	precision := float64(common) / float64(len(candSet))
	recall := float64(common) / float64(len(refSet))
	return fMeasure(precision, recall)
}

func tokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, token := range Tokenize(text) {
		set[token] = struct{}{}
	}
	return set
}

// CorpusBleu computes corpus-level BLEU over up to 4-gram precisions with +1
// smoothing and a brevity penalty. Length sensitivity is inherent: a model
// that generates longer but still relevant text scores lower. That is a known
// property of the metric and is reported as-is.
func CorpusBleu(candidates, references []string) float64 {
	if len(candidates) == 0 || len(candidates) != len(references) {
		return 0
	}

	const maxOrder = 4
	matches := make([]int, maxOrder)
	totals := make([]int, maxOrder)
	candLength, refLength := 0, 0

	for i := range candidates {
		candTokens := Tokenize(candidates[i])
		refTokens := Tokenize(references[i])
		candLength += len(candTokens)
		refLength += len(refTokens)

		for order := 1; order <= maxOrder; order++ {
			candGrams := ngramCounts(candTokens, order)
			refGrams := ngramCounts(refTokens, order)

			for gram, count := range candGrams {
				totals[order-1] += count
				matches[order-1] += min(count, refGrams[gram])
			}
		}
	}

	if candLength == 0 {
		return 0
	}

	logPrecisionSum := 0.0
	for order := 0; order < maxOrder; order++ {
		logPrecisionSum += math.Log(float64(matches[order]+1) / float64(totals[order]+1))
	}
	geometricMean := math.Exp(logPrecisionSum / maxOrder)

	brevity := 1.0
	if candLength < refLength {
		brevity = math.Exp(1 - float64(refLength)/float64(candLength))
	}

	return brevity * geometricMean
}

func ngramCounts(tokens []string, order int) map[string]int {
	counts := make(map[string]int)
	for i := 0; i+order <= len(tokens); i++ {
		counts[strings.Join(tokens[i:i+order], " ")]++
	}
	return counts
}
