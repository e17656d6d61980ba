// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package agent

import (
	"strings"
	"unicode"

	"github.com/pdiddy/gap-engine/pkg/types"
)

// stopwords are stripped before token-set comparison so convergence
// tracks substance rather than phrasing glue.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "but": {}, "by": {}, "for": {}, "from": {}, "has": {},
	"have": {}, "in": {}, "is": {}, "it": {}, "its": {}, "of": {},
	"on": {}, "or": {}, "that": {}, "the": {}, "this": {}, "to": {},
	"was": {}, "were": {}, "which": {}, "with": {}, "more": {},
	"not": {}, "can": {}, "could": {}, "should": {}, "would": {},
}

// tokenize lowercases, splits on non-alphanumeric runes, and strips
// stopwords.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if _, skip := stopwords[f]; skip {
			continue
		}
		out = append(out, f)
	}
	return out
}

// gapTokenSet unions the token sets of the top ranked gaps, at most
// limit of them. One aggregate set per side, not per-pair.
func gapTokenSet(gaps []types.RankedGap, limit int) map[string]struct{} {
	if limit > 0 && len(gaps) > limit {
		gaps = gaps[:limit]
	}
	set := make(map[string]struct{})
	for _, g := range gaps {
		for _, tok := range tokenize(g.Description) {
			set[tok] = struct{}{}
		}
	}
	return set
}

// jaccard is |A∩B| / |A∪B|. Two empty sets count as identical.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	intersection := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// convergence compares this iteration's top ranked gaps with the
// previous iteration's. Without a previous iteration there is nothing
// to compare against, so the verdict is defined as false with zero
// similarity.
func convergence(current []types.RankedGap, prev *types.MetaOutput, limit int, threshold float64) (bool, float64) {
	if prev == nil {
		return false, 0
	}
	sim := jaccard(gapTokenSet(current, limit), gapTokenSet(prev.RankedGaps, limit))
	return sim >= threshold, sim
}
