// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package agent

import (
	"hash/fnv"
	"math"
	"strings"

	"github.com/pdiddy/gap-engine/pkg/types"
)

// fingerprintDim is the width of the token-hash vector attached to
// every micro output. The vector only feeds thematic similarity in the
// meso fallback grouping; it is not an embedding and not searchable.
const fingerprintDim = 64

// structuralMarkers are section cues whose presence suggests a
// conventionally structured paper. The fraction found doubles as the
// agreement signal for micro confidence.
var structuralMarkers = []string{
	"abstract",
	"introduction",
	"method",
	"experiment",
	"evaluation",
	"results",
	"discussion",
	"limitation",
	"related work",
	"conclusion",
}

// structuralSignal returns the fraction of structural markers present
// in the text. Simple substring checks, not NLP.
func structuralSignal(text string) float64 {
	lower := strings.ToLower(text)
	found := 0
	for _, m := range structuralMarkers {
		if strings.Contains(lower, m) {
			found++
		}
	}
	return float64(found) / float64(len(structuralMarkers))
}

// fingerprint hashes tokens into a fixed-width vector, L2-normalized.
func fingerprint(text string) []float64 {
	vec := make([]float64, fingerprintDim)
	for _, tok := range tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		vec[h.Sum32()%fingerprintDim]++
	}
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}

// cosine returns the similarity of two equal-width fingerprints.
func cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += a[i] * b[i]
	}
	// Inputs are unit vectors; the dot product is already the cosine.
	if dot < 0 {
		return 0
	}
	if dot > 1 {
		return 1
	}
	return dot
}

// Cue phrases for the keyword fallback path. These drive a degraded,
// low-confidence extraction when the text-generation collaborator is
// unavailable; they are a substitute, not the primary algorithm.
var (
	contributionCues = []string{"we propose", "we present", "we introduce", "we develop", "this paper presents", "our approach", "we demonstrate"}
	limitationCues   = []string{"limitation", "limited to", "does not address", "cannot handle", "restricted to", "fails to", "shortcoming"}
	gapCues          = []string{"future work", "remains open", "unexplored", "further research", "open question", "yet to be", "under-studied"}
	methodologyCues  = []string{"we use", "we employ", "we apply", "our method", "methodology", "we conduct"}
)

// fallbackExtract scans sentences for cue phrases and builds an
// extraction without the collaborator. It stands in as the default
// value when model output cannot be parsed, so every finding carries
// the fallback confidence floor.
func fallbackExtract(paper *types.Paper) microExtraction {
	ext := microExtraction{Confidence: fallbackProviderConfidence}

	for _, sentence := range sentences(paper.AnalysisText()) {
		lower := strings.ToLower(sentence)
		switch {
		case containsAny(lower, contributionCues):
			ext.Contributions = append(ext.Contributions, types.Contribution{
				Type:        types.ContribEmpirical,
				Description: sentence,
				Confidence:  fallbackProviderConfidence,
			})
		case containsAny(lower, limitationCues):
			ext.Limitations = append(ext.Limitations, types.Limitation{
				Type:        types.LimitMethodological,
				Description: sentence,
				Severity:    types.SeverityMedium,
			})
		case containsAny(lower, gapCues):
			ext.Gaps = append(ext.Gaps, types.ResearchGap{
				Type:        types.GapEmpirical,
				Description: sentence,
				Priority:    fallbackProviderConfidence,
			})
		case ext.Methodology == "" && containsAny(lower, methodologyCues):
			ext.Methodology = sentence
		}
	}
	return ext
}

func containsAny(s string, cues []string) bool {
	for _, cue := range cues {
		if strings.Contains(s, cue) {
			return true
		}
	}
	return false
}

// sentences splits on terminal punctuation. Crude, and good enough for
// cue scanning.
func sentences(text string) []string {
	var out []string
	var b strings.Builder
	for _, r := range text {
		b.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(b.String()); len(s) > 3 {
				out = append(out, s)
			}
			b.Reset()
		}
	}
	if s := strings.TrimSpace(b.String()); len(s) > 3 {
		out = append(out, s)
	}
	return out
}
