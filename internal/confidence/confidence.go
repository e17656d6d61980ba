// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package confidence turns heterogeneous raw signals into a single
// normalized [0,1] score with a qualitative level.
package confidence

import (
	"fmt"
	"math"
	"strings"
)

// Weights are the linear combination weights for the four sub-scores.
// They must sum to 1.0 within a 0.01 tolerance.
type Weights struct {
	Provider  float64
	Agreement float64
	Evidence  float64
	Quality   float64
}

// DefaultWeights is the standard weighting: provider confidence dominates,
// followed by agreement, evidence volume, and output quality.
var DefaultWeights = Weights{
	Provider:  0.35,
	Agreement: 0.30,
	Evidence:  0.20,
	Quality:   0.15,
}

const weightTolerance = 0.01

// Sum returns the total of the four weights.
func (w Weights) Sum() float64 {
	return w.Provider + w.Agreement + w.Evidence + w.Quality
}

// Level is the qualitative classification of a final confidence score.
type Level string

const (
	LevelHigh    Level = "high"     // >= 0.75
	LevelMedium  Level = "medium"   // >= 0.50
	LevelLow     Level = "low"      // >= 0.30
	LevelVeryLow Level = "very_low" // below 0.30
)

// Breakdown exposes the individual weighted sub-scores behind a result.
type Breakdown struct {
	Provider  float64 `json:"provider" yaml:"provider"`
	Agreement float64 `json:"agreement" yaml:"agreement"`
	Evidence  float64 `json:"evidence" yaml:"evidence"`
	Quality   float64 `json:"quality" yaml:"quality"`
}

// Result is the outcome of one confidence calculation.
type Result struct {
	Final     float64   `json:"final" yaml:"final"`
	Level     Level     `json:"level" yaml:"level"`
	Breakdown Breakdown `json:"breakdown" yaml:"breakdown"`

	// Reliable is true iff Final >= 0.50.
	Reliable bool `json:"reliable" yaml:"reliable"`
}

// Calculator combines raw confidence signals under a configured weight set.
// Construct one at process start and share it; it is immutable after
// SetWeights and safe for concurrent use between weight changes.
type Calculator struct {
	weights Weights
}

// NewCalculator returns a Calculator with DefaultWeights.
func NewCalculator() *Calculator {
	return &Calculator{weights: DefaultWeights}
}

// SetWeights replaces the weight set. It rejects any set whose sum
// deviates from 1.0 by more than 0.01.
func (c *Calculator) SetWeights(w Weights) error {
	if math.Abs(w.Sum()-1.0) > weightTolerance {
		return fmt.Errorf("weights sum to %.4f, want 1.0 ± %.2f", w.Sum(), weightTolerance)
	}
	c.weights = w
	return nil
}

// Weights returns the current weight set.
func (c *Calculator) Weights() Weights {
	return c.weights
}

// Calculate combines the four signals into a normalized score.
//
// providerConfidence and agreement are clamped to [0,1] before
// combination. evidenceCount and maxEvidence are non-negative; a
// non-positive maxEvidence falls back to 10. An empty output defaults
// the quality sub-score to 0.5.
func (c *Calculator) Calculate(providerConfidence, agreement float64, evidenceCount, maxEvidence int, output string) Result {
	provider := clamp01(providerConfidence)
	agree := agreementScore(clamp01(agreement))
	evidence := evidenceScore(evidenceCount, maxEvidence)
	quality := outputQuality(output)

	b := Breakdown{
		Provider:  c.weights.Provider * provider,
		Agreement: c.weights.Agreement * agree,
		Evidence:  c.weights.Evidence * evidence,
		Quality:   c.weights.Quality * quality,
	}
	final := clamp01(b.Provider + b.Agreement + b.Evidence + b.Quality)

	return Result{
		Final:     final,
		Level:     classify(final),
		Breakdown: b,
		Reliable:  final >= 0.50,
	}
}

// agreementScore rewards strong consensus and punishes weak consensus
// disproportionately: values above 0.7 receive a convex bonus, values
// below 0.3 are halved, values in between pass through unchanged.
func agreementScore(a float64) float64 {
	switch {
	case a > 0.7:
		return clamp01(a + (a-0.7)*0.5)
	case a < 0.3:
		return a / 2
	default:
		return a
	}
}

// evidenceScore applies logarithmic diminishing returns so a single
// additional piece of evidence matters more when evidence is scarce.
func evidenceScore(count, maxExpected int) float64 {
	if count < 0 {
		count = 0
	}
	if maxExpected <= 0 {
		maxExpected = 10
	}
	return clamp01(math.Log2(1 + float64(count)/float64(maxExpected)))
}

// domainKeywords are markers of substantive research-analysis output.
var domainKeywords = []string{
	"method", "result", "contribution", "limitation", "gap",
	"approach", "evaluation", "evidence", "finding", "analysis",
}

// outputQuality is a heuristic proxy for output usefulness, not a
// correctness measure. It scores structure (typed JSON beats free text),
// length band (penalize under 20 tokens, reward 100–5000), and
// domain-keyword density. Treat the value as approximate.
func outputQuality(output string) float64 {
	if output == "" {
		return 0.5
	}

	var score float64

	trimmed := strings.TrimSpace(output)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		score += 0.4
	} else {
		score += 0.2
	}

	tokens := strings.Fields(output)
	switch n := len(tokens); {
	case n < 20:
		score += 0.1
	case n >= 100 && n <= 5000:
		score += 0.4
	default:
		score += 0.25
	}

	lower := strings.ToLower(output)
	hits := 0
	for _, kw := range domainKeywords {
		if strings.Contains(lower, kw) {
			hits++
		}
	}
	score += 0.2 * float64(hits) / float64(len(domainKeywords))

	return clamp01(score)
}

// classify maps a final score to its qualitative level.
func classify(final float64) Level {
	switch {
	case final >= 0.75:
		return LevelHigh
	case final >= 0.50:
		return LevelMedium
	case final >= 0.30:
		return LevelLow
	default:
		return LevelVeryLow
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
