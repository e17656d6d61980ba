package confidence

import (
	"math"
	"strings"
	"testing"
)

func TestSetWeights(t *testing.T) {
	tests := []struct {
		name    string
		weights Weights
		wantErr bool
	}{
		{"default weights", DefaultWeights, false},
		{"exact sum", Weights{0.25, 0.25, 0.25, 0.25}, false},
		{"within tolerance", Weights{0.35, 0.30, 0.20, 0.155}, false},
		{"sum too high", Weights{0.5, 0.5, 0.5, 0.5}, true},
		{"sum too low", Weights{0.1, 0.1, 0.1, 0.1}, true},
		{"just outside tolerance", Weights{0.35, 0.30, 0.20, 0.17}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCalculator()
			err := c.SetWeights(tt.weights)
			if tt.wantErr && err == nil {
				t.Errorf("SetWeights(%+v) accepted, want rejection", tt.weights)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("SetWeights(%+v): %v", tt.weights, err)
			}
		})
	}
}

func TestCalculateRange(t *testing.T) {
	// For any valid weight set and any inputs, the result stays in [0,1].
	weightSets := []Weights{
		DefaultWeights,
		{0.25, 0.25, 0.25, 0.25},
		{0.7, 0.1, 0.1, 0.1},
		{0.0, 0.0, 0.0, 1.0},
	}
	inputs := []struct {
		provider, agreement float64
		count, max          int
		output              string
	}{
		{0, 0, 0, 10, ""},
		{1, 1, 100, 10, strings.Repeat("result gap method ", 200)},
		{-5, 2.5, -1, 0, "short"},
		{0.5, 0.5, 5, 10, `{"items": []}`},
	}

	for _, w := range weightSets {
		c := NewCalculator()
		if err := c.SetWeights(w); err != nil {
			t.Fatalf("SetWeights(%+v): %v", w, err)
		}
		for _, in := range inputs {
			r := c.Calculate(in.provider, in.agreement, in.count, in.max, in.output)
			if r.Final < 0 || r.Final > 1 {
				t.Errorf("Calculate(%+v, %+v) = %f, out of [0,1]", w, in, r.Final)
			}
		}
	}
}

func TestAgreementScorePiecewise(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{0.9, 0.9 + 0.2*0.5}, // convex bonus above 0.7
		{0.8, 0.8 + 0.1*0.5},
		{0.7, 0.7}, // boundary passes through
		{0.5, 0.5}, // mid-band unchanged
		{0.3, 0.3}, // boundary passes through
		{0.2, 0.1}, // halved below 0.3
		{0.0, 0.0},
		{1.0, 1.0}, // bonus clamps at 1
	}
	for _, tt := range tests {
		got := agreementScore(tt.in)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("agreementScore(%f) = %f, want %f", tt.in, got, tt.want)
		}
	}
}

func TestEvidenceScore(t *testing.T) {
	// log2(1 + count/max), clamped.
	if got := evidenceScore(0, 10); got != 0 {
		t.Errorf("evidenceScore(0, 10) = %f, want 0", got)
	}
	if got := evidenceScore(10, 10); math.Abs(got-1.0) > 1e-9 {
		t.Errorf("evidenceScore(10, 10) = %f, want 1", got)
	}
	if got := evidenceScore(100, 10); got != 1.0 {
		t.Errorf("evidenceScore(100, 10) = %f, want clamp to 1", got)
	}

	// Diminishing returns: the first piece of evidence moves the score
	// more than the tenth.
	d1 := evidenceScore(1, 10) - evidenceScore(0, 10)
	d10 := evidenceScore(10, 10) - evidenceScore(9, 10)
	if d1 <= d10 {
		t.Errorf("first evidence delta %f should exceed tenth delta %f", d1, d10)
	}

	// Negative count and non-positive max are tolerated.
	if got := evidenceScore(-3, 0); got < 0 || got > 1 {
		t.Errorf("evidenceScore(-3, 0) = %f, out of [0,1]", got)
	}
}

func TestOutputQuality(t *testing.T) {
	// Absent output defaults to 0.5.
	if got := outputQuality(""); got != 0.5 {
		t.Errorf("outputQuality(\"\") = %f, want 0.5", got)
	}

	// Structured output in the rewarded length band with domain keywords
	// beats a short free-text blurb.
	structured := `{"contributions": [` + strings.Repeat(`{"description": "a method and result with evidence of a gap in evaluation"},`, 20) + `{}]}`
	blurb := "ok"
	if outputQuality(structured) <= outputQuality(blurb) {
		t.Errorf("structured long output %f should outscore short blurb %f",
			outputQuality(structured), outputQuality(blurb))
	}

	// Always in range.
	for _, s := range []string{"", "x", structured, strings.Repeat("word ", 10000)} {
		if q := outputQuality(s); q < 0 || q > 1 {
			t.Errorf("outputQuality(%.20q...) = %f, out of [0,1]", s, q)
		}
	}
}

func TestClassifyAndReliable(t *testing.T) {
	tests := []struct {
		final    float64
		level    Level
		reliable bool
	}{
		{0.90, LevelHigh, true},
		{0.75, LevelHigh, true},
		{0.74, LevelMedium, true},
		{0.50, LevelMedium, true},
		{0.49, LevelLow, false},
		{0.30, LevelLow, false},
		{0.29, LevelVeryLow, false},
		{0.0, LevelVeryLow, false},
	}
	for _, tt := range tests {
		if got := classify(tt.final); got != tt.level {
			t.Errorf("classify(%f) = %q, want %q", tt.final, got, tt.level)
		}
		if got := tt.final >= 0.50; got != tt.reliable {
			t.Errorf("reliable(%f) = %v, want %v", tt.final, got, tt.reliable)
		}
	}

	// Result carries the classification.
	c := NewCalculator()
	r := c.Calculate(1.0, 1.0, 20, 10, strings.Repeat("method result gap ", 100))
	if r.Level != LevelHigh || !r.Reliable {
		t.Errorf("strong inputs produced %+v, want high/reliable", r)
	}
}

func TestBreakdownSumsToFinal(t *testing.T) {
	c := NewCalculator()
	r := c.Calculate(0.8, 0.6, 4, 10, `{"items": [1, 2]}`)
	sum := r.Breakdown.Provider + r.Breakdown.Agreement + r.Breakdown.Evidence + r.Breakdown.Quality
	if math.Abs(sum-r.Final) > 1e-9 {
		t.Errorf("breakdown sum %f != final %f", sum, r.Final)
	}
}
