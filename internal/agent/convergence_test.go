// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package agent

import (
	"math"
	"testing"

	"github.com/pdiddy/gap-engine/pkg/types"
)

func rankedGaps(descriptions ...string) []types.RankedGap {
	gaps := make([]types.RankedGap, len(descriptions))
	for i, d := range descriptions {
		gaps[i] = types.RankedGap{Description: d}
	}
	return gaps
}

func TestTokenizeStripsStopwords(t *testing.T) {
	got := tokenize("The scaling of transformers is an open problem")
	want := []string{"scaling", "transformers", "open", "problem"}
	if len(got) != len(want) {
		t.Fatalf("tokenize = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestJaccardIdenticalSets(t *testing.T) {
	gaps := rankedGaps("long context scaling", "sparse attention efficiency")
	_, sim := convergence(gaps, &types.MetaOutput{RankedGaps: gaps}, 10, 0.7)
	if sim != 1.0 {
		t.Errorf("similarity of identical sets = %f, want exactly 1.0", sim)
	}
}

func TestJaccardDisjointSets(t *testing.T) {
	current := rankedGaps("quantum error correction")
	prev := &types.MetaOutput{RankedGaps: rankedGaps("protein folding dynamics")}
	converged, sim := convergence(current, prev, 10, 0.7)
	if sim != 0.0 {
		t.Errorf("similarity of disjoint sets = %f, want exactly 0.0", sim)
	}
	if converged {
		t.Error("disjoint sets must not converge")
	}
}

func TestConvergenceFirstIterationIsFalse(t *testing.T) {
	gaps := rankedGaps("anything at all")
	converged, sim := convergence(gaps, nil, 10, 0.0)
	if converged {
		t.Error("iteration 1 must never converge, even at threshold 0")
	}
	if sim != 0 {
		t.Errorf("similarity without a previous iteration = %f, want 0", sim)
	}
}

func TestConvergenceThresholdBoundary(t *testing.T) {
	// Shared tokens: {gap, one, two} of union {gap, one, two, three};
	// Jaccard = 3/4.
	current := rankedGaps("gap one two")
	prev := &types.MetaOutput{RankedGaps: rankedGaps("gap one two three")}

	converged, sim := convergence(current, prev, 10, 0.75)
	if math.Abs(sim-0.75) > 1e-9 {
		t.Fatalf("similarity = %f, want 0.75", sim)
	}
	if !converged {
		t.Error("similarity equal to the threshold must converge")
	}

	converged, _ = convergence(current, prev, 10, 0.76)
	if converged {
		t.Error("similarity below the threshold must not converge")
	}
}

func TestGapTokenSetHonorsLimit(t *testing.T) {
	gaps := rankedGaps("alpha", "beta", "gamma")
	set := gapTokenSet(gaps, 2)
	if _, ok := set["gamma"]; ok {
		t.Error("tokens beyond the gap limit must not enter the comparison set")
	}
	if len(set) != 2 {
		t.Errorf("set size = %d, want 2", len(set))
	}
}

func TestRankGapsStableTies(t *testing.T) {
	gaps := []types.RankedGap{
		{Description: "first extracted", Score: types.GapScore{Importance: 0.5, Novelty: 0.5, Feasibility: 0.5, Impact: 0.5}},
		{Description: "higher", Score: types.GapScore{Importance: 1, Novelty: 1, Feasibility: 1, Impact: 1}},
		{Description: "second extracted", Score: types.GapScore{Importance: 0.5, Novelty: 0.5, Feasibility: 0.5, Impact: 0.5}},
	}
	rankGaps(gaps)

	if gaps[0].Description != "higher" {
		t.Errorf("top gap = %q, want the highest total", gaps[0].Description)
	}
	if gaps[1].Description != "first extracted" || gaps[2].Description != "second extracted" {
		t.Errorf("tied gaps reordered: %q, %q", gaps[1].Description, gaps[2].Description)
	}
}

func TestRankGapsWeightedTotal(t *testing.T) {
	gaps := []types.RankedGap{
		{Score: types.GapScore{Importance: 1, Novelty: 0, Feasibility: 0, Impact: 0}},
	}
	rankGaps(gaps)
	if math.Abs(gaps[0].Score.Total-0.35) > 1e-9 {
		t.Errorf("total = %f, want importance weight 0.35", gaps[0].Score.Total)
	}
}
