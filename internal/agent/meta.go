// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/pdiddy/gap-engine/internal/textgen"
	"github.com/pdiddy/gap-engine/pkg/types"
)

// Gap ranking weights. The four sub-scores combine to a total in [0,1].
const (
	weightImportance  = 0.35
	weightNovelty     = 0.25
	weightFeasibility = 0.20
	weightImpact      = 0.20
)

const metaPromptTemplate = `You are synthesizing a research landscape. Below are candidate
research gaps aggregated from thematic clusters. Score each gap on
importance, novelty, feasibility, and impact (each in [0,1]), identify
cross-domain patterns, research frontiers, and recommended directions.

Respond with only a JSON object in this shape:
{
  "ranked_gaps": [{"description": "...", "type": "empirical|methodological|theoretical|application", "score": {"importance": 0.0, "novelty": 0.0, "feasibility": 0.0, "impact": 0.0}}],
  "patterns": [{"type": "convergent|divergent|emerging", "description": "...", "confidence": 0.0}],
  "frontiers": ["..."],
  "directions": ["..."]
}

Candidate gaps:
%s`

type metaExtraction struct {
	RankedGaps []types.RankedGap `json:"ranked_gaps"`
	Patterns   []types.Pattern   `json:"patterns"`
	Frontiers  []string          `json:"frontiers"`
	Directions []string          `json:"directions"`
}

// RunMeta executes the iteration's single synthesis agent: rank the
// meso tier's candidate gaps, then test convergence against the
// previous iteration's output. prev is nil on iteration 1.
func (r *Runtime) RunMeta(ctx context.Context, a *types.Agent, meso *types.MesoOutput, prev *types.MetaOutput, cfg types.RunConfig) (*types.MetaOutput, error) {
	var out *types.MetaOutput
	err := r.execute(ctx, a, func(ctx context.Context) error {
		var err error
		out, err = r.synthesize(ctx, a, meso, prev, cfg)
		if err != nil {
			return err
		}

		_, err = r.contexts.Write(ctx, a.RunID, a.ID, "meta/iteration-"+strconv.Itoa(a.Iteration), out, types.ModeOverwrite, map[string]string{
			"tier":      string(types.TierMeta),
			"iteration": strconv.Itoa(a.Iteration),
		})
		if err != nil {
			return fmt.Errorf("writing meta context: %w", err)
		}

		if err := r.store.SaveOutput(ctx, a, out); err != nil {
			return fmt.Errorf("saving meta output: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Runtime) synthesize(ctx context.Context, a *types.Agent, meso *types.MesoOutput, prev *types.MetaOutput, cfg types.RunConfig) (*types.MetaOutput, error) {
	raw, genErr := r.gen.Generate(ctx, fmt.Sprintf(metaPromptTemplate, gapSummaries(meso.ThematicGaps)))

	out := &types.MetaOutput{Iteration: a.Iteration}
	providerConf := fallbackProviderConfidence
	fromModel := false

	if genErr == nil {
		outcome := textgen.Parse[metaExtraction](raw)
		if outcome.Parsed() && len(outcome.Value.RankedGaps) > 0 {
			ext := outcome.Value
			out.RankedGaps = ext.RankedGaps
			out.Patterns = ext.Patterns
			out.Frontiers = ext.Frontiers
			out.Directions = ext.Directions
			providerConf = 0.7
			fromModel = true
		}
	} else if !errors.Is(genErr, textgen.ErrProviderUnavailable) {
		return nil, fmt.Errorf("generating synthesis: %w", genErr)
	}

	if !fromModel {
		r.logger.Warn("using deterministic fallback ranking",
			zap.String("agent", a.ID),
			zap.Error(genErr))
		out.RankedGaps = fallbackRank(meso.ThematicGaps)
		out.Patterns = meso.Patterns
		raw = ""
	}

	rankGaps(out.RankedGaps)

	out.Converged, out.Similarity = convergence(out.RankedGaps, prev, cfg.GapLimit, cfg.ConvergenceThreshold)

	result := r.calc.Calculate(providerConf, meso.Confidence, len(out.RankedGaps), maxExpectedEvidence, raw)
	out.Confidence = result.Final
	return out, nil
}

func gapSummaries(gaps []types.ResearchGap) string {
	var b strings.Builder
	for _, g := range gaps {
		fmt.Fprintf(&b, "- [%s] %s\n", g.Type, g.Description)
	}
	return b.String()
}

// rankGaps recomputes each total from its sub-scores and sorts
// descending. The sort is stable: ties keep extraction order, which
// downstream convergence comparison depends on.
func rankGaps(gaps []types.RankedGap) {
	for i := range gaps {
		s := &gaps[i].Score
		s.Importance = clamp01(s.Importance)
		s.Novelty = clamp01(s.Novelty)
		s.Feasibility = clamp01(s.Feasibility)
		s.Impact = clamp01(s.Impact)
		s.Total = weightImportance*s.Importance +
			weightNovelty*s.Novelty +
			weightFeasibility*s.Feasibility +
			weightImpact*s.Impact
	}
	sort.SliceStable(gaps, func(i, j int) bool {
		return gaps[i].Score.Total > gaps[j].Score.Total
	})
}

// Fallback sub-scores by gap type. Rough priors for the degraded path;
// the gap's own extracted priority supplies importance.
var (
	fallbackNovelty = map[types.GapType]float64{
		types.GapTheoretical:    0.8,
		types.GapMethodological: 0.7,
		types.GapEmpirical:      0.6,
		types.GapApplication:    0.5,
	}
	fallbackFeasibility = map[types.GapType]float64{
		types.GapApplication:    0.8,
		types.GapEmpirical:      0.7,
		types.GapMethodological: 0.6,
		types.GapTheoretical:    0.4,
	}
)

// fallbackRank scores gaps deterministically without the collaborator.
// Impact is the share of a gap's tokens that recur in other gaps: a
// concern many clusters raise matters more.
func fallbackRank(gaps []types.ResearchGap) []types.RankedGap {
	tokenSets := make([]map[string]struct{}, len(gaps))
	for i, g := range gaps {
		set := make(map[string]struct{})
		for _, tok := range tokenize(g.Description) {
			set[tok] = struct{}{}
		}
		tokenSets[i] = set
	}

	ranked := make([]types.RankedGap, len(gaps))
	for i, g := range gaps {
		ranked[i] = types.RankedGap{
			Description: g.Description,
			Type:        g.Type,
			Score: types.GapScore{
				Importance:  clamp01(g.Priority),
				Novelty:     fallbackNovelty[g.Type],
				Feasibility: fallbackFeasibility[g.Type],
				Impact:      sharedTokenRatio(tokenSets, i),
			},
		}
	}
	return ranked
}

func sharedTokenRatio(sets []map[string]struct{}, i int) float64 {
	if len(sets[i]) == 0 {
		return 0
	}
	shared := 0
	for tok := range sets[i] {
		for j, other := range sets {
			if j == i {
				continue
			}
			if _, ok := other[tok]; ok {
				shared++
				break
			}
		}
	}
	return float64(shared) / float64(len(sets[i]))
}
