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

	"github.com/pdiddy/gap-engine/internal/confidence"
	"github.com/pdiddy/gap-engine/internal/textgen"
	"github.com/pdiddy/gap-engine/pkg/types"
)

const mesoPromptTemplate = `You are clustering research papers by theme. Below are extraction
summaries for %d papers. Group them into %d to %d thematic clusters.

Respond with only a JSON object in this shape:
{
  "clusters": [{"theme": "...", "keywords": ["..."], "paper_ids": ["..."], "cohesion": 0.0}],
  "patterns": [{"type": "convergent|divergent|emerging", "description": "...", "confidence": 0.0}]
}

Papers:
%s`

// fallbackSimilarity is the minimum fingerprint cosine for joining an
// existing cluster in the deterministic fallback grouping.
const fallbackSimilarity = 0.5

type mesoExtraction struct {
	Clusters []types.Cluster `json:"clusters"`
	Patterns []types.Pattern `json:"patterns"`
}

// RunMeso executes the iteration's single clustering agent over the
// completed micro outputs.
func (r *Runtime) RunMeso(ctx context.Context, a *types.Agent, micros []*types.MicroOutput, cfg types.RunConfig) (*types.MesoOutput, error) {
	var out *types.MesoOutput
	err := r.execute(ctx, a, func(ctx context.Context) error {
		var err error
		out, err = r.clusterOutputs(ctx, a, micros, cfg)
		if err != nil {
			return err
		}

		_, err = r.contexts.Write(ctx, a.RunID, a.ID, "meso/iteration-"+strconv.Itoa(a.Iteration), out, types.ModeOverwrite, map[string]string{
			"tier":      string(types.TierMeso),
			"iteration": strconv.Itoa(a.Iteration),
		})
		if err != nil {
			return fmt.Errorf("writing meso context: %w", err)
		}

		if err := r.store.SaveOutput(ctx, a, out); err != nil {
			return fmt.Errorf("saving meso output: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Runtime) clusterOutputs(ctx context.Context, a *types.Agent, micros []*types.MicroOutput, cfg types.RunConfig) (*types.MesoOutput, error) {
	if len(micros) == 0 {
		return nil, errors.New("no micro outputs to cluster")
	}

	raw, genErr := r.gen.Generate(ctx, fmt.Sprintf(mesoPromptTemplate,
		len(micros), cfg.MinClusterSize, cfg.MaxClusters, paperSummaries(micros)))

	var clusters []types.Cluster
	var patterns []types.Pattern
	fromModel := false
	if genErr == nil {
		outcome := textgen.Parse[mesoExtraction](raw)
		if outcome.Parsed() && len(outcome.Value.Clusters) > 0 {
			clusters = sanitizeClusters(outcome.Value.Clusters, micros, cfg.MaxClusters)
			patterns = outcome.Value.Patterns
			fromModel = len(clusters) > 0
		}
	} else if !errors.Is(genErr, textgen.ErrProviderUnavailable) {
		return nil, fmt.Errorf("generating clustering: %w", genErr)
	}

	if !fromModel {
		r.logger.Warn("using deterministic fallback grouping",
			zap.String("agent", a.ID),
			zap.Error(genErr))
		clusters = fallbackGroup(micros, cfg)
		raw = ""
	}

	out := &types.MesoOutput{
		Clusters:     clusters,
		Patterns:     patterns,
		ThematicGaps: aggregateGaps(clusters, micros),
	}

	providerConf := fallbackProviderConfidence
	if fromModel {
		var confs []float64
		for _, m := range micros {
			confs = append(confs, m.Confidence)
		}
		providerConf = confidence.Aggregate(confs, confidence.MethodWeightedAverage)
	}
	result := r.calc.Calculate(providerConf, avgCohesion(clusters), len(micros), maxExpectedEvidence, raw)
	out.Confidence = result.Final
	return out, nil
}

// paperSummaries renders one line per paper for the clustering prompt.
func paperSummaries(micros []*types.MicroOutput) string {
	var b strings.Builder
	for _, m := range micros {
		fmt.Fprintf(&b, "- %s: %s", m.PaperID, m.Methodology)
		for _, g := range m.Gaps {
			fmt.Fprintf(&b, "; gap: %s", g.Description)
		}
		for _, c := range m.Contributions {
			fmt.Fprintf(&b, "; contribution: %s", c.Description)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// sanitizeClusters drops unknown paper ids the model may have invented
// and caps the cluster count.
func sanitizeClusters(clusters []types.Cluster, micros []*types.MicroOutput, maxClusters int) []types.Cluster {
	known := make(map[string]bool, len(micros))
	for _, m := range micros {
		known[m.PaperID] = true
	}

	var out []types.Cluster
	for _, c := range clusters {
		var ids []string
		for _, id := range c.PaperIDs {
			if known[id] {
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			continue
		}
		c.PaperIDs = ids
		c.Cohesion = clamp01(c.Cohesion)
		out = append(out, c)
		if maxClusters > 0 && len(out) == maxClusters {
			break
		}
	}
	return out
}

// fallbackGroup clusters papers greedily by fingerprint similarity.
// Deterministic: input order decides seeds and tie-breaks, so retries
// produce identical groupings.
func fallbackGroup(micros []*types.MicroOutput, cfg types.RunConfig) []types.Cluster {
	type group struct {
		members []*types.MicroOutput
	}
	var groups []*group

	for _, m := range micros {
		bestIdx := -1
		bestSim := 0.0
		for i, g := range groups {
			sim := avgSimilarity(m, g.members)
			if sim > bestSim {
				bestSim = sim
				bestIdx = i
			}
		}
		switch {
		case bestIdx >= 0 && bestSim >= fallbackSimilarity:
			groups[bestIdx].members = append(groups[bestIdx].members, m)
		case cfg.MaxClusters <= 0 || len(groups) < cfg.MaxClusters:
			groups = append(groups, &group{members: []*types.MicroOutput{m}})
		case bestIdx >= 0:
			groups[bestIdx].members = append(groups[bestIdx].members, m)
		default:
			groups = append(groups, &group{members: []*types.MicroOutput{m}})
		}
	}

	clusters := make([]types.Cluster, 0, len(groups))
	for _, g := range groups {
		var ids []string
		for _, m := range g.members {
			ids = append(ids, m.PaperID)
		}
		clusters = append(clusters, types.Cluster{
			Theme:    fallbackTheme(g.members),
			Keywords: topKeywords(g.members, 5),
			PaperIDs: ids,
			Cohesion: groupCohesion(g.members),
		})
	}
	return clusters
}

func avgSimilarity(m *types.MicroOutput, members []*types.MicroOutput) float64 {
	if len(members) == 0 {
		return 0
	}
	var sum float64
	for _, other := range members {
		sum += cosine(m.Fingerprint, other.Fingerprint)
	}
	return sum / float64(len(members))
}

// groupCohesion is the mean pairwise fingerprint similarity. A
// single-member cluster is trivially tight.
func groupCohesion(members []*types.MicroOutput) float64 {
	if len(members) < 2 {
		return 1.0
	}
	var sum float64
	pairs := 0
	for i := 0; i < len(members); i++ {
		for j := i + 1; j < len(members); j++ {
			sum += cosine(members[i].Fingerprint, members[j].Fingerprint)
			pairs++
		}
	}
	return sum / float64(pairs)
}

func fallbackTheme(members []*types.MicroOutput) string {
	keywords := topKeywords(members, 3)
	if len(keywords) == 0 {
		return "unlabeled"
	}
	return strings.Join(keywords, " / ")
}

// topKeywords returns the n most frequent tokens across members' gap
// and contribution descriptions, ties broken alphabetically.
func topKeywords(members []*types.MicroOutput, n int) []string {
	counts := make(map[string]int)
	for _, m := range members {
		for _, g := range m.Gaps {
			for _, tok := range tokenize(g.Description) {
				counts[tok]++
			}
		}
		for _, c := range m.Contributions {
			for _, tok := range tokenize(c.Description) {
				counts[tok]++
			}
		}
	}

	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}

// aggregateGaps collects gaps cluster by cluster, members in extraction
// order. The meta tier ranks these; order here fixes tie identity.
func aggregateGaps(clusters []types.Cluster, micros []*types.MicroOutput) []types.ResearchGap {
	byID := make(map[string]*types.MicroOutput, len(micros))
	for _, m := range micros {
		byID[m.PaperID] = m
	}

	var gaps []types.ResearchGap
	for _, c := range clusters {
		for _, id := range c.PaperIDs {
			if m, ok := byID[id]; ok {
				gaps = append(gaps, m.Gaps...)
			}
		}
	}
	return gaps
}

func avgCohesion(clusters []types.Cluster) float64 {
	if len(clusters) == 0 {
		return 0
	}
	var sum float64
	for _, c := range clusters {
		sum += c.Cohesion
	}
	return sum / float64(len(clusters))
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
