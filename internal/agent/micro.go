// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package agent

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/pdiddy/gap-engine/internal/textgen"
	"github.com/pdiddy/gap-engine/pkg/types"
)

// maxPromptRunes bounds how much paper text goes into one extraction
// prompt.
const maxPromptRunes = 12000

const microPromptTemplate = `You are analyzing one research paper. Extract its contributions,
limitations, research gaps, and a one-sentence methodology summary.

Respond with only a JSON object in this shape:
{
  "contributions": [{"type": "methodological|theoretical|empirical|tool_system", "description": "...", "confidence": 0.0}],
  "limitations": [{"type": "methodological|data|scope|generalizability", "description": "...", "severity": "low|medium|high"}],
  "gaps": [{"type": "empirical|methodological|theoretical|application", "description": "...", "priority": 0.0}],
  "methodology": "...",
  "confidence": 0.0
}

Title: %s

Text:
%s`

// microExtraction is the JSON shape the collaborator returns for one
// paper.
type microExtraction struct {
	Contributions []types.Contribution `json:"contributions"`
	Limitations   []types.Limitation   `json:"limitations"`
	Gaps          []types.ResearchGap  `json:"gaps"`
	Methodology   string               `json:"methodology"`
	Confidence    float64              `json:"confidence"`
}

// microContextAgent is the stable writer identity for one paper's
// micro artifacts. Per-iteration agents come and go, but they all
// append onto the same (run, lineage, key) tuple so the paper's
// analysis history accumulates across iterations.
func microContextAgent(paperID string) string {
	return "micro-" + paperID
}

// microContextKey is the context key for a paper's accumulated
// extractions.
const microContextKey = "analysis"

// RunMicro executes one micro agent: extract findings from one paper,
// score them, persist the output, and append the context artifact.
// The context write happens only after extraction succeeds, so a failed
// agent leaves no artifact that could pass for a finished analysis.
func (r *Runtime) RunMicro(ctx context.Context, a *types.Agent, paper *types.Paper) (*types.MicroOutput, error) {
	var out *types.MicroOutput
	err := r.execute(ctx, a, func(ctx context.Context) error {
		var err error
		out, err = r.extractPaper(ctx, a, paper)
		if err != nil {
			return err
		}

		// The payload is a single-element array so the append merge
		// concatenates: iteration N's active artifact holds every
		// iteration's extraction in order, not just the newest.
		_, err = r.contexts.Write(ctx, a.RunID, microContextAgent(paper.ID), microContextKey,
			[]*types.MicroOutput{out}, types.ModeAppend, map[string]string{
				"tier":      string(types.TierMicro),
				"iteration": strconv.Itoa(a.Iteration),
				"paper":     paper.ID,
				"agent":     a.ID,
			})
		if err != nil {
			return fmt.Errorf("writing micro context: %w", err)
		}

		if err := r.store.SaveOutput(ctx, a, out); err != nil {
			return fmt.Errorf("saving micro output: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Runtime) extractPaper(ctx context.Context, a *types.Agent, paper *types.Paper) (*types.MicroOutput, error) {
	text := truncateRunes(paper.AnalysisText(), maxPromptRunes)
	signal := structuralSignal(text)

	raw, genErr := r.gen.Generate(ctx, fmt.Sprintf(microPromptTemplate, paper.Title, text))

	var ext microExtraction
	switch {
	case genErr == nil:
		// A parse failure substitutes the keyword extraction as the
		// tagged fallback value; it carries the confidence floor.
		outcome := textgen.Parse[microExtraction](raw).OrFallback(fallbackExtract(paper))
		ext = outcome.Value
		if !outcome.Parsed() {
			r.logger.Warn("micro extraction unparseable, using keyword fallback",
				zap.String("agent", a.ID),
				zap.String("paper", paper.ID),
				zap.Error(outcome.Err))
			raw = ""
		}
	case errors.Is(genErr, textgen.ErrProviderUnavailable):
		// Degraded path: the collaborator is down, keyword extraction
		// stands in at the confidence floor.
		r.logger.Warn("provider unavailable, using keyword fallback",
			zap.String("agent", a.ID),
			zap.String("paper", paper.ID))
		ext = fallbackExtract(paper)
		raw = ""
	default:
		return nil, fmt.Errorf("generating extraction for paper %s: %w", paper.ID, genErr)
	}

	out := &types.MicroOutput{
		PaperID:       paper.ID,
		Contributions: ext.Contributions,
		Limitations:   ext.Limitations,
		Gaps:          ext.Gaps,
		Methodology:   ext.Methodology,
	}
	providerConf := ext.Confidence
	if providerConf <= 0 {
		providerConf = 0.7
	}
	out.Fingerprint = fingerprint(paper.AnalysisText())
	result := r.calc.Calculate(providerConf, signal, out.EvidenceCount(), maxExpectedEvidence, raw)
	out.Confidence = result.Final
	return out, nil
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
