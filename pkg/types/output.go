// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// ContributionType classifies what kind of contribution a paper makes.
type ContributionType string

const (
	ContribMethodological ContributionType = "methodological"
	ContribTheoretical    ContributionType = "theoretical"
	ContribEmpirical      ContributionType = "empirical"
	ContribToolSystem     ContributionType = "tool_system"
)

// Contribution is one contribution extracted from a paper.
type Contribution struct {
	Type        ContributionType `json:"type" yaml:"type"`
	Description string           `json:"description" yaml:"description"`
	Confidence  float64          `json:"confidence" yaml:"confidence"`
}

// LimitationType classifies the nature of a stated or inferred limitation.
type LimitationType string

const (
	LimitMethodological   LimitationType = "methodological"
	LimitData             LimitationType = "data"
	LimitScope            LimitationType = "scope"
	LimitGeneralizability LimitationType = "generalizability"
)

// Severity grades how much a limitation undermines a paper's findings.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Limitation is one limitation extracted from a paper.
type Limitation struct {
	Type        LimitationType `json:"type" yaml:"type"`
	Description string         `json:"description" yaml:"description"`
	Severity    Severity       `json:"severity" yaml:"severity"`
}

// GapType classifies a research gap.
type GapType string

const (
	GapEmpirical      GapType = "empirical"
	GapMethodological GapType = "methodological"
	GapTheoretical    GapType = "theoretical"
	GapApplication    GapType = "application"
)

// ResearchGap is one open problem identified during analysis.
type ResearchGap struct {
	Type        GapType `json:"type" yaml:"type"`
	Description string  `json:"description" yaml:"description"`

	// Priority is a [0,1] urgency estimate from the extracting tier.
	Priority float64 `json:"priority" yaml:"priority"`
}

// MicroOutput is the structured extraction for one paper.
type MicroOutput struct {
	PaperID       string         `json:"paper_id" yaml:"paper_id"`
	Contributions []Contribution `json:"contributions" yaml:"contributions"`
	Limitations   []Limitation   `json:"limitations" yaml:"limitations"`
	Gaps          []ResearchGap  `json:"gaps" yaml:"gaps"`
	Methodology   string         `json:"methodology" yaml:"methodology"`

	// Confidence is the normalized score for this extraction.
	Confidence float64 `json:"confidence" yaml:"confidence"`

	// Fingerprint is a fixed-width token-hash vector used only for
	// downstream thematic similarity, never for exact lookup.
	Fingerprint []float64 `json:"fingerprint,omitempty" yaml:"fingerprint,omitempty"`
}

// EvidenceCount is the number of extracted findings, used as the
// evidence signal when scoring confidence.
func (m *MicroOutput) EvidenceCount() int {
	return len(m.Contributions) + len(m.Limitations) + len(m.Gaps)
}

// Cluster is one thematic grouping of papers produced by the meso tier.
type Cluster struct {
	Theme    string   `json:"theme" yaml:"theme"`
	Keywords []string `json:"keywords" yaml:"keywords"`
	PaperIDs []string `json:"paper_ids" yaml:"paper_ids"`

	// Cohesion in [0,1] describes how thematically tight the cluster is.
	Cohesion float64 `json:"cohesion" yaml:"cohesion"`
}

// PatternType classifies a cross-cluster or cross-domain pattern.
type PatternType string

const (
	PatternConvergent PatternType = "convergent"
	PatternDivergent  PatternType = "divergent"
	PatternEmerging   PatternType = "emerging"
)

// Pattern is one observed regularity across clusters or domains.
type Pattern struct {
	Type        PatternType `json:"type" yaml:"type"`
	Description string      `json:"description" yaml:"description"`
	Confidence  float64     `json:"confidence" yaml:"confidence"`
}

// MesoOutput is one clustering pass over the iteration's micro outputs.
type MesoOutput struct {
	Clusters []Cluster `json:"clusters" yaml:"clusters"`
	Patterns []Pattern `json:"patterns" yaml:"patterns"`

	// ThematicGaps aggregates gaps across each cluster's members, in
	// extraction order. The meta tier ranks these.
	ThematicGaps []ResearchGap `json:"thematic_gaps" yaml:"thematic_gaps"`

	Confidence float64 `json:"confidence" yaml:"confidence"`
}

// GapScore holds the four weighted sub-scores for one ranked gap.
// Weights: importance 0.35, novelty 0.25, feasibility 0.20, impact 0.20.
type GapScore struct {
	Importance  float64 `json:"importance" yaml:"importance"`
	Novelty     float64 `json:"novelty" yaml:"novelty"`
	Feasibility float64 `json:"feasibility" yaml:"feasibility"`
	Impact      float64 `json:"impact" yaml:"impact"`
	Total       float64 `json:"total" yaml:"total"`
}

// RankedGap is one gap with its scoring, sorted descending by Total.
type RankedGap struct {
	Description string   `json:"description" yaml:"description"`
	Type        GapType  `json:"type" yaml:"type"`
	Score       GapScore `json:"score" yaml:"score"`
}

// MetaOutput is one synthesis-and-ranking pass over the meso output.
type MetaOutput struct {
	Iteration  int         `json:"iteration" yaml:"iteration"`
	RankedGaps []RankedGap `json:"ranked_gaps" yaml:"ranked_gaps"`
	Patterns   []Pattern   `json:"patterns" yaml:"patterns"`
	Frontiers  []string    `json:"frontiers" yaml:"frontiers"`
	Directions []string    `json:"directions" yaml:"directions"`

	// Converged is the verdict relative to the previous iteration's
	// MetaOutput. Always false on iteration 1.
	Converged bool `json:"converged" yaml:"converged"`

	// Similarity is the aggregate Jaccard similarity behind the verdict.
	Similarity float64 `json:"similarity" yaml:"similarity"`

	Confidence float64 `json:"confidence" yaml:"confidence"`
}
