// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// Paper holds the metadata and text the micro tier analyzes. Acquisition
// and PDF conversion happen upstream of this engine; a Paper arrives with
// whatever text the caller has.
type Paper struct {
	// ID is a slug derived from the paper identifier (e.g. "2301.07041").
	ID string `json:"id" yaml:"id"`

	// Title is the paper title.
	Title string `json:"title" yaml:"title"`

	// Authors lists the paper authors in source order.
	Authors []string `json:"authors" yaml:"authors"`

	// Date is the publication or preprint date.
	Date time.Time `json:"date" yaml:"date"`

	// Abstract is the paper abstract.
	Abstract string `json:"abstract" yaml:"abstract"`

	// FullText is the converted body text, when available. Analysis
	// falls back to the abstract when it is empty.
	FullText string `json:"full_text,omitempty" yaml:"full_text,omitempty"`
}

// AnalysisText returns the richest text available for extraction.
func (p Paper) AnalysisText() string {
	if p.FullText != "" {
		return p.FullText
	}
	return p.Abstract
}
