// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package textgen

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseStatus tags the outcome of parsing model output.
type ParseStatus string

const (
	// StatusParsed means the model output decoded into the target type.
	StatusParsed ParseStatus = "parsed"

	// StatusFallback means parsing failed and the caller-provided
	// default was substituted. Downstream confidence should treat the
	// value as low-trust.
	StatusFallback ParseStatus = "fallback"

	// StatusParseError means parsing failed and no fallback was applied.
	StatusParseError ParseStatus = "parse_error"
)

// Outcome is the tagged result of parsing model output. There is no
// silent empty-value path: a failed parse is visible in Status and Err.
type Outcome[T any] struct {
	Status ParseStatus
	Value  T
	Err    error
}

// Parsed reports whether the value came from the model rather than a
// fallback.
func (o Outcome[T]) Parsed() bool {
	return o.Status == StatusParsed
}

// Parse decodes the first JSON object or array found in model output
// into T. Model responses often wrap JSON in prose or Markdown fences;
// Parse strips those before decoding.
func Parse[T any](text string) Outcome[T] {
	var value T

	candidate := extractJSON(text)
	if candidate == "" {
		return Outcome[T]{Status: StatusParseError, Err: fmt.Errorf("no JSON object or array in output")}
	}
	if err := json.Unmarshal([]byte(candidate), &value); err != nil {
		return Outcome[T]{Status: StatusParseError, Err: fmt.Errorf("decoding model JSON: %w", err)}
	}
	return Outcome[T]{Status: StatusParsed, Value: value}
}

// OrFallback converts a parse error into a fallback outcome carrying
// def. The original error is retained for logging.
func (o Outcome[T]) OrFallback(def T) Outcome[T] {
	if o.Status != StatusParseError {
		return o
	}
	return Outcome[T]{Status: StatusFallback, Value: def, Err: o.Err}
}

// extractJSON returns the first balanced {...} or [...] span in text,
// after stripping Markdown code fences.
func extractJSON(text string) string {
	text = stripFences(text)

	start := -1
	var open, close byte
	for i := 0; i < len(text); i++ {
		if text[i] == '{' || text[i] == '[' {
			start = i
			open = text[i]
			if open == '{' {
				close = '}'
			} else {
				close = ']'
			}
			break
		}
	}
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch c {
			case '\\':
				i++
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// stripFences removes leading/trailing Markdown code fences.
func stripFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.Index(trimmed, "\n"); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
