package textgen

import (
	"testing"
)

type gapList struct {
	Gaps []string `json:"gaps"`
}

func TestParseCleanJSON(t *testing.T) {
	out := Parse[gapList](`{"gaps": ["a", "b"]}`)
	if !out.Parsed() {
		t.Fatalf("status = %q, err = %v, want parsed", out.Status, out.Err)
	}
	if len(out.Value.Gaps) != 2 {
		t.Errorf("got %d gaps, want 2", len(out.Value.Gaps))
	}
}

func TestParseFencedJSON(t *testing.T) {
	text := "```json\n{\"gaps\": [\"a\"]}\n```"
	out := Parse[gapList](text)
	if !out.Parsed() {
		t.Fatalf("status = %q, err = %v, want parsed", out.Status, out.Err)
	}
	if len(out.Value.Gaps) != 1 {
		t.Errorf("got %d gaps, want 1", len(out.Value.Gaps))
	}
}

func TestParseJSONEmbeddedInProse(t *testing.T) {
	text := `Here is the analysis you asked for:

{"gaps": ["an embedded gap"]}

Let me know if you need anything else.`
	out := Parse[gapList](text)
	if !out.Parsed() {
		t.Fatalf("status = %q, err = %v, want parsed", out.Status, out.Err)
	}
}

func TestParseNestedBracesInStrings(t *testing.T) {
	out := Parse[map[string]string](`{"note": "braces } inside \" strings { are fine"}`)
	if !out.Parsed() {
		t.Fatalf("status = %q, err = %v, want parsed", out.Status, out.Err)
	}
}

func TestParseArrayPayload(t *testing.T) {
	out := Parse[[]int](`The counts were [1, 2, 3] overall.`)
	if !out.Parsed() {
		t.Fatalf("status = %q, err = %v, want parsed", out.Status, out.Err)
	}
	if len(out.Value) != 3 {
		t.Errorf("got %v, want [1 2 3]", out.Value)
	}
}

func TestParseErrorTagged(t *testing.T) {
	out := Parse[gapList]("no json here at all")
	if out.Status != StatusParseError {
		t.Fatalf("status = %q, want parse_error", out.Status)
	}
	if out.Err == nil {
		t.Error("parse error outcome must carry the error")
	}
}

func TestOrFallback(t *testing.T) {
	def := gapList{Gaps: []string{"default"}}

	// Failed parse substitutes the fallback and keeps the error visible.
	out := Parse[gapList]("garbage").OrFallback(def)
	if out.Status != StatusFallback {
		t.Fatalf("status = %q, want fallback", out.Status)
	}
	if out.Err == nil {
		t.Error("fallback outcome must retain the original parse error")
	}
	if len(out.Value.Gaps) != 1 || out.Value.Gaps[0] != "default" {
		t.Errorf("fallback value = %+v, want the default", out.Value)
	}

	// Successful parse is untouched by OrFallback.
	ok := Parse[gapList](`{"gaps": ["real"]}`).OrFallback(def)
	if ok.Status != StatusParsed || ok.Value.Gaps[0] != "real" {
		t.Errorf("OrFallback clobbered a successful parse: %+v", ok)
	}
}

func TestParseTruncatedJSON(t *testing.T) {
	out := Parse[gapList](`{"gaps": ["never closed"`)
	if out.Status != StatusParseError {
		t.Fatalf("status = %q, want parse_error for truncated JSON", out.Status)
	}
}
