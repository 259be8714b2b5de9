package prompts

import (
	"strings"
	"testing"
)

func TestTruncateCodeOutputUnderLimit(t *testing.T) {
	output := strings.Repeat("x", 19000)
	if got := TruncateCodeOutput(output, 20000); got != output {
		t.Fatalf("output under the limit should be unchanged")
	}
}

func TestTruncateCodeOutputAtExactLimit(t *testing.T) {
	output := strings.Repeat("x", 20000)
	if got := TruncateCodeOutput(output, 20000); got != output {
		t.Fatalf("output exactly at the limit should be unchanged")
	}
}

func TestTruncateCodeOutputOverLimit(t *testing.T) {
	output := strings.Repeat("x", 25000)
	got := TruncateCodeOutput(output, 20000)
	if len(got) >= len(output) {
		t.Fatalf("expected truncated output to be shorter, got %d >= %d", len(got), len(output))
	}
	lower := strings.ToLower(got)
	if !strings.Contains(lower, "truncated") {
		t.Fatalf("missing 'truncated' marker: %q", got)
	}
	if !strings.Contains(got, "20,000") || !strings.Contains(got, "25,000") {
		t.Fatalf("missing comma-formatted sizes: %q", got)
	}
	if !strings.Contains(got, "llm_query()") {
		t.Fatalf("missing llm_query() nudge: %q", got)
	}
}

func TestWrapSubcallContentPreservesFullContent(t *testing.T) {
	large := strings.Repeat("x", 600000)
	wrapped := WrapSubcallContent(large)
	if !strings.Contains(wrapped, large) {
		t.Fatalf("wrapped content should not be truncated")
	}
	if strings.Contains(strings.ToLower(wrapped), "truncated") {
		t.Fatalf("wrap should never truncate")
	}
	if !strings.Contains(wrapped, "<untrusted_document_content>") || !strings.Contains(wrapped, "</untrusted_document_content>") {
		t.Fatalf("missing untrusted tags: %q", wrapped)
	}
}

func TestFormatCodeEchoBasic(t *testing.T) {
	out := FormatCodeEcho(`print("hello")`, "hello", nil, "")
	for _, want := range []string{"Code executed:", `print("hello")`, "```python", "REPL output:", "hello"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in %q", want, out)
		}
	}
	if strings.Contains(out, "REPL variables:") {
		t.Fatalf("should not mention variables when none given")
	}
}

func TestFormatCodeEchoWithVars(t *testing.T) {
	out := FormatCodeEcho("x = 42", "", map[string]string{"x": "int", "answer": "str"}, "")
	if !strings.Contains(out, "REPL variables:") {
		t.Fatalf("expected variable listing: %q", out)
	}
	if !strings.Contains(out, "x") || !strings.Contains(out, "answer") {
		t.Fatalf("missing variable names: %q", out)
	}
}

func TestFormatCodeEchoNoXMLOutputTags(t *testing.T) {
	out := FormatCodeEcho("code", "output", nil, "")
	if strings.Contains(out, "<repl_output") {
		t.Fatalf("should use plain label, not XML tags: %q", out)
	}
	if !strings.Contains(out, "REPL output:") {
		t.Fatalf("missing REPL output label: %q", out)
	}
}

func TestFormatCodeEchoWithBoundary(t *testing.T) {
	out := FormatCodeEcho("x = 1", "1", nil, "UNTRUSTED_CONTENT_abc123")
	if !strings.Contains(out, "UNTRUSTED_CONTENT_abc123_BEGIN") || !strings.Contains(out, "UNTRUSTED_CONTENT_abc123_END") {
		t.Fatalf("missing boundary markers: %q", out)
	}
	if !strings.Contains(out, "1") {
		t.Fatalf("missing output: %q", out)
	}
}

func TestFormatCodeEchoWithoutBoundary(t *testing.T) {
	out := FormatCodeEcho("x = 1", "1", nil, "")
	if strings.Contains(out, "_BEGIN") || strings.Contains(out, "_END") {
		t.Fatalf("should not add boundary markers without a boundary: %q", out)
	}
}
