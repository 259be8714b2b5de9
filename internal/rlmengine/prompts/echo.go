package prompts

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
)

// WrapSubcallContent wraps raw document content in the untrusted-content
// tags the system prompt teaches the planner to treat as data, never
// instructions. Unlike truncation, this never shortens content — the
// sub-LLM is the one sized to handle the full payload.
func WrapSubcallContent(content string) string {
	return fmt.Sprintf("<untrusted_document_content>\n%s\n</untrusted_document_content>", content)
}

// TruncateCodeOutput truncates output that exceeds maxChars, appending a
// nudge message that points the planner at llm_query for content it can no
// longer see directly. This is a forcing function: large REPL output
// should be analyzed through a sub-LLM call, not printed in full.
func TruncateCodeOutput(output string, maxChars int) string {
	if len(output) <= maxChars {
		return output
	}
	omitted := len(output) - maxChars
	return fmt.Sprintf(
		"%s\n... [truncated, %s chars omitted. Output was %s chars, exceeds the %s char limit — use llm_query() to analyze large content instead of printing it directly.]",
		output[:maxChars],
		humanize.Comma(int64(omitted)),
		humanize.Comma(int64(len(output))),
		humanize.Comma(int64(maxChars)),
	)
}

// FormatCodeEcho builds the user-role message echoing one executed code
// block and its output back to the planner. vars may be nil (no variable
// listing); boundary may be "" (no untrusted-content wrapping around the
// output — used for ordinary, already-trusted REPL stdout).
func FormatCodeEcho(code, output string, vars map[string]string, boundary string) string {
	var b strings.Builder
	b.WriteString("Code executed:\n```python\n")
	b.WriteString(code)
	b.WriteString("\n```\n\nREPL output:\n")
	if boundary != "" {
		fmt.Fprintf(&b, "%s_BEGIN\n%s\n%s_END\n", boundary, output, boundary)
	} else {
		b.WriteString(output)
		b.WriteString("\n")
	}
	if len(vars) > 0 {
		names := make([]string, 0, len(vars))
		for name := range vars {
			names = append(names, name)
		}
		sort.Strings(names)
		b.WriteString("\nREPL variables:\n")
		for _, name := range names {
			fmt.Fprintf(&b, "- %s: %s\n", name, vars[name])
		}
	}
	return b.String()
}
