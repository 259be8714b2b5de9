package rlmengine

import (
	"regexp"
	"strings"
)

// codeBlockPattern matches ```repl ... ``` fences. (?s) turns on dot-all so
// the block body, matched lazily via .*?, can span multiple lines.
var codeBlockPattern = regexp.MustCompile("(?s)```repl\\s*\\n(.*?)\\n```")

// extractCodeBlocks pulls the body of every ```repl fenced block out of
// text, in order.
func extractCodeBlocks(text string) []string {
	matches := codeBlockPattern.FindAllStringSubmatch(text, -1)
	if matches == nil {
		return nil
	}
	blocks := make([]string, len(matches))
	for i, m := range matches {
		blocks[i] = m[1]
	}
	return blocks
}

var codeBlockStripPattern = regexp.MustCompile("(?s)```repl\\s*\\n.*?\\n```")

var finalVarPattern = regexp.MustCompile(`(?ms)^\s*FINAL_VAR\((.*?)\)`)
var finalPattern = regexp.MustCompile(`(?ms)^\s*FINAL\((.*)\)\s*$`)
var bareIdentifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// bareFinalKind distinguishes the two bare-marker shapes findFinalAnswer
// can report.
type bareFinalKind int

const (
	bareFinalNone bareFinalKind = iota
	bareFinalValue
	bareFinalVar
)

// findFinalAnswer looks for a bare FINAL(...)/FINAL_VAR(...) marker in
// planner text outside of any ```repl block. The planner sometimes emits
// FINAL_VAR(x) as plain prose instead of wrapping it in a code block; this
// catches those cases so the loop doesn't mistake them for "no code".
func findFinalAnswer(text string) (bareFinalKind, string) {
	stripped := codeBlockStripPattern.ReplaceAllString(text, "")

	if m := finalVarPattern.FindStringSubmatch(stripped); m != nil {
		name := strings.TrimSpace(m[1])
		name = strings.Trim(name, `"'`)
		return bareFinalVar, name
	}

	if m := finalPattern.FindStringSubmatch(stripped); m != nil {
		arg := strings.TrimSpace(m[1])
		if bareIdentifierPattern.MatchString(arg) {
			// FINAL(my_var) names a variable, not a literal string — resolve
			// it the same way FINAL_VAR does.
			return bareFinalVar, arg
		}
		return bareFinalValue, arg
	}

	return bareFinalNone, ""
}
