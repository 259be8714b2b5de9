package prompts

import "fmt"

// requiredFiles must be present in any prompts directory (or the built-in
// default set); verify templates are optional since verification is an
// opt-in engine feature.
var requiredFiles = []string{
	"system.md",
	"context_metadata.md",
	"iteration_zero.md",
	"iteration_continue.md",
	"subcall.md",
	"code_required.md",
}

var optionalFiles = []string{
	"verify_adversarial.md",
	"verify_code.md",
}

// placeholdersByFile lists the placeholders the loader always supplies for
// a given template, used to catch a missing substitution at load time
// rather than mid-query.
var placeholdersByFile = map[string][]string{
	"context_metadata.md":   {"context_type", "context_total_length", "context_lengths"},
	"iteration_zero.md":     {"question"},
	"iteration_continue.md": {"question"},
	"subcall.md":            {"instruction", "content"},
	"verify_adversarial.md": {"findings", "documents"},
	"verify_code.md":        {"previous_results", "findings", "documents"},
}

// PromptValidationError reports a template missing a placeholder the
// engine relies on.
type PromptValidationError struct {
	File    string
	Missing []string
}

func (e *PromptValidationError) Error() string {
	return fmt.Sprintf("prompts: %s is missing required placeholder(s) %v", e.File, e.Missing)
}

func validateTemplates(files map[string]string) error {
	for file, placeholders := range placeholdersByFile {
		content, ok := files[file]
		if !ok {
			continue
		}
		var missing []string
		for _, p := range placeholders {
			if !hasPlaceholder(content, p) {
				missing = append(missing, p)
			}
		}
		if len(missing) > 0 {
			return &PromptValidationError{File: file, Missing: missing}
		}
	}
	return nil
}
