// Package prompts loads and renders the engine's named prompt templates —
// the system prompt, the per-iteration continuation messages, the sub-LLM
// call wrapper, and the optional two-layer verification prompts. Templates
// live as plain-text files named after their role ("system.md",
// "subcall.md", ...) so an operator can replace them by pointing New at a
// directory of templates. That directory then supplies the whole set: every
// required file must be present in it, and an optional verify_* file it
// lacks stays unavailable. Nothing falls back to the built-in defaults
// embedded in the binary, which are used only when no directory is given.
package prompts

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

//go:embed templates/*.md
var defaultTemplates embed.FS

// EnvPromptsDir is the environment variable consulted by ResolvePromptsDir.
const EnvPromptsDir = "RLM_PROMPTS_DIR"

// ResolvePromptsDir returns the prompts directory override from the
// environment, or "" if unset (meaning: use the embedded defaults).
func ResolvePromptsDir() string {
	return os.Getenv(EnvPromptsDir)
}

// Loader holds the loaded (and validated) set of prompt templates.
type Loader struct {
	dir   string
	files map[string]string
}

// New loads prompt templates from dir. If dir is "", the built-in default
// templates are used instead. Every required template must exist; the two
// verify_* templates are optional. All loaded templates are validated for
// their declared placeholders before New returns.
func New(dir string) (*Loader, error) {
	files := map[string]string{}

	if dir == "" {
		for _, name := range requiredFiles {
			b, err := defaultTemplates.ReadFile("templates/" + name)
			if err != nil {
				return nil, fmt.Errorf("prompts: required prompt file not found: %s", name)
			}
			files[name] = string(b)
		}
		for _, name := range optionalFiles {
			if b, err := defaultTemplates.ReadFile("templates/" + name); err == nil {
				files[name] = string(b)
			}
		}
	} else {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			return nil, fmt.Errorf("prompts: prompts directory not found: %s", dir)
		}
		for _, name := range requiredFiles {
			b, err := os.ReadFile(filepath.Join(dir, name))
			if err != nil {
				return nil, fmt.Errorf("prompts: required prompt file not found: %s", name)
			}
			files[name] = string(b)
		}
		for _, name := range optionalFiles {
			if b, err := os.ReadFile(filepath.Join(dir, name)); err == nil {
				files[name] = string(b)
			}
		}
	}

	if err := validateTemplates(files); err != nil {
		return nil, err
	}
	return &Loader{dir: dir, files: files}, nil
}

// Dir returns the directory New was given (empty for the embedded defaults).
func (l *Loader) Dir() string { return l.dir }

// GetRawTemplate returns the unrendered template text for name.
func (l *Loader) GetRawTemplate(name string) (string, error) {
	content, ok := l.files[name]
	if !ok {
		return "", fmt.Errorf("prompts: required prompt file not found: %s", name)
	}
	return content, nil
}

// RenderSystemPrompt renders the fixed system prompt (no variables).
func (l *Loader) RenderSystemPrompt() string {
	out, err := format(l.files["system.md"], nil)
	if err != nil {
		// The embedded/validated template never references an undeclared
		// placeholder, so this can only happen with a corrupt override —
		// fall back to the raw text rather than panicking mid-query.
		return l.files["system.md"]
	}
	return out
}

// RenderContextMetadata renders the assistant-priming message describing
// the loaded document context.
func (l *Loader) RenderContextMetadata(contextType string, contextTotalLength int, contextLengths string) (string, error) {
	return format(l.files["context_metadata.md"], map[string]string{
		"context_type":         contextType,
		"context_total_length": strconv.Itoa(contextTotalLength),
		"context_lengths":      contextLengths,
	})
}

// RenderIterationZero renders the iteration-0 safeguard message.
func (l *Loader) RenderIterationZero(question string) (string, error) {
	return format(l.files["iteration_zero.md"], map[string]string{"question": question})
}

// RenderIterationContinue renders the per-iteration continuation message.
func (l *Loader) RenderIterationContinue(question string) (string, error) {
	return format(l.files["iteration_continue.md"], map[string]string{"question": question})
}

// RenderSubcallPrompt renders the prompt sent to a sub-LLM invoked via
// llm_query/llm_query_batched; content is untrusted document data and the
// template is responsible for wrapping it in the untrusted-content tags.
func (l *Loader) RenderSubcallPrompt(instruction, content string) (string, error) {
	return format(l.files["subcall.md"], map[string]string{
		"instruction": instruction,
		"content":     content,
	})
}

// RenderCodeRequired renders the nudge sent when a planner turn produced no
// ```repl code block.
func (l *Loader) RenderCodeRequired() (string, error) {
	return format(l.files["code_required.md"], nil)
}

// RenderVerifyAdversarialPrompt renders the Layer 1 semantic verification
// prompt. Returns an error if verify_adversarial.md was not loaded.
func (l *Loader) RenderVerifyAdversarialPrompt(findings, documents string) (string, error) {
	tmpl, err := l.GetRawTemplate("verify_adversarial.md")
	if err != nil {
		return "", err
	}
	return format(tmpl, map[string]string{"findings": findings, "documents": documents})
}

// RenderVerifyCodePrompt renders the Layer 2 (code-specific) semantic
// verification prompt. Returns an error if verify_code.md was not loaded.
func (l *Loader) RenderVerifyCodePrompt(previousResults, findings, documents string) (string, error) {
	tmpl, err := l.GetRawTemplate("verify_code.md")
	if err != nil {
		return "", err
	}
	return format(tmpl, map[string]string{
		"previous_results": previousResults,
		"findings":         findings,
		"documents":        documents,
	})
}
