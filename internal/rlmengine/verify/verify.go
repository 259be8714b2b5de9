// Package verify implements the engine's two independent verification
// passes over a delivered final answer: mechanical citation checking (do
// the answer's quoted claims actually appear in the source documents,
// verbatim) and two-layer semantic verification (an adversarial LLM pass,
// followed by a code-specific pass when the documents are source code).
// Both passes are best-effort — a failure here never changes the answer
// already delivered to the caller, only what gets recorded about it.
package verify

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// QuoteCheck is one quoted span found in a final answer and whether it was
// located verbatim in any source document.
type QuoteCheck struct {
	Text     string
	Found    bool
	DocIndex int // index into the documents slice, -1 if not found
}

// CitationResult is the outcome of mechanical citation verification.
type CitationResult struct {
	Quotes []QuoteCheck
}

// quotedSpan matches double-quoted spans of at least 8 characters — short
// enough to catch real quoted claims, long enough to skip incidental
// quoting of single words or punctuation.
var quotedSpan = regexp.MustCompile(`"([^"]{8,})"`)

// VerifyCitations extracts quoted spans from answer and checks each one
// for a verbatim match in documents. This runs entirely host-side rather
// than as generated sandbox code: rlmexpr's grammar is deliberately limited
// to straight-line statements (see the rlmexpr package docs), so it cannot
// express the per-quote loop a generated verification script would need.
func VerifyCitations(answer string, documents []string) CitationResult {
	matches := quotedSpan.FindAllStringSubmatch(answer, -1)
	if len(matches) == 0 {
		return CitationResult{}
	}
	quotes := make([]QuoteCheck, 0, len(matches))
	for _, m := range matches {
		text := m[1]
		docIdx := -1
		for i, doc := range documents {
			if strings.Contains(doc, text) {
				docIdx = i
				break
			}
		}
		quotes = append(quotes, QuoteCheck{Text: text, Found: docIdx >= 0, DocIndex: docIdx})
	}
	return CitationResult{Quotes: quotes}
}

// AllSupported reports whether every quoted claim was found verbatim.
func (r CitationResult) AllSupported() bool {
	for _, q := range r.Quotes {
		if !q.Found {
			return false
		}
	}
	return true
}

// Summary renders a one-line human-readable result for the trace log.
func (r CitationResult) Summary() string {
	if len(r.Quotes) == 0 {
		return "no quoted claims found to verify"
	}
	supported := 0
	for _, q := range r.Quotes {
		if q.Found {
			supported++
		}
	}
	return fmt.Sprintf("%d/%d quoted claims found verbatim in source documents", supported, len(r.Quotes))
}

// Finding is one reviewed claim from a semantic verification pass.
type Finding struct {
	FindingID              string   `json:"finding_id"`
	OriginalClaim          string   `json:"original_claim"`
	Confidence             string   `json:"confidence"`
	Reason                 string   `json:"reason"`
	EvidenceClassification string   `json:"evidence_classification"`
	Flags                  []string `json:"flags,omitempty"`
}

// Report is the result of running one or both semantic verification
// layers against a final answer.
type Report struct {
	Findings    []Finding
	ContentType string
}

const findingsSchemaJSON = `{
	"type": "object",
	"required": ["findings"],
	"properties": {
		"findings": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["finding_id", "original_claim", "confidence", "reason", "evidence_classification"],
				"properties": {
					"finding_id": {"type": "string"},
					"original_claim": {"type": "string"},
					"confidence": {"type": "string", "enum": ["high", "medium", "low"]},
					"reason": {"type": "string"},
					"evidence_classification": {"type": "string", "enum": ["direct", "loose", "unsupported"]},
					"flags": {"type": "array", "items": {"type": "string"}}
				}
			}
		}
	}
}`

var (
	findingsSchemaOnce sync.Once
	findingsSchema     *jsonschema.Schema
	findingsSchemaErr  error
)

func compileFindingsSchema() (*jsonschema.Schema, error) {
	findingsSchemaOnce.Do(func() {
		findingsSchema, findingsSchemaErr = jsonschema.CompileString("verify.findings.schema.json", findingsSchemaJSON)
	})
	return findingsSchema, findingsSchemaErr
}

// ParseVerificationResponse extracts the first JSON object from raw (the
// sub-LLM may wrap it in prose or a markdown fence), validates it against
// the findings schema, and decodes it.
func ParseVerificationResponse(raw string) ([]Finding, error) {
	objText, err := extractJSONObject(raw)
	if err != nil {
		return nil, err
	}

	schema, err := compileFindingsSchema()
	if err != nil {
		return nil, fmt.Errorf("verify: compile findings schema: %w", err)
	}

	var decoded any
	if err := json.Unmarshal([]byte(objText), &decoded); err != nil {
		return nil, fmt.Errorf("verify: decode response JSON: %w", err)
	}
	if err := schema.Validate(decoded); err != nil {
		return nil, fmt.Errorf("verify: response failed schema validation: %w", err)
	}

	var payload struct {
		Findings []Finding `json:"findings"`
	}
	if err := json.Unmarshal([]byte(objText), &payload); err != nil {
		return nil, fmt.Errorf("verify: decode findings: %w", err)
	}
	return payload.Findings, nil
}

// extractJSONObject finds the first balanced {...} span in raw by brace
// depth counting. It does not account for braces inside string literals,
// which is an acceptable simplification here: the findings schema's string
// fields are prose/code snippets that rarely contain a literal brace, and
// a false split just surfaces as an ordinary JSON decode error upstream.
func extractJSONObject(raw string) (string, error) {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return "", fmt.Errorf("verify: no JSON object found in response")
	}
	depth := 0
	for i := start; i < len(raw); i++ {
		switch raw[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return raw[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("verify: unterminated JSON object in response")
}

// GatherCitedDocuments returns the concatenated content of every document
// whose name is mentioned in answer, so semantic verification only pays
// for the documents actually implicated by the claims being checked.
func GatherCitedDocuments(answer string, documents, docNames []string) string {
	var b strings.Builder
	for i, name := range docNames {
		if name == "" || i >= len(documents) {
			continue
		}
		if strings.Contains(answer, name) {
			fmt.Fprintf(&b, "=== %s ===\n%s\n\n", name, documents[i])
		}
	}
	return strings.TrimSpace(b.String())
}

var codeExtensions = map[string]bool{
	".go": true, ".py": true, ".js": true, ".ts": true, ".java": true,
	".rb": true, ".c": true, ".h": true, ".cpp": true, ".rs": true, ".sh": true,
}

// DetectContentType classifies a document set as "code" when at least half
// of the named documents carry a recognized source-code extension, else
// "document". Layer 2 (code-specific) semantic verification only runs for
// "code".
func DetectContentType(docNames []string) string {
	if len(docNames) == 0 {
		return "document"
	}
	codeCount := 0
	for _, name := range docNames {
		if codeExtensions[strings.ToLower(filepath.Ext(name))] {
			codeCount++
		}
	}
	if codeCount*2 >= len(docNames) {
		return "code"
	}
	return "document"
}
