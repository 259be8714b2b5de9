// Package trace implements the engine's per-query audit log: a JSON-Lines
// file whose first line is a header record, whose middle lines are step
// records (one per planner turn / sub-call / verification pass), and whose
// last line is a terminal summary record. Finalization is idempotent so a
// deferred cleanup can always call it safely even after a normal return
// already finalized the trace.
package trace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Header is the first line written to a trace file.
type Header struct {
	Version   int       `json:"version"`
	ProjectID string    `json:"project_id"`
	QueryID   string    `json:"query_id"`
	Question  string    `json:"question,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// StepKind enumerates the recognized step record types.
type StepKind string

const (
	StepCodeGenerated       StepKind = "code_generated"
	StepSubcallRequest      StepKind = "subcall_request"
	StepSubcallResponse     StepKind = "subcall_response"
	StepExecuteResult       StepKind = "execute_result"
	StepVerification        StepKind = "verification"
	StepSemanticVerification StepKind = "semantic_verification"
	StepVerificationError   StepKind = "verification_error"
	StepFinalAnswer         StepKind = "final_answer"
)

// Step is one recorded event within the query's execution.
type Step struct {
	Seq       int             `json:"seq"`
	Kind      StepKind        `json:"kind"`
	Iteration int             `json:"iteration"`
	Time      time.Time       `json:"time"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Summary is the last line written to a trace file.
type Summary struct {
	Status        string          `json:"status"`
	FinishedAt    time.Time       `json:"finished_at"`
	ExecutionTime time.Duration   `json:"execution_time_ns"`
	TokenUsage    json.RawMessage `json:"token_usage,omitempty"`
	Note          string          `json:"note,omitempty"`
}

const schemaVersion = 1

// Writer appends header/step/summary records to one trace file. Finalize
// may be called more than once; only the first call writes the summary
// line — later calls (e.g. a deferred best-effort finalize after an early
// return already finalized successfully) are no-ops.
type Writer struct {
	mu        sync.Mutex
	f         *os.File
	enc       *json.Encoder
	seq       int
	startedAt time.Time
	finalized bool
}

// New creates (truncating) a trace file at path and writes its header line.
func New(path, projectID, queryID, question string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("trace: create %s: %w", path, err)
	}
	started := time.Now()
	w := &Writer{f: f, enc: json.NewEncoder(f), startedAt: started}
	header := Header{Version: schemaVersion, ProjectID: projectID, QueryID: queryID, Question: question, StartedAt: started}
	if err := w.writeLine(header); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

func (w *Writer) writeLine(v any) error {
	if err := w.enc.Encode(v); err != nil {
		return fmt.Errorf("trace: encode: %w", err)
	}
	return w.f.Sync()
}

// WriteStep appends one step record. data is marshaled as the record's
// "data" field; pass nil for steps that carry no payload.
func (w *Writer) WriteStep(kind StepKind, iteration int, data any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.finalized {
		return nil
	}
	w.seq++
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("trace: marshal step data: %w", err)
		}
		raw = b
	}
	return w.writeLine(Step{Seq: w.seq, Kind: kind, Iteration: iteration, Time: time.Now(), Data: raw})
}

// Finalize writes the terminal summary line once. Subsequent calls are
// no-ops, so a `defer` cleanup can always call Finalize("interrupted",...)
// without clobbering a summary already written on the success path.
func (w *Writer) Finalize(status string, executionTime time.Duration, tokenUsage any, note string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.finalized {
		return nil
	}
	w.finalized = true

	var rawUsage json.RawMessage
	if tokenUsage != nil {
		b, err := json.Marshal(tokenUsage)
		if err == nil {
			rawUsage = b
		}
	}
	summary := Summary{
		Status:        status,
		FinishedAt:    time.Now(),
		ExecutionTime: executionTime,
		TokenUsage:    rawUsage,
		Note:          note,
	}
	if err := w.writeLine(summary); err != nil {
		return err
	}
	return w.f.Close()
}

// Finalized reports whether Finalize has already run.
func (w *Writer) Finalized() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.finalized
}

// PruneOldTraces keeps the keep most-recently-modified "<projectID>_*.jsonl"
// files under dir and removes the rest, bounding how much per-project trace
// history accumulates on disk.
func PruneOldTraces(dir, projectID string, keep int) error {
	if keep <= 0 {
		return fmt.Errorf("trace: keep must be positive, got %d", keep)
	}
	pattern := filepath.Join(dir, projectID+"_*.jsonl")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return fmt.Errorf("trace: glob %s: %w", pattern, err)
	}
	if len(matches) <= keep {
		return nil
	}

	type fileInfo struct {
		path    string
		modTime time.Time
	}
	infos := make([]fileInfo, 0, len(matches))
	for _, m := range matches {
		st, err := os.Stat(m)
		if err != nil {
			continue
		}
		infos = append(infos, fileInfo{path: m, modTime: st.ModTime()})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].modTime.After(infos[j].modTime) })

	for _, fi := range infos[keep:] {
		if err := os.Remove(fi.path); err != nil {
			return fmt.Errorf("trace: remove %s: %w", fi.path, err)
		}
	}
	return nil
}

// FileName builds the conventional trace file name for a project/query pair
// so writers and PruneOldTraces agree on the glob pattern.
func FileName(projectID, queryID string, at time.Time) string {
	return fmt.Sprintf("%s_%s_%s.jsonl", projectID, at.UTC().Format("20060102T150405.000000000Z"), queryID)
}
