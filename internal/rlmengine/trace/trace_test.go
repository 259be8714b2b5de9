package trace

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestWriterProducesHeaderStepsSummary(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trace.jsonl")

	w, err := New(path, "proj1", "q1", "what is x?")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.WriteStep(StepCodeGenerated, 0, map[string]string{"code": "FINAL(1)"}); err != nil {
		t.Fatalf("WriteStep: %v", err)
	}
	if err := w.WriteStep(StepFinalAnswer, 0, nil); err != nil {
		t.Fatalf("WriteStep: %v", err)
	}
	if err := w.Finalize("success", time.Second, nil, ""); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)

	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want 4 (header + 2 steps + summary)", len(lines))
	}

	var header Header
	if err := json.Unmarshal([]byte(lines[0]), &header); err != nil {
		t.Fatalf("decode header: %v", err)
	}
	if header.ProjectID != "proj1" || header.QueryID != "q1" {
		t.Fatalf("header = %+v, want proj1/q1", header)
	}

	var summary Summary
	if err := json.Unmarshal([]byte(lines[3]), &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.Status != "success" {
		t.Fatalf("summary.Status = %q, want success", summary.Status)
	}
}

func TestFinalizeIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	w, err := New(filepath.Join(dir, "trace.jsonl"), "proj1", "q1", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.Finalize("success", 0, nil, ""); err != nil {
		t.Fatalf("Finalize 1: %v", err)
	}
	if err := w.Finalize("interrupted", 0, nil, "should be ignored"); err != nil {
		t.Fatalf("Finalize 2: %v", err)
	}
	if !w.Finalized() {
		t.Fatalf("expected Finalized() to be true")
	}

	data, err := os.ReadFile(filepath.Join(dir, "trace.jsonl"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var count int
	for _, b := range data {
		if b == '\n' {
			count++
		}
	}
	if count != 2 {
		t.Fatalf("got %d lines, want 2 (header + one summary, second Finalize must be a no-op)", count)
	}
}

func TestPruneOldTracesKeepsMostRecent(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	for i := 0; i < 5; i++ {
		name := FileName("proj1", "q"+string(rune('a'+i)), now.Add(time.Duration(i)*time.Second))
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte("{}\n"), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
		modTime := now.Add(time.Duration(i) * time.Minute)
		if err := os.Chtimes(path, modTime, modTime); err != nil {
			t.Fatalf("Chtimes: %v", err)
		}
	}

	if err := PruneOldTraces(dir, "proj1", 2); err != nil {
		t.Fatalf("PruneOldTraces: %v", err)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "proj1_*.jsonl"))
	if err != nil {
		t.Fatalf("Glob: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("got %d remaining files, want 2", len(matches))
	}
	for _, m := range matches {
		if !strings.HasSuffix(m, "_qd.jsonl") && !strings.HasSuffix(m, "_qe.jsonl") {
			t.Fatalf("remaining file %s is not one of the two most recently modified", m)
		}
	}
}
