package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultMatchesReferenceEngineDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Query.MaxIterations != 20 {
		t.Errorf("MaxIterations = %d, want 20", cfg.Query.MaxIterations)
	}
	if cfg.Query.MaxOutputChars != 20_000 {
		t.Errorf("MaxOutputChars = %d, want 20000", cfg.Query.MaxOutputChars)
	}
	if cfg.Query.MaxSubcallContentChars != 500_000 {
		t.Errorf("MaxSubcallContentChars = %d, want 500000", cfg.Query.MaxSubcallContentChars)
	}
	if cfg.Trace.MaxTracesPerProject != 50 {
		t.Errorf("MaxTracesPerProject = %d, want 50", cfg.Trace.MaxTracesPerProject)
	}
	if !cfg.Verification.CitationsEnabled() {
		t.Errorf("CitationsEnabled() = false, want true by default")
	}
	if cfg.Verification.Semantic {
		t.Errorf("Semantic = true, want false by default")
	}
	if cfg.Query.ExecutionMode != "fast" {
		t.Errorf("ExecutionMode = %q, want fast", cfg.Query.ExecutionMode)
	}
}

func TestLoadResolvesIncludeAndEnvVars(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "base.yaml"), `
llm:
  provider: anthropic
  model: claude-opus
query:
  max_iterations: 10
`)
	mustWrite(t, filepath.Join(dir, "main.yaml"), `
$include: base.yaml
llm:
  api_key: ${TEST_RLM_API_KEY}
trace:
  directory: /tmp/rlm-traces
`)
	t.Setenv("TEST_RLM_API_KEY", "sk-test-123")

	cfg, err := Load(filepath.Join(dir, "main.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.Model != "claude-opus" {
		t.Errorf("Model = %q, want claude-opus (from included file)", cfg.LLM.Model)
	}
	if cfg.LLM.APIKey != "sk-test-123" {
		t.Errorf("APIKey = %q, want expanded env value", cfg.LLM.APIKey)
	}
	if cfg.Query.MaxIterations != 10 {
		t.Errorf("MaxIterations = %d, want 10 (from included file)", cfg.Query.MaxIterations)
	}
	if cfg.Trace.Directory != "/tmp/rlm-traces" {
		t.Errorf("Directory = %q, want /tmp/rlm-traces", cfg.Trace.Directory)
	}
	// defaults still applied for fields neither file sets
	if cfg.Pool.Size != 4 {
		t.Errorf("Pool.Size = %d, want default 4", cfg.Pool.Size)
	}
}

func TestLoadDetectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "a.yaml"), "$include: b.yaml\n")
	mustWrite(t, filepath.Join(dir, "b.yaml"), "$include: a.yaml\n")

	if _, err := Load(filepath.Join(dir, "a.yaml")); err == nil {
		t.Fatalf("expected include cycle error")
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	mustWrite(t, path, "llm:\n  model: x\n  nonexistent_field: true\n")

	if _, err := Load(path); err == nil {
		t.Fatalf("expected decode error for unknown field")
	}
}

func TestLoadJSON5(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.json5")
	mustWrite(t, path, `{
  // json5 supports comments and trailing commas
  llm: { provider: "anthropic", model: "claude-opus" },
}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load json5: %v", err)
	}
	if cfg.LLM.Model != "claude-opus" {
		t.Errorf("Model = %q, want claude-opus", cfg.LLM.Model)
	}
}

func TestValidateConfigCollectsAllIssues(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)
	cfg.LLM.Model = ""
	cfg.LLM.Provider = "cohere"
	cfg.Query.MaxIterations = 0
	cfg.Pool.Size = -1

	err := validateConfig(cfg)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("error type = %T, want *ValidationError", err)
	}
	if len(ve.Issues) < 4 {
		t.Fatalf("got %d issues, want at least 4: %v", len(ve.Issues), ve.Issues)
	}
}

func TestValidateConfigAcceptsDefaults(t *testing.T) {
	cfg := Default()
	cfg.LLM.Model = "claude-opus"
	if err := validateConfig(cfg); err != nil {
		t.Fatalf("validateConfig on defaults + model: %v", err)
	}
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile(%s): %v", path, err)
	}
}
