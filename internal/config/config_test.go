package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/agentx-labs/abt/internal/flatten"
	"github.com/agentx-labs/abt/internal/validate"
)

func writeConfig(t *testing.T, root, content string) {
	t.Helper()
	if err := os.WriteFile(FilePath(root), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Output != "abt_manifest.json" {
		t.Errorf("Output = %q", cfg.Output)
	}
	if cfg.Build.MaxDepth != flatten.DefaultMaxDepth {
		t.Errorf("MaxDepth = %d", cfg.Build.MaxDepth)
	}
	if cfg.Budget.MaxChars != validate.DefaultMaxChars {
		t.Errorf("MaxChars = %d", cfg.Budget.MaxChars)
	}
	if cfg.Build.Workers < 1 {
		t.Errorf("Workers = %d", cfg.Build.Workers)
	}
	if cfg.Handoff.AllowCycles || cfg.Handoff.SummaryTemplate != "" {
		t.Errorf("Handoff = %+v", cfg.Handoff)
	}
	if cfg.Variables == nil {
		t.Error("Variables is nil")
	}
}

func TestLoadFile(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, `output: dist/manifest.json
requires: "^1.0"
variables:
  company: Acme
  support_hours: 9-5
build:
  workers: 3
  max_depth: 8
budget:
  max_chars: 500
  max_tokens: 200
handoff:
  summary_template: "Hand off to {{ .target.name }}."
  allow_cycles: true
`)
	cfg, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	opts := cfg.BuildOptions()
	if opts.Workers != 3 || opts.MaxDepth != 8 || opts.MaxChars != 500 || opts.MaxTokens != 200 {
		t.Errorf("options = %+v", opts)
	}
	if !opts.AllowHandoffCycles || !strings.Contains(opts.HandoffSummary, ".target.name") {
		t.Errorf("handoff options = %+v", opts)
	}
	if opts.Requires != "^1.0" {
		t.Errorf("Requires = %q", opts.Requires)
	}
	if opts.Variables["company"] != "Acme" {
		t.Errorf("Variables = %v", opts.Variables)
	}
	if cfg.Output != "dist/manifest.json" {
		t.Errorf("Output = %q", cfg.Output)
	}
	if opts.MaxRenderBytes <= 0 {
		t.Errorf("MaxRenderBytes = %d, want the default", opts.MaxRenderBytes)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "budget:\n  max_chars: 500\n")
	t.Setenv("ABT_BUDGET_MAX_CHARS", "42")
	t.Setenv("ABT_OUTPUT", "env.json")

	cfg, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Budget.MaxChars != 42 {
		t.Errorf("MaxChars = %d, want 42", cfg.Budget.MaxChars)
	}
	if cfg.Output != "env.json" {
		t.Errorf("Output = %q", cfg.Output)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []string{
		"build:\n  max_depth: 0\n",
		"build:\n  workers: -1\n",
		"budget:\n  max_chars: -5\n",
		"output: ''\n",
		"build: [not, a, map\n",
	}
	for _, content := range tests {
		root := t.TempDir()
		writeConfig(t, root, content)
		if _, err := Load(root); err == nil {
			t.Errorf("Load accepted %q", content)
		}
	}
}

func TestSetAndGet(t *testing.T) {
	root := t.TempDir()
	if err := Set(root, KeyMaxChars, "1200"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := Set(root, KeyAllowCycles, "true"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := Set(root, KeyOutput, "out/manifest.json"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(root, "abt.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "max_depth") {
		t.Errorf("defaults were written to the file:\n%s", data)
	}

	cfg, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Budget.MaxChars != 1200 || !cfg.Handoff.AllowCycles || cfg.Output != "out/manifest.json" {
		t.Errorf("cfg = %+v", cfg)
	}

	got, err := Get(root, KeyMaxDepth)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != flatten.DefaultMaxDepth {
		t.Errorf("Get(%s) = %v", KeyMaxDepth, got)
	}
}
