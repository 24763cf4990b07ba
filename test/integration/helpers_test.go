//go:build integration

package integration_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// setupProject writes a multi-agent project with a config file into a temp
// directory and returns its root.
func setupProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	writeFile(t, filepath.Join(root, "abt.yaml"), `output: build/manifest.json
variables:
  company: Acme
handoff:
  summary_template: "Transfer to {{ .target.name }} for {{ .target.description }}."
`)

	// --- Agents ---
	writeFile(t, filepath.Join(root, "agents", "triage.md"), `---
name: triage
description: Routes incoming requests
model_provider: openai
model: gpt-4o
tools: [lookup_order]
tags: [routing]
---
You triage requests for {{ .vars.company }}.
{{ ref "skills/tone" }}
{{ ref "agents/billing" }}
`)
	writeFile(t, filepath.Join(root, "agents", "billing.md"), `---
name: billing
description: billing and refund questions
model_provider: anthropic
version: 1.2.0
---
You handle billing for {{ .vars.company }}.
{{ ref "skills/billing/refunds" }}
{{ ref "tools/lookup_order" }}
`)

	// --- Skills ---
	writeFile(t, filepath.Join(root, "skills", "tone", "SKILL.md"), `---
description: House tone
---
{{ ref "macros/polite" }}
`)
	writeFile(t, filepath.Join(root, "skills", "billing", "refunds.md"), `---
description: Refund rules
---
Refunds are accepted within 30 days.
{{ ref "macros/polite" }}
`)

	// --- Macros ---
	writeFile(t, filepath.Join(root, "macros", "polite.md"), "Always be polite.\n")
	writeFile(t, filepath.Join(root, "macros", "unused.md"), "Never referenced.\n")

	// --- Tools ---
	writeFile(t, filepath.Join(root, "tools", "lookup_order.yaml"), `description: Look up an order by id
parameters:
  type: object
  properties:
    order_id:
      type: string
  required: [order_id]
`)

	return root
}

// writeFile creates a file at the given path with the given content.
func writeFile(t *testing.T, path, content string) {
	t.Helper()
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("creating dir %s: %v", dir, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

// assertFileExists fails the test if the file does not exist.
func assertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected file to exist: %s (error: %v)", path, err)
	}
}

// assertFileNotExists fails the test if the file exists.
func assertFileNotExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); err == nil {
		t.Errorf("expected file NOT to exist: %s", path)
	}
}

// assertFileContains fails if the file doesn't exist or doesn't contain substr.
func assertFileContains(t *testing.T, path, substr string) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Errorf("reading %s: %v", path, err)
		return
	}
	if !strings.Contains(string(data), substr) {
		t.Errorf("file %s does not contain %q.\nContents:\n%s", path, substr, string(data))
	}
}
