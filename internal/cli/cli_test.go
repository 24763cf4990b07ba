package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/agentx-labs/abt/internal/diag"
	"github.com/agentx-labs/abt/internal/docs"
)

// runCLI executes the root command with args against a fresh flag state.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	compileOutput, compileStamp, compileWatch = "", false, false
	graphJSON, renderDeps = false, false
	listKindFilter, listTagFilter, listJSON = "", "", false
	docsOutput = docs.DefaultDir
	initProvider = "openai"
	verbose = false

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func initProject(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "acme")
	if _, err := runCLI(t, "init", dir); err != nil {
		t.Fatalf("init: %v", err)
	}
	return dir
}

func TestInitThenCompile(t *testing.T) {
	dir := initProject(t)

	out, err := runCLI(t, "compile", "-C", dir)
	if err != nil {
		t.Fatalf("compile: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Compiled 1 agents and 1 tools") {
		t.Errorf("output = %q", out)
	}

	data, err := os.ReadFile(filepath.Join(dir, "abt_manifest.json"))
	if err != nil {
		t.Fatalf("reading manifest: %v", err)
	}
	var m struct {
		CompiledAt *string `json:"compiled_at"`
		Agents     map[string]struct {
			ModelProvider string `json:"model_provider"`
			SystemPrompt  string `json:"system_prompt"`
		} `json:"agents"`
	}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("decoding manifest: %v", err)
	}
	if m.CompiledAt != nil {
		t.Error("compiled_at present without --stamp")
	}
	agent := m.Agents["support_agent"]
	if agent.ModelProvider != "openai" || !strings.Contains(agent.SystemPrompt, "30 days") {
		t.Errorf("support_agent = %+v", agent)
	}

	again, err := runCLI(t, "compile", "-C", dir, "-o", "second.json")
	if err != nil {
		t.Fatalf("compile: %v\n%s", err, again)
	}
	second, err := os.ReadFile(filepath.Join(dir, "second.json"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, second) {
		t.Error("repeated builds are not byte-identical")
	}
}

func TestCompileStamp(t *testing.T) {
	dir := initProject(t)
	t.Setenv("SOURCE_DATE_EPOCH", "1700000000")

	if _, err := runCLI(t, "compile", "-C", dir, "--stamp"); err != nil {
		t.Fatalf("compile: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "abt_manifest.json"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"compiled_at": "2023-11-14T22:13:20Z"`) {
		t.Errorf("manifest missing stamped time:\n%s", data)
	}
}

func TestCompileMissingReferenceWritesNothing(t *testing.T) {
	dir := initProject(t)
	agent := filepath.Join(dir, "agents", "broken.md")
	if err := os.WriteFile(agent, []byte("---\nname: broken\nmodel_provider: openai\n---\n{{ ref \"skills/nope\" }}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := runCLI(t, "compile", "-C", dir)
	var ue *diag.UnresolvedReferenceError
	if !errors.As(err, &ue) {
		t.Fatalf("err = %v, want an unresolved reference", err)
	}
	if diag.ExitCode(err) != diag.ExitUnresolved {
		t.Errorf("ExitCode = %d", diag.ExitCode(err))
	}
	if _, err := os.Stat(filepath.Join(dir, "abt_manifest.json")); !os.IsNotExist(err) {
		t.Errorf("manifest written for a failed build (stat err: %v)", err)
	}
}

func TestValidateGraphRenderList(t *testing.T) {
	dir := initProject(t)

	out, err := runCLI(t, "validate", "-C", dir)
	if err != nil || !strings.HasPrefix(out, "OK: 1 agents") {
		t.Errorf("validate = %q, %v", out, err)
	}

	out, err = runCLI(t, "graph", "-C", dir)
	if err != nil {
		t.Fatalf("graph: %v", err)
	}
	if !strings.Contains(out, "agents/support_agent") || !strings.Contains(out, "skills/refund_policy") {
		t.Errorf("graph output:\n%s", out)
	}

	out, err = runCLI(t, "render", "-C", dir, "skills/refund_policy")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(out, "30 days of purchase") {
		t.Errorf("render output:\n%s", out)
	}

	out, err = runCLI(t, "list", "-C", dir, "--kind", "tool")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "tools/lookup_order") || strings.Contains(out, "agents/") {
		t.Errorf("list output:\n%s", out)
	}
}

func TestDocs(t *testing.T) {
	dir := initProject(t)
	if _, err := runCLI(t, "docs", "-C", dir); err != nil {
		t.Fatalf("docs: %v", err)
	}
	for _, name := range []string{"lineage.json", "index.html"} {
		if _, err := os.Stat(filepath.Join(dir, docs.DefaultDir, name)); err != nil {
			t.Errorf("%s: %v", name, err)
		}
	}
}

func TestConfigSetGet(t *testing.T) {
	dir := initProject(t)
	if _, err := runCLI(t, "config", "-C", dir, "set", "budget.max_chars", "10"); err != nil {
		t.Fatalf("config set: %v", err)
	}
	out, err := runCLI(t, "config", "-C", dir, "get", "budget.max_chars")
	if err != nil || strings.TrimSpace(out) != "10" {
		t.Errorf("config get = %q, %v", out, err)
	}

	_, err = runCLI(t, "compile", "-C", dir)
	if diag.ExitCode(err) != diag.ExitValidation {
		t.Errorf("compile with a tiny budget: err = %v", err)
	}
}
