package emit

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/agentx-labs/abt/internal/flatten"
	"github.com/agentx-labs/abt/internal/refgraph"
	"github.com/agentx-labs/abt/internal/source"
	"github.com/google/go-cmp/cmp"
)

func newGraph(t *testing.T, units []source.Unit) *refgraph.Graph {
	t.Helper()
	idx, err := source.NewIndex(units)
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	g, err := refgraph.Build(context.Background(), idx, refgraph.BuildOptions{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return g
}

func unit(id string, body string, meta map[string]any) source.Unit {
	uid := source.UnitID(id)
	return source.Unit{ID: uid, Kind: uid.Kind(), Body: body, Metadata: source.MetadataFromMap(meta)}
}

func sampleUnits() []source.Unit {
	return []source.Unit{
		unit("agents/triage", `Route. {{ ref "agents/billing" }} {{ ref "tools/lookup" }}`, map[string]any{
			"name": "triage", "model_provider": "openai", "temperature": 0.2, "tools": []any{"search", "lookup"},
		}),
		unit("agents/billing", `Billing. {{ ref "skills/refunds" }}`, map[string]any{
			"name": "billing", "model_provider": "anthropic",
		}),
		unit("skills/refunds", "30 days.", map[string]any{"description": "refunds"}),
		unit("tools/search", "", map[string]any{"description": "Search", "parameters": map[string]any{"type": "object"}}),
		unit("tools/lookup", "", map[string]any{"description": "Lookup", "parameters": map[string]any{"type": "object"}}),
	}
}

func sampleResolved() map[source.UnitID]*flatten.Resolved {
	return map[source.UnitID]*flatten.Resolved{
		"agents/triage": {
			ID: "agents/triage", FlatText: "Route.",
			Tools: []source.UnitID{"tools/lookup"}, Handoffs: []source.UnitID{"agents/billing"},
		},
		"agents/billing": {
			ID: "agents/billing", FlatText: "Billing. 30 days.",
			Contributing: []source.UnitID{"skills/refunds"},
		},
	}
}

func TestEmitRecords(t *testing.T) {
	g := newGraph(t, sampleUnits())
	m, err := Emit(g, sampleResolved(), Options{})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if m.SchemaVersion != SchemaVersion || m.CompiledAt != nil {
		t.Errorf("header = %q %v", m.SchemaVersion, m.CompiledAt)
	}

	triage := m.Agents["triage"]
	if diff := cmp.Diff([]string{"billing"}, triage.Handoffs); diff != "" {
		t.Errorf("triage handoffs (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"lookup", "search"}, triage.Tools); diff != "" {
		t.Errorf("triage tools (-want +got):\n%s", diff)
	}
	if triage.Temperature == nil || *triage.Temperature != 0.2 {
		t.Errorf("triage temperature = %v", triage.Temperature)
	}
	if strings.Contains(triage.SystemPrompt, "Billing") {
		t.Error("handoff target text leaked into triage")
	}

	billing := m.Agents["billing"]
	if billing.Temperature != nil {
		t.Errorf("billing temperature = %v, want unset", *billing.Temperature)
	}
	if len(billing.Handoffs) != 0 || billing.Handoffs == nil {
		t.Errorf("billing handoffs = %#v, want empty list", billing.Handoffs)
	}
	if diff := cmp.Diff([]string{"skills/refunds"}, billing.Dependencies); diff != "" {
		t.Errorf("billing dependencies (-want +got):\n%s", diff)
	}

	if got := m.Tools["search"]; got.Description != "Search" || got.ID != "tools/search" {
		t.Errorf("search tool = %+v", got)
	}
}

func TestEmitMissingResolved(t *testing.T) {
	g := newGraph(t, sampleUnits())
	resolved := sampleResolved()
	delete(resolved, "agents/billing")
	if _, err := Emit(g, resolved, Options{}); err == nil {
		t.Fatal("expected an error for an agent without a resolved prompt")
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	first, err := Emit(newGraph(t, sampleUnits()), sampleResolved(), Options{})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	a, err := first.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	units := sampleUnits()
	for i, j := 0, len(units)-1; i < j; i, j = i+1, j-1 {
		units[i], units[j] = units[j], units[i]
	}
	second, err := Emit(newGraph(t, units), sampleResolved(), Options{})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	b, err := second.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if string(a) != string(b) {
		t.Errorf("encodings differ:\n%s\n---\n%s", a, b)
	}
	if !strings.HasSuffix(string(a), "}\n") {
		t.Error("encoding should end with a newline")
	}
	if !strings.Contains(string(a), `"agents": {`+"\n"+`    "billing"`) {
		t.Errorf("agents not sorted by key:\n%s", a)
	}
}

func sourceHash(t *testing.T, units []source.Unit, settings Settings) string {
	t.Helper()
	sum, err := SourceHash(newGraph(t, units).Index(), settings)
	if err != nil {
		t.Fatalf("SourceHash: %v", err)
	}
	return sum
}

func TestSourceHashTracksContent(t *testing.T) {
	base := sourceHash(t, sampleUnits(), Settings{})
	if base != sourceHash(t, sampleUnits(), Settings{}) {
		t.Fatal("hash is not stable")
	}

	changed := sampleUnits()
	changed[2] = unit("skills/refunds", "60 days.", map[string]any{"description": "refunds"})
	if sourceHash(t, changed, Settings{}) == base {
		t.Error("body change did not change the hash")
	}

	meta := sampleUnits()
	meta[2] = unit("skills/refunds", "30 days.", map[string]any{"description": "refund policy"})
	if sourceHash(t, meta, Settings{}) == base {
		t.Error("metadata change did not change the hash")
	}
	if len(base) != 64 {
		t.Errorf("hash length = %d, want 64 hex chars", len(base))
	}
}

func TestSourceHashTracksSettings(t *testing.T) {
	acme := Settings{Variables: map[string]any{"company": "Acme"}, MaxDepth: 32}
	base := sourceHash(t, sampleUnits(), acme)

	tests := []struct {
		name     string
		settings Settings
	}{
		{"variable value", Settings{Variables: map[string]any{"company": "Globex"}, MaxDepth: 32}},
		{"handoff summary", Settings{Variables: map[string]any{"company": "Acme"}, MaxDepth: 32, HandoffSummary: "see {{ .target.name }}"}},
		{"max depth", Settings{Variables: map[string]any{"company": "Acme"}, MaxDepth: 4}},
		{"handoff cycles", Settings{Variables: map[string]any{"company": "Acme"}, MaxDepth: 32, AllowHandoffCycles: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if sourceHash(t, sampleUnits(), tt.settings) == base {
				t.Errorf("changing the %s did not change the hash", tt.name)
			}
		})
	}

	if sourceHash(t, sampleUnits(), Settings{}) != sourceHash(t, sampleUnits(), Settings{Variables: map[string]any{}}) {
		t.Error("nil and empty variables hash differently")
	}
}

func TestEmitStamp(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 30, 15, 999, time.FixedZone("X", 3600))
	m, err := Emit(newGraph(t, sampleUnits()), sampleResolved(), Options{CompiledAt: &at})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	data, err := m.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["compiled_at"] != "2024-05-01T11:30:15Z" {
		t.Errorf("compiled_at = %v", decoded["compiled_at"])
	}
}

func TestBuildTime(t *testing.T) {
	now := func() time.Time { return time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC) }

	got, err := BuildTime(func(string) string { return "" }, now)
	if err != nil || !got.Equal(now()) {
		t.Errorf("BuildTime() = %v, %v", got, err)
	}

	got, err = BuildTime(func(string) string { return "1700000000" }, now)
	if err != nil || got.Unix() != 1700000000 {
		t.Errorf("BuildTime(epoch) = %v, %v", got, err)
	}

	if _, err := BuildTime(func(string) string { return "yesterday" }, now); err == nil {
		t.Error("expected an error for a malformed epoch")
	}
}

func TestCheckRequires(t *testing.T) {
	tests := []struct {
		constraint string
		wantErr    bool
	}{
		{"", false},
		{"^1.0", false},
		{">= 1.0.0, < 2.0.0", false},
		{">= 2.0.0", true},
		{"not a constraint", true},
	}
	for _, tt := range tests {
		t.Run(tt.constraint, func(t *testing.T) {
			err := CheckRequires(tt.constraint)
			if (err != nil) != tt.wantErr {
				t.Errorf("CheckRequires(%q) error = %v, wantErr %v", tt.constraint, err, tt.wantErr)
			}
		})
	}
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out", "abt_manifest.json")

	if err := WriteFile(path, []byte("first\n")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := WriteFile(path, []byte("second\n")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "second\n" {
		t.Errorf("content = %q", data)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("leftover files: %v", names)
	}
}
