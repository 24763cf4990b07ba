package docs

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"html/template"
	"path/filepath"
	"sort"
	"unicode/utf8"

	"github.com/agentx-labs/abt/internal/branding"
	"github.com/agentx-labs/abt/internal/emit"
	"github.com/agentx-labs/abt/internal/refgraph"
)

//go:embed index.html.tmpl
var indexTemplate string

var indexTmpl = template.Must(template.New("index").Parse(indexTemplate))

// DefaultDir is the docs output directory relative to the project root.
const DefaultDir = "abt_docs"

// Lineage describes how every agent was assembled.
type Lineage struct {
	SchemaVersion string         `json:"schema_version"`
	SourceHash    string         `json:"source_hash"`
	Agents        []AgentLineage `json:"agents"`
	Edges         []Edge         `json:"edges"`
}

// AgentLineage is one agent and the units its prompt was built from.
type AgentLineage struct {
	Name          string   `json:"name"`
	ID            string   `json:"id"`
	Description   string   `json:"description,omitempty"`
	ModelProvider string   `json:"model_provider"`
	Temperature   *float64 `json:"temperature,omitempty"`
	PromptChars   int      `json:"prompt_chars"`
	SystemPrompt  string   `json:"system_prompt"`
	Dependencies  []string `json:"dependencies"`
	Tools         []string `json:"tools"`
	Handoffs      []string `json:"handoffs"`
}

// Edge is one reference between units.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
	Kind string `json:"kind"`
}

// Build derives the lineage from a manifest and its reference graph.
func Build(m *emit.Manifest, g *refgraph.Graph) *Lineage {
	l := &Lineage{
		SchemaVersion: m.SchemaVersion,
		SourceHash:    m.SourceHash,
		Agents:        make([]AgentLineage, 0, len(m.Agents)),
		Edges:         []Edge{},
	}

	names := make([]string, 0, len(m.Agents))
	for name := range m.Agents {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		a := m.Agents[name]
		l.Agents = append(l.Agents, AgentLineage{
			Name:          name,
			ID:            a.ID,
			Description:   a.Description,
			ModelProvider: a.ModelProvider,
			Temperature:   a.Temperature,
			PromptChars:   utf8.RuneCountInString(a.SystemPrompt),
			SystemPrompt:  a.SystemPrompt,
			Dependencies:  a.Dependencies,
			Tools:         a.Tools,
			Handoffs:      a.Handoffs,
		})
	}

	for _, ref := range g.Edges() {
		l.Edges = append(l.Edges, Edge{From: ref.From.String(), To: ref.To.String(), Kind: ref.Kind.String()})
	}
	return l
}

// Files renders the documentation files keyed by file name.
func (l *Lineage) Files() (map[string][]byte, error) {
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding lineage: %w", err)
	}

	var html bytes.Buffer
	err = indexTmpl.Execute(&html, struct {
		Title   string
		Lineage *Lineage
	}{
		Title:   branding.DisplayName() + " Lineage",
		Lineage: l,
	})
	if err != nil {
		return nil, fmt.Errorf("rendering index.html: %w", err)
	}

	return map[string][]byte{
		"lineage.json": append(data, '\n'),
		"index.html":   html.Bytes(),
	}, nil
}

// Write renders the documentation into dir and returns the index path.
func (l *Lineage) Write(dir string) (string, error) {
	files, err := l.Files()
	if err != nil {
		return "", err
	}
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := emit.WriteFile(filepath.Join(dir, name), files[name]); err != nil {
			return "", err
		}
	}
	return filepath.Join(dir, "index.html"), nil
}
