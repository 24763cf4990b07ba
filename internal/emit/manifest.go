package emit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/agentx-labs/abt/internal/flatten"
	"github.com/agentx-labs/abt/internal/refgraph"
	"github.com/agentx-labs/abt/internal/source"
)

// SchemaVersion is the version of the manifest layout produced by this
// package.
const SchemaVersion = "1.0.0"

// Manifest is the compiled artifact consumed by agent runtimes.
type Manifest struct {
	SchemaVersion string           `json:"schema_version"`
	SourceHash    string           `json:"source_hash"`
	CompiledAt    *time.Time       `json:"compiled_at,omitempty"`
	Agents        map[string]Agent `json:"agents"`
	Tools         map[string]Tool  `json:"tools"`
}

// Agent is one deployable agent.
type Agent struct {
	ID            string         `json:"id"`
	Description   string         `json:"description,omitempty"`
	ModelProvider string         `json:"model_provider"`
	Model         string         `json:"model,omitempty"`
	Temperature   *float64       `json:"temperature,omitempty"`
	SystemPrompt  string         `json:"system_prompt"`
	Tools         []string       `json:"tools"`
	Handoffs      []string       `json:"handoffs"`
	Dependencies  []string       `json:"dependencies"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Tool is a declared tool and its parameter schema.
type Tool struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Schema      any    `json:"schema"`
}

// Options configures Emit.
type Options struct {
	// CompiledAt is recorded in the manifest when set. Leaving it nil keeps
	// repeated builds byte-identical.
	CompiledAt *time.Time

	// Settings are folded into the source hash.
	Settings Settings
}

// Emit assembles the manifest. It reads its inputs and never modifies them.
// Every agent in the graph must have a resolved entry.
func Emit(g *refgraph.Graph, resolved map[source.UnitID]*flatten.Resolved, opts Options) (*Manifest, error) {
	idx := g.Index()
	sum, err := SourceHash(idx, opts.Settings)
	if err != nil {
		return nil, err
	}
	m := &Manifest{
		SchemaVersion: SchemaVersion,
		SourceHash:    sum,
		Agents:        make(map[string]Agent, len(idx.Agents())),
		Tools:         make(map[string]Tool, len(idx.Tools())),
	}
	if opts.CompiledAt != nil {
		at := opts.CompiledAt.UTC().Truncate(time.Second)
		m.CompiledAt = &at
	}

	handoffs := make(map[source.UnitID][]string)
	for _, h := range g.Handoffs() {
		handoffs[h.From] = append(handoffs[h.From], h.To.Name())
	}

	for _, u := range idx.Agents() {
		r, ok := resolved[u.ID]
		if !ok {
			return nil, fmt.Errorf("agent %s has no resolved prompt", u.ID)
		}
		key := u.ID.Name()
		if _, dup := m.Agents[key]; dup {
			return nil, fmt.Errorf("agent name %q is used twice", key)
		}
		m.Agents[key] = agentRecord(u, r, handoffs[u.ID])
	}

	for _, u := range idx.Tools() {
		description, _ := u.Metadata.String("description")
		params, _ := u.Metadata.Get("parameters")
		m.Tools[u.ID.Name()] = Tool{
			ID:          u.ID.String(),
			Description: description,
			Schema:      source.Normalize(params),
		}
	}
	return m, nil
}

func agentRecord(u source.Unit, r *flatten.Resolved, handoffs []string) Agent {
	a := Agent{
		ID:           u.ID.String(),
		SystemPrompt: r.FlatText,
		Handoffs:     sortedUnique(handoffs),
		Dependencies: make([]string, 0, len(r.Contributing)),
		Metadata:     u.Metadata.Map(),
	}
	a.Description, _ = u.Metadata.String("description")
	a.ModelProvider, _ = u.Metadata.String("model_provider")
	a.Model, _ = u.Metadata.String("model")
	if t, ok := u.Metadata.Float("temperature"); ok {
		a.Temperature = &t
	}
	for _, id := range r.Contributing {
		a.Dependencies = append(a.Dependencies, id.String())
	}

	var tools []string
	for _, id := range r.Tools {
		tools = append(tools, id.Name())
	}
	if names, ok := u.Metadata.Strings("tools"); ok {
		for _, name := range names {
			tools = append(tools, source.ToolID(name).Name())
		}
	}
	a.Tools = sortedUnique(tools)
	if len(a.Metadata) == 0 {
		a.Metadata = nil
	}
	return a
}

// sortedUnique returns a sorted copy of in without duplicates. The result is
// never nil so it encodes as an empty list.
func sortedUnique(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// Encode serializes the manifest as indented JSON with a trailing newline.
// Map keys are emitted in sorted order.
func (m *Manifest) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}
	return buf.Bytes(), nil
}
