package validate

import (
	"context"
	"sort"
	"strconv"
	"unicode/utf8"

	"github.com/Masterminds/semver/v3"
	"github.com/agentx-labs/abt/internal/diag"
	"github.com/agentx-labs/abt/internal/flatten"
	"github.com/agentx-labs/abt/internal/logging"
	"github.com/agentx-labs/abt/internal/refgraph"
	"github.com/agentx-labs/abt/internal/source"
)

// DefaultMaxChars is the default per-agent system prompt budget.
const DefaultMaxChars = 100000

// charsPerToken is the ratio used to estimate token counts.
const charsPerToken = 4

// Options configures the budget checks.
type Options struct {
	// MaxChars caps the rune count of every agent's flattened prompt.
	// Zero disables the project-wide limit.
	MaxChars int
	// MaxTokens caps the estimated token count. Zero disables it.
	MaxTokens int
}

// Input is everything the validator inspects.
type Input struct {
	Graph    *refgraph.Graph
	Resolved map[source.UnitID]*flatten.Resolved
}

// Validate runs every check and returns all problems sorted by unit, field
// and message. A nil result means the build may emit a manifest.
func Validate(ctx context.Context, in Input, opts Options) diag.ValidationErrors {
	logger := logging.FromContext(ctx)
	idx := in.Graph.Index()

	var errs diag.ValidationErrors
	report := func(unit source.UnitID, field, msg string) {
		errs = append(errs, diag.ValidationError{Unit: unit, Field: field, Message: msg})
	}

	for _, u := range idx.Units() {
		checkUnitMetadata(u, report)
	}
	for _, a := range idx.Agents() {
		checkToolBindings(idx, a, report)
		if r, ok := in.Resolved[a.ID]; ok {
			checkBudget(a, r, opts, report)
		}
	}
	checkHandoffs(in.Graph, report)

	sort.SliceStable(errs, func(i, j int) bool {
		a, b := errs[i], errs[j]
		if a.Unit != b.Unit {
			return a.Unit < b.Unit
		}
		if a.Field != b.Field {
			return a.Field < b.Field
		}
		return a.Message < b.Message
	})

	logger.Debugw("Validation finished.", "units", idx.Len(), "problems", len(errs))
	if len(errs) == 0 {
		return nil
	}
	return errs
}

type reportFunc func(unit source.UnitID, field, msg string)

// checkUnitMetadata applies the kind schema, the semver rule for version
// fields and, for tools, the parameter schema compilation check.
func checkUnitMetadata(u source.Unit, report reportFunc) {
	issues, err := checkMetadata(u)
	if err != nil {
		report(u.ID, "", err.Error())
		return
	}
	for _, is := range issues {
		report(u.ID, is.Field, is.Message)
	}

	if v, ok := u.Metadata.String("version"); ok {
		if _, err := semver.NewVersion(v); err != nil {
			report(u.ID, "version", printer.Sprintf("%q is not a semantic version", v))
		}
	}

	if u.Kind == source.KindTool {
		params, ok := u.Metadata.Get("parameters")
		if _, isObject := params.(map[string]any); ok && isObject {
			if err := checkParameterSchema(u.ID, params); err != nil {
				report(u.ID, "parameters", "invalid parameter schema: "+err.Error())
			}
		}
	}
}

// checkToolBindings verifies that every tool named in an agent's "tools"
// metadata is a declared tool unit. Names may be given with or without the
// "tools/" prefix.
func checkToolBindings(idx *source.Index, a source.Unit, report reportFunc) {
	names, ok := a.Metadata.Strings("tools")
	if !ok {
		return
	}
	for i, name := range names {
		id := source.ToolID(name)
		if u, found := idx.Lookup(id); !found || u.Kind != source.KindTool {
			report(a.ID, "tools."+strconv.Itoa(i), printer.Sprintf("tool %q is not declared", name))
		}
	}
}

// checkBudget compares the flattened prompt of an agent against the
// character and token budgets. Per-agent metadata can only tighten the
// project limits.
func checkBudget(a source.Unit, r *flatten.Resolved, opts Options, report reportFunc) {
	chars := utf8.RuneCountInString(r.FlatText)

	maxChars := tighten(opts.MaxChars, a.Metadata, "max_prompt_chars")
	if maxChars > 0 && chars > maxChars {
		report(a.ID, "system_prompt",
			printer.Sprintf("prompt is %d characters, exceeds the budget of %d", chars, maxChars))
	}

	maxTokens := tighten(opts.MaxTokens, a.Metadata, "max_prompt_tokens")
	if tokens := EstimateTokens(chars); maxTokens > 0 && tokens > maxTokens {
		report(a.ID, "system_prompt",
			printer.Sprintf("prompt is an estimated %d tokens, exceeds the budget of %d", tokens, maxTokens))
	}
}

// tighten returns the smaller of the project limit and the agent's own
// limit under key. A zero project limit is unbounded.
func tighten(limit int, meta source.Metadata, key string) int {
	n, ok := meta.Int(key)
	if !ok || n <= 0 {
		return limit
	}
	if limit <= 0 {
		return n
	}
	return min(limit, n)
}

// EstimateTokens approximates a token count from a character count.
func EstimateTokens(chars int) int {
	return (chars + charsPerToken - 1) / charsPerToken
}

// checkHandoffs re-asserts that every handoff edge targets a declared agent.
func checkHandoffs(g *refgraph.Graph, report reportFunc) {
	idx := g.Index()
	for _, h := range g.Handoffs() {
		u, ok := idx.Lookup(h.To)
		switch {
		case !ok:
			report(h.From, "handoffs", printer.Sprintf("handoff target %s is not declared", h.To))
		case u.Kind != source.KindAgent:
			report(h.From, "handoffs", printer.Sprintf("handoff target %s is a %s, not an agent", h.To, u.Kind))
		}
	}
}
