package refgraph

import (
	"context"
	"fmt"
	"runtime"
	"sort"

	"github.com/agentx-labs/abt/internal/diag"
	"github.com/agentx-labs/abt/internal/logging"
	"github.com/agentx-labs/abt/internal/source"
	"golang.org/x/sync/errgroup"
)

// EdgeKind classifies a reference by what the flattening engine does with it.
type EdgeKind int

const (
	// EdgeInclude splices the target's flattened text (skill or macro).
	EdgeInclude EdgeKind = iota
	// EdgeHandoff is an agent-to-agent reference, recorded as routing metadata.
	EdgeHandoff
	// EdgeTool binds a tool declaration to the agents that reach it.
	EdgeTool
	// EdgeUnresolved targets an id missing from the index.
	EdgeUnresolved
)

func (k EdgeKind) String() string {
	switch k {
	case EdgeInclude:
		return "include"
	case EdgeHandoff:
		return "handoff"
	case EdgeTool:
		return "tool"
	case EdgeUnresolved:
		return "unresolved"
	default:
		return "unknown"
	}
}

// Reference is a directed edge discovered in a unit body. Directive carries
// the byte span used for splicing.
type Reference struct {
	From      source.UnitID
	To        source.UnitID
	Kind      EdgeKind
	Site      diag.Site
	Directive Directive
}

// HandoffEdge is an agent-to-agent routing edge.
type HandoffEdge struct {
	From source.UnitID
	To   source.UnitID
}

// Graph holds every indexed unit as a node and every discovered reference as
// an edge. It is immutable after Build.
type Graph struct {
	index *source.Index
	refs  map[source.UnitID][]Reference
}

// BuildOptions configures Build.
type BuildOptions struct {
	// Workers bounds the scanning pool; zero means GOMAXPROCS.
	Workers int
}

// Build scans every unit body concurrently and assembles the graph. It fails
// with a *diag.ParseReferenceError on the first malformed directive in id
// order. Missing targets are recorded as EdgeUnresolved for the checker.
func Build(ctx context.Context, idx *source.Index, opts BuildOptions) (*Graph, error) {
	logger := logging.FromContext(ctx)

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	units := idx.Units()
	results := make([][]Reference, len(units))
	errs := make([]error, len(units))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, u := range units {
		if u.Body == "" {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i], errs[i] = scanUnit(u, idx)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	graph := &Graph{index: idx, refs: make(map[source.UnitID][]Reference, len(units))}
	edges := 0
	for i, u := range units {
		if errs[i] != nil {
			return nil, errs[i]
		}
		if len(results[i]) > 0 {
			graph.refs[u.ID] = results[i]
			edges += len(results[i])
		}
	}

	logger.Debugw("Reference graph built.", "units", len(units), "edges", edges, "workers", workers)
	return graph, nil
}

// scanUnit extracts and classifies the references of one unit. It only reads
// the unit and the index.
func scanUnit(u source.Unit, idx *source.Index) ([]Reference, error) {
	directives, serr := ScanDirectives(u.Body)
	if serr != nil {
		return nil, &diag.ParseReferenceError{
			Unit:      u.ID,
			Directive: serr.Raw,
			Site:      diag.SiteOf(u.Body, serr.Offset),
			Reason:    serr.Reason,
		}
	}

	refs := make([]Reference, 0, len(directives))
	for _, d := range directives {
		site := diag.SiteOf(u.Body, d.Start)
		target, err := source.ParseUnitID(d.Target)
		if err != nil {
			return nil, &diag.ParseReferenceError{
				Unit:      u.ID,
				Directive: d.Raw,
				Site:      site,
				Reason:    err.Error(),
			}
		}

		kind := EdgeUnresolved
		if tu, ok := idx.Lookup(target); ok {
			switch tu.Kind {
			case source.KindAgent:
				if u.Kind != source.KindAgent {
					return nil, &diag.ParseReferenceError{
						Unit:      u.ID,
						Directive: d.Raw,
						Site:      site,
						Reason:    fmt.Sprintf("only agents may hand off to agent %s", target),
					}
				}
				kind = EdgeHandoff
			case source.KindTool:
				kind = EdgeTool
			default:
				kind = EdgeInclude
			}
		}
		if target == u.ID {
			kind = EdgeInclude // self-reference; the checker reports it as a cycle
		}

		refs = append(refs, Reference{
			From:      u.ID,
			To:        target,
			Kind:      kind,
			Site:      site,
			Directive: d,
		})
	}
	return refs, nil
}

// Index returns the unit index the graph was built from.
func (g *Graph) Index() *source.Index { return g.index }

// References returns the outgoing references of id in source order.
func (g *Graph) References(id source.UnitID) []Reference {
	refs := g.refs[id]
	out := make([]Reference, len(refs))
	copy(out, refs)
	return out
}

// Edges returns every reference ordered by source unit, then by offset.
func (g *Graph) Edges() []Reference {
	var out []Reference
	for _, id := range g.index.IDs() {
		out = append(out, g.refs[id]...)
	}
	return out
}

// Handoffs returns the deduplicated handoff edges sorted by (From, To).
func (g *Graph) Handoffs() []HandoffEdge {
	seen := make(map[HandoffEdge]bool)
	var out []HandoffEdge
	for _, ref := range g.Edges() {
		if ref.Kind != EdgeHandoff {
			continue
		}
		e := HandoffEdge{From: ref.From, To: ref.To}
		if !seen[e] {
			seen[e] = true
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].To < out[j].To
	})
	return out
}
