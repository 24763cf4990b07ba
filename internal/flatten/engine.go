package flatten

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/agentx-labs/abt/internal/diag"
	"github.com/agentx-labs/abt/internal/logging"
	"github.com/agentx-labs/abt/internal/refgraph"
	"github.com/agentx-labs/abt/internal/render"
	"github.com/agentx-labs/abt/internal/source"
)

// DefaultMaxDepth bounds the longest include chain below any unit.
const DefaultMaxDepth = 32

// Options configures an Engine.
type Options struct {
	// Workers bounds the flattening pool; zero means GOMAXPROCS.
	Workers int
	// MaxDepth bounds include chains; zero means DefaultMaxDepth.
	MaxDepth int
	// HandoffSummary, when set, is rendered at every agent-to-agent
	// directive site. When empty the site is replaced with nothing.
	HandoffSummary string
	// Variables are exposed to every template as .vars.
	Variables map[string]any
}

// Resolved is the flattened form of one unit.
type Resolved struct {
	ID       source.UnitID
	FlatText string
	// Contributing lists the units whose text was inlined, depth-first in
	// source order, each once.
	Contributing []source.UnitID
	// Tools lists tool units bound by directives in this unit or in any unit
	// it includes.
	Tools []source.UnitID
	// Handoffs lists the agents this unit hands off to, in source order.
	Handoffs []source.UnitID
	// Depth is the length of the longest include chain starting here; a unit
	// without includes has depth 1.
	Depth int
}

// Engine flattens units of a checked reference graph.
type Engine struct {
	graph    *refgraph.Graph
	reach    *refgraph.Reachability
	renderer render.Renderer
	opts     Options
	memo     *Memo
}

// New creates an Engine. reach must come from a successful graph.Check, which
// guarantees that every unit the engine visits is acyclic and resolvable.
func New(graph *refgraph.Graph, reach *refgraph.Reachability, renderer render.Renderer, opts Options) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.Variables == nil {
		opts.Variables = map[string]any{}
	}
	return &Engine{
		graph:    graph,
		reach:    reach,
		renderer: renderer,
		opts:     opts,
		memo:     NewMemo(),
	}
}

// Memo exposes the engine's memo table.
func (e *Engine) Memo() *Memo { return e.memo }

type outcome struct {
	id  source.UnitID
	err error
}

// FlattenAll resolves every reachable unit except tools, which carry no body.
// It returns on the first failure; on cancellation in-flight results are
// discarded and ctx.Err() is returned.
func (e *Engine) FlattenAll(ctx context.Context) (map[source.UnitID]*Resolved, error) {
	logger := logging.FromContext(ctx)

	var nodes []source.UnitID
	for _, id := range e.reach.Units {
		if id.Kind() != source.KindTool {
			nodes = append(nodes, id)
		}
	}
	if len(nodes) == 0 {
		return map[source.UnitID]*Resolved{}, nil
	}

	// pending counts distinct unresolved include targets per unit.
	pending := make(map[source.UnitID]int, len(nodes))
	dependents := make(map[source.UnitID][]source.UnitID)
	for _, id := range nodes {
		seen := make(map[source.UnitID]bool)
		for _, ref := range e.graph.References(id) {
			if ref.Kind != refgraph.EdgeInclude || seen[ref.To] {
				continue
			}
			seen[ref.To] = true
			pending[id]++
			dependents[ref.To] = append(dependents[ref.To], id)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ready := make(chan source.UnitID, len(nodes))
	results := make(chan outcome, len(nodes))

	roots := 0
	for _, id := range nodes {
		if pending[id] == 0 {
			ready <- id
			roots++
		}
	}
	logger.Debugw("Starting flattening pool.", "units", len(nodes), "leaves", roots, "workers", e.opts.Workers)

	workers := e.opts.Workers
	if workers > len(nodes) {
		workers = len(nodes)
	}
	done := make(chan struct{})
	active := workers
	for i := 0; i < workers; i++ {
		go func(workerID int) {
			e.worker(runCtx, ready, results, workerID)
			done <- struct{}{}
		}(i)
	}

	var firstErr error
	completed := 0
	for completed < len(nodes) && firstErr == nil {
		select {
		case <-ctx.Done():
			firstErr = ctx.Err()
		case out := <-results:
			completed++
			if out.err != nil {
				firstErr = out.err
				continue
			}
			for _, dep := range dependents[out.id] {
				pending[dep]--
				if pending[dep] == 0 {
					ready <- dep
				}
			}
		}
	}

	cancel()
	close(ready)
	for active > 0 {
		<-done
		active--
	}

	if firstErr != nil {
		logger.Debugw("Flattening aborted.", "completed", completed, "error", firstErr)
		return nil, firstErr
	}
	logger.Debugw("Flattening finished.", "units", len(nodes))
	return e.memo.snapshot(nodes), nil
}

// worker flattens units from the ready queue. Every unit it receives already
// has all of its include targets memoized.
func (e *Engine) worker(ctx context.Context, ready <-chan source.UnitID, results chan<- outcome, workerID int) {
	logger := logging.FromContext(ctx).With("workerID", workerID)
	for id := range ready {
		if err := ctx.Err(); err != nil {
			results <- outcome{id: id, err: err}
			continue
		}
		_, err := e.memo.Do(id, func() (*Resolved, error) {
			return e.flattenUnit(ctx, id, e.memoized)
		})
		if err == nil {
			logger.Debugw("Unit flattened.", "unit", id)
		}
		results <- outcome{id: id, err: err}
	}
}

func (e *Engine) memoized(id source.UnitID) (*Resolved, error) {
	r, ok := e.memo.Get(id)
	if !ok {
		return nil, fmt.Errorf("dependency %s scheduled before it was resolved", id)
	}
	return r, nil
}

// Resolve flattens a single reachable unit on demand, recursing into its
// include targets. The call depth is threaded through the recursion and a
// chain deeper than MaxDepth fails with a *diag.RenderError.
func (e *Engine) Resolve(ctx context.Context, id source.UnitID) (*Resolved, error) {
	if !e.reach.Contains(id) {
		return nil, fmt.Errorf("unit %s is not reachable from any agent", id)
	}
	if id.Kind() == source.KindTool {
		return nil, fmt.Errorf("unit %s is a tool and has no body to flatten", id)
	}
	return e.resolve(ctx, id, 1)
}

func (e *Engine) resolve(ctx context.Context, id source.UnitID, depth int) (*Resolved, error) {
	if depth > e.opts.MaxDepth {
		return nil, &diag.RenderError{
			Unit: id,
			Err:  fmt.Errorf("expansion depth %d exceeds limit %d", depth, e.opts.MaxDepth),
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.memo.Do(id, func() (*Resolved, error) {
		return e.flattenUnit(ctx, id, func(dep source.UnitID) (*Resolved, error) {
			return e.resolve(ctx, dep, depth+1)
		})
	})
}

// flattenUnit splices resolved include targets into the unit body, then
// renders the result once. lookup supplies the resolved include targets.
func (e *Engine) flattenUnit(ctx context.Context, id source.UnitID, lookup func(source.UnitID) (*Resolved, error)) (*Resolved, error) {
	u, ok := e.graph.Index().Lookup(id)
	if !ok {
		return nil, fmt.Errorf("unit %s is not indexed", id)
	}

	res := &Resolved{ID: id, Depth: 1}
	contributing := newOrderedSet()
	tools := newOrderedSet()
	handoffs := newOrderedSet()

	var b strings.Builder
	sm := &sourceMap{bodyEnd: len(u.Body)}
	cursor := 0
	for _, ref := range e.graph.References(id) {
		d := ref.Directive
		segment := u.Body[cursor:d.Start]
		if d.TrimLeft {
			segment = strings.TrimRight(segment, " \t\r\n")
		}
		sm.copied(b.Len(), cursor, len(segment))
		b.WriteString(segment)

		switch ref.Kind {
		case refgraph.EdgeInclude:
			dep, err := lookup(ref.To)
			if err != nil {
				return nil, err
			}
			text := render.Escape(dep.FlatText)
			sm.splice(b.Len(), len(text), d.Start)
			b.WriteString(text)
			contributing.add(ref.To)
			contributing.add(dep.Contributing...)
			tools.add(dep.Tools...)
			if dep.Depth+1 > res.Depth {
				res.Depth = dep.Depth + 1
			}
		case refgraph.EdgeHandoff:
			handoffs.add(ref.To)
			summary, err := e.handoffSummary(ctx, u, ref)
			if err != nil {
				return nil, err
			}
			text := render.Escape(summary)
			sm.splice(b.Len(), len(text), d.Start)
			b.WriteString(text)
		case refgraph.EdgeTool:
			tools.add(ref.To)
		default:
			return nil, &diag.UnresolvedReferenceError{Unit: id, Target: ref.To, Site: ref.Site}
		}

		cursor = d.End
		if d.TrimRight {
			for cursor < len(u.Body) && strings.IndexByte(" \t\r\n", u.Body[cursor]) >= 0 {
				cursor++
			}
		}
	}
	sm.copied(b.Len(), cursor, len(u.Body)-cursor)
	b.WriteString(u.Body[cursor:])

	if res.Depth > e.opts.MaxDepth {
		return nil, &diag.RenderError{
			Unit: id,
			Err:  fmt.Errorf("expansion depth %d exceeds limit %d", res.Depth, e.opts.MaxDepth),
		}
	}

	spliced := b.String()
	text, err := e.renderer.Render(ctx, string(id), spliced, e.bindings(u))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		re := &diag.RenderError{Unit: id, Err: err}
		if loc, msg, ok := render.ErrorLocation(err, string(id)); ok {
			re.Site = sm.site(u.Body, spliced, loc)
			re.Err = errors.New(msg)
		}
		return nil, re
	}

	res.FlatText = strings.TrimSpace(text)
	res.Contributing = contributing.items
	res.Tools = tools.items
	res.Handoffs = handoffs.items
	return res, nil
}

// handoffSummary renders the configured summary template for a handoff from
// u to target, or returns "" when none is configured.
func (e *Engine) handoffSummary(ctx context.Context, u source.Unit, ref refgraph.Reference) (string, error) {
	target := ref.To
	if e.opts.HandoffSummary == "" {
		return "", nil
	}
	tu, ok := e.graph.Index().Lookup(target)
	if !ok {
		return "", &diag.UnresolvedReferenceError{Unit: u.ID, Target: target}
	}
	description, _ := tu.Metadata.String("description")
	name, ok := tu.Metadata.String("name")
	if !ok {
		name = target.Name()
	}

	bindings := e.bindings(u)
	bindings["target"] = map[string]any{
		"id":          string(target),
		"name":        name,
		"description": description,
		"meta":        tu.Metadata.Map(),
	}
	text, err := e.renderer.Render(ctx, "handoff:"+string(u.ID)+"->"+string(target), e.opts.HandoffSummary, bindings)
	if err != nil {
		return "", &diag.RenderError{Unit: u.ID, Site: ref.Site, Err: fmt.Errorf("handoff summary for %s: %w", target, err)}
	}
	return strings.TrimSpace(text), nil
}

func (e *Engine) bindings(u source.Unit) map[string]any {
	return map[string]any{
		"vars": e.opts.Variables,
		"unit": map[string]any{
			"id":   string(u.ID),
			"kind": u.Kind.String(),
			"name": u.ID.Name(),
		},
		"meta": u.Metadata.Map(),
	}
}

// orderedSet keeps the first occurrence of each id.
type orderedSet struct {
	seen  map[source.UnitID]bool
	items []source.UnitID
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[source.UnitID]bool)}
}

func (s *orderedSet) add(ids ...source.UnitID) {
	for _, id := range ids {
		if !s.seen[id] {
			s.seen[id] = true
			s.items = append(s.items, id)
		}
	}
}
