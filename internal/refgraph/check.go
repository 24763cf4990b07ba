package refgraph

import (
	"context"

	"github.com/agentx-labs/abt/internal/diag"
	"github.com/agentx-labs/abt/internal/logging"
	"github.com/agentx-labs/abt/internal/source"
)

// CheckOptions configures Check.
type CheckOptions struct {
	// AllowHandoffCycles lets agent-to-agent edges close a cycle. Handoff
	// edges are never inlined, so such cycles cannot loop during flattening.
	AllowHandoffCycles bool
}

// Reachability is the result of a successful check.
type Reachability struct {
	// Units lists every unit reachable from at least one agent, agents
	// included, sorted by id.
	Units []source.UnitID

	set map[source.UnitID]bool
}

// Contains reports whether id is reachable from an agent.
func (r *Reachability) Contains(id source.UnitID) bool { return r.set[id] }

// Check walks the graph depth-first from every agent root in id order. The
// first edge to a missing unit fails with *diag.UnresolvedReferenceError; a
// back-edge to a unit on the current stack fails with
// *diag.CyclicReferenceError carrying the stack slice from that unit.
// Fully explored units are never re-explored, so the walk is linear in
// nodes plus edges across all roots.
func (g *Graph) Check(ctx context.Context, opts CheckOptions) (*Reachability, error) {
	logger := logging.FromContext(ctx)

	done := make(map[source.UnitID]bool)
	reach := &Reachability{set: make(map[source.UnitID]bool)}

	var (
		stack   []source.UnitID
		onStack = make(map[source.UnitID]int)
	)

	var visit func(id source.UnitID) error
	visit = func(id source.UnitID) error {
		onStack[id] = len(stack)
		stack = append(stack, id)
		reach.set[id] = true

		for _, ref := range g.refs[id] {
			if ref.Kind == EdgeUnresolved {
				return &diag.UnresolvedReferenceError{Unit: ref.From, Target: ref.To, Site: ref.Site}
			}
			if ref.Kind == EdgeHandoff && opts.AllowHandoffCycles {
				// Target agents are roots of their own walk.
				continue
			}
			if pos, ok := onStack[ref.To]; ok {
				cycle := make([]source.UnitID, 0, len(stack)-pos+1)
				cycle = append(cycle, stack[pos:]...)
				cycle = append(cycle, ref.To)
				return &diag.CyclicReferenceError{Cycle: cycle}
			}
			if done[ref.To] {
				continue
			}
			if err := visit(ref.To); err != nil {
				return err
			}
		}

		stack = stack[:len(stack)-1]
		delete(onStack, id)
		done[id] = true
		return nil
	}

	for _, agent := range g.index.Agents() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if done[agent.ID] {
			continue
		}
		if err := visit(agent.ID); err != nil {
			return nil, err
		}
	}

	for _, id := range g.index.IDs() {
		if reach.set[id] {
			reach.Units = append(reach.Units, id)
		}
	}
	logger.Debugw("Reference graph checked.", "roots", len(g.index.Agents()), "reachable", len(reach.Units))
	return reach, nil
}
