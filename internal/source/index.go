package source

import (
	"fmt"
	"sort"
)

// Index is the explicit unit registry, built once from the loader's output and
// passed by reference to every stage that resolves ids.
type Index struct {
	units map[UnitID]Unit
	order []UnitID
}

// NewIndex builds an index, rejecting duplicate ids and ids whose kind does
// not match the unit's declared kind.
func NewIndex(units []Unit) (*Index, error) {
	idx := &Index{units: make(map[UnitID]Unit, len(units))}
	for _, u := range units {
		if _, err := ParseUnitID(string(u.ID)); err != nil {
			return nil, fmt.Errorf("indexing %s: %w", u.Path, err)
		}
		if u.ID.Kind() != u.Kind {
			return nil, fmt.Errorf("unit %s declares kind %s but its id implies %s", u.ID, u.Kind, u.ID.Kind())
		}
		if prev, dup := idx.units[u.ID]; dup {
			return nil, fmt.Errorf("duplicate unit id %s (%s and %s)", u.ID, prev.Path, u.Path)
		}
		idx.units[u.ID] = u
		idx.order = append(idx.order, u.ID)
	}
	sort.Slice(idx.order, func(i, j int) bool { return idx.order[i] < idx.order[j] })
	return idx, nil
}

// Lookup returns the unit with the exact id.
func (x *Index) Lookup(id UnitID) (Unit, bool) {
	u, ok := x.units[id]
	return u, ok
}

// Len returns the number of indexed units.
func (x *Index) Len() int { return len(x.order) }

// IDs returns every id in lexicographic order.
func (x *Index) IDs() []UnitID {
	out := make([]UnitID, len(x.order))
	copy(out, x.order)
	return out
}

// Units returns every unit sorted by id.
func (x *Index) Units() []Unit {
	out := make([]Unit, 0, len(x.order))
	for _, id := range x.order {
		out = append(out, x.units[id])
	}
	return out
}

// OfKind returns the units of one kind sorted by id.
func (x *Index) OfKind(kind Kind) []Unit {
	var out []Unit
	for _, id := range x.order {
		if u := x.units[id]; u.Kind == kind {
			out = append(out, u)
		}
	}
	return out
}

// Agents returns the agent units sorted by id.
func (x *Index) Agents() []Unit { return x.OfKind(KindAgent) }

// Tools returns the tool units sorted by id.
func (x *Index) Tools() []Unit { return x.OfKind(KindTool) }
