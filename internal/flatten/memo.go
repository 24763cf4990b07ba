package flatten

import (
	"sync"

	"github.com/agentx-labs/abt/internal/source"
	"golang.org/x/sync/singleflight"
)

// Memo caches resolved units for one build. It has no eviction; its size is
// bounded by the project.
type Memo struct {
	mu      sync.RWMutex
	entries map[source.UnitID]*Resolved
	group   singleflight.Group
}

// NewMemo returns an empty memo table.
func NewMemo() *Memo {
	return &Memo{entries: make(map[source.UnitID]*Resolved)}
}

// Get returns the memoized result for id.
func (m *Memo) Get(id source.UnitID) (*Resolved, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.entries[id]
	return r, ok
}

// Do returns the memoized result for id, computing it with fn when absent.
// Concurrent callers for the same id share one computation: the first caller
// runs fn and the others wait for its result. Failed computations are not
// cached.
func (m *Memo) Do(id source.UnitID, fn func() (*Resolved, error)) (*Resolved, error) {
	if r, ok := m.Get(id); ok {
		return r, nil
	}
	v, err, _ := m.group.Do(string(id), func() (any, error) {
		if r, ok := m.Get(id); ok {
			return r, nil
		}
		r, err := fn()
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.entries[id] = r
		m.mu.Unlock()
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Resolved), nil
}

// Len returns the number of memoized units.
func (m *Memo) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// snapshot copies the entries for ids into a new map.
func (m *Memo) snapshot(ids []source.UnitID) map[source.UnitID]*Resolved {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[source.UnitID]*Resolved, len(ids))
	for _, id := range ids {
		if r, ok := m.entries[id]; ok {
			out[id] = r
		}
	}
	return out
}
