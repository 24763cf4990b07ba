// Package refgraph discovers inclusion directives in unit bodies, builds the
// directed reference graph between units, and checks it: every followed edge
// must resolve to an indexed unit and the subgraph reachable from each agent
// must be acyclic.
//
// Directives are found by a static scanner that never executes template
// logic, so references inside conditional branches are still discovered.
// The graph may therefore hold edges that never fire at render time, but it
// never misses one that would.
package refgraph
