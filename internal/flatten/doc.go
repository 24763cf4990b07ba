// Package flatten resolves every agent-reachable unit into one self-contained
// string by splicing the flattened text of each included unit at its
// directive site and then running the unit's own template logic once.
//
// Units are scheduled leaves-first on a ready queue: a unit is handed to the
// worker pool only after every unit it includes has a memoized result.
// The memo table is keyed by unit id with single-writer-per-key semantics,
// so a skill shared by many agents is rendered exactly once per build.
package flatten
