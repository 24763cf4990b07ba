// Package source defines the in-memory Source Model: the typed units (agents,
// skills, macros, tools) produced by the loader, their path-derived ids, their
// ordered metadata, and the explicit Index used to look them up. Everything in
// this package is read-only once constructed; later build stages derive new
// values from units and never mutate them.
package source
