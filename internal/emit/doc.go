// Package emit turns validated build results into the deterministic manifest
// artifact and writes it to disk atomically.
package emit
