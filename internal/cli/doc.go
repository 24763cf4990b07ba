// Package cli defines the Cobra command tree for the abt CLI. Each file in
// this package registers one top-level command with the root command.
// Commands only parse flags and format output; the build itself lives in
// internal packages.
package cli
