// Package loader reads a project tree from disk into source units.
package loader
