// Package scaffold generates a starter project from embedded templates. It
// powers the "abt init" command.
package scaffold
