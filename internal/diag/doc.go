// Package diag defines the build's error taxonomy (load, parse-reference,
// unresolved-reference, cycle, render, validation) and maps each class to a
// distinct process exit code so automation can branch on the failure kind.
package diag
