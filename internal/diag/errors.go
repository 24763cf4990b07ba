package diag

import (
	"errors"
	"fmt"
	"strings"

	"github.com/agentx-labs/abt/internal/source"
)

// Site locates a position inside a unit body. Offset is a byte offset;
// Line and Column are 1-based.
type Site struct {
	Offset int
	Line   int
	Column int
}

// SiteOf computes the line and column of a byte offset within text.
func SiteOf(text string, offset int) Site {
	if offset > len(text) {
		offset = len(text)
	}
	line := 1 + strings.Count(text[:offset], "\n")
	col := offset + 1
	if nl := strings.LastIndexByte(text[:offset], '\n'); nl >= 0 {
		col = offset - nl
	}
	return Site{Offset: offset, Line: line, Column: col}
}

func (s Site) String() string {
	return fmt.Sprintf("%d:%d", s.Line, s.Column)
}

// LoadError is an upstream failure to read or parse one source file.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string { return fmt.Sprintf("%s: %v", e.Path, e.Err) }
func (e *LoadError) Unwrap() error { return e.Err }

// LoadErrors aggregates every loader failure of a build.
type LoadErrors []*LoadError

func (e LoadErrors) Error() string {
	return joinMessages(len(e), "load error", func(i int) string { return e[i].Error() })
}

// ParseReferenceError reports a malformed inclusion directive.
type ParseReferenceError struct {
	Unit      source.UnitID
	Directive string
	Site      Site
	Reason    string
}

func (e *ParseReferenceError) Error() string {
	return fmt.Sprintf("%s:%s: malformed reference %q: %s", e.Unit, e.Site, e.Directive, e.Reason)
}

// UnresolvedReferenceError reports a reference whose target is not a unit.
type UnresolvedReferenceError struct {
	Unit   source.UnitID
	Target source.UnitID
	Site   Site
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("%s:%s: unresolved reference to %s", e.Unit, e.Site, e.Target)
}

// CyclicReferenceError reports a reference cycle. Cycle starts and ends with
// the same unit, e.g. [A B A].
type CyclicReferenceError struct {
	Cycle []source.UnitID
}

func (e *CyclicReferenceError) Error() string {
	parts := make([]string, len(e.Cycle))
	for i, id := range e.Cycle {
		parts[i] = string(id)
	}
	return "cyclic reference: " + strings.Join(parts, " -> ")
}

// RenderError reports a template failure or an exceeded expansion limit.
// Site is set when the failure maps to a position in the unit body.
type RenderError struct {
	Unit source.UnitID
	Site Site
	Err  error
}

func (e *RenderError) Error() string {
	if e.Site.Line > 0 {
		return fmt.Sprintf("%s:%s: rendering failed: %v", e.Unit, e.Site, e.Err)
	}
	return fmt.Sprintf("rendering %s: %v", e.Unit, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// ValidationError is one problem found by the validator.
type ValidationError struct {
	Unit    source.UnitID
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Unit, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Unit, e.Field, e.Message)
}

// ValidationErrors is the exhaustive validation report of one build.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	return joinMessages(len(e), "validation error", func(i int) string { return e[i].Error() })
}

func joinMessages(n int, noun string, msg func(int) string) string {
	if n == 1 {
		return msg(0)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d %ss:", n, noun)
	for i := 0; i < n; i++ {
		b.WriteString("\n  ")
		b.WriteString(msg(i))
	}
	return b.String()
}

// Exit codes, one per error class.
const (
	ExitOK         = 0
	ExitFailure    = 1
	ExitLoad       = 2
	ExitParse      = 3
	ExitUnresolved = 4
	ExitCycle      = 5
	ExitRender     = 6
	ExitValidation = 7
)

// ExitCode classifies err into a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var (
		loadErrs   LoadErrors
		loadErr    *LoadError
		parseErr   *ParseReferenceError
		unresolved *UnresolvedReferenceError
		cycle      *CyclicReferenceError
		render     *RenderError
		valErrs    ValidationErrors
	)
	switch {
	case errors.As(err, &loadErrs), errors.As(err, &loadErr):
		return ExitLoad
	case errors.As(err, &parseErr):
		return ExitParse
	case errors.As(err, &unresolved):
		return ExitUnresolved
	case errors.As(err, &cycle):
		return ExitCycle
	case errors.As(err, &render):
		return ExitRender
	case errors.As(err, &valErrs):
		return ExitValidation
	default:
		return ExitFailure
	}
}

// Messages flattens err into one line per underlying problem so the CLI can
// print every collected error, not just the first.
func Messages(err error) []string {
	if err == nil {
		return nil
	}
	var loadErrs LoadErrors
	if errors.As(err, &loadErrs) {
		out := make([]string, len(loadErrs))
		for i, e := range loadErrs {
			out[i] = e.Error()
		}
		return out
	}
	var valErrs ValidationErrors
	if errors.As(err, &valErrs) {
		out := make([]string, len(valErrs))
		for i, e := range valErrs {
			out[i] = e.Error()
		}
		return out
	}
	return []string{err.Error()}
}
