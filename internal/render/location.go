package render

import (
	"regexp"
	"strconv"
)

// Location is a position reported by a failed render. Line is 1-based.
// Column is the 0-based byte offset within the line and is only known for
// execution failures; parse failures carry the line alone.
type Location struct {
	Line      int
	Column    int
	HasColumn bool
}

// ErrorLocation extracts the position that a render error of the template
// called name points at. It also returns the error message with that
// position prefix removed, since the position refers to the rendered text.
func ErrorLocation(err error, name string) (Location, string, bool) {
	if err == nil {
		return Location{}, "", false
	}
	re := regexp.MustCompile(`template: ` + regexp.QuoteMeta(name) + `:(\d+)(?::(\d+))?: `)
	msg := err.Error()
	m := re.FindStringSubmatchIndex(msg)
	if m == nil {
		return Location{}, msg, false
	}

	var loc Location
	loc.Line, _ = strconv.Atoi(msg[m[2]:m[3]])
	if m[4] >= 0 {
		loc.Column, _ = strconv.Atoi(msg[m[4]:m[5]])
		loc.HasColumn = true
	}
	return loc, msg[:m[0]] + msg[m[1]:], true
}
