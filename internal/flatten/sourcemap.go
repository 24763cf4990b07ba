package flatten

import (
	"strings"

	"github.com/agentx-labs/abt/internal/diag"
	"github.com/agentx-labs/abt/internal/render"
)

// sourceMap translates offsets in a spliced body back to the unit body.
// Spans are appended in output order and never overlap.
type sourceMap struct {
	spans   []span
	bodyEnd int
}

type span struct {
	out  int // first output offset
	body int // body offset of the first byte, or of the directive for spliced text
	n    int
	// spliced marks text written in place of a directive; every offset
	// inside it maps to the directive.
	spliced bool
}

func (m *sourceMap) copied(out, body, n int) {
	if n > 0 {
		m.spans = append(m.spans, span{out: out, body: body, n: n})
	}
}

func (m *sourceMap) splice(out, n, directive int) {
	if n > 0 {
		m.spans = append(m.spans, span{out: out, body: directive, n: n, spliced: true})
	}
}

// bodyOffset returns the body offset that produced the output offset out.
func (m *sourceMap) bodyOffset(out int) int {
	for _, s := range m.spans {
		if out < s.out || out >= s.out+s.n {
			continue
		}
		if s.spliced {
			return s.body
		}
		return s.body + out - s.out
	}
	return m.bodyEnd
}

// site maps a render location in text back to a site in body. Execution
// failures point at the opening delimiter of the failing action.
func (m *sourceMap) site(body, text string, loc render.Location) diag.Site {
	start := lineStart(text, loc.Line)
	if !loc.HasColumn {
		return diag.SiteOf(body, m.bodyOffset(start))
	}

	p := m.bodyOffset(min(start+loc.Column, len(text)))
	end := min(p+2, len(body))
	if open := strings.LastIndex(body[:end], "{{"); open >= 0 && !strings.Contains(body[open:p], "}}") {
		p = open
	}
	return diag.SiteOf(body, p)
}

// lineStart returns the offset of the first byte of the 1-based line.
func lineStart(text string, line int) int {
	off := 0
	for i := 1; i < line; i++ {
		nl := strings.IndexByte(text[off:], '\n')
		if nl < 0 {
			return len(text)
		}
		off += nl + 1
	}
	return off
}
