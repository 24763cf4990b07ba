package refgraph

import (
	"fmt"
	"strings"
)

// Directive is one inclusion directive found in a body.
// Start and End delimit the whole action, "{{" through "}}".
type Directive struct {
	Raw       string
	Target    string
	Start     int
	End       int
	TrimLeft  bool
	TrimRight bool
}

// scanError describes a malformed directive at a byte offset.
type scanError struct {
	Raw    string
	Offset int
	Reason string
}

const (
	leftDelim  = "{{"
	rightDelim = "}}"
	refKeyword = "ref"
)

// ScanDirectives returns every ref directive in body in source order. Any
// action whose first word is "ref" is treated as a directive, so malformed
// ones are reported rather than silently passed to the template engine.
func ScanDirectives(body string) ([]Directive, *scanError) {
	var out []Directive
	pos := 0
	for {
		rel := strings.Index(body[pos:], leftDelim)
		if rel < 0 {
			return out, nil
		}
		start := pos + rel
		inner := start + len(leftDelim)

		trimLeft := false
		cursor := inner
		if len(body) > cursor+1 && body[cursor] == '-' && isSpace(body[cursor+1]) {
			trimLeft = true
			cursor++
		}
		cursor = skipSpace(body, cursor)

		if !startsWithWord(body[cursor:], refKeyword) {
			pos = inner
			continue
		}

		closeRel := strings.Index(body[cursor:], rightDelim)
		if closeRel < 0 {
			return nil, &scanError{
				Raw:    excerpt(body[start:]),
				Offset: start,
				Reason: "unterminated directive",
			}
		}
		end := cursor + closeRel + len(rightDelim)
		content := body[cursor : cursor+closeRel]

		trimRight := false
		if n := len(content); n >= 2 && content[n-1] == '-' && isSpace(content[n-2]) {
			trimRight = true
			content = content[:n-1]
		}

		target, err := parseRefCall(content)
		if err != nil {
			return nil, &scanError{Raw: body[start:end], Offset: start, Reason: err.Error()}
		}

		out = append(out, Directive{
			Raw:       body[start:end],
			Target:    target,
			Start:     start,
			End:       end,
			TrimLeft:  trimLeft,
			TrimRight: trimRight,
		})
		pos = end
	}
}

// parseRefCall parses `ref "id"`, `ref 'id'`, `ref("id")` or `ref('id')`.
func parseRefCall(content string) (string, error) {
	s := strings.TrimSpace(content)
	s = strings.TrimSpace(strings.TrimPrefix(s, refKeyword))

	paren := false
	if strings.HasPrefix(s, "(") {
		paren = true
		s = strings.TrimSpace(s[1:])
	}
	if s == "" || s == ")" {
		return "", fmt.Errorf("missing target")
	}

	quote := s[0]
	if quote != '"' && quote != '\'' && quote != '`' {
		return "", fmt.Errorf("target must be a quoted unit id")
	}
	closeIdx := strings.IndexByte(s[1:], quote)
	if closeIdx < 0 {
		return "", fmt.Errorf("unterminated string")
	}
	target := s[1 : 1+closeIdx]
	rest := strings.TrimSpace(s[2+closeIdx:])

	if paren {
		if !strings.HasPrefix(rest, ")") {
			return "", fmt.Errorf("missing closing parenthesis")
		}
		rest = strings.TrimSpace(rest[1:])
	}
	if rest != "" {
		return "", fmt.Errorf("unexpected %q after target", rest)
	}
	if strings.TrimSpace(target) == "" {
		return "", fmt.Errorf("empty target")
	}
	if target != strings.TrimSpace(target) {
		return "", fmt.Errorf("target %q has surrounding whitespace", target)
	}
	return target, nil
}

func skipSpace(s string, i int) int {
	for i < len(s) && isSpace(s[i]) {
		i++
	}
	return i
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// startsWithWord reports whether s begins with word followed by a
// non-identifier character.
func startsWithWord(s, word string) bool {
	if !strings.HasPrefix(s, word) {
		return false
	}
	if len(s) == len(word) {
		return true
	}
	c := s[len(word)]
	return !(c == '_' || c == '.' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z')
}

func excerpt(s string) string {
	const max = 40
	if nl := strings.IndexByte(s, '\n'); nl >= 0 && nl < max {
		return s[:nl]
	}
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
