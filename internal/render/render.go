// Package render is the text-substitution primitive: it executes one template
// (variable interpolation, conditionals, loops) against a binding environment.
// Reference directives are resolved by the flattening engine before a body
// reaches this package.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"text/template"
)

// DefaultMaxBytes caps the output of a single render call.
const DefaultMaxBytes = 4 << 20

// ErrOutputLimit is returned when a template produces more than the
// configured number of bytes, typically from a runaway loop.
var ErrOutputLimit = errors.New("render output limit exceeded")

// Renderer renders templated text with the given bindings.
type Renderer interface {
	Render(ctx context.Context, name, text string, bindings map[string]any) (string, error)
}

// Options configures a TextRenderer.
type Options struct {
	// MaxBytes caps the rendered output; zero means DefaultMaxBytes.
	MaxBytes int
}

// TextRenderer implements Renderer on text/template with strict handling of
// missing keys.
type TextRenderer struct {
	maxBytes int
	funcs    template.FuncMap
}

// New creates a TextRenderer.
func New(opts Options) *TextRenderer {
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &TextRenderer{
		maxBytes: maxBytes,
		funcs: template.FuncMap{
			"join":  strings.Join,
			"upper": strings.ToUpper,
			"lower": strings.ToLower,
			"trim":  strings.TrimSpace,
			"default": func(def, v any) any {
				if v == nil || v == "" {
					return def
				}
				return v
			},
			// Directives never reach the primitive; one that does was built
			// dynamically and cannot be resolved statically.
			"ref": func(args ...any) (string, error) {
				return "", fmt.Errorf("ref must be called with a literal unit id")
			},
		},
	}
}

// Render parses and executes text. Parse and execution failures are returned
// as errors; callers attach the unit identity.
func (r *TextRenderer) Render(ctx context.Context, name, text string, bindings map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	tmpl, err := template.New(name).Option("missingkey=error").Funcs(r.funcs).Parse(text)
	if err != nil {
		return "", fmt.Errorf("parsing template: %w", err)
	}

	w := &limitWriter{ctx: ctx, max: r.maxBytes}
	if err := tmpl.Execute(w, bindings); err != nil {
		if errors.Is(err, ErrOutputLimit) {
			return "", fmt.Errorf("%w (%d bytes)", ErrOutputLimit, r.maxBytes)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("executing template: %w", err)
	}
	return w.buf.String(), nil
}

// limitWriter stops execution when the output grows past max or the
// context is cancelled.
type limitWriter struct {
	ctx context.Context
	max int
	buf bytes.Buffer
}

func (w *limitWriter) Write(p []byte) (int, error) {
	if err := w.ctx.Err(); err != nil {
		return 0, err
	}
	if w.buf.Len()+len(p) > w.max {
		return 0, ErrOutputLimit
	}
	return w.buf.Write(p)
}

// Escape makes already-resolved text inert for a later render pass: every
// "{" is rewritten to an action that prints it, so no delimiter can form
// inside or across the spliced text.
func Escape(text string) string {
	if !strings.Contains(text, "{") {
		return text
	}
	return strings.ReplaceAll(text, "{", `{{"{"}}`)
}

// Counter wraps a Renderer and counts calls per template name.
type Counter struct {
	next Renderer

	mu    sync.Mutex
	calls map[string]int
}

// NewCounter wraps next.
func NewCounter(next Renderer) *Counter {
	return &Counter{next: next, calls: make(map[string]int)}
}

// Render counts the call and delegates.
func (c *Counter) Render(ctx context.Context, name, text string, bindings map[string]any) (string, error) {
	c.mu.Lock()
	c.calls[name]++
	c.mu.Unlock()
	return c.next.Render(ctx, name, text, bindings)
}

// Calls returns how many times name was rendered.
func (c *Counter) Calls(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[name]
}

// Total returns the number of render calls across all names.
func (c *Counter) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, n := range c.calls {
		total += n
	}
	return total
}
