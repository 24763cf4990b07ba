package flatten

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/agentx-labs/abt/internal/diag"
	"github.com/agentx-labs/abt/internal/refgraph"
	"github.com/agentx-labs/abt/internal/render"
	"github.com/agentx-labs/abt/internal/source"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixture struct {
	graph *refgraph.Graph
	reach *refgraph.Reachability
}

func newFixture(t *testing.T, units map[string]string, meta map[string]map[string]any) fixture {
	t.Helper()
	var list []source.Unit
	for raw, body := range units {
		id, err := source.ParseUnitID(raw)
		if err != nil {
			t.Fatalf("ParseUnitID(%q): %v", raw, err)
		}
		list = append(list, source.Unit{
			ID:       id,
			Kind:     id.Kind(),
			Body:     body,
			Metadata: source.MetadataFromMap(meta[raw]),
			Path:     raw + ".md",
		})
	}
	idx, err := source.NewIndex(list)
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	g, err := refgraph.Build(context.Background(), idx, refgraph.BuildOptions{Workers: 2})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	reach, err := g.Check(context.Background(), refgraph.CheckOptions{})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	return fixture{graph: g, reach: reach}
}

func TestFlattenAllSharesFanIn(t *testing.T) {
	f := newFixture(t, map[string]string{
		"agents/x":      `X: {{ ref "skills/shared" }}`,
		"agents/y":      `Y: {{ ref "skills/shared" }}`,
		"skills/shared": `Shared {{ .unit.name }}.`,
	}, nil)
	counter := render.NewCounter(render.New(render.Options{}))
	e := New(f.graph, f.reach, counter, Options{Workers: 4})

	got, err := e.FlattenAll(context.Background())
	if err != nil {
		t.Fatalf("FlattenAll: %v", err)
	}
	if n := counter.Calls("skills/shared"); n != 1 {
		t.Errorf("skills/shared rendered %d times, want 1", n)
	}
	if got["agents/x"].FlatText != "X: Shared shared." {
		t.Errorf("agents/x = %q", got["agents/x"].FlatText)
	}
	if got["agents/y"].FlatText != "Y: Shared shared." {
		t.Errorf("agents/y = %q", got["agents/y"].FlatText)
	}
	if len(got) != 3 {
		t.Errorf("resolved %d units, want 3", len(got))
	}
}

func TestFlattenSplicesInSourceOrder(t *testing.T) {
	f := newFixture(t, map[string]string{
		"agents/a":     "Start\n{{- ref \"skills/one\" -}}\n|{{ ref \"macros/two\" }}|{{ ref \"skills/one\" }}",
		"skills/one":   "  one  ",
		"macros/two":   `two {{ ref "skills/three" }}`,
		"skills/three": "three",
	}, nil)
	e := New(f.graph, f.reach, render.New(render.Options{}), Options{})

	got, err := e.FlattenAll(context.Background())
	if err != nil {
		t.Fatalf("FlattenAll: %v", err)
	}
	a := got["agents/a"]
	if want := "Startone|two three|one"; a.FlatText != want {
		t.Errorf("FlatText = %q, want %q", a.FlatText, want)
	}
	wantContrib := []source.UnitID{"skills/one", "macros/two", "skills/three"}
	if diff := cmp.Diff(wantContrib, a.Contributing); diff != "" {
		t.Errorf("Contributing mismatch (-want +got):\n%s", diff)
	}
	if a.Depth != 3 {
		t.Errorf("Depth = %d, want 3", a.Depth)
	}
}

func TestFlattenKeepsIncludedBracesLiteral(t *testing.T) {
	f := newFixture(t, map[string]string{
		"agents/a":    `Reply as {{ ref "macros/json" }} for {{ .unit.name }}`,
		"macros/json": `{{ "{" }}"answer": ...}`,
	}, nil)
	e := New(f.graph, f.reach, render.New(render.Options{}), Options{})

	got, err := e.FlattenAll(context.Background())
	if err != nil {
		t.Fatalf("FlattenAll: %v", err)
	}
	if want := `Reply as {"answer": ...} for a`; got["agents/a"].FlatText != want {
		t.Errorf("FlatText = %q, want %q", got["agents/a"].FlatText, want)
	}
}

func TestFlattenHandoffs(t *testing.T) {
	units := map[string]string{
		"agents/triage":  `Route. {{ ref "agents/billing" }} Done.`,
		"agents/billing": "Billing only.",
	}
	meta := map[string]map[string]any{
		"agents/billing": {"description": "Handles invoices"},
	}

	t.Run("empty by default", func(t *testing.T) {
		f := newFixture(t, units, meta)
		e := New(f.graph, f.reach, render.New(render.Options{}), Options{})
		got, err := e.FlattenAll(context.Background())
		if err != nil {
			t.Fatalf("FlattenAll: %v", err)
		}
		tr := got["agents/triage"]
		if tr.FlatText != "Route.  Done." {
			t.Errorf("FlatText = %q", tr.FlatText)
		}
		if strings.Contains(tr.FlatText, "Billing only") {
			t.Error("handoff target body was inlined")
		}
		if diff := cmp.Diff([]source.UnitID{"agents/billing"}, tr.Handoffs); diff != "" {
			t.Errorf("Handoffs mismatch (-want +got):\n%s", diff)
		}
		if len(tr.Contributing) != 0 {
			t.Errorf("Contributing = %v, want none", tr.Contributing)
		}
	})

	t.Run("summary template", func(t *testing.T) {
		f := newFixture(t, units, meta)
		e := New(f.graph, f.reach, render.New(render.Options{}), Options{
			HandoffSummary: `[handoff {{ .target.name }}: {{ .target.description }}]`,
		})
		got, err := e.FlattenAll(context.Background())
		if err != nil {
			t.Fatalf("FlattenAll: %v", err)
		}
		if want := "Route. [handoff billing: Handles invoices] Done."; got["agents/triage"].FlatText != want {
			t.Errorf("FlatText = %q, want %q", got["agents/triage"].FlatText, want)
		}
	})
}

func TestFlattenAccumulatesTools(t *testing.T) {
	f := newFixture(t, map[string]string{
		"agents/a":      `A {{ ref "skills/search" }} {{ ref "tools/email" }}`,
		"skills/search": `Use search.{{ ref "tools/web" }}`,
		"tools/web":     "",
		"tools/email":   "",
	}, nil)
	e := New(f.graph, f.reach, render.New(render.Options{}), Options{})

	got, err := e.FlattenAll(context.Background())
	if err != nil {
		t.Fatalf("FlattenAll: %v", err)
	}
	if diff := cmp.Diff([]source.UnitID{"tools/web", "tools/email"}, got["agents/a"].Tools); diff != "" {
		t.Errorf("Tools mismatch (-want +got):\n%s", diff)
	}
	if _, ok := got["tools/web"]; ok {
		t.Error("tool units should not be flattened")
	}
}

func TestFlattenBindsVariablesAndMetadata(t *testing.T) {
	f := newFixture(t, map[string]string{
		"agents/a": `{{ .vars.company }} / {{ .meta.tone }} / {{ .unit.kind }}`,
	}, map[string]map[string]any{
		"agents/a": {"tone": "warm"},
	})
	e := New(f.graph, f.reach, render.New(render.Options{}), Options{
		Variables: map[string]any{"company": "Acme"},
	})

	got, err := e.FlattenAll(context.Background())
	if err != nil {
		t.Fatalf("FlattenAll: %v", err)
	}
	if want := "Acme / warm / agent"; got["agents/a"].FlatText != want {
		t.Errorf("FlatText = %q, want %q", got["agents/a"].FlatText, want)
	}
}

func TestFlattenMissingKeyIsRenderError(t *testing.T) {
	f := newFixture(t, map[string]string{
		"agents/a":   `{{ ref "skills/bad" }}`,
		"skills/bad": `{{ .vars.nope }}`,
	}, nil)
	e := New(f.graph, f.reach, render.New(render.Options{}), Options{Workers: 1})

	_, err := e.FlattenAll(context.Background())
	var re *diag.RenderError
	if !errors.As(err, &re) {
		t.Fatalf("err = %v, want *diag.RenderError", err)
	}
	if re.Unit != "skills/bad" {
		t.Errorf("Unit = %s, want skills/bad", re.Unit)
	}
	if e.Memo().Len() != 0 {
		t.Errorf("memo holds %d entries after a failed leaf", e.Memo().Len())
	}
}

func TestFlattenRenderErrorSite(t *testing.T) {
	big := "m1\nm2 {\"a\": 1}\nm3\nm4\nm5\nm6"

	tests := []struct {
		name string
		body string
		want diag.Site
	}{
		{
			name: "missing key after a multi-line include",
			body: "line1 {{ ref \"macros/big\" }}\nline2 {{ .vars.nope }}",
			want: diag.Site{Line: 2, Column: 7},
		},
		{
			name: "missing key on the include line",
			body: "{{ ref \"macros/big\" }} then {{ .vars.nope }}",
			want: diag.Site{Line: 1, Column: 29},
		},
		{
			name: "parse failure after a multi-line include",
			body: "line1 {{ ref \"macros/big\" }}\nline2\n{{ if }}",
			want: diag.Site{Line: 3, Column: 1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, map[string]string{
				"agents/a":   tt.body,
				"macros/big": big,
			}, nil)
			e := New(f.graph, f.reach, render.New(render.Options{}), Options{Workers: 1})

			_, err := e.Resolve(context.Background(), "agents/a")
			var re *diag.RenderError
			if !errors.As(err, &re) {
				t.Fatalf("err = %v, want *diag.RenderError", err)
			}
			if re.Unit != "agents/a" {
				t.Errorf("Unit = %s, want agents/a", re.Unit)
			}
			if re.Site.Line != tt.want.Line || re.Site.Column != tt.want.Column {
				t.Errorf("Site = %d:%d, want %d:%d", re.Site.Line, re.Site.Column, tt.want.Line, tt.want.Column)
			}
			if strings.Contains(re.Error(), "agents/a:7") {
				t.Errorf("message still carries the spliced position: %v", re)
			}
		})
	}
}

func TestFlattenHandoffSummaryErrorSite(t *testing.T) {
	f := newFixture(t, map[string]string{
		"agents/a": "Route.\n  {{ ref \"agents/b\" }}",
		"agents/b": "B",
	}, nil)
	e := New(f.graph, f.reach, render.New(render.Options{}), Options{Workers: 1, HandoffSummary: "{{ .target.nope }}"})

	_, err := e.Resolve(context.Background(), "agents/a")
	var re *diag.RenderError
	if !errors.As(err, &re) {
		t.Fatalf("err = %v, want *diag.RenderError", err)
	}
	if re.Site.Line != 2 || re.Site.Column != 3 {
		t.Errorf("Site = %d:%d, want 2:3", re.Site.Line, re.Site.Column)
	}
}

func TestFlattenDepthLimit(t *testing.T) {
	units := map[string]string{
		"agents/a":  `{{ ref "skills/s1" }}`,
		"skills/s1": `{{ ref "skills/s2" }}`,
		"skills/s2": "leaf",
	}

	t.Run("pool", func(t *testing.T) {
		f := newFixture(t, units, nil)
		e := New(f.graph, f.reach, render.New(render.Options{}), Options{MaxDepth: 2})
		_, err := e.FlattenAll(context.Background())
		var re *diag.RenderError
		if !errors.As(err, &re) || re.Unit != "agents/a" {
			t.Fatalf("err = %v, want RenderError for agents/a", err)
		}
	})

	t.Run("resolve", func(t *testing.T) {
		f := newFixture(t, units, nil)
		e := New(f.graph, f.reach, render.New(render.Options{}), Options{MaxDepth: 2})
		_, err := e.Resolve(context.Background(), "agents/a")
		var re *diag.RenderError
		if !errors.As(err, &re) {
			t.Fatalf("err = %v, want *diag.RenderError", err)
		}
	})

	t.Run("within limit", func(t *testing.T) {
		f := newFixture(t, units, nil)
		e := New(f.graph, f.reach, render.New(render.Options{}), Options{MaxDepth: 3})
		r, err := e.Resolve(context.Background(), "agents/a")
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if r.FlatText != "leaf" || r.Depth != 3 {
			t.Errorf("got %q depth %d", r.FlatText, r.Depth)
		}
	})
}

func TestResolveMatchesFlattenAll(t *testing.T) {
	units := map[string]string{
		"agents/a":    `A {{ ref "skills/s" }} {{ ref "macros/m" }}`,
		"skills/s":    `S {{ ref "macros/m" }}`,
		"macros/m":    "M",
		"skills/dead": "unreachable",
	}
	f := newFixture(t, units, nil)
	all, err := New(f.graph, f.reach, render.New(render.Options{}), Options{}).FlattenAll(context.Background())
	if err != nil {
		t.Fatalf("FlattenAll: %v", err)
	}

	e := New(f.graph, f.reach, render.New(render.Options{}), Options{})
	one, err := e.Resolve(context.Background(), "agents/a")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if diff := cmp.Diff(all["agents/a"], one); diff != "" {
		t.Errorf("Resolve differs from FlattenAll (-all +one):\n%s", diff)
	}
	if _, err := e.Resolve(context.Background(), "skills/dead"); err == nil {
		t.Error("expected an error resolving an unreachable unit")
	}
}

func TestFlattenAllCanceled(t *testing.T) {
	f := newFixture(t, map[string]string{
		"agents/a": `{{ ref "skills/s" }}`,
		"agents/b": `{{ ref "skills/s" }}`,
		"skills/s": "s",
	}, nil)
	e := New(f.graph, f.reach, render.New(render.Options{}), Options{Workers: 2})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got, err := e.FlattenAll(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if got != nil {
		t.Errorf("got %d results after cancellation", len(got))
	}
}

func TestFlattenAllDeterministic(t *testing.T) {
	units := map[string]string{
		"agents/a":  `{{ ref "skills/s1" }} {{ ref "skills/s2" }}`,
		"agents/b":  `{{ ref "skills/s2" }} {{ ref "macros/m" }}`,
		"skills/s1": `one {{ ref "macros/m" }}`,
		"skills/s2": `two {{ ref "macros/m" }}`,
		"macros/m":  "m",
	}
	f := newFixture(t, units, nil)
	first, err := New(f.graph, f.reach, render.New(render.Options{}), Options{Workers: 1}).FlattenAll(context.Background())
	if err != nil {
		t.Fatalf("FlattenAll: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := New(f.graph, f.reach, render.New(render.Options{}), Options{Workers: 8}).FlattenAll(context.Background())
		if err != nil {
			t.Fatalf("FlattenAll: %v", err)
		}
		if diff := cmp.Diff(first, again); diff != "" {
			t.Fatalf("run %d differs (-first +again):\n%s", i, diff)
		}
	}
}
