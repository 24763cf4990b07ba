package build

import (
	"context"
	"fmt"
	"time"

	"github.com/agentx-labs/abt/internal/emit"
	"github.com/agentx-labs/abt/internal/flatten"
	"github.com/agentx-labs/abt/internal/loader"
	"github.com/agentx-labs/abt/internal/logging"
	"github.com/agentx-labs/abt/internal/refgraph"
	"github.com/agentx-labs/abt/internal/render"
	"github.com/agentx-labs/abt/internal/source"
	"github.com/agentx-labs/abt/internal/validate"
)

// Options configures a build.
type Options struct {
	Workers        int
	MaxDepth       int
	MaxRenderBytes int

	MaxChars  int
	MaxTokens int

	HandoffSummary     string
	AllowHandoffCycles bool

	Variables map[string]any

	// Requires is a semver constraint on the manifest schema version.
	Requires string
	// CompiledAt stamps the manifest when set.
	CompiledAt *time.Time

	// Renderer overrides the default template renderer.
	Renderer render.Renderer
}

// DefaultOptions returns the options used when a project sets nothing.
func DefaultOptions() Options {
	return Options{
		MaxDepth:       flatten.DefaultMaxDepth,
		MaxRenderBytes: render.DefaultMaxBytes,
		MaxChars:       validate.DefaultMaxChars,
	}
}

// settings returns the options that change the compiled text, with defaults
// applied so that an unset limit and its default hash alike.
func (o Options) settings() emit.Settings {
	depth := o.MaxDepth
	if depth <= 0 {
		depth = flatten.DefaultMaxDepth
	}
	return emit.Settings{
		Variables:          o.Variables,
		HandoffSummary:     o.HandoffSummary,
		MaxDepth:           depth,
		AllowHandoffCycles: o.AllowHandoffCycles,
	}
}

// Result is a successful build.
type Result struct {
	Manifest *emit.Manifest
	Graph    *refgraph.Graph
	Resolved map[source.UnitID]*flatten.Resolved
}

// Analysis is a checked reference graph.
type Analysis struct {
	Graph *refgraph.Graph
	Reach *refgraph.Reachability
}

// Analyze indexes units, builds the reference graph and checks it.
func Analyze(ctx context.Context, units []source.Unit, opts Options) (*Analysis, error) {
	idx, err := source.NewIndex(units)
	if err != nil {
		return nil, fmt.Errorf("indexing units: %w", err)
	}
	g, err := refgraph.Build(ctx, idx, refgraph.BuildOptions{Workers: opts.Workers})
	if err != nil {
		return nil, err
	}
	reach, err := g.Check(ctx, refgraph.CheckOptions{AllowHandoffCycles: opts.AllowHandoffCycles})
	if err != nil {
		return nil, err
	}
	return &Analysis{Graph: g, Reach: reach}, nil
}

// Engine returns a flattening engine for a checked graph.
func (a *Analysis) Engine(opts Options) *flatten.Engine {
	r := opts.Renderer
	if r == nil {
		r = render.New(render.Options{MaxBytes: opts.MaxRenderBytes})
	}
	return flatten.New(a.Graph, a.Reach, r, flatten.Options{
		Workers:        opts.Workers,
		MaxDepth:       opts.MaxDepth,
		HandoffSummary: opts.HandoffSummary,
		Variables:      opts.Variables,
	})
}

// Compile builds a manifest from already loaded units.
func Compile(ctx context.Context, units []source.Unit, opts Options) (*Result, error) {
	logger := logging.FromContext(ctx)
	start := time.Now()

	if err := emit.CheckRequires(opts.Requires); err != nil {
		return nil, err
	}

	a, err := Analyze(ctx, units, opts)
	if err != nil {
		return nil, err
	}

	resolved, err := a.Engine(opts).FlattenAll(ctx)
	if err != nil {
		return nil, err
	}

	if errs := validate.Validate(ctx, validate.Input{Graph: a.Graph, Resolved: resolved}, validate.Options{
		MaxChars:  opts.MaxChars,
		MaxTokens: opts.MaxTokens,
	}); errs != nil {
		return nil, errs
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, err := emit.Emit(a.Graph, resolved, emit.Options{
		CompiledAt: opts.CompiledAt,
		Settings:   opts.settings(),
	})
	if err != nil {
		return nil, fmt.Errorf("emitting manifest: %w", err)
	}

	logger.Debugw("Build finished.",
		"agents", len(m.Agents),
		"tools", len(m.Tools),
		"units", len(resolved),
		"elapsed", time.Since(start),
	)
	return &Result{Manifest: m, Graph: a.Graph, Resolved: resolved}, nil
}

// CompileProject loads the project at root and compiles it. Any load error
// aborts the build before graph construction.
func CompileProject(ctx context.Context, root string, opts Options) (*Result, error) {
	units, errs := loader.Load(ctx, root)
	if errs != nil {
		return nil, errs
	}
	return Compile(ctx, units, opts)
}

// AnalyzeProject loads the project at root and checks its reference graph.
func AnalyzeProject(ctx context.Context, root string, opts Options) (*Analysis, error) {
	units, errs := loader.Load(ctx, root)
	if errs != nil {
		return nil, errs
	}
	return Analyze(ctx, units, opts)
}
