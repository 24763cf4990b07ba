package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/agentx-labs/abt/internal/build"
	"github.com/agentx-labs/abt/internal/diag"
	"github.com/agentx-labs/abt/internal/emit"
	"github.com/agentx-labs/abt/internal/logging"
	"github.com/agentx-labs/abt/internal/watch"
	"github.com/spf13/cobra"
)

var (
	compileOutput string
	compileStamp  bool
	compileWatch  bool
)

func init() {
	compileCmd.Flags().StringVarP(&compileOutput, "output", "o", "", "Manifest path (default from config, relative to the project)")
	compileCmd.Flags().BoolVar(&compileStamp, "stamp", false, "Record the build time as compiled_at (honors SOURCE_DATE_EPOCH)")
	compileCmd.Flags().BoolVarP(&compileWatch, "watch", "w", false, "Recompile whenever sources change")
	rootCmd.AddCommand(compileCmd)
}

var compileCmd = &cobra.Command{
	Use:   "compile",
	Short: "Compile the project into a manifest",
	Long: `Compile every agent in the project into the manifest file.

The manifest is only written when the whole build succeeds; on failure every
collected problem is printed and the previous manifest is left untouched.`,
	Args: cobra.NoArgs,
	RunE: runCompile,
}

func runCompile(cmd *cobra.Command, args []string) error {
	if !compileWatch {
		return compileProject(cmd.Context(), cmd.OutOrStdout())
	}

	w, err := watch.New(projectDir, watch.DefaultDebounce)
	if err != nil {
		return err
	}
	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
	rebuild := func(ctx context.Context) {
		if err := compileProject(ctx, out); err != nil {
			PrintErrors(errOut, err)
		}
	}
	rebuild(cmd.Context())
	fmt.Fprintln(out, "Watching for changes. Press Ctrl+C to stop.")
	return w.Run(cmd.Context(), rebuild)
}

// compileProject runs one build and writes the manifest on success.
func compileProject(ctx context.Context, out io.Writer) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	opts := cfg.BuildOptions()
	if compileStamp {
		at, err := emit.BuildTime(os.Getenv, time.Now)
		if err != nil {
			return err
		}
		opts.CompiledAt = &at
	}

	res, err := build.CompileProject(ctx, projectDir, opts)
	if err != nil {
		return err
	}
	data, err := res.Manifest.Encode()
	if err != nil {
		return err
	}

	path := compileOutput
	if path == "" {
		path = cfg.Output
	}
	path = projectPath(path)
	if err := emit.WriteFile(path, data); err != nil {
		return err
	}

	logging.FromContext(ctx).Debugw("Manifest written.", "path", path, "bytes", len(data))
	fmt.Fprintf(out, "Compiled %d agents and %d tools into %s\n", len(res.Manifest.Agents), len(res.Manifest.Tools), path)
	return nil
}

// projectPath resolves p relative to the project directory.
func projectPath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(projectDir, p)
}

// PrintErrors writes one line per problem collected in err.
func PrintErrors(w io.Writer, err error) {
	for _, msg := range diag.Messages(err) {
		fmt.Fprintf(w, "error: %s\n", msg)
	}
}
