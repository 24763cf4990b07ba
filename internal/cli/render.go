package cli

import (
	"fmt"

	"github.com/agentx-labs/abt/internal/build"
	"github.com/agentx-labs/abt/internal/source"
	"github.com/spf13/cobra"
)

var renderDeps bool

func init() {
	renderCmd.Flags().BoolVar(&renderDeps, "deps", false, "Also list the units spliced into the result")
	rootCmd.AddCommand(renderCmd)
}

var renderCmd = &cobra.Command{
	Use:   "render <unit-id>",
	Short: "Print the flattened text of one unit",
	Long: `Resolve a single agent, skill or macro and print its flattened text, e.g.

  abt render agents/support_agent

Only the unit and the units it includes are rendered.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := source.ParseUnitID(args[0])
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		opts := cfg.BuildOptions()
		a, err := build.AnalyzeProject(cmd.Context(), projectDir, opts)
		if err != nil {
			return err
		}
		if _, ok := a.Graph.Index().Lookup(id); !ok {
			return fmt.Errorf("unit %s does not exist", id)
		}

		r, err := a.Engine(opts).Resolve(cmd.Context(), id)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, r.FlatText)
		if renderDeps {
			fmt.Fprintln(out)
			for _, dep := range r.Contributing {
				fmt.Fprintf(out, "# includes %s\n", dep)
			}
			for _, h := range r.Handoffs {
				fmt.Fprintf(out, "# hands off to %s\n", h)
			}
		}
		return nil
	},
}
