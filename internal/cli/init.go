package cli

import (
	"fmt"

	"github.com/agentx-labs/abt/internal/branding"
	"github.com/agentx-labs/abt/internal/scaffold"
	"github.com/spf13/cobra"
)

var initProvider string

func init() {
	initCmd.Flags().StringVar(&initProvider, "provider", "openai", "Model provider for the sample agent")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Create a starter project",
	Long: `Create a starter project with a sample agent, skill, macro and tool.

Without a path the project directory (--project, default ".") is used.
Existing files are never overwritten.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := projectDir
		if len(args) > 0 {
			dir = args[0]
		}

		result, err := scaffold.Generate(scaffold.NewProjectData(dir, initProvider), dir)
		if err != nil {
			return fmt.Errorf("initializing project: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Initialized %s project in %s\n", branding.DisplayName(), result.OutputDir)
		for _, f := range result.Files {
			fmt.Fprintf(out, "  created %s\n", f)
		}
		for _, f := range result.Skipped {
			fmt.Fprintf(out, "  kept    %s\n", f)
		}
		fmt.Fprintf(out, "\nRun '%s compile -C %s' to build the manifest.\n", branding.CLIName(), dir)
		return nil
	},
}
