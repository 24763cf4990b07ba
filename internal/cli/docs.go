package cli

import (
	"fmt"

	"github.com/agentx-labs/abt/internal/build"
	"github.com/agentx-labs/abt/internal/docs"
	"github.com/spf13/cobra"
)

var docsOutput string

func init() {
	docsCmd.Flags().StringVarP(&docsOutput, "output", "o", docs.DefaultDir, "Output directory, relative to the project")
	rootCmd.AddCommand(docsCmd)
}

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Generate lineage documentation",
	Long:  `Compile the project and write lineage.json and a static index.html describing every agent and the units it was built from.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		res, err := build.CompileProject(cmd.Context(), projectDir, cfg.BuildOptions())
		if err != nil {
			return err
		}
		index, err := docs.Build(res.Manifest, res.Graph).Write(projectPath(docsOutput))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Docs written to %s\n", index)
		return nil
	},
}
