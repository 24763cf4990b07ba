package cli

import (
	"fmt"

	"github.com/agentx-labs/abt/internal/build"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(validateCmd)
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Run the full build without writing a manifest",
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
		fmt.Fprintf(cmd.OutOrStdout(), "OK: %d agents, %d tools, %d units resolved\n",
			len(res.Manifest.Agents), len(res.Manifest.Tools), len(res.Resolved))
		return nil
	},
}
