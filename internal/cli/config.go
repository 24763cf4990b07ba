package cli

import (
	"fmt"

	"github.com/agentx-labs/abt/internal/config"
	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"
)

func init() {
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage project settings",
	Long:  `Read and write project settings stored in abt.yaml at the project root.`,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Example: `  abt config set budget.max_chars 50000
  abt config set handoff.allow_cycles true`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.Set(projectDir, key, value); err != nil {
			return fmt.Errorf("setting config key %q: %w", key, err)
		}
		if _, err := config.Load(projectDir); err != nil {
			return fmt.Errorf("config is now invalid: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", key, value)
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a configuration value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		value, err := config.Get(projectDir, args[0])
		if err != nil {
			return err
		}
		switch v := value.(type) {
		case nil:
			return nil
		case map[string]any, []any:
			out, err := yaml.Marshal(v)
			if err != nil {
				return fmt.Errorf("encoding %s: %w", args[0], err)
			}
			fmt.Fprint(cmd.OutOrStdout(), string(out))
		default:
			fmt.Fprintln(cmd.OutOrStdout(), v)
		}
		return nil
	},
}
