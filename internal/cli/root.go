package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/agentx-labs/abt/internal/branding"
	"github.com/agentx-labs/abt/internal/config"
	"github.com/agentx-labs/abt/internal/logging"
	"github.com/spf13/cobra"
)

var (
	buildVersion string
	buildCommit  string
	buildDate    string

	projectDir string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   branding.CLIName(),
	Short: branding.Description(),
	Long: branding.DisplayName() + ` compiles a project of Markdown agents, skills, macros and tool schemas
into a single deterministic manifest. References between units are resolved at
build time, so broken references, cycles and oversized prompts fail the build
instead of surfacing at runtime.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger, err := logging.New(verbose)
		if err != nil {
			return err
		}
		cmd.SetContext(logging.WithLogger(cmd.Context(), logger))
		return nil
	},
}

func init() {
	defaultDir := os.Getenv(branding.EnvVar("project"))
	if defaultDir == "" {
		defaultDir = "."
	}
	rootCmd.PersistentFlags().StringVarP(&projectDir, "project", "C", defaultDir, "Project root directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

// Execute runs the root command with build info injected via ldflags. The
// command context is canceled on SIGINT or SIGTERM.
func Execute(version, commit, date string) error {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

// loadConfig reads the project configuration.
func loadConfig() (*config.Config, error) {
	return config.Load(projectDir)
}
