// Package branding provides compile-time identity values for the CLI.
//
// branding.yaml is embedded with //go:embed so forks can rename the binary,
// the environment prefix, and the project config file without touching code.
package branding

import (
	_ "embed"
	"strings"
	"sync"

	"go.yaml.in/yaml/v3"
)

//go:embed branding.yaml
var rawBranding []byte

var (
	once     sync.Once
	defaults brand
)

type brand struct {
	CLIName       string `yaml:"cli_name"`
	DisplayName   string `yaml:"display_name"`
	Description   string `yaml:"description"`
	EnvPrefix     string `yaml:"env_prefix"`
	ConfigName    string `yaml:"config_name"`
	GoModule      string `yaml:"go_module"`
	DefaultOutput string `yaml:"default_output"`
}

func load() {
	once.Do(func() {
		// Hard defaults in case the embedded file is missing or empty.
		defaults = brand{
			CLIName:       "abt",
			DisplayName:   "ABT",
			Description:   "Agent build tool",
			EnvPrefix:     "ABT",
			ConfigName:    "abt",
			GoModule:      "github.com/agentx-labs/abt",
			DefaultOutput: "abt_manifest.json",
		}
		_ = yaml.Unmarshal(rawBranding, &defaults)
	})
}

// CLIName returns the root command name (e.g., "abt").
func CLIName() string { load(); return defaults.CLIName }

// DisplayName returns the human-readable product name.
func DisplayName() string { load(); return defaults.DisplayName }

// Description returns the short product description.
func Description() string { load(); return defaults.Description }

// EnvPrefix returns the environment variable prefix (e.g., "ABT").
func EnvPrefix() string { load(); return defaults.EnvPrefix }

// ConfigName returns the project config file name without extension (e.g., "abt").
func ConfigName() string { load(); return defaults.ConfigName }

// GoModule returns the Go module path. Used by release scripts, not at runtime.
func GoModule() string { load(); return defaults.GoModule }

// DefaultOutput returns the default manifest file name.
func DefaultOutput() string { load(); return defaults.DefaultOutput }

// EnvVar returns a fully qualified env var name, e.g., EnvVar("workers") → "ABT_WORKERS".
func EnvVar(suffix string) string {
	load()
	return defaults.EnvPrefix + "_" + strings.ToUpper(suffix)
}
