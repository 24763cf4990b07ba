package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/agentx-labs/abt/internal/branding"
	"github.com/agentx-labs/abt/internal/build"
	"github.com/agentx-labs/abt/internal/flatten"
	"github.com/agentx-labs/abt/internal/render"
	"github.com/agentx-labs/abt/internal/validate"
	"github.com/spf13/viper"
	"go.yaml.in/yaml/v3"
)

const fileType = "yaml"

// Setting keys.
const (
	KeyOutput          = "output"
	KeyRequires        = "requires"
	KeyVariables       = "variables"
	KeyWorkers         = "build.workers"
	KeyMaxDepth        = "build.max_depth"
	KeyMaxRenderBytes  = "build.max_render_bytes"
	KeyMaxChars        = "budget.max_chars"
	KeyMaxTokens       = "budget.max_tokens"
	KeySummaryTemplate = "handoff.summary_template"
	KeyAllowCycles     = "handoff.allow_cycles"
)

// Config is the resolved project configuration.
type Config struct {
	Output    string         `mapstructure:"output"`
	Requires  string         `mapstructure:"requires"`
	Variables map[string]any `mapstructure:"variables"`
	Build     Build          `mapstructure:"build"`
	Budget    Budget         `mapstructure:"budget"`
	Handoff   Handoff        `mapstructure:"handoff"`
}

// Build holds pipeline limits.
type Build struct {
	Workers        int `mapstructure:"workers"`
	MaxDepth       int `mapstructure:"max_depth"`
	MaxRenderBytes int `mapstructure:"max_render_bytes"`
}

// Budget holds prompt size limits.
type Budget struct {
	MaxChars  int `mapstructure:"max_chars"`
	MaxTokens int `mapstructure:"max_tokens"`
}

// Handoff controls agent-to-agent references.
type Handoff struct {
	SummaryTemplate string `mapstructure:"summary_template"`
	AllowCycles     bool   `mapstructure:"allow_cycles"`
}

// FilePath returns the config file location for a project root.
func FilePath(root string) string {
	return filepath.Join(root, branding.ConfigName()+"."+fileType)
}

func newViper(root string, defaults bool) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(FilePath(root))
	v.SetConfigType(fileType)
	if defaults {
		v.SetEnvPrefix(branding.EnvPrefix())
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()
		setDefaults(v)
	}
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyOutput, branding.DefaultOutput())
	v.SetDefault(KeyRequires, "")
	v.SetDefault(KeyVariables, map[string]any{})
	v.SetDefault(KeyWorkers, runtime.GOMAXPROCS(0))
	v.SetDefault(KeyMaxDepth, flatten.DefaultMaxDepth)
	v.SetDefault(KeyMaxRenderBytes, render.DefaultMaxBytes)
	v.SetDefault(KeyMaxChars, validate.DefaultMaxChars)
	v.SetDefault(KeyMaxTokens, 0)
	v.SetDefault(KeySummaryTemplate, "")
	v.SetDefault(KeyAllowCycles, false)
}

// readIfPresent reads the config file; a missing file is not an error.
func readIfPresent(v *viper.Viper, root string) error {
	if _, err := os.Stat(FilePath(root)); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading %s: %w", FilePath(root), err)
	}
	return nil
}

// Load resolves the configuration of the project at root. Values come from,
// in increasing priority: defaults, abt.yaml, ABT_* environment variables.
// Variable names are case-insensitive and exposed in lower case.
func Load(root string) (*Config, error) {
	v := newViper(root, true)
	if err := readIfPresent(v, root); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", FilePath(root), err)
	}
	if cfg.Variables == nil {
		cfg.Variables = map[string]any{}
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", FilePath(root), err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.Output == "":
		return fmt.Errorf("%s must not be empty", KeyOutput)
	case c.Build.Workers < 0:
		return fmt.Errorf("%s must not be negative", KeyWorkers)
	case c.Build.MaxDepth < 1:
		return fmt.Errorf("%s must be at least 1", KeyMaxDepth)
	case c.Build.MaxRenderBytes < 1:
		return fmt.Errorf("%s must be at least 1", KeyMaxRenderBytes)
	case c.Budget.MaxChars < 0:
		return fmt.Errorf("%s must not be negative", KeyMaxChars)
	case c.Budget.MaxTokens < 0:
		return fmt.Errorf("%s must not be negative", KeyMaxTokens)
	}
	return nil
}

// BuildOptions maps the configuration onto pipeline options.
func (c *Config) BuildOptions() build.Options {
	return build.Options{
		Workers:            c.Build.Workers,
		MaxDepth:           c.Build.MaxDepth,
		MaxRenderBytes:     c.Build.MaxRenderBytes,
		MaxChars:           c.Budget.MaxChars,
		MaxTokens:          c.Budget.MaxTokens,
		HandoffSummary:     c.Handoff.SummaryTemplate,
		AllowHandoffCycles: c.Handoff.AllowCycles,
		Variables:          c.Variables,
		Requires:           c.Requires,
	}
}

// Get returns the effective value of key for the project at root.
func Get(root, key string) (any, error) {
	v := newViper(root, true)
	if err := readIfPresent(v, root); err != nil {
		return nil, err
	}
	return v.Get(key), nil
}

// Set writes key to the project's config file, creating it when needed.
// The value is parsed as a YAML scalar, so "4" is stored as a number and
// "true" as a boolean. Defaults are not written out.
func Set(root, key, value string) error {
	v := newViper(root, false)
	if err := readIfPresent(v, root); err != nil {
		return err
	}

	var parsed any
	if err := yaml.Unmarshal([]byte(value), &parsed); err != nil || parsed == nil {
		parsed = value
	}
	v.Set(key, parsed)

	if err := v.WriteConfigAs(FilePath(root)); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
