// Package config loads stratum's configuration.
//
// Configuration comes from one YAML file named by the --config flag or the
// STRATUM_CONFIG environment variable. There is no discovery: without
// either, the defaults apply. Command-line flags override file values.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/agentic-research/stratum/internal/topology"
)

// EnvVar names the environment variable holding the config file path.
const EnvVar = "STRATUM_CONFIG"

// Config is stratum's configuration.
type Config struct {
	// Permissive downgrades build errors to logged warnings.
	Permissive bool `yaml:"permissive"`

	// MaxPasses bounds reparse and node-filter rounds.
	MaxPasses int `yaml:"max_passes" validate:"gte=1,lte=100"`

	// BaseDir is the directory templates are read relative to.
	BaseDir string `yaml:"base_dir"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" validate:"oneof=debug info warn error"`

	// Inputs are template input values. Values given with --input win.
	Inputs map[string]any `yaml:"inputs"`

	Export ExportConfig `yaml:"export"`

	// MetricsFile, when set, receives the Prometheus text exposition after
	// each build.
	MetricsFile string `yaml:"metrics_file"`
}

// ExportConfig configures where built topologies are written.
type ExportConfig struct {
	// Path of the SQLite database to write. Empty disables the export.
	Path string `yaml:"path"`

	// Format is the snapshot encoding printed by build.
	Format string `yaml:"format" validate:"oneof=text json cbor"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		MaxPasses: topology.DefaultMaxPasses,
		LogLevel:  "warn",
		Inputs:    map[string]any{},
		Export:    ExportConfig{Format: "text"},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads the file at path from fs over the defaults. An empty path
// falls back to $STRATUM_CONFIG; when that is unset too, the defaults are
// returned as is.
func Load(fs billy.Filesystem, path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvVar)
	}
	cfg := Default()
	if path != "" {
		data, err := util.ReadFile(fs, path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		if cfg.Inputs == nil {
			cfg.Inputs = map[string]any{}
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Level returns the slog level for LogLevel.
func (c *Config) Level() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return slog.LevelWarn
	}
	return lvl
}

// SetInput parses a key=value pair. The value is read as YAML, so numbers,
// booleans and lists keep their type.
func (c *Config) SetInput(pair string) error {
	key, raw, ok := strings.Cut(pair, "=")
	if !ok || key == "" {
		return fmt.Errorf("input %q: expected key=value", pair)
	}
	var v any
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
		v = raw
	}
	c.Inputs[key] = v
	return nil
}

// BuildOptions turns the configuration into builder options.
func (c *Config) BuildOptions(logger *slog.Logger) []topology.Option {
	return []topology.Option{
		topology.WithLogger(logger),
		topology.WithPermissive(c.Permissive),
		topology.WithMaxPasses(c.MaxPasses),
	}
}
