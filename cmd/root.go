package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"

	"github.com/agentic-research/stratum/internal/config"
	"github.com/agentic-research/stratum/internal/metrics"
	"github.com/agentic-research/stratum/internal/template"
	"github.com/agentic-research/stratum/internal/topology"
)

// runtime is the state shared by every subcommand of one invocation.
type runtime struct {
	configPath string
	logLevel   string

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	rt := &runtime{}
	root := &cobra.Command{
		Use:           "stratum",
		Short:         "Stratum: resolve topology templates into a linked model",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return rt.setup(cmd)
		},
	}
	root.PersistentFlags().StringVarP(&rt.configPath, "config", "c", "", "Path to config file (default $"+config.EnvVar+")")
	root.PersistentFlags().StringVar(&rt.logLevel, "log-level", "", "Log level: debug, info, warn or error")

	root.AddCommand(newBuildCmd(rt), newCheckCmd(rt), newServeCmd(rt))
	return root
}

// setup loads the config file and applies the persistent flags over it.
func (rt *runtime) setup(cmd *cobra.Command) error {
	path := rt.configPath
	if path == "" {
		path = os.Getenv(config.EnvVar)
	}
	if path != "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return fmt.Errorf("config path: %w", err)
		}
		path = abs
	}
	cfg, err := config.Load(osfs.New("/"), filepath.ToSlash(path))
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = rt.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	rt.cfg = cfg
	rt.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: cfg.Level()}))
	return nil
}

// templatePath makes p absolute, resolving it against the configured base
// directory first.
func (rt *runtime) templatePath(p string) (string, error) {
	if !filepath.IsAbs(p) && rt.cfg.BaseDir != "" {
		p = filepath.Join(rt.cfg.BaseDir, p)
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("template path: %w", err)
	}
	return filepath.ToSlash(abs), nil
}

// build loads the template at p with its imports and builds it. A non-nil
// registry observes the build.
func (rt *runtime) build(p string, reg *metrics.Registry) (*topology.Topology, error) {
	abs, err := rt.templatePath(p)
	if err != nil {
		return nil, err
	}
	doc, err := template.NewLoader(osfs.New("/")).Load(abs)
	if err != nil {
		return nil, err
	}
	opts := rt.cfg.BuildOptions(rt.logger)
	if reg != nil {
		opts = append(opts, topology.WithObserver(reg))
	}
	rt.logger.Debug("building topology", "path", abs, "imports", len(doc.Imports))
	return topology.NewBuilder(opts...).Build(doc, rt.cfg.Inputs)
}

var rootCmd = newRootCmd()

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
