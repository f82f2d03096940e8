package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentic-research/stratum/internal/export"
	"github.com/agentic-research/stratum/internal/metrics"
)

func newBuildCmd(rt *runtime) *cobra.Command {
	var (
		inputs      []string
		permissive  bool
		maxPasses   int
		exportPath  string
		format      string
		metricsFile string
	)
	cmd := &cobra.Command{
		Use:   "build [template]",
		Short: "Build a topology and print it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := rt.cfg
			for _, pair := range inputs {
				if err := cfg.SetInput(pair); err != nil {
					return err
				}
			}
			flags := cmd.Flags()
			if flags.Changed("permissive") {
				cfg.Permissive = permissive
			}
			if flags.Changed("max-passes") {
				cfg.MaxPasses = maxPasses
			}
			if flags.Changed("export") {
				cfg.Export.Path = exportPath
			}
			if flags.Changed("format") {
				cfg.Export.Format = format
			}
			if flags.Changed("metrics-file") {
				cfg.MetricsFile = metricsFile
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			reg := metrics.NewRegistry()
			start := time.Now()
			topo, err := rt.build(args[0], reg)
			if cfg.MetricsFile != "" {
				if werr := reg.WriteTextfile(cfg.MetricsFile); werr != nil {
					rt.logger.Warn("metrics not written", "path", cfg.MetricsFile, "error", werr)
				}
			}
			if err != nil {
				return err
			}
			rt.logger.Info("topology built", "path", topo.Path, "passes", topo.Passes, "elapsed", time.Since(start))

			snap := export.Take(topo)
			if err := snap.Encode(cmd.OutOrStdout(), cfg.Export.Format); err != nil {
				return err
			}
			if cfg.Export.Path == "" {
				return nil
			}
			_ = os.Remove(cfg.Export.Path) // Overwrite
			w, err := export.NewSQLiteWriter(cfg.Export.Path)
			if err != nil {
				return err
			}
			if err := w.Write(snap); err != nil {
				_ = w.Close()
				return fmt.Errorf("export %s: %w", cfg.Export.Path, err)
			}
			return w.Close()
		},
	}
	flags := cmd.Flags()
	flags.StringArrayVarP(&inputs, "input", "i", nil, "Template input as key=value (repeatable)")
	flags.BoolVar(&permissive, "permissive", false, "Log build errors instead of failing")
	flags.IntVar(&maxPasses, "max-passes", 0, "Bound on reparse and node-filter rounds")
	flags.StringVar(&exportPath, "export", "", "Write the topology to this SQLite database")
	flags.StringVarP(&format, "format", "f", "", "Output format: text, json or cbor")
	flags.StringVar(&metricsFile, "metrics-file", "", "Write build metrics in Prometheus text format")
	return cmd
}
