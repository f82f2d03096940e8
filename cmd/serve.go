package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/agentic-research/stratum/internal/server"
	"github.com/agentic-research/stratum/internal/topology"
)

func newServeCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "serve [template]",
		Short: "Serve topology lookups over MCP on stdio",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			topo, err := rt.build(path, nil)
			if err != nil {
				return err
			}
			srv := server.New(server.NewHolder(topo), func(context.Context) (*topology.Topology, error) {
				return rt.build(path, nil)
			}, rt.logger)
			rt.logger.Info("serving topology", "path", topo.Path, "nodes", len(topo.Nodes()))
			return srv.ServeStdio()
		},
	}
}
