// Package cmd provides the cidxd CLI: a thin adapter wiring the query
// engine, orchestrator, and daemon onto three subcommands (serve, index,
// query). Argument-parsing breadth beyond that is explicitly out of scope.
package cmd

import (
	"github.com/spf13/cobra"
)

// NewRootCmd builds the cidxd root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cidxd",
		Short: "Code intelligence daemon: semantic, full-text, and temporal search",
		Long: `cidxd indexes a project's source tree into a per-project cache of
vector, full-text, and commit-history indexes, and serves queries against
them either through a background daemon or as a one-shot standalone run.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&projectRootFlag, "project", "", "project root (default: current directory)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newQueryCmd())

	return cmd
}
