// Package cli implements the manpower command line: the web server, schema
// migration and operator account tasks.
package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "manpower",
		Short:         "Employee management server",
		Long:          "manpower serves the employee management web app and its API, and runs operator tasks against the same stores.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (default $MANPOWER_CONFIG)")

	root.AddCommand(
		newServeCmd(&configPath),
		newMigrateCmd(&configPath),
		newAdminCmd(&configPath),
	)
	return root
}

// Execute runs the command tree until ctx is cancelled.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}
