package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "authd",
		Short: "Session and token authority for the Everstory platform",
	}

	rootCmd.AddCommand(
		NewServeCommand(),
		NewMigrateCommand(),
		NewVersionCommand(),
	)

	return rootCmd
}
