package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/everstory/authcore/auth/repository"
	"github.com/everstory/authcore/config"
	"github.com/everstory/authcore/data/connection"
)

// NewMigrateCommand creates the migrate command
func NewMigrateCommand() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %v", err)
			}

			conns, err := connection.New(cfg.Data)
			if err != nil {
				return fmt.Errorf("failed to open data connections: %v", err)
			}
			defer conns.Close()

			if conns.DB == nil {
				return fmt.Errorf("no database configured")
			}

			if err := repository.Migrate(context.Background(), conns.DB); err != nil {
				return fmt.Errorf("migration failed: %v", err)
			}

			fmt.Println("Migrations applied")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "config file path")
	return cmd
}
