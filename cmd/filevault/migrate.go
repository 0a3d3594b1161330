package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"filevault-backend/internal/shared/config"
	"filevault-backend/internal/shared/storage/db"
)

func newMigrateCmd(cfg config.Config) *cobra.Command {
	var status bool
	var down bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply, roll back or inspect database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if status && down {
				return fmt.Errorf("--status and --down are mutually exclusive")
			}
			ctx := cmd.Context()
			sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(db.DefaultMigrateOptions()))
			if err != nil {
				return err
			}
			defer sqlDB.Close()

			switch {
			case status:
			case down:
				if err := db.RollbackMigration(ctx, sqlDB); err != nil {
					return fmt.Errorf("roll back: %w", err)
				}
			default:
				if err := db.RunMigrations(ctx, sqlDB); err != nil {
					return fmt.Errorf("migrate: %w", err)
				}
			}

			version, err := db.MigrationVersion(ctx, sqlDB)
			if err != nil {
				return fmt.Errorf("read version: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Current version: %d\n", version)
			return nil
		},
	}

	cmd.Flags().BoolVar(&status, "status", false, "print the current version without applying")
	cmd.Flags().BoolVar(&down, "down", false, "roll back the most recent migration")
	return cmd
}
