package main

import (
	"github.com/spf13/cobra"

	"filevault-backend/internal/shared/config"
)

func newRootCmd(cfg config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "filevault",
		Short:         "Deduplicating per-user file vault",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.Version = version

	cmd.AddCommand(
		newServeCmd(cfg),
		newMigrateCmd(cfg),
		newTokenCmd(cfg),
	)
	return cmd
}
