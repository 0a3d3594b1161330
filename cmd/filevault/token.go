package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"filevault-backend/internal/shared/auth"
	"filevault-backend/internal/shared/config"
)

func newTokenCmd(cfg config.Config) *cobra.Command {
	var user string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a bearer token for a user (development)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Env == "production" {
				return fmt.Errorf("token issuing is disabled in production")
			}
			secret, err := auth.Secret(cfg.Env, cfg.JWTSecret)
			if err != nil {
				return err
			}
			token, err := auth.SignJWT(secret, user, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "subject (owner id)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
