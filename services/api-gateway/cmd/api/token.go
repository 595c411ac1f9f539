package main

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	a "github.com/DanielEsLoH/MediConnect-sub004/pkg/auth"
	"github.com/DanielEsLoH/MediConnect-sub004/pkg/config"
)

func tokenCmd() *cobra.Command {
	var (
		sub, role, email string
		ttl              time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a development access token with JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			tok, err := a.NewVerifier(cfg.JWTSecret).Sign(sub, role, email, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&sub, "sub", "", "Subject (user id)")
	cmd.Flags().StringVar(&role, "role", "PATIENT", "Role claim")
	cmd.Flags().StringVar(&email, "email", "", "Email claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("sub")
	return cmd
}

// loadConfig reads an optional .env file before the environment.
func loadConfig() (config.App, error) {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
