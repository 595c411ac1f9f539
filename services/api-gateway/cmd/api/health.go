package main

import (
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"

	"github.com/DanielEsLoH/MediConnect-sub004/services/api-gateway/internal/health"
)

var errDown = errors.New("all downstream services are down")

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Probe every downstream service once and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := bootstrap(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer g.Close()

			rep := health.NewChecker(g.table.Services(), g.breakers, nil, g.cfg.HealthTimeout, 0).Check(cmd.Context())
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(rep); err != nil {
				return err
			}
			if rep.Status == health.StatusDown {
				return errDown
			}
			return nil
		},
	}
}
