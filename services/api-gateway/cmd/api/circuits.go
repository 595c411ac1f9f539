package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func circuitsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "circuits",
		Short: "Show circuit breaker state from the shared cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := bootstrap(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer g.Close()

			snaps, err := g.breakers.Snapshots(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(snaps)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SERVICE\tSTATE\tFAILURES\tRETRY AFTER")
			for _, s := range snaps {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", s.Service, s.State, s.Failures, valueOr(s.RetryAfter, "-"))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "Output as JSON")
	cmd.AddCommand(resetCmd())
	return cmd
}

func resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset [service]",
		Short: "Force a circuit closed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := bootstrap(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer g.Close()

			b, ok := g.breakers.Get(args[0])
			if !ok {
				return fmt.Errorf("unknown service %q (known: %v)", args[0], g.breakers.Names())
			}
			if err := b.Reset(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "circuit %s reset\n", args[0])
			return nil
		},
	}
}

func valueOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
