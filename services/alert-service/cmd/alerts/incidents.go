package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func incidentsCmd() *cobra.Command {
	var (
		service string
		limit   int
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "incidents",
		Short: "List recorded circuit incidents, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, repo, err := openRepo()
			if err != nil {
				return err
			}
			incs, err := repo.ListByService(cmd.Context(), service, limit)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(incs)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "OCCURRED\tSERVICE\tTRANSITION\tFAILURES\tSTATUS")
			for _, inc := range incs {
				fmt.Fprintf(tw, "%s\t%s\t%s -> %s\t%d\t%s\n",
					inc.OccurredAt.UTC().Format(time.RFC3339), inc.Service, inc.FromState, inc.ToState, inc.Failures, inc.Status)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVarP(&service, "service", "s", "", "Only incidents for this service")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum incidents")
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "Output as JSON")
	return cmd
}
