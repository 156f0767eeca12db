package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func usageCmd() *cobra.Command {
	var month string

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show usage and rate limit position for a billing month",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			usage, err := newClient().GetUsage(month)
			if err != nil {
				return err
			}

			fmt.Printf("Billing month: %s\n", usage.Month)
			if usage.Remaining < 0 {
				fmt.Printf("Requests:      %d used (unlimited plan)\n", usage.Used)
			} else {
				fmt.Printf("Requests:      %d used, %d remaining (resets %s)\n",
					usage.Used, usage.Remaining, usage.ResetAt.Local().Format("2006-01-02"))
			}

			if len(usage.Records) == 0 {
				return nil
			}
			fmt.Println()
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "REPOSITORY\tDEVELOPER\tPRS\tTOKENS")
			for _, rec := range usage.Records {
				fmt.Fprintf(w, "%d\t%s\t%d\t%d\n",
					rec.RepositoryID, rec.Developer, rec.PRsProcessed, rec.TokensConsumed)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&month, "month", "", "billing month (YYYY-MM, default current)")
	return cmd
}
