package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func seatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seats",
		Short: "Manage developer seat assignments",
	}
	cmd.AddCommand(seatsResetCmd())
	return cmd
}

func seatsResetCmd() *cobra.Command {
	var month string

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Release the account's seats from a closed billing month",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if month == "" {
				now := time.Now().UTC()
				month = time.Date(now.Year(), now.Month()-1, 1, 0, 0, 0, 0, time.UTC).Format("2006-01")
			}
			released, err := newClient().ResetSeats(month)
			if err != nil {
				return err
			}
			fmt.Printf("Released %d seats for %s\n", released, month)
			return nil
		},
	}

	cmd.Flags().StringVar(&month, "month", "", "billing month (YYYY-MM, default previous month)")
	return cmd
}
