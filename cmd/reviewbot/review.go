package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func reviewCmd() *cobra.Command {
	var developer string

	cmd := &cobra.Command{
		Use:   "review <owner/repo> <pr-number>",
		Short: "Request a review for a pull request",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			number, err := strconv.Atoi(args[1])
			if err != nil || number <= 0 {
				return fmt.Errorf("invalid pull request number %q", args[1])
			}
			if developer == "" {
				return fmt.Errorf("--developer is required")
			}

			resp, err := newClient().SubmitReview(args[0], developer, number)
			if err != nil {
				return err
			}

			fmt.Printf("Review queued: %s#%d\n", resp.Repository, resp.PullRequest)
			fmt.Printf("Job ID: %s\n", resp.JobID)
			fmt.Printf("Check with: reviewbot job %s\n", resp.JobID)
			return nil
		},
	}

	cmd.Flags().StringVar(&developer, "developer", "", "pull request author (required)")
	return cmd
}
