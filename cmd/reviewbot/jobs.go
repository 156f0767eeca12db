package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/reviewbot-dev/reviewbot/internal/storage"
)

func jobsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List recent review jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := newClient().ListJobs(limit)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Println("No jobs found")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tREPOSITORY\tPR\tSTATUS\tPROGRESS\tCREATED")
			for _, job := range jobs {
				fmt.Fprintf(w, "%s\t%s\t#%d\t%s\t%d%%\t%s\n",
					job.UUID, job.RepoFullName, job.PullRequest,
					job.Status, job.Progress,
					job.CreatedAt.Local().Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum jobs to list")
	return cmd
}

func jobCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "job <job-id>",
		Short: "Show a review job with its comments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := newClient().GetJob(args[0])
			if err != nil {
				return err
			}

			fmt.Printf("Job:        %s\n", resp.UUID)
			fmt.Printf("Repository: %s#%d\n", resp.RepoFullName, resp.PullRequest)
			fmt.Printf("Developer:  %s\n", resp.Developer)
			fmt.Printf("Status:     %s (%d%%)\n", resp.Status, resp.Progress)
			if resp.AIModel != "" {
				fmt.Printf("Model:      %s (%d tokens)\n", resp.AIModel, resp.TokensUsed)
			}
			if resp.Error != "" {
				fmt.Printf("Error:      %s\n", resp.Error)
			}
			if resp.CompletedAt != nil {
				fmt.Printf("Finished:   %s\n", resp.CompletedAt.Local().Format(time.RFC1123))
			}

			if resp.Status == storage.JobStatusCompleted {
				fmt.Printf("\n%s\n", resp.Summary)
				for _, c := range resp.Comments {
					fmt.Printf("\n%s:%d\n  %s\n", c.File, c.Line, c.Comment)
				}
			}
			return nil
		},
	}
}
