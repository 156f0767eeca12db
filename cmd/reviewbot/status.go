package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and queue status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := newClient().GetStatus()
			if err != nil {
				fmt.Println("Daemon: not running")
				fmt.Println()
				fmt.Println("Start with: reviewbotd")
				return nil
			}

			daemonLine := "Daemon: running"
			if status.Uptime != "" {
				daemonLine += fmt.Sprintf(" (uptime: %s)", status.Uptime)
			}
			if status.Version != "" {
				daemonLine += fmt.Sprintf(" [%s]", status.Version)
			}
			fmt.Println(daemonLine)
			fmt.Printf("Workers: %d/%d active\n", status.ActiveWorkers, status.MaxWorkers)
			fmt.Printf("Queue:   %d queued, %d running\n", status.QueuedItems, status.RunningItems)
			fmt.Printf("Jobs:    %d processing, %d completed, %d failed\n",
				status.ProcessingJobs, status.CompletedJobs, status.FailedJobs)
			return nil
		},
	}
}
