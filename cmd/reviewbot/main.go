package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/reviewbot-dev/reviewbot/internal/daemon"
)

var (
	serverAddr string
	apiToken   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "reviewbot",
		Short: "Automated code review for pull requests",
		Long:  "reviewbot dispatches AI code reviews for pull requests and manages seats, whitelists, and usage for the reviewbotd daemon",
	}

	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "http://127.0.0.1:8484", "daemon server address")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", os.Getenv("REVIEWBOT_TOKEN"), "account API token")

	rootCmd.AddCommand(reviewCmd())
	rootCmd.AddCommand(jobsCmd())
	rootCmd.AddCommand(jobCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(usageCmd())
	rootCmd.AddCommand(whitelistCmd())
	rootCmd.AddCommand(seatsCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newClient() daemon.Client {
	return daemon.NewHTTPClient(serverAddr, apiToken)
}
