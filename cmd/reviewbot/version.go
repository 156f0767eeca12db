package main

import (
	"fmt"

	"github.com/reviewbot-dev/reviewbot/internal/version"
	"github.com/spf13/cobra"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show reviewbot version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("reviewbot %s\n", version.Version)
		},
	}
}
