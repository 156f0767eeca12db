package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func whitelistCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whitelist",
		Short: "Manage repository developer whitelists",
	}
	cmd.AddCommand(whitelistAddCmd())
	cmd.AddCommand(whitelistRemoveCmd())
	return cmd
}

func whitelistAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <owner/repo> <developer>",
		Short: "Add a developer to a repository's whitelist",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient().WhitelistAdd(args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("Added %s to whitelist for %s\n", args[1], args[0])
			return nil
		},
	}
}

func whitelistRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <owner/repo> <developer>",
		Short: "Remove a developer from a repository's whitelist",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient().WhitelistRemove(args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("Removed %s from whitelist for %s\n", args[1], args[0])
			return nil
		},
	}
}
