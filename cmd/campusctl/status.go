package main

import (
	"context"
	"fmt"

	"github.com/matheus3301/campus/internal/tui/client"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd, syncCmd, signOutCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show connectivity, pending actions and last sync",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			st, err := c.Status(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				outputJSON(st)
				return nil
			}
			online := "offline"
			if st.IsOnline {
				online = "online"
			}
			fmt.Printf("State:     %s\n", st.State)
			fmt.Printf("Network:   %s\n", online)
			fmt.Printf("Pending:   %d\n", st.PendingActionsCount)
			fmt.Printf("Last sync: %s\n", st.LastSyncFormatted)
			if st.Syncing {
				fmt.Println("Sync in progress")
			}
			return nil
		})
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Drain the pending-action queue now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			res, err := c.SyncNow(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				outputJSON(res)
				return nil
			}
			fmt.Printf("Synced %d, failed %d\n", res.Success, res.Failed)
			return nil
		})
	},
}

var signOutCmd = &cobra.Command{
	Use:   "signout",
	Short: "Sign out and wipe all local data for the profile",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			if err := c.SignOut(ctx); err != nil {
				return err
			}
			fmt.Println("Signed out. Local data cleared.")
			return nil
		})
	},
}
