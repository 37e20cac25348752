package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/matheus3301/campus/internal/outbox"
	"github.com/matheus3301/campus/internal/tui/client"
	"github.com/spf13/cobra"
)

var (
	draftType    string
	draftEntity  string
	draftPayload string
)

func init() {
	for _, c := range []*cobra.Command{pendingAddCmd, writeCmd} {
		c.Flags().StringVar(&draftType, "type", "create", "action type: create, update or delete")
		c.Flags().StringVar(&draftEntity, "entity", "", "entity: event, post, message or reply")
		c.Flags().StringVar(&draftPayload, "payload", "{}", "JSON payload; update and delete need an \"id\"")
		_ = c.MarkFlagRequired("entity")
	}

	pendingCmd.AddCommand(pendingListCmd, pendingAddCmd, pendingDiscardCmd)
	rootCmd.AddCommand(pendingCmd, writeCmd)
}

func draftFromFlags() (outbox.Draft, error) {
	if !json.Valid([]byte(draftPayload)) {
		return outbox.Draft{}, fmt.Errorf("--payload is not valid JSON")
	}
	return outbox.Draft{
		Type:    outbox.ActionType(draftType),
		Entity:  outbox.Entity(draftEntity),
		Payload: json.RawMessage(draftPayload),
	}, nil
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Inspect and edit the pending-action queue",
}

var pendingListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued actions, oldest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			items, err := c.ListPending(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				outputJSON(items)
				return nil
			}
			if len(items) == 0 {
				fmt.Println("No pending actions.")
				return nil
			}
			for _, a := range items {
				line := fmt.Sprintf("%s  %-6s %-7s retries=%d  %s",
					a.ID, a.Type, a.Entity, a.RetryCount, time.UnixMilli(a.EnqueuedAt).Local().Format(time.DateTime))
				if a.LastError != "" {
					line += "  last error: " + a.LastError
				}
				fmt.Println(line)
			}
			return nil
		})
	},
}

var pendingAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Queue an action without trying the backend",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := draftFromFlags()
		if err != nil {
			return err
		}
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			a, err := c.AddPendingAction(ctx, d)
			if err != nil {
				return err
			}
			if jsonOutput {
				outputJSON(a)
				return nil
			}
			fmt.Printf("Queued %s\n", a.ID)
			return nil
		})
	},
}

var pendingDiscardCmd = &cobra.Command{
	Use:   "discard <id>",
	Short: "Drop a queued action",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			if err := c.Discard(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("Discarded %s\n", args[0])
			return nil
		})
	},
}

var writeCmd = &cobra.Command{
	Use:   "write",
	Short: "Apply an action now, queueing it if the backend is unreachable",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := draftFromFlags()
		if err != nil {
			return err
		}
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			res, err := c.Write(ctx, d)
			if err != nil {
				return err
			}
			if jsonOutput {
				outputJSON(res)
				return nil
			}
			if res.Queued {
				fmt.Printf("Queued %s for the next sync\n", res.Action.ID)
			} else {
				fmt.Printf("Applied %s\n", res.Action.ID)
			}
			return nil
		})
	},
}
