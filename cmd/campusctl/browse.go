package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/matheus3301/campus/internal/conversation"
	"github.com/matheus3301/campus/internal/feed"
	"github.com/matheus3301/campus/internal/tui/client"
	"github.com/spf13/cobra"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func init() {
	convCmd.AddCommand(convOpenCmd, convShowCmd, convSendCmd, convCloseCmd)
	rootCmd.AddCommand(browseCmd, convCmd, watchCmd)
}

var browseCmd = &cobra.Command{
	Use:       "browse <events|posts|notifications|profile>",
	Short:     "Show a cached feed, refreshing it when stale",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{string(feed.Events), string(feed.Posts), string(feed.Notifications), string(feed.Profile)},
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			page, err := c.Browse(ctx, feed.Kind(args[0]))
			if err != nil {
				return err
			}
			if jsonOutput {
				outputJSON(page)
				return nil
			}
			switch {
			case page.Stale:
				fmt.Println("(cached copy, refreshing)")
			case page.Cached:
				fmt.Println("(cached)")
			}
			if len(page.Items) == 0 {
				fmt.Println("Nothing here yet.")
				return nil
			}
			for _, rec := range page.Items {
				line, _ := json.Marshal(rec)
				fmt.Println(string(line))
			}
			return nil
		})
	},
}

var convCmd = &cobra.Command{
	Use:     "conv",
	Aliases: []string{"conversation"},
	Short:   "Open and talk in conversations held by the daemon",
}

var convOpenCmd = &cobra.Command{
	Use:   "open <id> <participant>...",
	Short: "Open a conversation and print its history",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			snap, err := c.Open(ctx, args[0], args[1:])
			if err != nil {
				return err
			}
			printSnapshot(snap)
			return nil
		})
	},
}

var convShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print an open conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			snap, err := c.Snapshot(ctx, args[0])
			if err != nil {
				return err
			}
			printSnapshot(snap)
			return nil
		})
	},
}

var convSendCmd = &cobra.Command{
	Use:   "send <id> <text>",
	Short: "Send a message to an open conversation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			msg, err := c.Send(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			if jsonOutput {
				outputJSON(msg)
				return nil
			}
			fmt.Printf("Sent %s (%s)\n", msg.ID, msg.Status)
			return nil
		})
	},
}

var convCloseCmd = &cobra.Command{
	Use:   "close <id>",
	Short: "Close a conversation and drop its subscriptions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			return c.CloseConversation(ctx, args[0])
		})
	},
}

func printSnapshot(snap conversation.Snapshot) {
	if jsonOutput {
		outputJSON(snap)
		return
	}
	if snap.LoadErr != "" {
		fmt.Printf("! history: %s\n", snap.LoadErr)
	}
	if snap.SubscriptionErr != "" {
		fmt.Printf("! live updates: %s\n", snap.SubscriptionErr)
	}
	if snap.Peer != "" {
		presence := "away"
		if snap.PeerOnline {
			presence = "online"
		}
		fmt.Printf("With %s (%s)\n", snap.Peer, presence)
	}
	for _, m := range snap.Messages {
		fmt.Printf("[%s] %s: %s (%s)\n", m.CreatedAt.Local().Format(time.Kitchen), m.SenderID, m.Body, m.Status)
	}
	if len(snap.TypingUsers) > 0 {
		fmt.Printf("typing: %v\n", snap.TypingUsers)
	}
}

var watchCmd = &cobra.Command{
	Use:   "watch [namespace]...",
	Short: "Stream daemon events until interrupted",
	Long:  "Stream daemon events. Namespaces filter by kind prefix, e.g. \"net\" or \"outbox\".",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := connect()
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		stream, err := c.WatchEvents(ctx, args...)
		if err != nil {
			return err
		}
		for {
			evt, err := stream.Recv()
			if errors.Is(err, io.EOF) || status.Code(err) == codes.Canceled {
				return nil
			}
			if err != nil {
				return err
			}
			if jsonOutput {
				outputJSON(evt)
				continue
			}
			at := time.UnixMilli(evt.OccurredAt).Local().Format(time.TimeOnly)
			fmt.Printf("%s %-24s %s\n", at, evt.Kind, string(evt.Payload))
		}
	},
}
