package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/matheus3301/campus/internal/session"
	"github.com/matheus3301/campus/internal/tui/client"
	"github.com/spf13/cobra"
)

var (
	profileFlag string
	jsonOutput  bool
	timeout     time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "campusctl",
	Short:         "Control a running campus daemon",
	Long:          "Command-line interface for the campus daemon.\nInspect connectivity, drain or edit the pending-action queue, and chat.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&profileFlag, "profile", "", "profile name (overrides config default)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "per-command deadline")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// connect dials the daemon for the selected profile.
func connect() (*client.Client, string, error) {
	profile, err := session.Resolve(profileFlag)
	if err != nil {
		return nil, "", err
	}
	c, err := client.New(session.SocketPath(profile))
	if err != nil {
		return nil, "", fmt.Errorf("cannot connect to daemon for profile %q: %w", profile, err)
	}
	return c, profile, nil
}

// withClient runs fn against a connected client under the command deadline.
func withClient(cmd *cobra.Command, fn func(ctx context.Context, c *client.Client) error) error {
	c, _, err := connect()
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	return fn(ctx, c)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
