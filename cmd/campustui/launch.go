package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/matheus3301/campus/internal/session"
	"github.com/matheus3301/campus/internal/tui/client"
)

// daemonEnv overrides the campusd binary used for auto-start.
const daemonEnv = "CAMPUSD_BIN"

const readyTimeout = 10 * time.Second

// ensureDaemon returns a client for the profile's daemon, launching campusd
// first when nothing answers on the socket and launching is allowed.
func ensureDaemon(profile string, launch bool) (*client.Client, error) {
	socket := session.SocketPath(profile)
	if c, ok := dial(socket); ok {
		return c, nil
	}
	if !launch {
		return nil, fmt.Errorf("campusd is not running for profile %q", profile)
	}

	fmt.Fprintf(os.Stderr, "starting campusd for profile %q\n", profile)
	if err := spawn(daemonBinary(os.Getenv(daemonEnv), executableDir()), profile); err != nil {
		return nil, fmt.Errorf("start campusd: %w", err)
	}
	c, err := awaitDaemon(socket, readyTimeout)
	if err != nil {
		return nil, fmt.Errorf("campusd for profile %q: %w (see %s)", profile, err, session.LogPath(profile))
	}
	return c, nil
}

// dial connects and checks the daemon answers GetStatus. The client is
// returned open on success.
func dial(socket string) (*client.Client, bool) {
	if _, err := os.Stat(socket); err != nil {
		return nil, false
	}
	c, err := client.New(socket)
	if err != nil {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := c.Status(ctx); err != nil {
		_ = c.Close()
		return nil, false
	}
	return c, true
}

func awaitDaemon(socket string, timeout time.Duration) (*client.Client, error) {
	deadline := time.Now().Add(timeout)
	wait := 50 * time.Millisecond
	for time.Now().Before(deadline) {
		if c, ok := dial(socket); ok {
			return c, nil
		}
		time.Sleep(wait)
		wait = min(wait*2, time.Second)
	}
	return nil, fmt.Errorf("not ready after %s", timeout)
}

// daemonBinary picks campusd: the override, then a sibling of this binary,
// then whatever PATH finds.
func daemonBinary(override, dir string) string {
	if override != "" {
		return override
	}
	if dir != "" {
		sibling := filepath.Join(dir, "campusd")
		if info, err := os.Stat(sibling); err == nil && !info.IsDir() {
			return sibling
		}
	}
	return "campusd"
}

func executableDir() string {
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	return filepath.Dir(exe)
}

// spawn starts campusd in its own session so it outlives the terminal UI.
func spawn(bin, profile string) error {
	cmd := exec.Command(bin, "--profile", profile)
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}
