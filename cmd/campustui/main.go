package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/campus/internal/session"
	"github.com/matheus3301/campus/internal/tui"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	noStart := flag.Bool("no-start", false, "fail instead of launching campusd when it is not running")
	flag.Parse()

	profile, err := session.Resolve(*profileFlag)
	if err != nil {
		fail("error: %v", err)
	}

	c, err := ensureDaemon(profile, !*noStart)
	if err != nil {
		fail("%v", err)
	}
	defer func() { _ = c.Close() }()

	if err := tui.NewApp(c, profile).Run(); err != nil {
		fail("error: %v", err)
	}
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
