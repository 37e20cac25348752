package tui

import (
	"fmt"
	"strings"

	"github.com/matheus3301/campus/internal/feed"
)

// Command represents a parsed ":" command line.
type Command struct {
	Name string
	Args []string
}

// commandHelp lists every command the prompt accepts, as shown in help.
var commandHelp = []string{
	":open <id> <participant>...  Open a conversation",
	":browse <events|posts|notifications|profile>",
	":pending                     Show the pending queue",
	":sync                        Drain the queue now",
	":signout                     Sign out and wipe local data",
	":help  :quit",
}

// ParseCommand parses a command string (without the leading ':') and checks
// its arguments.
func ParseCommand(input string) (Command, error) {
	fields := strings.Fields(input)
	if len(fields) == 0 {
		return Command{}, fmt.Errorf("empty command")
	}
	cmd := Command{Name: strings.ToLower(fields[0]), Args: fields[1:]}

	switch cmd.Name {
	case "q":
		cmd.Name = "quit"
	case "h":
		cmd.Name = "help"
	}

	switch cmd.Name {
	case "open":
		if len(cmd.Args) < 2 {
			return cmd, fmt.Errorf("usage: open <id> <participant>...")
		}
	case "browse":
		if len(cmd.Args) != 1 || !validKind(feed.Kind(cmd.Args[0])) {
			return cmd, fmt.Errorf("usage: browse <events|posts|notifications|profile>")
		}
	case "pending", "sync", "signout", "help", "quit":
		if len(cmd.Args) != 0 {
			return cmd, fmt.Errorf("%s takes no arguments", cmd.Name)
		}
	default:
		return cmd, fmt.Errorf("unknown command %q", cmd.Name)
	}
	return cmd, nil
}

func validKind(k feed.Kind) bool {
	switch k {
	case feed.Events, feed.Posts, feed.Notifications, feed.Profile:
		return true
	}
	return false
}
