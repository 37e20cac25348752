package sync

import (
	"fmt"
	"time"
)

// FormatLastSync renders the last sync time relative to now.
func FormatLastSync(last time.Time, ok bool, now time.Time) string {
	if !ok {
		return "Never"
	}
	d := now.Sub(last)
	switch {
	case d < time.Minute:
		return "Just now"
	case d < time.Hour:
		return fmt.Sprintf("%d min ago", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%d hr ago", int(d/time.Hour))
	default:
		return last.Local().Format("Jan 2, 2006")
	}
}
