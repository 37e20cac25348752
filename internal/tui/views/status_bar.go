package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/campus/internal/offline"
	"github.com/rivo/tview"
)

// StatusBar shows the profile, connectivity, queue and last sync on one line.
type StatusBar struct {
	*tview.TextView
	profile  string
	status   offline.Status
	flash    string
	flashErr bool
	hints    []string
	now      func() time.Time
}

// NewStatusBar creates a new status bar.
func NewStatusBar() *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)

	return &StatusBar{TextView: tv, now: time.Now}
}

// SetProfile updates the profile name display.
func (sb *StatusBar) SetProfile(name string) {
	sb.profile = name
	sb.render()
}

// SetStatus updates the connectivity and queue display.
func (sb *StatusBar) SetStatus(st offline.Status) {
	sb.status = st
	sb.render()
}

// SetFlash sets a temporary message; isErr renders it in red.
func (sb *StatusBar) SetFlash(msg string, isErr bool) {
	sb.flash = msg
	sb.flashErr = isErr
	sb.render()
}

// SetHints sets the key hints shown when no flash is active.
func (sb *StatusBar) SetHints(hints []string) {
	sb.hints = hints
	sb.render()
}

func (sb *StatusBar) render() {
	sb.Clear()
	_, _ = fmt.Fprint(sb, sb.line())
}

func (sb *StatusBar) line() string {
	st := sb.status
	parts := []string{fmt.Sprintf(" [::b]%s[-:-:-]", sb.profile)}

	switch {
	case st.State == "SIGNED_OUT":
		parts = append(parts, "[gray]signed out[-]")
	case !st.IsOnline:
		parts = append(parts, "[black:red] OFFLINE [-:-]")
	case st.Syncing:
		parts = append(parts, "[green]syncing[-]")
	default:
		parts = append(parts, "[green]online[-]")
	}

	if st.PendingActionsCount > 0 {
		parts = append(parts, fmt.Sprintf("[black:yellow] %d pending [-:-]", st.PendingActionsCount))
	}
	if st.LastSyncFormatted != "" {
		parts = append(parts, "Last sync: "+st.LastSyncFormatted)
	}
	parts = append(parts, sb.now().Format("15:04"))

	switch {
	case sb.flash != "" && sb.flashErr:
		parts = append(parts, "[red]"+tview.Escape(sb.flash)+"[-]")
	case sb.flash != "":
		parts = append(parts, "[yellow]"+tview.Escape(sb.flash)+"[-]")
	case len(sb.hints) > 0:
		parts = append(parts, "[::d]"+strings.Join(sb.hints, " ")+"[-:-:-]")
	}
	return strings.Join(parts, " | ")
}
