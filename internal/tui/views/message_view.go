package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/campus/internal/conversation"
	"github.com/rivo/tview"
)

// MessageView displays one conversation's timeline.
type MessageView struct {
	*tview.TextView
}

// NewMessageView creates a new message view.
func NewMessageView() *MessageView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	tv.SetBorder(true).SetTitle(" Messages ")

	return &MessageView{TextView: tv}
}

// Update redraws the view from snap.
func (mv *MessageView) Update(snap conversation.Snapshot) {
	mv.SetTitle(" " + conversationTitle(snap) + " ")
	mv.Clear()
	_, _ = fmt.Fprint(mv, renderThread(snap))
	mv.ScrollToEnd()
}

func conversationTitle(snap conversation.Snapshot) string {
	if snap.Peer == "" {
		return clean(snap.ConversationID)
	}
	dot := "[gray]o[-]"
	if snap.PeerOnline {
		dot = "[green]*[-]"
	}
	return clean(snap.Peer) + " " + dot
}

func renderThread(snap conversation.Snapshot) string {
	var b strings.Builder
	if snap.LoadErr != "" {
		fmt.Fprintf(&b, "[red]Could not load history: %s (r to retry)[-]\n\n", clean(snap.LoadErr))
	}
	if snap.SubscriptionErr != "" {
		fmt.Fprintf(&b, "[yellow]Live updates unavailable: %s (R to reconnect)[-]\n\n", clean(snap.SubscriptionErr))
	}
	for _, m := range snap.Messages {
		sender := clean(m.SenderID)
		mark := ""
		if m.SenderID == snap.Self {
			sender = "You"
			mark = " " + statusMark(m.Status)
		}
		fmt.Fprintf(&b, "[::b]%s[-:-:-] [::d]%s[-:-:-]%s\n%s\n\n", sender, formatTime(m.CreatedAt), mark, clean(m.Body))
	}
	if len(snap.TypingUsers) > 0 {
		names := make([]string, len(snap.TypingUsers))
		for i, u := range snap.TypingUsers {
			names[i] = clean(u)
		}
		verb := "is"
		if len(names) > 1 {
			verb = "are"
		}
		fmt.Fprintf(&b, "[::i]%s %s typing[-:-:-]\n", strings.Join(names, ", "), verb)
	}
	return b.String()
}

func statusMark(s conversation.Status) string {
	switch s {
	case conversation.StatusRead:
		return "[blue]vv[-]"
	case conversation.StatusDelivered:
		return "vv"
	default:
		return "v"
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	t = t.Local()
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02 15:04")
}
