package views

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"
)

// HelpSection is one titled group of key or command descriptions.
type HelpSection struct {
	Title string
	Lines []string
}

// HelpView displays the key binding and command reference.
type HelpView struct {
	*tview.TextView
}

// NewHelpView creates a new help view.
func NewHelpView() *HelpView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	tv.SetBorder(true).SetTitle(" Help ")

	return &HelpView{TextView: tv}
}

// Update redraws the reference from sections.
func (hv *HelpView) Update(sections []HelpSection) {
	hv.Clear()
	var b strings.Builder
	for _, s := range sections {
		fmt.Fprintf(&b, "\n  [::b]%s[-:-:-]\n\n", s.Title)
		for _, l := range s.Lines {
			fmt.Fprintf(&b, "  %s\n", tview.Escape(l))
		}
	}
	_, _ = fmt.Fprint(hv, b.String())
}
