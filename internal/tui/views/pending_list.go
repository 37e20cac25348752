package views

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/campus/internal/outbox"
	"github.com/rivo/tview"
)

// PendingList shows queued actions, oldest first.
type PendingList struct {
	*tview.Table
	items []outbox.PendingAction
}

// NewPendingList creates a new pending-action table.
func NewPendingList() *PendingList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	table.SetBorder(true).SetTitle(" Pending ")

	return &PendingList{Table: table}
}

// Update refreshes the table with items.
func (pl *PendingList) Update(items []outbox.PendingAction) {
	pl.items = items
	pl.Clear()
	pl.SetTitle(fmt.Sprintf(" Pending (%d) ", len(items)))

	for col, h := range []string{"Action", "Entity", "Queued", "Retries", "Last error"} {
		pl.SetCell(0, col, tview.NewTableCell(" "+h).SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	}
	for i, a := range items {
		row := i + 1
		retries := tview.NewTableCell(fmt.Sprintf(" %d", a.RetryCount))
		if a.RetryCount > 0 {
			retries.SetTextColor(tcell.ColorYellow)
		}
		pl.SetCell(row, 0, tview.NewTableCell(" "+string(a.Type)))
		pl.SetCell(row, 1, tview.NewTableCell(" "+string(a.Entity)))
		pl.SetCell(row, 2, tview.NewTableCell(" "+formatTime(time.UnixMilli(a.EnqueuedAt))))
		pl.SetCell(row, 3, retries)
		pl.SetCell(row, 4, tview.NewTableCell(" "+clean(a.LastError)).SetExpansion(1).SetTextColor(tcell.ColorRed))
	}
	if len(items) == 0 {
		pl.SetCell(1, 0, tview.NewTableCell(" Everything is synced").SetSelectable(false).SetTextColor(tview.Styles.TertiaryTextColor))
	}
}

// Selected returns the id of the action under the cursor.
func (pl *PendingList) Selected() string {
	row, _ := pl.GetSelection()
	idx := row - 1
	if idx >= 0 && idx < len(pl.items) {
		return pl.items[idx].ID
	}
	return ""
}
