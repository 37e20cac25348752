package views

import (
	"fmt"
	"sort"
	"time"

	"github.com/matheus3301/campus/internal/backend"
	"github.com/matheus3301/campus/internal/feed"
	"github.com/rivo/tview"
)

// FeedList shows one cached feed page as a table.
type FeedList struct {
	*tview.Table
	page feed.Page
}

// NewFeedList creates a new feed table.
func NewFeedList() *FeedList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	table.SetBorder(true).SetTitle(" Events ")

	return &FeedList{Table: table}
}

var (
	titleKeys = []string{"title", "name", "full_name", "content", "body"}
	whenKeys  = []string{"starts_at", "created_at", "updated_at"}
)

// Update refreshes the table with page.
func (fl *FeedList) Update(page feed.Page) {
	fl.page = page
	fl.Clear()
	fl.SetTitle(" " + feedTitle(page) + " ")

	if page.Kind == feed.Profile {
		fl.renderProfile()
		return
	}

	header := func(col int, text string) {
		fl.SetCell(0, col, tview.NewTableCell(" "+text).SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	}
	header(0, "Title")
	header(1, "When")

	for i, rec := range page.Items {
		row := i + 1
		fl.SetCell(row, 0, tview.NewTableCell(" "+clean(firstString(rec, titleKeys))).SetMaxWidth(60).SetExpansion(3))
		fl.SetCell(row, 1, tview.NewTableCell(" "+formatWhen(firstString(rec, whenKeys))).SetMaxWidth(16).SetExpansion(1))
	}
	if len(page.Items) == 0 {
		fl.SetCell(1, 0, tview.NewTableCell(" Nothing here yet").SetSelectable(false).SetTextColor(tview.Styles.TertiaryTextColor))
	}
}

func (fl *FeedList) renderProfile() {
	if len(fl.page.Items) == 0 {
		fl.SetCell(0, 0, tview.NewTableCell(" No profile cached").SetSelectable(false))
		return
	}
	rec := fl.page.Items[0]
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		fl.SetCell(i, 0, tview.NewTableCell(" "+k).SetTextColor(tview.Styles.SecondaryTextColor))
		fl.SetCell(i, 1, tview.NewTableCell(" "+clean(fmt.Sprint(rec[k]))).SetExpansion(1))
	}
}

// Selected returns the record under the cursor.
func (fl *FeedList) Selected() (backend.Record, bool) {
	if fl.page.Kind == feed.Profile {
		return nil, false
	}
	row, _ := fl.GetSelection()
	idx := row - 1
	if idx >= 0 && idx < len(fl.page.Items) {
		return fl.page.Items[idx], true
	}
	return nil, false
}

func feedTitle(page feed.Page) string {
	names := map[feed.Kind]string{
		feed.Events:        "Events",
		feed.Posts:         "Posts",
		feed.Notifications: "Notifications",
		feed.Profile:       "Profile",
	}
	title := names[page.Kind]
	if title == "" {
		title = string(page.Kind)
	}
	switch {
	case page.Stale:
		title += " (cached, refreshing)"
	case page.Cached:
		title += " (cached)"
	}
	return title
}

func firstString(rec backend.Record, keys []string) string {
	for _, k := range keys {
		if v, ok := rec[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func formatWhen(s string) string {
	if s == "" {
		return ""
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return clean(s)
	}
	return formatTime(t)
}
