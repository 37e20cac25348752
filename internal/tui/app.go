// Package tui is the terminal front-end for a campus daemon.
package tui

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/campus/internal/bus"
	"github.com/matheus3301/campus/internal/conversation"
	"github.com/matheus3301/campus/internal/feed"
	"github.com/matheus3301/campus/internal/notify"
	"github.com/matheus3301/campus/internal/tui/client"
	"github.com/matheus3301/campus/internal/tui/keys"
	"github.com/matheus3301/campus/internal/tui/model"
	"github.com/matheus3301/campus/internal/tui/views"
	"github.com/rivo/tview"
)

const (
	pageFeed    = "feed"
	pagePending = "pending"
	pageChat    = "chat"
	pageHelp    = "help"

	flashFor    = 5 * time.Second
	rpcTimeout  = 10 * time.Second
	watchRetry  = 2 * time.Second
	clockPeriod = 30 * time.Second
)

// App is the main TUI application shell.
type App struct {
	app       *tview.Application
	root      *tview.Flex
	pages     *tview.Pages
	vm        *model.ViewModel
	grpc      *client.Client
	registry  *keys.Registry
	statusBar *views.StatusBar
	feedList  *views.FeedList
	pending   *views.PendingList
	msgView   *views.MessageView
	composer  *views.Composer
	help      *views.HelpView
	prompt    *tview.InputField
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewApp creates the TUI application.
func NewApp(c *client.Client, profile string) *App {
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		app:       tview.NewApplication(),
		pages:     tview.NewPages(),
		vm:        model.NewViewModel(c),
		grpc:      c,
		registry:  keys.NewRegistry(),
		statusBar: views.NewStatusBar(),
		feedList:  views.NewFeedList(),
		pending:   views.NewPendingList(),
		msgView:   views.NewMessageView(),
		composer:  views.NewComposer(),
		help:      views.NewHelpView(),
		prompt:    tview.NewInputField().SetLabel(":").SetFieldWidth(0),
		ctx:       ctx,
		cancel:    cancel,
	}

	a.statusBar.SetProfile(profile)
	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupBindings() {
	a.registry.AddGlobal("quit", &keys.Action{
		Rune: 'q', Key: tcell.KeyRune,
		Description: "q:quit", Visible: true,
		Handler: func() { a.Stop() },
	})
	a.registry.AddGlobal("command", &keys.Action{
		Rune: ':', Key: tcell.KeyRune,
		Description: "::command", Visible: true,
		Handler: a.showPrompt,
	})
	a.registry.AddGlobal("help", &keys.Action{
		Rune: '?', Key: tcell.KeyRune,
		Description: "?:help", Visible: true,
		Handler: func() { a.switchTo(pageHelp, a.help) },
	})
	a.registry.AddGlobal("sync", &keys.Action{
		Rune: 'S', Key: tcell.KeyRune,
		Description: "S:sync", Visible: true,
		Handler: func() { a.async(a.vm.SyncNow, a.redrawPending) },
	})
	a.registry.AddGlobal("pending", &keys.Action{
		Rune: 'p', Key: tcell.KeyRune,
		Description: "p:pending", Visible: true,
		Handler: a.showPending,
	})

	for i, kind := range []feed.Kind{feed.Events, feed.Posts, feed.Notifications, feed.Profile} {
		r := rune('1' + i)
		a.registry.AddView(pageFeed, string(kind), &keys.Action{
			Rune: r, Key: tcell.KeyRune,
			Description: string(r) + ":" + string(kind), Visible: true,
			Handler: func() { a.browse(kind) },
		})
	}
	a.registry.AddView(pageFeed, "reload", &keys.Action{
		Rune: 'r', Key: tcell.KeyRune,
		Description: "r:reload", Visible: true,
		Handler: func() { a.browse(a.vm.Page().Kind) },
	})

	a.registry.AddView(pagePending, "discard", &keys.Action{
		Rune: 'd', Key: tcell.KeyRune,
		Description: "d:discard", Visible: true,
		Handler: func() {
			id := a.pending.Selected()
			if id == "" {
				return
			}
			a.async(func(ctx context.Context) error { return a.vm.Discard(ctx, id) }, a.redrawPending)
		},
	})

	a.registry.AddView(pageChat, "compose", &keys.Action{
		Rune: 'i', Key: tcell.KeyRune,
		Description: "i:compose", Visible: true,
		Handler: func() { a.app.SetFocus(a.composer) },
	})
	a.registry.AddView(pageChat, "retry", &keys.Action{
		Rune: 'r', Key: tcell.KeyRune,
		Description: "r:reload", Visible: true,
		Handler: func() { a.async(a.vm.RefreshConversation, a.redrawChat) },
	})
	a.registry.AddView(pageChat, "reconnect", &keys.Action{
		Rune: 'R', Key: tcell.KeyRune,
		Description: "R:reconnect", Visible: true,
		Handler: func() { a.async(a.vm.Reconnect, a.redrawChat) },
	})
}

func (a *App) setupCallbacks() {
	a.composer.SetOnChange(func() {
		go a.vm.Keystroke(a.ctx)
	})
	a.composer.SetOnSend(func(text string) {
		go func() {
			ctx, cancel := context.WithTimeout(a.ctx, rpcTimeout)
			defer cancel()
			err := a.vm.Send(ctx, text)
			a.app.QueueUpdateDraw(func() {
				a.composer.Sent(err == nil)
				a.redrawChat()
				a.redrawStatus()
			})
		}()
	})

	a.prompt.SetDoneFunc(func(key tcell.Key) {
		text := a.prompt.GetText()
		a.hidePrompt()
		if key == tcell.KeyEnter && text != "" {
			a.runCommand(text)
		}
	})
}

func (a *App) setupLayout() {
	chatFlex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.msgView, 0, 1, false).
		AddItem(a.composer, 1, 0, false)

	a.pages.AddPage(pageFeed, a.feedList, true, true)
	a.pages.AddPage(pagePending, a.pending, true, false)
	a.pages.AddPage(pageChat, chatFlex, true, false)
	a.pages.AddPage(pageHelp, a.help, true, false)

	a.root = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.prompt, 0, 0, false).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(a.root, true)
	a.updateHints()

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		currentPage, _ := a.pages.GetFrontPage()

		// Text input widgets get every key; Esc leaves them.
		if _, ok := a.app.GetFocus().(*tview.InputField); ok {
			if event.Key() == tcell.KeyEscape && a.app.GetFocus() == a.composer.InputField {
				a.app.SetFocus(a.msgView)
				return nil
			}
			return event
		}

		if event.Key() == tcell.KeyEscape {
			switch currentPage {
			case pageChat:
				a.closeChat()
				return nil
			case pagePending, pageHelp:
				a.switchTo(pageFeed, a.feedList)
				return nil
			}
		}

		if a.registry.HandleEvent(currentPage, event) {
			return nil
		}
		return event
	})
}

func (a *App) switchTo(page string, focus tview.Primitive) {
	a.pages.SwitchToPage(page)
	a.app.SetFocus(focus)
	a.updateHints()
}

func (a *App) updateHints() {
	page, _ := a.pages.GetFrontPage()
	a.statusBar.SetHints(a.registry.Hints(page))
	a.help.Update([]views.HelpSection{
		{Title: "Global", Lines: a.registry.Hints("")},
		{Title: "Feeds", Lines: a.registry.ViewHints(pageFeed)},
		{Title: "Pending", Lines: a.registry.ViewHints(pagePending)},
		{Title: "Conversation", Lines: append(a.registry.ViewHints(pageChat), "Esc:back  Enter:send (in composer)")},
		{Title: "Commands", Lines: commandHelp},
	})
}

func (a *App) showPrompt() {
	a.prompt.SetText("")
	a.root.ResizeItem(a.prompt, 1, 0)
	a.app.SetFocus(a.prompt)
}

func (a *App) hidePrompt() {
	a.root.ResizeItem(a.prompt, 0, 0)
	page, item := a.pages.GetFrontPage()
	if page == pageChat {
		a.app.SetFocus(a.msgView)
		return
	}
	a.app.SetFocus(item)
}

func (a *App) runCommand(input string) {
	cmd, err := ParseCommand(input)
	if err != nil {
		a.vm.Flash.Error(err.Error(), flashFor)
		a.redrawStatus()
		return
	}
	switch cmd.Name {
	case "open":
		a.openConversation(cmd.Args[0], cmd.Args[1:])
	case "browse":
		a.browse(feed.Kind(cmd.Args[0]))
	case "pending":
		a.showPending()
	case "sync":
		a.async(a.vm.SyncNow, a.redrawPending)
	case "signout":
		a.async(a.vm.SignOut, func() {
			a.redrawAll()
			a.switchTo(pageFeed, a.feedList)
		})
	case "help":
		a.switchTo(pageHelp, a.help)
	case "quit":
		a.Stop()
	}
}

// async runs fn off the UI goroutine, then redraws the status bar and calls
// after on the UI goroutine.
func (a *App) async(fn func(ctx context.Context) error, after func()) {
	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, rpcTimeout)
		defer cancel()
		_ = fn(ctx)
		a.app.QueueUpdateDraw(func() {
			if after != nil {
				after()
			}
			a.redrawStatus()
		})
	}()
}

func (a *App) browse(kind feed.Kind) {
	a.async(func(ctx context.Context) error { return a.vm.LoadFeed(ctx, kind) }, func() {
		a.feedList.Update(a.vm.Page())
		a.switchTo(pageFeed, a.feedList)
	})
}

func (a *App) showPending() {
	a.async(a.vm.LoadPending, func() {
		a.redrawPending()
		a.switchTo(pagePending, a.pending)
	})
}

func (a *App) openConversation(id string, participants []string) {
	a.async(func(ctx context.Context) error { return a.vm.OpenConversation(ctx, id, participants) }, func() {
		if a.vm.ActiveConversation() != id {
			return
		}
		a.redrawChat()
		a.switchTo(pageChat, a.msgView)
	})
}

func (a *App) closeChat() {
	a.async(a.vm.CloseConversation, nil)
	a.switchTo(pageFeed, a.feedList)
}

func (a *App) redrawStatus() {
	a.statusBar.SetStatus(a.vm.Status())
	msg, isErr := a.vm.Flash.Get()
	a.statusBar.SetFlash(msg, isErr)
}

func (a *App) redrawPending() {
	a.pending.Update(a.vm.Pending())
}

func (a *App) redrawChat() {
	if a.vm.ActiveConversation() != "" {
		a.msgView.Update(a.vm.Conversation())
	}
}

func (a *App) redrawAll() {
	a.feedList.Update(a.vm.Page())
	a.redrawPending()
	a.redrawChat()
	a.redrawStatus()
}

// Run starts the TUI application.
func (a *App) Run() error {
	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, rpcTimeout)
		_ = a.vm.LoadStatus(ctx)
		_ = a.vm.LoadFeed(ctx, feed.Events)
		a.vm.SetAppState(ctx, string(conversation.AppActive))
		cancel()

		a.app.QueueUpdateDraw(a.redrawAll)

		go a.watchEvents()
		a.tickClock()
	}()

	return a.app.Run()
}

// watchEvents follows the daemon's event stream, reconnecting until Stop.
func (a *App) watchEvents() {
	for a.ctx.Err() == nil {
		stream, err := a.grpc.WatchEvents(a.ctx)
		if err == nil {
			for {
				evt, err := stream.Recv()
				if err != nil {
					break
				}
				a.handleEvent(evt)
			}
		}
		select {
		case <-a.ctx.Done():
			return
		case <-time.After(watchRetry):
		}
	}
}

func (a *App) handleEvent(evt client.Event) {
	ctx, cancel := context.WithTimeout(a.ctx, rpcTimeout)
	defer cancel()

	switch evt.Kind {
	case bus.KindNotifyBanner:
		var b notify.Banner
		if json.Unmarshal(evt.Payload, &b) == nil {
			msg := b.Title
			if b.Body != "" {
				msg += ": " + b.Body
			}
			a.vm.Flash.Set(msg, flashFor)
		}
	case bus.KindConversationChanged:
		var ch conversation.Changed
		if json.Unmarshal(evt.Payload, &ch) == nil && ch.ConversationID == a.vm.ActiveConversation() && !ch.Closed {
			_ = a.vm.RefreshConversation(ctx)
		}
	case bus.KindOutboxChanged:
		_ = a.vm.LoadPending(ctx)
	case bus.KindOutboxApplied:
		_ = a.vm.LoadPending(ctx)
		_ = a.vm.ReloadFeed(ctx)
	}
	_ = a.vm.LoadStatus(ctx)

	a.app.QueueUpdateDraw(func() {
		switch evt.Kind {
		case bus.KindConversationChanged:
			a.redrawChat()
		case bus.KindOutboxChanged:
			a.redrawPending()
		case bus.KindOutboxApplied:
			a.redrawPending()
			a.feedList.Update(a.vm.Page())
		}
		a.redrawStatus()
	})
}

// tickClock keeps the clock current and clears expired flashes.
func (a *App) tickClock() {
	ticker := time.NewTicker(clockPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.app.QueueUpdateDraw(a.redrawStatus)
		case <-a.ctx.Done():
			return
		}
	}
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	a.vm.SetAppState(ctx, string(conversation.AppBackground))
	cancel()
	a.cancel()
	a.app.Stop()
}
