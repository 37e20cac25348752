package model

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/campus/internal/conversation"
	"github.com/matheus3301/campus/internal/feed"
	"github.com/matheus3301/campus/internal/offline"
	"github.com/matheus3301/campus/internal/outbox"
	intsync "github.com/matheus3301/campus/internal/sync"
)

// Daemon is the slice of the daemon client the TUI drives.
type Daemon interface {
	Status(ctx context.Context) (offline.Status, error)
	SyncNow(ctx context.Context) (intsync.Result, error)
	ListPending(ctx context.Context) ([]outbox.PendingAction, error)
	Discard(ctx context.Context, id string) error
	SignOut(ctx context.Context) error
	Browse(ctx context.Context, kind feed.Kind) (feed.Page, error)
	Open(ctx context.Context, id string, participants []string) (conversation.Snapshot, error)
	CloseConversation(ctx context.Context, id string) error
	Snapshot(ctx context.Context, id string) (conversation.Snapshot, error)
	Send(ctx context.Context, id, text string) (conversation.Message, error)
	Keystroke(ctx context.Context, id string) error
	MarkRead(ctx context.Context, id string) error
	Reconnect(ctx context.Context, id string) (conversation.Snapshot, error)
	SetAppState(ctx context.Context, state string) error
}

const flashFor = 5 * time.Second

// ViewModel caches daemon state for the views. Loaders fetch and store;
// getters return copies safe to render.
type ViewModel struct {
	mu sync.RWMutex

	daemon       Daemon
	status       offline.Status
	pending      []outbox.PendingAction
	page         feed.Page
	activeConv   string
	conversation conversation.Snapshot
	Flash        Flash
}

// NewViewModel creates a view model backed by d.
func NewViewModel(d Daemon) *ViewModel {
	return &ViewModel{daemon: d, page: feed.Page{Kind: feed.Events}}
}

// LoadStatus fetches the offline status.
func (vm *ViewModel) LoadStatus(ctx context.Context) error {
	st, err := vm.daemon.Status(ctx)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.status = st
	vm.mu.Unlock()
	return nil
}

// LoadPending fetches the queued actions.
func (vm *ViewModel) LoadPending(ctx context.Context) error {
	items, err := vm.daemon.ListPending(ctx)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.pending = items
	vm.mu.Unlock()
	return nil
}

// LoadFeed fetches kind and makes it the visible feed. On failure the
// previous page stays visible.
func (vm *ViewModel) LoadFeed(ctx context.Context, kind feed.Kind) error {
	page, err := vm.daemon.Browse(ctx, kind)
	if err != nil {
		vm.Flash.Error(fmt.Sprintf("Could not load %s: %v", kind, err), flashFor)
		return err
	}
	vm.mu.Lock()
	vm.page = page
	vm.mu.Unlock()
	return nil
}

// ReloadFeed refetches the visible feed.
func (vm *ViewModel) ReloadFeed(ctx context.Context) error {
	return vm.LoadFeed(ctx, vm.Page().Kind)
}

// OpenConversation opens id and makes it active. A previously active
// conversation is closed.
func (vm *ViewModel) OpenConversation(ctx context.Context, id string, participants []string) error {
	prev := vm.ActiveConversation()
	snap, err := vm.daemon.Open(ctx, id, participants)
	if err != nil {
		vm.Flash.Error("Open failed: "+err.Error(), flashFor)
		return err
	}
	if prev != "" && prev != id {
		_ = vm.daemon.CloseConversation(ctx, prev)
	}
	vm.mu.Lock()
	vm.activeConv = id
	vm.conversation = snap
	vm.mu.Unlock()
	_ = vm.daemon.MarkRead(ctx, id)
	return nil
}

// CloseConversation closes the active conversation.
func (vm *ViewModel) CloseConversation(ctx context.Context) error {
	id := vm.ActiveConversation()
	if id == "" {
		return nil
	}
	vm.mu.Lock()
	vm.activeConv = ""
	vm.conversation = conversation.Snapshot{}
	vm.mu.Unlock()
	return vm.daemon.CloseConversation(ctx, id)
}

// RefreshConversation re-reads the active conversation.
func (vm *ViewModel) RefreshConversation(ctx context.Context) error {
	id := vm.ActiveConversation()
	if id == "" {
		return nil
	}
	snap, err := vm.daemon.Snapshot(ctx, id)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	if vm.activeConv == id {
		vm.conversation = snap
	}
	vm.mu.Unlock()
	return nil
}

// Send sends text to the active conversation. A failed send leaves nothing in
// the timeline, so the caller keeps the text for a retry.
func (vm *ViewModel) Send(ctx context.Context, text string) error {
	id := vm.ActiveConversation()
	if id == "" {
		return fmt.Errorf("no conversation open")
	}
	if _, err := vm.daemon.Send(ctx, id, text); err != nil {
		vm.Flash.Error("Send failed: "+err.Error(), flashFor)
		return err
	}
	return vm.RefreshConversation(ctx)
}

// Keystroke reports local typing in the active conversation.
func (vm *ViewModel) Keystroke(ctx context.Context) {
	if id := vm.ActiveConversation(); id != "" {
		_ = vm.daemon.Keystroke(ctx, id)
	}
}

// MarkRead marks the active conversation read.
func (vm *ViewModel) MarkRead(ctx context.Context) {
	if id := vm.ActiveConversation(); id != "" {
		_ = vm.daemon.MarkRead(ctx, id)
	}
}

// Reconnect retries the active conversation's live subscriptions.
func (vm *ViewModel) Reconnect(ctx context.Context) error {
	id := vm.ActiveConversation()
	if id == "" {
		return nil
	}
	snap, err := vm.daemon.Reconnect(ctx, id)
	if err != nil {
		vm.Flash.Error("Reconnect failed: "+err.Error(), flashFor)
		return err
	}
	vm.mu.Lock()
	vm.conversation = snap
	vm.mu.Unlock()
	return nil
}

// SyncNow drains the queue and flashes the result.
func (vm *ViewModel) SyncNow(ctx context.Context) error {
	res, err := vm.daemon.SyncNow(ctx)
	if err != nil {
		vm.Flash.Error("Sync failed: "+err.Error(), flashFor)
		return err
	}
	if res.Success == 0 && res.Failed == 0 {
		vm.Flash.Set("Nothing to sync", flashFor)
	} else {
		vm.Flash.Set(fmt.Sprintf("Synced %d, failed %d", res.Success, res.Failed), flashFor)
	}
	_ = vm.LoadPending(ctx)
	return vm.LoadStatus(ctx)
}

// Discard drops a queued action.
func (vm *ViewModel) Discard(ctx context.Context, id string) error {
	if err := vm.daemon.Discard(ctx, id); err != nil {
		vm.Flash.Error("Discard failed: "+err.Error(), flashFor)
		return err
	}
	vm.Flash.Set("Discarded "+id, flashFor)
	_ = vm.LoadPending(ctx)
	return vm.LoadStatus(ctx)
}

// SignOut wipes the profile's local data.
func (vm *ViewModel) SignOut(ctx context.Context) error {
	if err := vm.daemon.SignOut(ctx); err != nil {
		vm.Flash.Error("Sign out failed: "+err.Error(), flashFor)
		return err
	}
	vm.mu.Lock()
	vm.pending = nil
	vm.page = feed.Page{Kind: vm.page.Kind}
	vm.activeConv = ""
	vm.conversation = conversation.Snapshot{}
	vm.mu.Unlock()
	vm.Flash.Set("Signed out", flashFor)
	return vm.LoadStatus(ctx)
}

// SetAppState forwards the terminal's visibility.
func (vm *ViewModel) SetAppState(ctx context.Context, state string) {
	_ = vm.daemon.SetAppState(ctx, state)
}

// Status returns the last loaded status.
func (vm *ViewModel) Status() offline.Status {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.status
}

// Pending returns the last loaded queue.
func (vm *ViewModel) Pending() []outbox.PendingAction {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.pending
}

// Page returns the visible feed page.
func (vm *ViewModel) Page() feed.Page {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.page
}

// ActiveConversation returns the open conversation id, or "".
func (vm *ViewModel) ActiveConversation() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.activeConv
}

// Conversation returns the active conversation's last snapshot.
func (vm *ViewModel) Conversation() conversation.Snapshot {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.conversation
}
