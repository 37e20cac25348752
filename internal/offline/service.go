// Package offline is the surface front-ends use for offline-first writes:
// the offline indicator, the queue of pending actions and manual sync.
package offline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/matheus3301/campus/internal/backend"
	"github.com/matheus3301/campus/internal/bus"
	"github.com/matheus3301/campus/internal/cache"
	"github.com/matheus3301/campus/internal/conversation"
	"github.com/matheus3301/campus/internal/netstate"
	"github.com/matheus3301/campus/internal/notify"
	"github.com/matheus3301/campus/internal/outbox"
	"github.com/matheus3301/campus/internal/status"
	intsync "github.com/matheus3301/campus/internal/sync"
	"go.uber.org/zap"
)

// ErrSignedOut is returned for writes after the account signed out.
var ErrSignedOut = errors.New("signed out")

// Status is the offline indicator.
type Status struct {
	IsOnline            bool   `json:"isOnline"`
	PendingActionsCount int    `json:"pendingActionsCount"`
	LastSyncFormatted   string `json:"lastSyncFormatted"`
	Syncing             bool   `json:"syncing"`
	State               string `json:"state"`
}

// ShowIndicator reports whether front-ends should show the offline banner.
func (s Status) ShowIndicator() bool {
	return !s.IsOnline || s.PendingActionsCount > 0
}

// WriteResult tells the caller what happened to a write.
type WriteResult struct {
	Action outbox.PendingAction `json:"action"`
	// Queued is false when the backend confirmed the write directly.
	Queued bool `json:"queued"`
}

// Deps are the collaborators of a Service.
type Deps struct {
	Outbox        *outbox.Outbox
	Orchestrator  *intsync.Orchestrator
	Checkpoints   *intsync.Checkpoints
	Monitor       *netstate.Monitor
	Apply         intsync.ApplyFunc
	Cache         *cache.Cache
	Conversations *conversation.Manager
	Machine       *status.Machine
	Notifier      notify.Notifier
	Bus           *bus.Bus
	Logger        *zap.Logger
}

// Service composes the outbox, sync orchestrator and connectivity monitor.
type Service struct {
	d      Deps
	logger *zap.Logger

	mu     sync.Mutex
	status Status

	sub    *netstate.Subscription
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Service.
func New(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Notifier == nil {
		d.Notifier = notify.Noop{}
	}
	return &Service{d: d, logger: d.Logger}
}

// Start couples connectivity to the status machine and keeps the cached
// status current until Stop.
func (s *Service) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.sub = s.d.Monitor.Subscribe(s.onConnectivity)

	s.RefreshStatus(ctx)
	if s.d.Bus == nil {
		return
	}
	events, unsub := s.d.Bus.Subscribe("", 64)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case evt := <-events:
				s.handle(ctx, evt)
			}
		}
	}()
}

// Stop undoes Start.
func (s *Service) Stop() {
	if s.sub != nil {
		s.sub.Close()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Service) onConnectivity(online bool) {
	m := s.d.Machine
	if m == nil {
		return
	}
	cur := m.Current()
	var err error
	switch {
	case online && (cur == status.Booting || cur == status.Offline):
		err = m.Transition(status.Online)
	case !online && (cur == status.Online || cur == status.Syncing):
		err = m.Transition(status.Offline)
	}
	if err != nil {
		s.logger.Warn("status transition failed", zap.Bool("online", online), zap.Error(err))
	}
}

func (s *Service) handle(ctx context.Context, evt bus.Event) {
	switch evt.Kind {
	case bus.KindSyncCompleted:
		r, _ := evt.Payload.(intsync.Result)
		if r.Success+r.Failed > 0 {
			s.announce(ctx, r)
		}
		s.RefreshStatus(ctx)
	case bus.KindNetOnline, bus.KindNetOffline, bus.KindOutboxChanged, bus.KindSyncStarted, bus.KindSessionStatusChanged:
		s.RefreshStatus(ctx)
	}
}

func (s *Service) announce(ctx context.Context, r intsync.Result) {
	b := notify.Banner{Title: "Sync", Body: fmt.Sprintf("Synced %d, failed %d", r.Success, r.Failed)}
	if err := s.d.Notifier.Notify(ctx, b); err != nil {
		s.logger.Debug("sync banner not shown", zap.Error(err))
	}
}

// Status returns the last computed status without touching storage.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// RefreshStatus recomputes the status from storage and returns it.
func (s *Service) RefreshStatus(ctx context.Context) Status {
	st := Status{
		IsOnline:          s.d.Monitor.IsOnline(),
		Syncing:           s.d.Orchestrator.Syncing(),
		LastSyncFormatted: s.d.Orchestrator.LastSyncFormatted(ctx),
	}
	if s.d.Machine != nil {
		st.State = string(s.d.Machine.Current())
	}
	n, err := s.d.Outbox.Count(ctx)
	if err != nil {
		s.logger.Warn("pending count unavailable", zap.Error(err))
		s.mu.Lock()
		n = s.status.PendingActionsCount
		s.mu.Unlock()
	}
	st.PendingActionsCount = n

	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
	return st
}

func (s *Service) signedOut() bool {
	return s.d.Machine != nil && s.d.Machine.Current() == status.SignedOut
}

// AddPendingAction queues d for the next drain.
func (s *Service) AddPendingAction(ctx context.Context, d outbox.Draft) (outbox.PendingAction, error) {
	if s.signedOut() {
		return outbox.PendingAction{}, ErrSignedOut
	}
	a, err := s.d.Outbox.Add(ctx, d)
	if err != nil {
		return outbox.PendingAction{}, err
	}
	s.RefreshStatus(ctx)
	return a, nil
}

// Write applies d directly when online. A conflict is returned to the caller
// and never queued; any other failure, or being offline, queues d.
func (s *Service) Write(ctx context.Context, d outbox.Draft) (WriteResult, error) {
	if s.signedOut() {
		return WriteResult{}, ErrSignedOut
	}
	a, err := s.d.Outbox.Prepare(d)
	if err != nil {
		return WriteResult{}, err
	}

	if s.d.Monitor.IsOnline() && s.d.Apply != nil {
		err := s.d.Apply(ctx, a)
		switch {
		case err == nil:
			return WriteResult{Action: a}, nil
		case backend.IsConflict(err), errors.Is(err, outbox.ErrInvalidDraft):
			return WriteResult{}, err
		}
		s.logger.Info("direct write failed, queueing", zap.String("id", a.ID), zap.Error(err))
		a.LastError = err.Error()
	}

	if err := s.d.Outbox.Enqueue(ctx, a); err != nil {
		return WriteResult{}, err
	}
	s.RefreshStatus(ctx)
	return WriteResult{Action: a, Queued: true}, nil
}

// SyncNow drains the queue. Offline it returns a zero result.
func (s *Service) SyncNow(ctx context.Context) intsync.Result {
	if s.signedOut() || s.d.Apply == nil {
		return intsync.Result{}
	}
	r := s.d.Orchestrator.SyncNow(ctx, s.d.Apply)
	s.RefreshStatus(ctx)
	return r
}

// ListPending returns the queue in insertion order.
func (s *Service) ListPending(ctx context.Context) ([]outbox.PendingAction, error) {
	return s.d.Outbox.All(ctx)
}

// Discard drops a queued action the user gave up on.
func (s *Service) Discard(ctx context.Context, id string) error {
	if err := s.d.Outbox.Remove(ctx, id); err != nil {
		return err
	}
	s.logger.Info("pending action discarded", zap.String("id", id))
	s.RefreshStatus(ctx)
	return nil
}

// SignOut tears down conversations and wipes everything stored for the
// account: cache entries, queued actions and sync checkpoints.
func (s *Service) SignOut(ctx context.Context) error {
	if s.d.Conversations != nil {
		s.d.Conversations.CloseAll()
	}
	if s.d.Cache != nil {
		s.d.Cache.ClearAll(ctx)
	}

	var errs []error
	if _, err := s.d.Outbox.Purge(ctx); err != nil {
		errs = append(errs, err)
	}
	if s.d.Checkpoints != nil {
		if err := s.d.Checkpoints.Reset(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if s.d.Machine != nil && !s.signedOut() {
		if err := s.d.Machine.Transition(status.SignedOut); err != nil {
			errs = append(errs, err)
		}
	}
	s.RefreshStatus(ctx)
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	s.logger.Info("signed out")
	return nil
}
