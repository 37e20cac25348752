// Package sync drains the pending-action outbox whenever the backend is
// reachable and records when the last drain made progress.
package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/matheus3301/campus/internal/bus"
	"github.com/matheus3301/campus/internal/netstate"
	"github.com/matheus3301/campus/internal/outbox"
	"github.com/matheus3301/campus/internal/status"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ApplyFunc applies one action to the backend. A nil error means the backend
// confirmed it. A panic counts as a failure.
type ApplyFunc func(ctx context.Context, a outbox.PendingAction) error

// Result counts the outcome of one drain.
type Result struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

// Queue is the outbox surface a drain needs. Every change goes through it.
type Queue interface {
	All(ctx context.Context) ([]outbox.PendingAction, error)
	Remove(ctx context.Context, id string) error
	IncrementRetry(ctx context.Context, id string, cause error) error
}

// Connectivity is the reachability source that triggers automatic drains.
type Connectivity interface {
	IsOnline() bool
	Subscribe(fn func(online bool)) *netstate.Subscription
}

// SyncClock persists the last successful sync.
type SyncClock interface {
	RecordSync(ctx context.Context, t time.Time) error
	LastSync(ctx context.Context) (time.Time, bool, error)
}

// Orchestrator runs at most one drain at a time. Callers that ask for a
// drain while one is running share its result.
type Orchestrator struct {
	queue   Queue
	net     Connectivity
	clock   SyncClock
	apply   ApplyFunc
	machine *status.Machine
	bus     *bus.Bus
	logger  *zap.Logger
	now     func() time.Time

	flight  singleflight.Group
	syncing atomic.Bool

	sub    *netstate.Subscription
	cancel context.CancelFunc
	wg     gosync.WaitGroup
}

// Options wires the optional collaborators of an Orchestrator.
type Options struct {
	// Apply is used for drains started by a connectivity transition.
	Apply   ApplyFunc
	Machine *status.Machine
	Bus     *bus.Bus
	Logger  *zap.Logger
}

// New creates an Orchestrator.
func New(q Queue, net Connectivity, clock SyncClock, opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		queue:   q,
		net:     net,
		clock:   clock,
		apply:   opts.Apply,
		machine: opts.Machine,
		bus:     opts.Bus,
		logger:  logger,
		now:     time.Now,
	}
}

// Start drains on every offline to online transition until Stop.
func (o *Orchestrator) Start(ctx context.Context) {
	ctx, o.cancel = context.WithCancel(ctx)
	o.sub = o.net.Subscribe(func(online bool) {
		if !online || o.apply == nil {
			return
		}
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			r := o.SyncNow(ctx, o.apply)
			o.logger.Info("automatic drain finished", zap.Int("success", r.Success), zap.Int("failed", r.Failed))
		}()
	})
}

// Stop unsubscribes from connectivity and waits for automatic drains.
func (o *Orchestrator) Stop() {
	if o.sub != nil {
		o.sub.Close()
	}
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
}

// Syncing reports whether a drain is running.
func (o *Orchestrator) Syncing() bool {
	return o.syncing.Load()
}

// SyncNow drains the outbox with apply and returns the counts. Offline it
// returns a zero Result without touching the outbox. If a drain is already
// running, SyncNow waits for it and returns its result instead of starting
// another.
func (o *Orchestrator) SyncNow(ctx context.Context, apply ApplyFunc) Result {
	if !o.net.IsOnline() {
		return Result{}
	}
	v, _, shared := o.flight.Do("drain", func() (any, error) {
		return o.drain(ctx, apply), nil
	})
	if shared {
		o.logger.Debug("joined in-flight drain")
	}
	return v.(Result)
}

func (o *Orchestrator) drain(ctx context.Context, apply ApplyFunc) Result {
	o.syncing.Store(true)
	o.settle(status.Syncing)
	o.bus.Emit(bus.KindSyncStarted, nil)

	var r Result
	defer func() {
		o.syncing.Store(false)
		if o.net.IsOnline() {
			o.settle(status.Online)
		} else {
			o.settle(status.Offline)
		}
		o.bus.Emit(bus.KindSyncCompleted, r)
	}()

	// Outbox bookkeeping must outlive the caller: an action the backend
	// confirmed is removed even if the request that started the drain is gone.
	book := context.WithoutCancel(ctx)

	actions, err := o.queue.All(book)
	if err != nil {
		o.logger.Warn("drain snapshot failed", zap.Error(err))
		return r
	}

	for _, a := range actions {
		if ctx.Err() != nil {
			o.logger.Info("drain interrupted", zap.Int("remaining", len(actions)-r.Success-r.Failed))
			break
		}
		if err := safeApply(ctx, apply, a); err != nil {
			r.Failed++
			if rerr := o.queue.IncrementRetry(book, a.ID, err); rerr != nil {
				o.logger.Warn("retry bookkeeping failed", zap.String("id", a.ID), zap.Error(rerr))
			}
			o.logger.Warn("drain item failed", zap.String("id", a.ID), zap.Int("retry_count", a.RetryCount+1), zap.Error(err))
			continue
		}
		r.Success++
		if err := o.queue.Remove(book, a.ID); err != nil {
			o.logger.Error("applied action not removed", zap.String("id", a.ID), zap.Error(err))
		}
		if err := o.clock.RecordSync(book, o.now()); err != nil {
			o.logger.Warn("record last sync failed", zap.Error(err))
		}
	}
	if len(actions) > 0 {
		o.logger.Info("drain finished", zap.Int("success", r.Success), zap.Int("failed", r.Failed))
	}
	return r
}

func safeApply(ctx context.Context, apply ApplyFunc, a outbox.PendingAction) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("apply panicked: %v", p)
		}
	}()
	return apply(ctx, a)
}

// settle moves the status machine between Online and Syncing. It leaves
// SignedOut and other states alone.
func (o *Orchestrator) settle(to status.State) {
	if o.machine == nil {
		return
	}
	cur := o.machine.Current()
	if cur != status.Online && cur != status.Syncing {
		return
	}
	if err := o.machine.Settle(to); err != nil {
		o.logger.Debug("status not changed", zap.String("to", string(to)), zap.Error(err))
	}
}

// LastSyncFormatted renders the last successful sync for display.
func (o *Orchestrator) LastSyncFormatted(ctx context.Context) string {
	t, ok, err := o.clock.LastSync(ctx)
	if err != nil {
		o.logger.Warn("read last sync failed", zap.Error(err))
	}
	return FormatLastSync(t, ok, o.now())
}
