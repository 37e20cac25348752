// Package netstate tracks backend reachability and notifies subscribers of
// online/offline transitions.
//
// Reachability is pushed in by an event source (the realtime link reports
// connect and disconnect edges); nothing here polls.
package netstate

import (
	"sync"
	"time"

	"github.com/matheus3301/campus/internal/bus"
	"go.uber.org/zap"
)

// Monitor holds the settled reachability state.
//
// Reports equal to the settled state are ignored. With a non-zero settle
// window a change is only committed once it has held for the whole window,
// so a flap that returns to the settled state emits nothing.
type Monitor struct {
	settle time.Duration
	bus    *bus.Bus
	logger *zap.Logger

	// deliver serializes subscriber callbacks so transitions arrive in order.
	deliver sync.Mutex

	mu     sync.Mutex
	online bool
	gen    uint64
	timer  *time.Timer
	subs   map[uint64]func(bool)
	nextID uint64
	closed bool
}

// New creates a Monitor that starts in the given state.
func New(initial bool, settle time.Duration, b *bus.Bus, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		settle: settle,
		bus:    b,
		logger: logger,
		online: initial,
		subs:   make(map[uint64]func(bool)),
	}
}

// IsOnline returns the settled state.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Report feeds an observed reachability value.
func (m *Monitor) Report(online bool) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if online == m.online {
		m.mu.Unlock()
		return
	}
	if m.settle <= 0 {
		gen := m.gen
		m.mu.Unlock()
		m.commit(gen, online)
		return
	}
	gen := m.gen
	m.timer = time.AfterFunc(m.settle, func() { m.commit(gen, online) })
	m.mu.Unlock()
}

func (m *Monitor) commit(gen uint64, online bool) {
	m.deliver.Lock()
	defer m.deliver.Unlock()

	m.mu.Lock()
	if m.closed || gen != m.gen || online == m.online {
		m.mu.Unlock()
		return
	}
	m.online = online
	m.timer = nil
	subs := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	m.logger.Info("connectivity changed", zap.Bool("online", online))
	kind := bus.KindNetOffline
	if online {
		kind = bus.KindNetOnline
	}
	m.bus.Emit(kind, online)

	for _, fn := range subs {
		fn(online)
	}
}

// Subscribe registers fn for every committed transition. fn runs on the
// goroutine that committed the change and must not call Report.
func (m *Monitor) Subscribe(fn func(online bool)) *Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.subs[id] = fn
	return &Subscription{m: m, id: id}
}

// Close stops any pending settle timer and drops every subscriber.
func (m *Monitor) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	clear(m.subs)
}

// Subscription is a handle returned by Subscribe.
type Subscription struct {
	m    *Monitor
	id   uint64
	once sync.Once
}

// Close unsubscribes. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.m.mu.Lock()
		delete(s.m.subs, s.id)
		s.m.mu.Unlock()
	})
}
