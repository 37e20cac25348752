package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/campus/internal/backend"
)

// fakeBackend is an in-memory message table plus channel hub. Callbacks run
// synchronously on the caller's goroutine, outside the fake's lock.
type fakeBackend struct {
	mu         sync.Mutex
	rows       map[string]Message
	subs       map[int]*fakeSub
	nextID     int
	broadcasts []TypingSignal
	untracks   []string

	// every handler ever registered, kept after Close to replay late events
	leaked []*fakeSub

	failInsert    error
	failHistory   error
	failSubscribe error
	historyCalls  int

	// when set, UpdateStatus blocks until it is closed or ctx ends
	holdStatus chan struct{}
}

type fakeSub struct {
	id       int
	kind     string
	filter   backend.TableFilter
	channel  string
	event    string
	key      string
	onChange func(backend.Change)
	onBcast  func(json.RawMessage)
	onPres   func(backend.PresenceEvent)
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{rows: make(map[string]Message), subs: make(map[int]*fakeSub)}
}

func (f *fakeBackend) add(s *fakeSub) backend.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	s.id = f.nextID
	f.subs[s.id] = s
	f.leaked = append(f.leaked, s)
	return &fakeHandle{f: f, s: s}
}

type fakeHandle struct {
	f    *fakeBackend
	s    *fakeSub
	once sync.Once
}

func (h *fakeHandle) Close() error {
	h.once.Do(func() {
		h.f.mu.Lock()
		delete(h.f.subs, h.s.id)
		if h.s.kind == "presence" {
			h.f.untracks = append(h.f.untracks, h.s.key)
		}
		h.f.mu.Unlock()
		if h.s.kind == "presence" {
			h.f.presence(h.s.channel, h.s.key, false)
		}
	})
	return nil
}

func (f *fakeBackend) matching(pred func(*fakeSub) bool) []*fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*fakeSub
	for _, s := range f.subs {
		if pred(s) {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, func(a, b *fakeSub) int { return a.id - b.id })
	return out
}

func (f *fakeBackend) SubscribeTable(table string, filter backend.TableFilter, fn func(backend.Change)) (backend.Subscription, error) {
	if f.failSubscribe != nil {
		return nil, f.failSubscribe
	}
	return f.add(&fakeSub{kind: "table", filter: filter, onChange: fn}), nil
}

func (f *fakeBackend) SubscribeBroadcast(channel, event string, fn func(json.RawMessage)) (backend.Subscription, error) {
	if f.failSubscribe != nil {
		return nil, f.failSubscribe
	}
	return f.add(&fakeSub{kind: "broadcast", channel: channel, event: event, onBcast: fn}), nil
}

func (f *fakeBackend) SendBroadcast(_ context.Context, channel, event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if sig, ok := payload.(TypingSignal); ok {
		f.mu.Lock()
		f.broadcasts = append(f.broadcasts, sig)
		f.mu.Unlock()
	}
	for _, s := range f.matching(func(s *fakeSub) bool {
		return s.kind == "broadcast" && s.channel == channel && s.event == event
	}) {
		s.onBcast(raw)
	}
	return nil
}

func (f *fakeBackend) TrackPresence(_ context.Context, channel, key string, fn func(backend.PresenceEvent)) (backend.Subscription, error) {
	if f.failSubscribe != nil {
		return nil, f.failSubscribe
	}
	h := f.add(&fakeSub{kind: "presence", channel: channel, key: key, onPres: fn})
	f.presence(channel, key, true)
	// tell the newcomer who is already here
	for _, s := range f.matching(func(s *fakeSub) bool { return s.kind == "presence" && s.channel == channel && s.key != key }) {
		fn(backend.PresenceEvent{Key: s.key, Online: true})
	}
	return h, nil
}

func (f *fakeBackend) presence(channel, key string, online bool) {
	for _, s := range f.matching(func(s *fakeSub) bool { return s.kind == "presence" && s.channel == channel }) {
		s.onPres(backend.PresenceEvent{Key: key, Online: online})
	}
}

func (f *fakeBackend) emitChange(op backend.ChangeOp, m Message) {
	rec, _ := json.Marshal(m)
	for _, s := range f.matching(func(s *fakeSub) bool {
		return s.kind == "table" && s.filter.Op == op && s.filter.Value == m.ConversationID
	}) {
		s.onChange(backend.Change{Table: messagesTable, Op: op, Record: rec})
	}
}

func (f *fakeBackend) History(_ context.Context, conversationID string) ([]Message, error) {
	f.mu.Lock()
	f.historyCalls++
	if f.failHistory != nil {
		f.mu.Unlock()
		return nil, f.failHistory
	}
	var out []Message
	for _, m := range f.rows {
		if m.ConversationID == conversationID {
			m.Origin = Confirmed
			out = append(out, m)
		}
	}
	f.mu.Unlock()
	slices.SortFunc(out, compareMessages)
	return out, nil
}

func (f *fakeBackend) Insert(_ context.Context, m Message) (Message, error) {
	f.mu.Lock()
	if f.failInsert != nil {
		f.mu.Unlock()
		return Message{}, f.failInsert
	}
	m.Origin = Confirmed
	f.rows[m.ID] = m
	f.mu.Unlock()
	f.emitChange(backend.OpInsert, m)
	return m, nil
}

func (f *fakeBackend) UpdateStatus(ctx context.Context, id string, st Status) error {
	f.mu.Lock()
	hold := f.holdStatus
	f.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	m, ok := f.rows[id]
	if !ok {
		f.mu.Unlock()
		return backend.ErrNotFound
	}
	m.Status = st
	f.rows[id] = m
	f.mu.Unlock()
	f.emitChange(backend.OpUpdate, m)
	return nil
}

// seed stores a row without notifying subscribers, as if it arrived while
// nobody was listening.
func (f *fakeBackend) seed(m Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[m.ID] = m
}

func (f *fakeBackend) row(id string) Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[id]
}

func (f *fakeBackend) liveSubs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeBackend) typingSignals(user string) []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []bool
	for _, b := range f.broadcasts {
		if b.UserID == user {
			out = append(out, b.IsTyping)
		}
	}
	return out
}

var errOffline = errors.New("network unreachable")

func direct(id string) Conversation {
	return Conversation{ID: id, Participants: []string{"alice", "bob"}}
}

func openSession(t *testing.T, f *fakeBackend, conv Conversation, user string) *Session {
	t.Helper()
	s := NewSession(conv, f, f, Options{UserID: user, TypingIdle: 40 * time.Millisecond, TypingExpiry: 80 * time.Millisecond})
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		s.Close()
		s.wait()
	})
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func ids(msgs []Message) string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return strings.Join(out, ",")
}
