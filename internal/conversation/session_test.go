package conversation

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/matheus3301/campus/internal/backend"
	"github.com/matheus3301/campus/internal/bus"
)

func TestOpenLoadsHistoryAndSubscribes(t *testing.T) {
	f := newFakeBackend()
	f.seed(Message{ID: "m2", ConversationID: "c1", SenderID: "bob", Body: "second", Status: StatusRead, CreatedAt: t0.Add(time.Second)})
	f.seed(Message{ID: "m1", ConversationID: "c1", SenderID: "bob", Body: "first", Status: StatusRead, CreatedAt: t0})
	f.seed(Message{ID: "x", ConversationID: "other", SenderID: "bob", Body: "elsewhere", Status: StatusRead, CreatedAt: t0})

	s := openSession(t, f, direct("c1"), "alice")

	if got := ids(s.Messages()); got != "m1,m2" {
		t.Errorf("messages = %s, want m1,m2", got)
	}
	if n := f.liveSubs(); n != 4 {
		t.Errorf("live subscriptions = %d, want 4", n)
	}
	snap := s.Snapshot()
	if !snap.Active || snap.LoadErr != "" || snap.SubscriptionErr != "" {
		t.Errorf("snapshot = %+v", snap)
	}
	if !snap.Presence["alice"] {
		t.Error("own presence not announced")
	}
}

func TestSendEchoAndStreamDeduplicate(t *testing.T) {
	f := newFakeBackend()
	s := openSession(t, f, direct("c1"), "alice")

	m, err := s.Send(context.Background(), "hello")
	if err != nil {
		t.Fatal(err)
	}
	if m.ID == "" || m.Status != StatusSent || m.SenderID != "alice" {
		t.Errorf("sent = %+v", m)
	}

	msgs := s.Messages()
	if len(msgs) != 1 || msgs[0].ID != m.ID {
		t.Fatalf("messages = %s, want exactly one %s", ids(msgs), m.ID)
	}

	// A duplicate stream delivery of the same id is a no-op.
	f.emitChange(backend.OpInsert, f.row(m.ID))
	if got := s.Messages(); len(got) != 1 {
		t.Errorf("messages after duplicate = %s", ids(got))
	}
}

func TestSendFailureKeepsTimelineClean(t *testing.T) {
	f := newFakeBackend()
	s := openSession(t, f, direct("c1"), "alice")
	f.mu.Lock()
	f.failInsert = errOffline
	f.mu.Unlock()

	_, err := s.Send(context.Background(), "draft that must survive")
	if !errors.Is(err, errOffline) {
		t.Fatalf("Send() error = %v, want %v", err, errOffline)
	}
	if got := s.Messages(); len(got) != 0 {
		t.Errorf("placeholder inserted: %s", ids(got))
	}
	if s.Snapshot().Sending {
		t.Error("Sending still set after failure")
	}
}

func TestSendRejectsEmpty(t *testing.T) {
	s := openSession(t, newFakeBackend(), direct("c1"), "alice")
	if _, err := s.Send(context.Background(), "   \n"); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("Send(blank) error = %v", err)
	}
}

func TestDeliveryAndReadFlowBackToSender(t *testing.T) {
	f := newFakeBackend()
	alice := openSession(t, f, direct("c1"), "alice")
	bob := openSession(t, f, direct("c1"), "bob")

	m, err := alice.Send(context.Background(), "hi bob")
	if err != nil {
		t.Fatal(err)
	}

	status := func(s *Session) Status {
		for _, x := range s.Messages() {
			if x.ID == m.ID {
				return x.Status
			}
		}
		return 0
	}
	waitFor(t, "delivered on sender", func() bool { return status(alice) == StatusDelivered })

	if err := bob.MarkRead(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "read on sender", func() bool { return status(alice) == StatusRead })

	// A late delivered update must not regress read.
	late := f.row(m.ID)
	late.Status = StatusDelivered
	f.emitChange(backend.OpUpdate, late)
	if got := status(alice); got != StatusRead {
		t.Errorf("status after late delivered = %s, want read", got)
	}
}

func TestHistoryFetchFailureSurfacesAndRefreshRecovers(t *testing.T) {
	f := newFakeBackend()
	f.failHistory = errOffline
	f.seed(Message{ID: "m1", ConversationID: "c1", SenderID: "bob", Status: StatusRead, CreatedAt: t0})

	s := openSession(t, f, direct("c1"), "alice")
	if s.Snapshot().LoadErr == "" {
		t.Fatal("LoadErr empty after failed fetch")
	}
	f.mu.Lock()
	calls := f.historyCalls
	f.mu.Unlock()
	time.Sleep(30 * time.Millisecond)
	f.mu.Lock()
	if f.historyCalls != calls {
		t.Error("history fetch retried automatically")
	}
	f.failHistory = nil
	f.mu.Unlock()

	if err := s.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	snap := s.Snapshot()
	if snap.LoadErr != "" || len(snap.Messages) != 1 {
		t.Errorf("after refresh snapshot = %+v", snap)
	}
}

func TestSubscriptionFailureSurfacesAndReconnectRecovers(t *testing.T) {
	f := newFakeBackend()
	f.failSubscribe = errors.New("channel error")

	s := openSession(t, f, direct("c1"), "alice")
	if s.Snapshot().SubscriptionErr == "" {
		t.Fatal("SubscriptionErr empty")
	}
	if n := f.liveSubs(); n != 0 {
		t.Errorf("leaked %d partial subscriptions", n)
	}

	f.failSubscribe = nil
	if err := s.Reconnect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s.Snapshot().SubscriptionErr != "" {
		t.Error("SubscriptionErr not cleared by Reconnect")
	}
	if n := f.liveSubs(); n != 4 {
		t.Errorf("live subscriptions = %d, want 4", n)
	}
}

func TestLocalTypingBroadcasts(t *testing.T) {
	f := newFakeBackend()
	s := openSession(t, f, direct("c1"), "alice")
	ctx := context.Background()

	for range 3 {
		if err := s.Keystroke(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if got := f.typingSignals("alice"); !slices.Equal(got, []bool{true}) {
		t.Fatalf("signals = %v, want [true] for a burst", got)
	}

	waitFor(t, "idle stop", func() bool { return slices.Equal(f.typingSignals("alice"), []bool{true, false}) })

	if err := s.Keystroke(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Send(ctx, "done"); err != nil {
		t.Fatal(err)
	}
	if got := f.typingSignals("alice"); !slices.Equal(got, []bool{true, false, true, false}) {
		t.Errorf("signals = %v, want stop sent on Send", got)
	}
	time.Sleep(80 * time.Millisecond)
	if got := f.typingSignals("alice"); len(got) != 4 {
		t.Errorf("idle timer fired after Send: %v", got)
	}
}

func TestBackgroundedSessionDoesNotBroadcastTyping(t *testing.T) {
	f := newFakeBackend()
	s := openSession(t, f, direct("c1"), "alice")
	s.Background()

	if err := s.Keystroke(context.Background()); err != nil {
		t.Fatalf("Keystroke() error = %v", err)
	}
	time.Sleep(80 * time.Millisecond)
	if got := f.typingSignals("alice"); len(got) != 0 {
		t.Errorf("signals = %v, want none while backgrounded", got)
	}
}

func TestCloseCancelsPendingAcks(t *testing.T) {
	f := newFakeBackend()
	f.holdStatus = make(chan struct{})
	f.seed(Message{ID: "m", ConversationID: "c1", SenderID: "bob", Status: StatusSent, CreatedAt: t0})

	s := NewSession(direct("c1"), f, f, Options{UserID: "alice"})
	if err := s.Open(context.Background()); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		s.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close() did not return while an ack was in flight")
	}
	if got := f.row("m").Status; got != StatusSent {
		t.Errorf("status = %s, want sent after cancelled ack", got)
	}
}

func TestRemoteTypingReceiptAndExpiry(t *testing.T) {
	f := newFakeBackend()
	alice := openSession(t, f, direct("c1"), "alice")
	ctx := context.Background()

	if err := f.SendBroadcast(ctx, ChannelName("c1"), typingEvent, TypingSignal{UserID: "bob", IsTyping: true}); err != nil {
		t.Fatal(err)
	}
	if got := alice.TypingUsers(); !slices.Equal(got, []string{"bob"}) {
		t.Fatalf("typing = %v, want [bob]", got)
	}

	_ = f.SendBroadcast(ctx, ChannelName("c1"), typingEvent, TypingSignal{UserID: "bob", IsTyping: false})
	if got := alice.TypingUsers(); len(got) != 0 {
		t.Errorf("typing after stop = %v", got)
	}

	// No stop event: the entry is force-cleared.
	_ = f.SendBroadcast(ctx, ChannelName("c1"), typingEvent, TypingSignal{UserID: "bob", IsTyping: true})
	start := time.Now()
	waitFor(t, "typing expiry", func() bool { return len(alice.TypingUsers()) == 0 })
	if time.Since(start) < 60*time.Millisecond {
		t.Error("typing cleared before the expiry window")
	}
}

func TestRemoteTypingRefreshExtendsExpiry(t *testing.T) {
	f := newFakeBackend()
	alice := openSession(t, f, direct("c1"), "alice")
	ctx := context.Background()

	for range 4 {
		_ = f.SendBroadcast(ctx, ChannelName("c1"), typingEvent, TypingSignal{UserID: "bob", IsTyping: true})
		time.Sleep(40 * time.Millisecond)
	}
	if got := alice.TypingUsers(); len(got) != 1 {
		t.Errorf("refreshed typist expired early: %v", got)
	}
}

func TestOwnTypingIgnored(t *testing.T) {
	f := newFakeBackend()
	alice := openSession(t, f, direct("c1"), "alice")
	if err := alice.Keystroke(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := alice.TypingUsers(); len(got) != 0 {
		t.Errorf("own typing listed: %v", got)
	}
}

func TestPresenceDirectConversation(t *testing.T) {
	f := newFakeBackend()
	alice := openSession(t, f, direct("c1"), "alice")
	if alice.IsOnline("bob") || alice.Snapshot().PeerOnline {
		t.Fatal("bob online before joining")
	}

	bob := NewSession(direct("c1"), f, f, Options{UserID: "bob"})
	if err := bob.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !alice.IsOnline("bob") {
		t.Error("bob not online after opening")
	}
	if snap := alice.Snapshot(); snap.Peer != "bob" || !snap.PeerOnline {
		t.Errorf("snapshot peer = %q online %v", snap.Peer, snap.PeerOnline)
	}
	if !bob.IsOnline("alice") {
		t.Error("bob does not see alice")
	}

	bob.Close()
	if alice.IsOnline("bob") {
		t.Error("bob still online after closing")
	}
	f.mu.Lock()
	withdrawn := slices.Contains(f.untracks, "bob")
	f.mu.Unlock()
	if !withdrawn {
		t.Error("presence not explicitly withdrawn")
	}
}

func TestGroupConversationHasNoPeer(t *testing.T) {
	f := newFakeBackend()
	s := openSession(t, f, Conversation{ID: "g1", Participants: []string{"alice", "bob", "carol"}}, "alice")
	if snap := s.Snapshot(); snap.Peer != "" || snap.PeerOnline {
		t.Errorf("group snapshot peer = %q online %v", snap.Peer, snap.PeerOnline)
	}
}

func TestCloseReleasesEverythingAndIgnoresLateEvents(t *testing.T) {
	f := newFakeBackend()
	s := openSession(t, f, direct("c1"), "alice")
	ctx := context.Background()
	_ = s.Keystroke(ctx)
	_ = f.SendBroadcast(ctx, ChannelName("c1"), typingEvent, TypingSignal{UserID: "bob", IsTyping: true})

	before := s.Snapshot()
	s.Close()
	if n := f.liveSubs(); n != 0 {
		t.Errorf("live subscriptions after Close = %d", n)
	}

	rec := []byte(`{"id":"late","conversation_id":"c1","sender_id":"bob","status":"sent","created_at":"2026-09-01T10:00:00Z"}`)
	f.mu.Lock()
	leaked := slices.Clone(f.leaked)
	f.mu.Unlock()
	for _, sub := range leaked {
		switch sub.kind {
		case "table":
			sub.onChange(backend.Change{Table: messagesTable, Op: backend.OpInsert, Record: rec})
		case "broadcast":
			sub.onBcast([]byte(`{"userId":"carol","isTyping":true}`))
		case "presence":
			sub.onPres(backend.PresenceEvent{Key: "carol", Online: true})
		}
	}

	after := s.Snapshot()
	if len(after.Messages) != len(before.Messages) || len(after.TypingUsers) != 0 || after.Presence["carol"] {
		t.Errorf("late events mutated a closed session: %+v", after)
	}
	if !after.Closed {
		t.Error("Closed not set")
	}

	time.Sleep(100 * time.Millisecond)
	if got := f.typingSignals("alice"); !slices.Equal(got, []bool{true}) {
		t.Errorf("idle timer fired after Close: %v", got)
	}
	if _, err := s.Send(ctx, "x"); !errors.Is(err, ErrClosed) {
		t.Errorf("Send() after Close error = %v", err)
	}
	if err := s.Keystroke(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Keystroke() after Close error = %v", err)
	}
	s.Close()
}

func TestBackgroundThenForegroundReconcilesGap(t *testing.T) {
	f := newFakeBackend()
	s := openSession(t, f, direct("c1"), "alice")
	ctx := context.Background()

	s.Background()
	if n := f.liveSubs(); n != 0 {
		t.Fatalf("live subscriptions in background = %d", n)
	}
	if s.Snapshot().Active {
		t.Error("Active still set in background")
	}

	// Arrives while nobody listens.
	f.seed(Message{ID: "missed", ConversationID: "c1", SenderID: "bob", Status: StatusSent, CreatedAt: t0})

	if err := s.Foreground(ctx); err != nil {
		t.Fatal(err)
	}
	if n := f.liveSubs(); n != 4 {
		t.Errorf("live subscriptions after foreground = %d, want 4", n)
	}
	if got := ids(s.Messages()); got != "missed" {
		t.Errorf("messages = %s, want missed", got)
	}
	waitFor(t, "delivered ack for missed message", func() bool { return f.row("missed").Status == StatusDelivered })
}

func TestNoDeliveryAckWhileBackgrounded(t *testing.T) {
	f := newFakeBackend()
	s := openSession(t, f, direct("c1"), "alice")
	s.Background()

	f.seed(Message{ID: "m", ConversationID: "c1", SenderID: "bob", Status: StatusSent, CreatedAt: t0})
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	s.wait()
	if got := f.row("m").Status; got != StatusSent {
		t.Errorf("status = %s, want sent while backgrounded", got)
	}
}

func TestChangesPublished(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("conversation.", 32)
	defer unsub()

	f := newFakeBackend()
	s := NewSession(direct("c1"), f, f, Options{UserID: "alice", Bus: b})
	if err := s.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	s.Close()

	var closed bool
	timeout := time.After(time.Second)
	for !closed {
		select {
		case evt := <-ch:
			c := evt.Payload.(Changed)
			if c.ConversationID != "c1" {
				t.Errorf("changed for %q", c.ConversationID)
			}
			closed = c.Closed
		case <-timeout:
			t.Fatal("no closing conversation.changed event")
		}
	}
}
