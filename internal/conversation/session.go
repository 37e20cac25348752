// Package conversation runs one live session per open conversation: the
// ordered message timeline, delivery status, typing indicators and presence.
//
// Every realtime callback is tagged with the generation of the attachment
// that registered it. Detaching bumps the generation under the session lock,
// so a callback that was already in flight finds a stale tag and returns
// without touching state.
package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/campus/internal/backend"
	"github.com/matheus3301/campus/internal/bus"
	"go.uber.org/zap"
)

var (
	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("conversation closed")
	// ErrEmptyMessage is returned by Send for a blank draft.
	ErrEmptyMessage = errors.New("message is empty")
)

const typingEvent = "typing"

// ChannelName is the realtime channel of a conversation.
func ChannelName(conversationID string) string {
	return "conversation:" + conversationID
}

// Conversation identifies a conversation and its participants.
type Conversation struct {
	ID           string   `json:"id"`
	Participants []string `json:"participants"`
}

// Peer returns the other participant of a two-party conversation.
func (c Conversation) Peer(self string) (string, bool) {
	if len(c.Participants) != 2 {
		return "", false
	}
	for _, p := range c.Participants {
		if p != self {
			return p, true
		}
	}
	return "", false
}

// Options holds session timing and identity.
type Options struct {
	UserID string
	// TypingIdle is how long after the last keystroke "stopped typing" is sent.
	TypingIdle time.Duration
	// TypingExpiry drops a remote typist that sent no refresh in this long.
	TypingExpiry time.Duration
	Bus          *bus.Bus
	Logger       *zap.Logger
}

func (o *Options) defaults() {
	if o.TypingIdle <= 0 {
		o.TypingIdle = 2 * time.Second
	}
	if o.TypingExpiry <= 0 {
		o.TypingExpiry = 3 * time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// TypingSignal is the broadcast payload of the typing event.
type TypingSignal struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// Changed is the payload of conversation.changed.
type Changed struct {
	ConversationID string `json:"conversationId"`
	Closed         bool   `json:"closed"`
}

type remoteTypist struct {
	timer *time.Timer
	seq   uint64
}

// Session is one open conversation.
type Session struct {
	conv     Conversation
	opts     Options
	store    MessageStore
	channels backend.Channels
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string

	bg       sync.WaitGroup
	bgCtx    context.Context
	bgCancel context.CancelFunc

	mu         sync.Mutex
	gen        uint64
	active     bool
	closed     bool
	timeline   *timeline
	subs       []backend.Subscription
	typists    map[string]*remoteTypist
	typistSeq  uint64
	presence   map[string]bool
	keyTimer   *time.Timer
	keySeq     uint64
	sending    bool
	loadErr    error
	subErr     error
	lastLoaded time.Time
}

// NewSession creates a detached session. Open attaches it.
func NewSession(conv Conversation, store MessageStore, channels backend.Channels, opts Options) *Session {
	opts.defaults()
	bgCtx, bgCancel := context.WithCancel(context.Background())
	return &Session{
		bgCtx:    bgCtx,
		bgCancel: bgCancel,
		conv:     conv,
		opts:     opts,
		store:    store,
		channels: channels,
		logger:   opts.Logger.With(zap.String("conversation_id", conv.ID)),
		now:      time.Now,
		newID:    uuid.NewString,
		timeline: newTimeline(),
		typists:  make(map[string]*remoteTypist),
		presence: make(map[string]bool),
	}
}

// ID returns the conversation id.
func (s *Session) ID() string { return s.conv.ID }

// Conversation returns the conversation descriptor.
func (s *Session) Conversation() Conversation { return s.conv }

// Open subscribes to the conversation and loads its history. Failures are
// kept in the snapshot for the caller to show; Refresh and Reconnect retry.
func (s *Session) Open(ctx context.Context) error {
	if err := s.attach(ctx); err != nil {
		return err
	}
	s.fetchHistory(ctx)
	return nil
}

// Close releases every subscription, withdraws presence and stops timers.
// Pending acknowledgements are cancelled and awaited. Later callbacks for
// this session are ignored.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	subs := s.detachLocked()
	s.mu.Unlock()

	s.release(subs)
	s.bgCancel()
	s.bg.Wait()
	s.logger.Info("conversation closed")
	s.publish(true)
}

// Background releases the live subscriptions and withdraws presence. The
// timeline is kept.
func (s *Session) Background() {
	s.mu.Lock()
	if s.closed || !s.active {
		s.mu.Unlock()
		return
	}
	subs := s.detachLocked()
	s.mu.Unlock()

	s.release(subs)
	s.logger.Info("conversation backgrounded")
	s.publish(false)
}

// Foreground re-attaches a backgrounded session and refetches history to
// pick up anything missed.
func (s *Session) Foreground(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.active {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return s.Open(ctx)
}

// Refresh refetches history. A successful fetch clears the load error.
func (s *Session) Refresh(ctx context.Context) error {
	if s.isClosed() {
		return ErrClosed
	}
	s.fetchHistory(ctx)
	return nil
}

// Reconnect drops and re-creates the live subscriptions, then refetches
// history to fill the gap.
func (s *Session) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	subs := s.detachLocked()
	s.mu.Unlock()
	s.release(subs)
	return s.Open(ctx)
}

// detachLocked invalidates outstanding callbacks and returns the handles to
// release. Caller holds s.mu.
func (s *Session) detachLocked() []backend.Subscription {
	s.gen++
	s.active = false
	subs := s.subs
	s.subs = nil

	if s.keyTimer != nil {
		s.keyTimer.Stop()
		s.keyTimer = nil
	}
	s.keySeq++
	for id, t := range s.typists {
		t.timer.Stop()
		delete(s.typists, id)
	}
	clear(s.presence)
	return subs
}

func (s *Session) release(subs []backend.Subscription) {
	for _, sub := range subs {
		if err := sub.Close(); err != nil {
			s.logger.Debug("subscription release failed", zap.Error(err))
		}
	}
}

// attach opens the message, status, typing and presence subscriptions.
func (s *Session) attach(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.active = true
	gen := s.gen
	s.mu.Unlock()

	byConv := backend.TableFilter{Column: "conversation_id", Value: s.conv.ID}
	inserts, updates := byConv, byConv
	inserts.Op = backend.OpInsert
	updates.Op = backend.OpUpdate
	channel := ChannelName(s.conv.ID)

	var subs []backend.Subscription
	err := func() error {
		sub, err := s.channels.SubscribeTable(messagesTable, inserts, func(c backend.Change) { s.onMessage(gen, c) })
		if err != nil {
			return err
		}
		subs = append(subs, sub)
		if sub, err = s.channels.SubscribeTable(messagesTable, updates, func(c backend.Change) { s.onMessage(gen, c) }); err != nil {
			return err
		}
		subs = append(subs, sub)
		if sub, err = s.channels.SubscribeBroadcast(channel, typingEvent, func(p json.RawMessage) { s.onTyping(gen, p) }); err != nil {
			return err
		}
		subs = append(subs, sub)
		if sub, err = s.channels.TrackPresence(ctx, channel, s.opts.UserID, func(ev backend.PresenceEvent) { s.onPresence(gen, ev) }); err != nil {
			return err
		}
		subs = append(subs, sub)
		return nil
	}()

	s.mu.Lock()
	stale := gen != s.gen || s.closed
	if err == nil && !stale {
		s.subs = subs
		s.subErr = nil
	} else if err != nil && !stale {
		s.subErr = err
	}
	s.mu.Unlock()

	if stale || err != nil {
		s.release(subs)
	}
	if err != nil && !stale {
		s.logger.Warn("conversation subscribe failed", zap.Error(err))
		s.publish(false)
	}
	if stale && s.isClosed() {
		return ErrClosed
	}
	return nil
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) fetchHistory(ctx context.Context) {
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()

	msgs, err := s.store.History(ctx, s.conv.ID)

	s.mu.Lock()
	if gen != s.gen || s.closed {
		s.mu.Unlock()
		s.logger.Debug("dropped stale history fetch")
		return
	}
	if err != nil {
		s.loadErr = err
		s.mu.Unlock()
		s.logger.Warn("history fetch failed", zap.Error(err))
		s.publish(false)
		return
	}
	s.loadErr = nil
	s.lastLoaded = s.now()
	var acks []string
	for _, m := range msgs {
		m.Origin = Confirmed
		s.timeline.ingest(m)
		if s.needsDeliveryAckLocked(m) {
			acks = append(acks, m.ID)
		}
	}
	s.mu.Unlock()

	s.ack(acks, StatusDelivered)
	s.publish(false)
}

// guard reports whether a callback tagged gen may still touch state.
// Caller holds s.mu.
func (s *Session) guardLocked(gen uint64) bool {
	return !s.closed && s.active && gen == s.gen
}

func (s *Session) onMessage(gen uint64, c backend.Change) {
	m, err := decodeMessage(c.Record)
	if err != nil {
		s.logger.Warn("message change dropped", zap.String("op", string(c.Op)), zap.Error(err))
		return
	}
	if m.ConversationID != "" && m.ConversationID != s.conv.ID {
		return
	}

	s.mu.Lock()
	if !s.guardLocked(gen) {
		s.mu.Unlock()
		s.logger.Debug("dropped late message callback", zap.String("id", m.ID))
		return
	}
	changed := s.timeline.ingest(m)
	var acks []string
	if s.needsDeliveryAckLocked(m) {
		acks = append(acks, m.ID)
	}
	s.mu.Unlock()

	s.ack(acks, StatusDelivered)
	if changed {
		s.publish(false)
	}
}

// needsDeliveryAckLocked reports whether m is a peer message this client
// has not yet acknowledged.
func (s *Session) needsDeliveryAckLocked(m Message) bool {
	if !s.active || m.SenderID == s.opts.UserID {
		return false
	}
	cur, _ := s.timeline.get(m.ID)
	return cur.Status < StatusDelivered
}

// ack writes st for ids in the background. The sender applies the change
// when it comes back through the realtime stream.
func (s *Session) ack(ids []string, st Status) {
	if len(ids) == 0 {
		return
	}
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		ctx, cancel := context.WithTimeout(s.bgCtx, 10*time.Second)
		defer cancel()
		for _, id := range ids {
			if err := s.store.UpdateStatus(ctx, id, st); err != nil {
				s.logger.Warn("status ack failed", zap.String("id", id), zap.String("status", st.String()), zap.Error(err))
			}
		}
	}()
}

func (s *Session) onTyping(gen uint64, payload json.RawMessage) {
	var sig TypingSignal
	if err := json.Unmarshal(payload, &sig); err != nil || sig.UserID == "" {
		s.logger.Debug("typing signal dropped", zap.ByteString("payload", payload))
		return
	}
	if sig.UserID == s.opts.UserID {
		return
	}

	s.mu.Lock()
	if !s.guardLocked(gen) {
		s.mu.Unlock()
		return
	}
	prev, was := s.typists[sig.UserID]
	if was {
		prev.timer.Stop()
		delete(s.typists, sig.UserID)
	}
	if sig.IsTyping {
		s.typistSeq++
		seq, user := s.typistSeq, sig.UserID
		s.typists[user] = &remoteTypist{
			seq:   seq,
			timer: time.AfterFunc(s.opts.TypingExpiry, func() { s.expireTypist(gen, user, seq) }),
		}
	}
	s.mu.Unlock()

	if was != sig.IsTyping {
		s.publish(false)
	}
}

func (s *Session) expireTypist(gen uint64, user string, seq uint64) {
	s.mu.Lock()
	t, ok := s.typists[user]
	if !s.guardLocked(gen) || !ok || t.seq != seq {
		s.mu.Unlock()
		return
	}
	delete(s.typists, user)
	s.mu.Unlock()

	s.logger.Debug("typing indicator expired", zap.String("user_id", user))
	s.publish(false)
}

func (s *Session) onPresence(gen uint64, ev backend.PresenceEvent) {
	s.mu.Lock()
	if !s.guardLocked(gen) {
		s.mu.Unlock()
		return
	}
	changed := s.presence[ev.Key] != ev.Online
	if ev.Online {
		s.presence[ev.Key] = true
	} else {
		delete(s.presence, ev.Key)
	}
	s.mu.Unlock()

	if changed {
		s.publish(false)
	}
}

// Keystroke announces typing on the first keystroke of a burst and restarts
// the idle timer that announces the end of it. A backgrounded session stays
// silent.
func (s *Session) Keystroke(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if !s.active {
		s.mu.Unlock()
		return nil
	}
	starting := s.keyTimer == nil
	if !starting {
		s.keyTimer.Stop()
	}
	s.keySeq++
	seq := s.keySeq
	s.keyTimer = time.AfterFunc(s.opts.TypingIdle, func() { s.typingIdle(seq) })
	s.mu.Unlock()

	if starting {
		return s.sendTyping(ctx, true)
	}
	return nil
}

func (s *Session) typingIdle(seq uint64) {
	s.mu.Lock()
	if s.closed || s.keySeq != seq {
		s.mu.Unlock()
		return
	}
	s.keyTimer = nil
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.sendTyping(ctx, false); err != nil {
		s.logger.Debug("typing stop not sent", zap.Error(err))
	}
}

func (s *Session) sendTyping(ctx context.Context, typing bool) error {
	sig := TypingSignal{UserID: s.opts.UserID, IsTyping: typing}
	return s.channels.SendBroadcast(ctx, ChannelName(s.conv.ID), typingEvent, sig)
}

// Send persists text as a new message. On failure nothing is added to the
// timeline and the caller keeps its draft.
func (s *Session) Send(ctx context.Context, text string) (Message, error) {
	if strings.TrimSpace(text) == "" {
		return Message{}, ErrEmptyMessage
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Message{}, ErrClosed
	}
	if s.keyTimer != nil {
		s.keyTimer.Stop()
		s.keyTimer = nil
	}
	s.keySeq++
	s.sending = true
	gen := s.gen
	s.mu.Unlock()

	if err := s.sendTyping(ctx, false); err != nil {
		s.logger.Debug("typing stop not sent", zap.Error(err))
	}

	draft := Message{
		ID:             s.newID(),
		ConversationID: s.conv.ID,
		SenderID:       s.opts.UserID,
		Body:           text,
		Status:         StatusSent,
		CreatedAt:      s.now().UTC(),
	}
	stored, err := s.store.Insert(ctx, draft)

	s.mu.Lock()
	s.sending = false
	if err != nil {
		s.mu.Unlock()
		s.logger.Warn("send failed", zap.Error(err))
		s.publish(false)
		return Message{}, err
	}
	stored.Origin = Local
	if stored.ConversationID == "" {
		stored.ConversationID = s.conv.ID
	}
	if gen == s.gen && !s.closed {
		s.timeline.ingest(stored)
	}
	s.mu.Unlock()

	s.publish(false)
	return stored, nil
}

// MarkRead marks every peer message read.
func (s *Session) MarkRead(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	var ids []string
	for _, m := range s.timeline.msgs {
		if m.SenderID != s.opts.UserID && m.Status < StatusRead {
			ids = append(ids, m.ID)
		}
	}
	s.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := s.store.UpdateStatus(ctx, id, StatusRead); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Messages returns the timeline oldest first.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeline.snapshot()
}

// TypingUsers returns the remote users currently typing, sorted.
func (s *Session) TypingUsers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.typingUsersLocked()
}

func (s *Session) typingUsersLocked() []string {
	users := make([]string, 0, len(s.typists))
	for id := range s.typists {
		users = append(users, id)
	}
	slices.Sort(users)
	return users
}

// IsOnline reports whether peer is present on the conversation channel.
func (s *Session) IsOnline(peer string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presence[peer]
}

// Snapshot is a consistent copy of session state.
type Snapshot struct {
	ConversationID  string          `json:"conversationId"`
	Self            string          `json:"self"`
	Active          bool            `json:"active"`
	Closed          bool            `json:"closed"`
	Messages        []Message       `json:"messages"`
	TypingUsers     []string        `json:"typingUsers"`
	Presence        map[string]bool `json:"presence"`
	Peer            string          `json:"peer,omitempty"`
	PeerOnline      bool            `json:"peerOnline"`
	Sending         bool            `json:"sending"`
	LoadErr         string          `json:"loadError,omitempty"`
	SubscriptionErr string          `json:"subscriptionError,omitempty"`
	LoadedAt        time.Time       `json:"loadedAt"`
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ConversationID: s.conv.ID,
		Self:           s.opts.UserID,
		Active:         s.active,
		Closed:         s.closed,
		Messages:       s.timeline.snapshot(),
		TypingUsers:    s.typingUsersLocked(),
		Presence:       make(map[string]bool, len(s.presence)),
		Sending:        s.sending,
		LoadedAt:       s.lastLoaded,
	}
	for k, v := range s.presence {
		snap.Presence[k] = v
	}
	if peer, ok := s.conv.Peer(s.opts.UserID); ok {
		snap.Peer = peer
		snap.PeerOnline = s.presence[peer]
	}
	if s.loadErr != nil {
		snap.LoadErr = s.loadErr.Error()
	}
	if s.subErr != nil {
		snap.SubscriptionErr = s.subErr.Error()
	}
	return snap
}

func (s *Session) publish(closed bool) {
	s.opts.Bus.Emit(bus.KindConversationChanged, Changed{ConversationID: s.conv.ID, Closed: closed})
}

// wait blocks until background acknowledgements finish.
func (s *Session) wait() { s.bg.Wait() }
