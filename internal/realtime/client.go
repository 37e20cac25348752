// Package realtime implements backend.Channels over a single WebSocket.
//
// Subscriptions are registered locally first and sent to the server while
// the link is up. Every live registration is re-sent after a reconnect, so
// callers never resubscribe by hand.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/matheus3301/campus/internal/backend"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// ErrStopped is returned by operations on a client that has been stopped.
var ErrStopped = errors.New("realtime client stopped")

// ErrNotConnected is returned by SendBroadcast while the link is down.
var ErrNotConnected = fmt.Errorf("realtime link down: %w", backend.ErrTransient)

// Config configures a Client.
type Config struct {
	URL                string
	Token              string
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
	HeartbeatInterval  time.Duration
	WriteTimeout       time.Duration
}

func (c *Config) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 5 * time.Second
	}
}

// State is the link state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

type registration struct {
	env     Envelope
	deliver func(Envelope)
}

// Client is a reconnecting realtime link.
type Client struct {
	cfg    Config
	logger *zap.Logger
	recon  *reconnector

	mu      sync.Mutex
	conn    *websocket.Conn
	state   State
	subs    map[string]*registration
	nextRef uint64
	onState []func(connected bool)
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

var _ backend.Channels = (*Client)(nil)

// New creates a Client. Nothing is dialed until Start.
func New(cfg Config, logger *zap.Logger) *Client {
	cfg.defaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		logger: logger,
		recon:  &reconnector{baseDelay: cfg.ReconnectBaseDelay, maxDelay: cfg.ReconnectMaxDelay},
		state:  StateDisconnected,
		subs:   make(map[string]*registration),
	}
}

// OnState registers fn for connect and disconnect edges.
func (c *Client) OnState(fn func(connected bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = append(c.onState, fn)
}

// State returns the current link state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start dials in the background and keeps the link up until Stop.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	if c.cancel != nil || c.stopped {
		c.mu.Unlock()
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.run(ctx)
}

// Stop closes the link and waits for the background loop to exit.
func (c *Client) Stop() {
	c.mu.Lock()
	c.stopped = true
	cancel, done, conn := c.cancel, c.done, c.conn
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client stop")
	}
	if done != nil {
		<-done
	}
}

func (c *Client) run(ctx context.Context) {
	defer close(c.done)
	for {
		err := c.connect(ctx)
		if err == nil {
			c.readLoop(ctx)
		} else {
			c.logger.Debug("realtime dial failed", zap.Error(err))
		}
		if ctx.Err() != nil {
			c.setState(StateDisconnected)
			return
		}

		delay := c.recon.nextDelay()
		c.setState(StateReconnecting)
		c.logger.Info("realtime reconnecting", zap.Int("attempt", c.recon.attempt), zap.Duration("delay", delay))
		select {
		case <-ctx.Done():
			c.setState(StateDisconnected)
			return
		case <-time.After(delay):
		}
	}
}

func (c *Client) wsURL() string {
	u := strings.Replace(c.cfg.URL, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return strings.TrimRight(u, "/") + "/realtime/v1/websocket"
}

func (c *Client) connect(ctx context.Context) error {
	c.setState(StateConnecting)

	opts := &websocket.DialOptions{HTTPHeader: http.Header{}}
	if c.cfg.Token != "" {
		opts.HTTPHeader.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	conn, _, err := websocket.Dial(ctx, c.wsURL(), opts)
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("websocket dial: %w", err)
	}
	conn.SetReadLimit(1 << 20)

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "client stop")
		return ErrStopped
	}
	c.conn = conn
	c.state = StateConnected
	pending := make([]Envelope, 0, len(c.subs))
	for _, reg := range c.subs {
		pending = append(pending, reg.env)
	}
	c.mu.Unlock()
	c.recon.markConnected()

	for _, env := range pending {
		if err := c.write(ctx, conn, env); err != nil {
			c.logger.Warn("resubscribe failed", zap.String("ref", env.Ref), zap.Error(err))
		}
	}
	c.logger.Info("realtime connected", zap.Int("subscriptions", len(pending)))
	c.emitState(true)
	return nil
}

func (c *Client) readLoop(ctx context.Context) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go c.heartbeat(hbCtx, conn)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
			}
			c.state = StateDisconnected
			c.mu.Unlock()
			_ = conn.Close(websocket.StatusGoingAway, "read failed")

			c.logger.Info("realtime disconnected", zap.Error(err))
			c.emitState(false)
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn("realtime frame dropped", zap.Error(err))
			continue
		}
		c.dispatch(env)
	}
}

func (c *Client) heartbeat(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, c.cfg.WriteTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil && ctx.Err() == nil {
				c.logger.Warn("realtime heartbeat failed", zap.Error(err))
				_ = conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				return
			}
		}
	}
}

// dispatch runs on the read goroutine so deliveries for one link arrive in
// wire order.
func (c *Client) dispatch(env Envelope) {
	if env.Type == TypeError {
		var p ErrorPayload
		_ = json.Unmarshal(env.Payload, &p)
		c.logger.Warn("realtime server error", zap.String("ref", env.Ref), zap.String("message", p.Message))
		return
	}

	c.mu.Lock()
	var targets []*registration
	if reg, ok := c.subs[env.Ref]; ok && env.Ref != "" {
		targets = append(targets, reg)
	} else if env.Ref == "" {
		for _, reg := range c.subs {
			if matches(reg.env, env) {
				targets = append(targets, reg)
			}
		}
	}
	c.mu.Unlock()

	for _, reg := range targets {
		reg.deliver(env)
	}
}

func matches(sub, in Envelope) bool {
	switch in.Type {
	case TypeBroadcast:
		return sub.Type == TypeSubscribeBroadcast && sub.Channel == in.Channel && sub.Event == in.Event
	case TypePresence:
		return sub.Type == TypePresenceTrack && sub.Channel == in.Channel
	case TypeTableChange:
		return sub.Type == TypeSubscribeTable && sub.Table == in.Table && (sub.Op == "" || sub.Op == in.Op) && sub.Filter == ""
	}
	return false
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Client) emitState(connected bool) {
	c.mu.Lock()
	fns := slices.Clone(c.onState)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(connected)
	}
}

func (c *Client) write(ctx context.Context, conn *websocket.Conn, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.WriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

// send writes env if the link is up. sent is false when it is down.
func (c *Client) send(ctx context.Context, env Envelope) (sent bool, err error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return false, nil
	}
	if err := c.write(ctx, conn, env); err != nil {
		return false, fmt.Errorf("realtime write: %w: %v", backend.ErrTransient, err)
	}
	return true, nil
}

func (c *Client) register(ctx context.Context, env Envelope, deliver func(Envelope), release Envelope) (backend.Subscription, error) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil, ErrStopped
	}
	c.nextRef++
	env.Ref = strconv.FormatUint(c.nextRef, 10)
	c.subs[env.Ref] = &registration{env: env, deliver: deliver}
	c.mu.Unlock()

	if _, err := c.send(ctx, env); err != nil {
		c.mu.Lock()
		delete(c.subs, env.Ref)
		c.mu.Unlock()
		return nil, err
	}
	release.Ref = env.Ref
	return &subscription{c: c, ref: env.Ref, release: release}, nil
}

type subscription struct {
	c       *Client
	ref     string
	release Envelope
	once    sync.Once
}

// Close drops the registration locally and tells the server when connected.
func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		s.c.mu.Lock()
		delete(s.c.subs, s.ref)
		s.c.mu.Unlock()
		ctx, cancel := context.WithTimeout(context.Background(), s.c.cfg.WriteTimeout)
		defer cancel()
		_, err = s.c.send(ctx, s.release)
	})
	return err
}

// SubscribeTable delivers row changes of table matching filter.
func (c *Client) SubscribeTable(table string, filter backend.TableFilter, fn func(backend.Change)) (backend.Subscription, error) {
	env := Envelope{Type: TypeSubscribeTable, Table: table, Op: string(filter.Op), Filter: filter.String()}
	deliver := func(in Envelope) {
		fn(backend.Change{Table: in.Table, Op: backend.ChangeOp(in.Op), Record: in.Payload})
	}
	return c.register(context.Background(), env, deliver, Envelope{Type: TypeUnsubscribe})
}

// SubscribeBroadcast delivers payloads sent to channel under event.
func (c *Client) SubscribeBroadcast(channel, event string, fn func(json.RawMessage)) (backend.Subscription, error) {
	env := Envelope{Type: TypeSubscribeBroadcast, Channel: channel, Event: event}
	deliver := func(in Envelope) { fn(in.Payload) }
	return c.register(context.Background(), env, deliver, Envelope{Type: TypeUnsubscribe})
}

// SendBroadcast publishes payload on channel under event.
func (c *Client) SendBroadcast(ctx context.Context, channel, event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal broadcast: %w", err)
	}
	c.mu.Lock()
	stopped := c.stopped
	c.mu.Unlock()
	if stopped {
		return ErrStopped
	}
	sent, err := c.send(ctx, Envelope{Type: TypeBroadcast, Channel: channel, Event: event, Payload: raw})
	if err != nil {
		return err
	}
	if !sent {
		return ErrNotConnected
	}
	return nil
}

// TrackPresence announces key on channel and reports every participant's
// presence changes. Closing the subscription withdraws key.
func (c *Client) TrackPresence(ctx context.Context, channel, key string, fn func(backend.PresenceEvent)) (backend.Subscription, error) {
	env := Envelope{Type: TypePresenceTrack, Channel: channel, Key: key}
	deliver := func(in Envelope) {
		var ev backend.PresenceEvent
		if err := json.Unmarshal(in.Payload, &ev); err != nil {
			c.logger.Warn("presence payload dropped", zap.String("channel", channel), zap.Error(err))
			return
		}
		fn(ev)
	}
	return c.register(ctx, env, deliver, Envelope{Type: TypePresenceUntrack, Channel: channel, Key: key})
}
