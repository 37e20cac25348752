package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/matheus3301/campus/internal/backend"
	"go.uber.org/zap"
)

// AppState is the front-end's visibility.
type AppState string

const (
	AppActive     AppState = "active"
	AppBackground AppState = "background"
)

// ParseAppState accepts "active", "background" and "inactive" (an alias of
// background).
func ParseAppState(s string) (AppState, error) {
	switch s {
	case "active":
		return AppActive, nil
	case "background", "inactive":
		return AppBackground, nil
	}
	return "", fmt.Errorf("unknown app state %q", s)
}

// Manager owns the open sessions of the signed-in user and couples them to
// the app lifecycle.
type Manager struct {
	store    MessageStore
	channels backend.Channels
	opts     Options

	mu       sync.Mutex
	sessions map[string]*Session
	state    AppState
}

// NewManager creates a Manager for opts.UserID.
func NewManager(store MessageStore, channels backend.Channels, opts Options) *Manager {
	opts.defaults()
	return &Manager{
		store:    store,
		channels: channels,
		opts:     opts,
		sessions: make(map[string]*Session),
		state:    AppActive,
	}
}

// Open returns the session for conv, creating and attaching it if needed.
// While the app is in the background a new session stays detached until
// the app becomes active.
func (m *Manager) Open(ctx context.Context, conv Conversation) (*Session, error) {
	if conv.ID == "" {
		return nil, errors.New("conversation id is required")
	}
	m.mu.Lock()
	if s, ok := m.sessions[conv.ID]; ok {
		m.mu.Unlock()
		return s, nil
	}
	s := NewSession(conv, m.store, m.channels, m.opts)
	m.sessions[conv.ID] = s
	state := m.state
	m.mu.Unlock()

	m.opts.Logger.Info("conversation opened", zap.String("conversation_id", conv.ID), zap.String("app_state", string(state)))
	if state == AppBackground {
		return s, nil
	}
	if err := s.Open(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns the open session for id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// List returns the ids of open sessions.
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Close tears down the session for id. Closing an unknown id is a no-op.
func (m *Manager) Close(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		s.Close()
	}
}

// CloseAll tears down every session. Used on sign-out and shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
}

// AppState returns the last state set.
func (m *Manager) AppState() AppState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SetAppState backgrounds or foregrounds every open session.
func (m *Manager) SetAppState(ctx context.Context, state AppState) error {
	m.mu.Lock()
	if m.state == state {
		m.mu.Unlock()
		return nil
	}
	m.state = state
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	m.opts.Logger.Info("app state changed", zap.String("state", string(state)), zap.Int("sessions", len(sessions)))
	var errs []error
	for _, s := range sessions {
		switch state {
		case AppBackground:
			s.Background()
		case AppActive:
			if err := s.Foreground(ctx); err != nil && !errors.Is(err, ErrClosed) {
				errs = append(errs, fmt.Errorf("foreground %s: %w", s.ID(), err))
			}
		}
	}
	return errors.Join(errs...)
}
