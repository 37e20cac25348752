package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/campus/internal/bus"
)

// State is the daemon's account-level runtime state.
type State string

const (
	Booting   State = "BOOTING"
	SignedOut State = "SIGNED_OUT"
	Offline   State = "OFFLINE"
	Online    State = "ONLINE"
	Syncing   State = "SYNCING"
	Error     State = "ERROR"
)

var validTransitions = map[State][]State{
	Booting:   {SignedOut, Offline, Online, Error},
	SignedOut: {Offline, Online, Error},
	Offline:   {Online, SignedOut, Error},
	Online:    {Offline, Syncing, SignedOut, Error},
	Syncing:   {Online, Offline, SignedOut, Error},
	Error:     {Booting},
}

// Machine tracks and enforces runtime state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a machine starting in Booting.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{current: Booting, bus: b}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition moves to a new state, or fails if the edge is not allowed.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(to)
}

// Settle moves to the given state if it differs from the current one.
// Reporting the current state again is not an error.
func (m *Machine) Settle(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == to {
		return nil
	}
	return m.transitionLocked(to)
}

func (m *Machine) transitionLocked(to State) error {
	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	m.bus.Emit(bus.KindSessionStatusChanged, StatusChange{From: from, To: to})
	return nil
}

// StatusChange is the payload of session.status_changed.
type StatusChange struct {
	From State `json:"from"`
	To   State `json:"to"`
}
