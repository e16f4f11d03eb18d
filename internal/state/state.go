// Package state tracks the per-user connection lifecycle.
package state

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/hireloop/wabridge/internal/bus"
)

// State represents one user's connection lifecycle state.
type State string

const (
	Disconnected    State = "DISCONNECTED"
	Connecting      State = "CONNECTING"
	AwaitingPairing State = "AWAITING_PAIRING"
	Connected       State = "CONNECTED"
	// LoggedOut is terminal for the old credentials: a fresh pairing cycle
	// starts automatically with a new Connecting transition.
	LoggedOut State = "LOGGED_OUT"
	// Conflict is terminal until an operator explicitly re-initializes.
	Conflict State = "CONFLICT"
)

// validTransitions defines allowed state transitions. Disconnected accepts a
// direct open: a stale transient close can land while a connect attempt is
// still in flight, and the attempt's success must not be rejected.
var validTransitions = map[State][]State{
	Disconnected:    {Connecting, Connected},
	Connecting:      {AwaitingPairing, Connected, Disconnected, LoggedOut, Conflict},
	AwaitingPairing: {AwaitingPairing, Connected, Disconnected, LoggedOut, Conflict},
	Connected:       {Disconnected, LoggedOut, Conflict},
	LoggedOut:       {Connecting},
	Conflict:        {Connecting},
}

// Machine tracks and enforces one user's connection state transitions.
// Every status change it publishes carries the owning user's id.
type Machine struct {
	mu      sync.RWMutex
	current State
	userID  string
	bus     *bus.Bus
}

// NewMachine creates a state machine for userID starting in Disconnected.
func NewMachine(userID string, b *bus.Bus) *Machine {
	return &Machine{
		current: Disconnected,
		userID:  userID,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Is reports whether the machine currently sits in any of the given states.
func (m *Machine) Is(states ...State) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Contains(states, m.current)
}

// Transition attempts to move to a new state. Returns an error if the
// transition is not allowed from the current state.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindStatusChange,
			UserID:    m.userID,
			Timestamp: time.Now(),
			Payload:   Change{From: from, To: to},
		})
	}
	return nil
}

// Change is the payload for status change events.
type Change struct {
	From State
	To   State
}
