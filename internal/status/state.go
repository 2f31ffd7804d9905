package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/chatsync/internal/bus"
)

// State represents the runtime state of a sync session.
type State string

const (
	Booting  State = "BOOTING"
	Syncing  State = "SYNCING"
	Ready    State = "READY"
	Degraded State = "DEGRADED"
	Stopped  State = "STOPPED"
	Error    State = "ERROR"
)

// validTransitions defines allowed state transitions. Degraded means polls
// are failing; the next successful poll returns to Ready.
var validTransitions = map[State][]State{
	Booting:  {Syncing, Stopped, Error},
	Syncing:  {Ready, Degraded, Stopped, Error},
	Ready:    {Degraded, Syncing, Stopped, Error},
	Degraded: {Ready, Syncing, Stopped, Error},
	Stopped:  {Booting},
	Error:    {Booting},
}

// Machine tracks and enforces session state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Booting state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Booting,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(to)
}

// Ensure moves to state unless the machine is already there.
func (m *Machine) Ensure(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == to {
		return nil
	}
	return m.transitionLocked(to)
}

func (m *Machine) transitionLocked(to State) error {
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	m.bus.Publish(bus.KindStatusChanged, StatusChange{From: from, To: to})
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State `json:"from"`
	To   State `json:"to"`
}
