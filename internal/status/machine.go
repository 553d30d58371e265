// Package status provides transition-table state machines. The daemon's
// connection state and each live recent-activity query run on one.
package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/chatlog/internal/bus"
)

// Change is the payload published on every successful transition.
type Change[S ~string] struct {
	From S
	To   S
}

// Machine tracks and enforces transitions over a fixed table. States with no
// outgoing transitions are terminal.
type Machine[S ~string] struct {
	mu      sync.RWMutex
	current S
	table   map[S][]S
	bus     *bus.Bus
	kind    string
}

// New creates a machine in the initial state. When b is non-nil every
// transition is published on it under kind.
func New[S ~string](initial S, table map[S][]S, b *bus.Bus, kind string) *Machine[S] {
	return &Machine[S]{
		current: initial,
		table:   table,
		bus:     b,
		kind:    kind,
	}
}

// Current returns the current state.
func (m *Machine[S]) Current() S {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Terminal reports whether the current state has no outgoing transitions.
func (m *Machine[S]) Terminal() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.table[m.current]) == 0
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine[S]) Transition(to S) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(m.table[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.NewEvent(m.kind, Change[S]{From: from, To: to}))
	}
	return nil
}
