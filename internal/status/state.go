// Package status tracks the session's runtime state. Readiness and the
// pending QR code are explicit values owned here and passed by reference
// to consumers — never package-level globals.
package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rafaelmv/wacrm/internal/bus"
)

// State represents a session runtime state.
type State string

const (
	Booting      State = "BOOTING"
	AuthRequired State = "AUTH_REQUIRED"
	Connecting   State = "CONNECTING"
	Ready        State = "READY"
	Reconnecting State = "RECONNECTING"
	Error        State = "ERROR"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Booting:      {AuthRequired, Connecting, Error},
	AuthRequired: {Connecting, Error},
	Connecting:   {Ready, AuthRequired, Reconnecting, Error},
	Ready:        {Reconnecting, AuthRequired, Error},
	Reconnecting: {Connecting, Ready, Error},
	Error:        {Booting},
}

// Machine tracks and enforces session state transitions, and holds the
// most recent pairing QR code while authentication is pending.
type Machine struct {
	mu      sync.RWMutex
	current State
	lastQR  string
	bus     *bus.Bus
}

// NewMachine creates a machine starting in Booting state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{current: Booting, bus: b}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// IsReady reports whether the session can serve sends and backfills.
func (m *Machine) IsReady() bool {
	return m.Current() == Ready
}

// SetQR stores the pending pairing QR code (a data-URL, or empty to clear).
func (m *Machine) SetQR(dataURL string) {
	m.mu.Lock()
	m.lastQR = dataURL
	m.mu.Unlock()
}

// QR returns the pending pairing QR code, or empty if none.
func (m *Machine) QR() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastQR
}

// Transition attempts to move to a new state. Returns an error if the
// transition is invalid. Entering Ready clears any pending QR.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if to == Ready {
		m.lastQR = ""
	}
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.SessionStatus,
			Timestamp: time.Now(),
			Payload:   StatusChange{From: from, To: to},
		})
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
