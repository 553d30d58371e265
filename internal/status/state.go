package status

import "github.com/matheus3301/chatlog/internal/bus"

// State represents a daemon runtime state.
type State string

const (
	Booting      State = "BOOTING"
	AuthRequired State = "AUTH_REQUIRED"
	Connecting   State = "CONNECTING"
	Syncing      State = "SYNCING"
	Ready        State = "READY"
	Reconnecting State = "RECONNECTING"
	Degraded     State = "DEGRADED"
	Error        State = "ERROR"
)

// sessionTransitions defines allowed daemon state transitions.
var sessionTransitions = map[State][]State{
	Booting:      {AuthRequired, Connecting, Error},
	AuthRequired: {Connecting, Error},
	Connecting:   {Syncing, AuthRequired, Reconnecting, Error},
	Syncing:      {Ready, Reconnecting, Degraded, Error},
	Ready:        {Reconnecting, Degraded, AuthRequired, Error},
	Reconnecting: {Connecting, Degraded, Error},
	Degraded:     {Connecting, Reconnecting, Ready, Error},
	Error:        {Booting},
}

// SessionMachine tracks the daemon's connection to the messaging network.
type SessionMachine = Machine[State]

// StatusChange is the payload of session.status_changed events.
type StatusChange = Change[State]

// NewSessionMachine creates a session machine starting in Booting state.
func NewSessionMachine(b *bus.Bus) *SessionMachine {
	return New(Booting, sessionTransitions, b, bus.KindSessionStatusChanged)
}
