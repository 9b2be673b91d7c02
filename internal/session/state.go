package session

// State is the externally observable connection state of one user's handle.
type State string

const (
	StateNone           State = "none"
	StateInitializing   State = "initializing"
	StatePairingPending State = "pairing_pending"
	StateAuthenticated  State = "authenticated"
	StateReady          State = "ready"
	StateDisconnected   State = "disconnected"
)

// validTransitions are the defined edges of the per-handle state machine.
// DISCONNECTED is reachable from every state and terminal for the handle.
var validTransitions = map[State][]State{
	StateNone:           {StateInitializing},
	StateInitializing:   {StatePairingPending, StateAuthenticated, StateReady},
	StatePairingPending: {StateAuthenticated, StateReady},
	StateAuthenticated:  {StateReady},
}

func canTransition(from, to State) bool {
	if to == StateDisconnected {
		return from != StateDisconnected
	}
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
