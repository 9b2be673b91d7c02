package session

import (
	"sync"
	"time"

	"voxnote/internal/messaging"
)

// Handle is the runtime object for one user's live or pending connection.
// It is owned exclusively by the Manager and never persisted; on restart it
// is reconstructed from the user's durable credential directory.
type Handle struct {
	userID    string
	client    messaging.Client
	createdAt time.Time

	mu         sync.Mutex
	state      State
	pairingPNG []byte
}

func newHandle(userID string, client messaging.Client) *Handle {
	return &Handle{
		userID:    userID,
		client:    client,
		createdAt: time.Now().UTC(),
		state:     StateInitializing,
	}
}

// State returns the current connection state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// transition moves the handle along a defined edge. Undefined edges are
// ignored so a late event cannot resurrect a torn-down handle.
func (h *Handle) transition(to State) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !canTransition(h.state, to) {
		return false
	}
	h.state = to
	return true
}

func (h *Handle) setPairingArtifact(png []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pairingPNG = png
}

func (h *Handle) pairingArtifact() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pairingPNG
}
