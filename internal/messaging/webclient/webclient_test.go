package webclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxnote/internal/common/logger"
	"voxnote/internal/messaging"
)

// ==========================
// Test Helper Functions
// ==========================

func createTestClient(t *testing.T, buffer int) *client {
	return &client{
		events:  make(chan messaging.Event, buffer),
		pending: make(map[string]chan frame),
		log:     logger.NewTestLogger(t),
	}
}

// ==========================
// Event Stream
// ==========================

func TestClient_EmitDoesNotBlockWhenFull(t *testing.T) {
	c := createTestClient(t, 2)
	c.emit(messaging.Event{Type: messaging.EventAuthenticated})
	c.emit(messaging.Event{Type: messaging.EventReady})

	done := make(chan struct{})
	go func() {
		c.emit(messaging.Event{Type: messaging.EventVoiceMessage})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("emit blocked on a full event buffer")
	}
	assert.Len(t, c.events, 2)
}

func TestClient_EmitAfterFinishIsNoOp(t *testing.T) {
	c := createTestClient(t, 2)
	c.finish()

	// Must not panic with a send on the closed stream.
	c.emit(messaging.Event{Type: messaging.EventReady})
}

// ==========================
// Teardown
// ==========================

func TestClient_CloseWithoutConnectClosesEventStream(t *testing.T) {
	c := createTestClient(t, 2)
	require.NoError(t, c.Close())

	select {
	case _, ok := <-c.Events():
		assert.False(t, ok, "event stream should be closed")
	case <-time.After(time.Second):
		t.Fatal("event stream never closed")
	}
}

func TestClient_FinishFailsPendingCommands(t *testing.T) {
	c := createTestClient(t, 2)

	ch := make(chan frame, 1)
	c.mu.Lock()
	c.pending["cmd-1"] = ch
	c.mu.Unlock()

	c.finish()

	select {
	case resp := <-ch:
		assert.False(t, resp.OK)
		assert.Equal(t, "connection closed", resp.Error)
	case <-time.After(time.Second):
		t.Fatal("pending command was never failed")
	}
}
