// Package session maintains at most one messaging-client handle per user,
// drives each handle through the connection state machine, and routes
// inbound voice notes onto the work queue consumed by the processing
// pipeline.
package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	stderrors "voxnote/internal/common/errors"
	"voxnote/internal/common/logger"
	"voxnote/internal/common/metrics"
	"voxnote/internal/messaging"
)

// Job is one inbound voice note handed to a pipeline worker. The client is
// included so the worker can fetch media and reply on the same channel.
type Job struct {
	UserID  string
	Message *messaging.VoiceMessage
	Client  messaging.Client
}

// ConnectionStatus is the small JSON status object exposed upward.
type ConnectionStatus struct {
	Connected bool `json:"connected"`
}

// PairingResponse is the upward pairing-artifact response. Artifact is an
// opaque PNG payload, present only while pairing is pending.
type PairingResponse struct {
	Status   string `json:"status"` // "pending" or "connected"
	Artifact []byte `json:"artifact,omitempty"`
}

// Options tunes manager behavior.
type Options struct {
	CredentialDir string
	QRSize        int
	QueueSize     int
	// Pairing-artifact polling: a bounded wait, not an unbounded loop.
	PairingRetries    int
	PairingRetryDelay time.Duration
}

type Manager struct {
	factory messaging.Factory
	opts    Options
	log     logger.Logger
	queue   chan Job

	mu      sync.Mutex
	handles map[string]*Handle
	locks   map[string]*sync.Mutex

	watchers sync.WaitGroup
}

func NewManager(factory messaging.Factory, opts Options, log logger.Logger) *Manager {
	if opts.QRSize <= 0 {
		opts.QRSize = 256
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.PairingRetries <= 0 {
		opts.PairingRetries = 10
	}
	if opts.PairingRetryDelay <= 0 {
		opts.PairingRetryDelay = 500 * time.Millisecond
	}

	return &Manager{
		factory: factory,
		opts:    opts,
		log:     log.WithFields(map[string]interface{}{"component": "session"}),
		queue:   make(chan Job, opts.QueueSize),
		handles: make(map[string]*Handle),
		locks:   make(map[string]*sync.Mutex),
	}
}

// Queue returns the channel pipeline workers consume voice-note jobs from.
func (m *Manager) Queue() <-chan Job {
	return m.queue
}

// userLock returns the mutex serializing connect/logout/cleanup for one
// user. Different users never contend.
func (m *Manager) userLock(userID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[userID] = l
	}
	return l
}

func (m *Manager) handle(userID string) *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handles[userID]
}

// Connect ensures a live or pending handle for the user. A handle that is
// already READY makes this an idempotent success. Any stale handle is torn
// down before a fresh one is registered, so the one-handle-per-user
// invariant holds even if initialization fails.
func (m *Manager) Connect(ctx context.Context, userID string) error {
	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	if h := m.handle(userID); h != nil {
		if h.State() == StateReady {
			return nil
		}
		m.teardown(userID, h, false)
	}

	client, err := m.factory(userID, m.credentialDir(userID))
	if err != nil {
		return stderrors.NewClientStartFailedError(userID, err)
	}

	h := newHandle(userID, client)
	m.register(userID, h)
	m.watchers.Add(1)
	go m.watch(userID, h)

	if err := client.Connect(ctx); err != nil {
		m.teardown(userID, h, false)
		return stderrors.NewClientStartFailedError(userID, err)
	}

	m.log.Info("session initializing", map[string]interface{}{"userId": userID})
	return nil
}

// watch consumes one handle's event stream until the client shuts down or a
// fatal event arrives.
func (m *Manager) watch(userID string, h *Handle) {
	defer m.watchers.Done()

	for ev := range h.client.Events() {
		switch ev.Type {
		case messaging.EventPairingCode:
			png, err := messaging.RenderPairingCode(ev.PairingCode, m.opts.QRSize)
			if err != nil {
				m.log.Error("pairing code render failed", map[string]interface{}{
					"userId": userID,
					"error":  err.Error(),
				})
				continue
			}
			h.setPairingArtifact(png)
			h.transition(StatePairingPending)

		case messaging.EventAuthenticated:
			h.transition(StateAuthenticated)

		case messaging.EventReady:
			h.setPairingArtifact(nil)
			if h.transition(StateReady) {
				m.log.Info("session ready", map[string]interface{}{"userId": userID})
			}

		case messaging.EventAuthFailure:
			m.log.WithError(stderrors.NewAuthFailedError(userID, ev.Reason)).
				Warn("session auth failure", map[string]interface{}{
					"userId": userID,
				})
			m.cleanupAsync(userID, h, true)
			return

		case messaging.EventDisconnected:
			m.log.Info("session disconnected", map[string]interface{}{
				"userId": userID,
				"reason": ev.Reason,
			})
			// Credentials stay on disk so the session can be restored
			// by a later connect.
			m.cleanupAsync(userID, h, false)
			return

		case messaging.EventVoiceMessage:
			if h.State() != StateReady || ev.Message == nil {
				continue
			}
			m.queue <- Job{UserID: userID, Message: ev.Message, Client: h.client}
		}
	}
}

// cleanupAsync acquires the per-user lock before teardown so a concurrent
// Connect or Logout cannot interleave with event-driven cleanup.
func (m *Manager) cleanupAsync(userID string, h *Handle, dropCredentials bool) {
	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()
	m.teardown(userID, h, dropCredentials)
}

// PairingArtifact returns the current pairing QR payload, waiting briefly
// for one to be issued. The wait is bounded by the configured retry ceiling.
func (m *Manager) PairingArtifact(ctx context.Context, userID string) (*PairingResponse, error) {
	for attempt := 0; attempt < m.opts.PairingRetries; attempt++ {
		h := m.handle(userID)
		if h != nil {
			switch h.State() {
			case StateReady:
				return &PairingResponse{Status: "connected"}, nil
			case StatePairingPending:
				if png := h.pairingArtifact(); png != nil {
					return &PairingResponse{Status: "pending", Artifact: png}, nil
				}
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.opts.PairingRetryDelay):
		}
	}
	return nil, fmt.Errorf("pairing artifact not yet available for user %s", userID)
}

// IsConnected reports whether the user's handle is READY. A missing handle
// is simply not connected, never an error.
func (m *Manager) IsConnected(userID string) bool {
	h := m.handle(userID)
	return h != nil && h.State() == StateReady
}

// Status returns the upward connection-status object.
func (m *Manager) Status(userID string) ConnectionStatus {
	return ConnectionStatus{Connected: m.IsConnected(userID)}
}

// Logout signs the user out best-effort, then unconditionally tears down
// the handle and the on-disk session artifact. Calling it for a user with
// no handle is a no-op.
func (m *Manager) Logout(ctx context.Context, userID string) error {
	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	h := m.handle(userID)
	if h == nil {
		// Stored credentials may exist without a live handle.
		m.removeCredentials(userID)
		return nil
	}

	if err := h.client.Logout(ctx); err != nil {
		m.log.Warn("remote logout failed, tearing down anyway", map[string]interface{}{
			"userId": userID,
			"error":  err.Error(),
		})
	}

	m.teardown(userID, h, true)
	return nil
}

// Shutdown tears down every handle and closes the work queue.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	users := make([]string, 0, len(m.handles))
	for userID := range m.handles {
		users = append(users, userID)
	}
	m.mu.Unlock()

	for _, userID := range users {
		lock := m.userLock(userID)
		lock.Lock()
		if h := m.handle(userID); h != nil {
			m.teardown(userID, h, false)
		}
		lock.Unlock()
	}

	// A watcher may still be mid-send into the queue; closing it out from
	// under a blocked sender would panic. Consumers keep draining until the
	// close, so the watchers always unblock.
	m.watchers.Wait()
	close(m.queue)
}

func (m *Manager) register(userID string, h *Handle) {
	m.mu.Lock()
	m.handles[userID] = h
	m.mu.Unlock()
	metrics.ActiveSessions.Inc()
}

// teardown closes the client, unregisters the handle, and optionally drops
// stored credentials. It only unregisters when the registered handle is the
// same one being torn down, so late cleanup cannot evict a fresh handle.
func (m *Manager) teardown(userID string, h *Handle, dropCredentials bool) {
	h.transition(StateDisconnected)

	if err := h.client.Close(); err != nil {
		m.log.Debug("client close failed", map[string]interface{}{
			"userId": userID,
			"error":  err.Error(),
		})
	}

	m.mu.Lock()
	if m.handles[userID] == h {
		delete(m.handles, userID)
		metrics.ActiveSessions.Dec()
	}
	m.mu.Unlock()

	if dropCredentials {
		m.removeCredentials(userID)
	}
}

func (m *Manager) credentialDir(userID string) string {
	return filepath.Join(m.opts.CredentialDir, userID)
}

func (m *Manager) removeCredentials(userID string) {
	if m.opts.CredentialDir == "" {
		return
	}
	if err := os.RemoveAll(m.credentialDir(userID)); err != nil {
		m.log.Warn("credential cleanup failed", map[string]interface{}{
			"userId": userID,
			"error":  err.Error(),
		})
	}
}
