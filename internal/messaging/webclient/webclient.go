// Package webclient is the websocket bridge driver. The browser automation
// engine that actually speaks the messaging protocol runs as a separate
// process; this driver dials its websocket endpoint, relays engine events
// onto the messaging.Event stream, and issues commands as correlated
// request/response frames.
package webclient

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"voxnote/internal/common/logger"
	"voxnote/internal/messaging"
)

// frame is the single wire envelope, commands and events alike. Data is
// base64 on the wire; encoding/json handles the conversion.
type frame struct {
	Type      string                  `json:"type"`
	ID        string                  `json:"id,omitempty"`
	Code      string                  `json:"code,omitempty"`
	Reason    string                  `json:"reason,omitempty"`
	ChatID    string                  `json:"chatId,omitempty"`
	Text      string                  `json:"text,omitempty"`
	MessageID string                  `json:"messageId,omitempty"`
	OK        bool                    `json:"ok,omitempty"`
	Error     string                  `json:"error,omitempty"`
	Data      []byte                  `json:"data,omitempty"`
	Message   *messaging.VoiceMessage `json:"message,omitempty"`
}

// NewFactory returns a messaging.Factory that binds each user session to
// the bridge at the given websocket URL.
func NewFactory(bridgeURL string, log logger.Logger) messaging.Factory {
	return func(userID, credentialDir string) (messaging.Client, error) {
		u, err := url.Parse(bridgeURL)
		if err != nil {
			return nil, fmt.Errorf("webclient: bad bridge url: %w", err)
		}
		q := u.Query()
		q.Set("user", userID)
		q.Set("credentialDir", credentialDir)
		u.RawQuery = q.Encode()

		return &client{
			endpoint: u.String(),
			events:   make(chan messaging.Event, 16),
			pending:  make(map[string]chan frame),
			log: log.WithFields(map[string]interface{}{
				"component": "webclient",
				"userId":    userID,
			}),
		}, nil
	}
}

type client struct {
	endpoint string
	events   chan messaging.Event
	log      logger.Logger

	writeMu sync.Mutex
	conn    *websocket.Conn

	mu      sync.Mutex
	pending map[string]chan frame
	closed  bool
}

func (c *client) Connect(ctx context.Context) error {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.endpoint, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("webclient: bridge dial: %w", err)
	}

	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()

	go c.readLoop(conn)
	return nil
}

// readLoop turns inbound frames into events and completes pending commands.
// A read error means the bridge connection is gone, which surfaces as a
// disconnected event before the stream closes.
func (c *client) readLoop(conn *websocket.Conn) {
	defer c.finish()

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			c.emit(messaging.Event{Type: messaging.EventDisconnected, Reason: err.Error()})
			return
		}

		switch f.Type {
		case "response":
			c.resolve(f)
		case "pairing_code":
			c.emit(messaging.Event{Type: messaging.EventPairingCode, PairingCode: f.Code})
		case "authenticated":
			c.emit(messaging.Event{Type: messaging.EventAuthenticated})
		case "ready":
			c.emit(messaging.Event{Type: messaging.EventReady})
		case "auth_failure":
			c.emit(messaging.Event{Type: messaging.EventAuthFailure, Reason: f.Reason})
			return
		case "disconnected":
			c.emit(messaging.Event{Type: messaging.EventDisconnected, Reason: f.Reason})
			return
		case "voice_message":
			if f.Message != nil {
				c.emit(messaging.Event{Type: messaging.EventVoiceMessage, Message: f.Message})
			}
		}
	}
}

func (c *client) emit(ev messaging.Event) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	select {
	case c.events <- ev:
	default:
		// A stalled consumer must not wedge the read loop, but a dropped
		// event has to be visible in the logs.
		c.log.Warn("event dropped, consumer stalled", map[string]interface{}{
			"type": string(ev.Type),
		})
	}
}

func (c *client) resolve(f frame) {
	c.mu.Lock()
	ch, ok := c.pending[f.ID]
	if ok {
		delete(c.pending, f.ID)
	}
	c.mu.Unlock()
	if ok {
		ch <- f
	}
}

// command sends one frame and waits for its correlated response.
func (c *client) command(ctx context.Context, f frame) (frame, error) {
	f.ID = uuid.NewString()
	ch := make(chan frame, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return frame{}, fmt.Errorf("webclient: client closed")
	}
	c.pending[f.ID] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	conn := c.conn
	var err error
	if conn == nil {
		err = fmt.Errorf("webclient: not connected")
	} else {
		err = conn.WriteJSON(f)
	}
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, f.ID)
		c.mu.Unlock()
		return frame{}, err
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, f.ID)
		c.mu.Unlock()
		return frame{}, ctx.Err()
	case resp := <-ch:
		if !resp.OK {
			return frame{}, fmt.Errorf("webclient: %s failed: %s", f.Type, resp.Error)
		}
		return resp, nil
	}
}

func (c *client) SendMessage(ctx context.Context, chatID, text string) error {
	_, err := c.command(ctx, frame{Type: "send_message", ChatID: chatID, Text: text})
	return err
}

func (c *client) DownloadMedia(ctx context.Context, msg *messaging.VoiceMessage) ([]byte, error) {
	resp, err := c.command(ctx, frame{Type: "download_media", MessageID: msg.ID})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("webclient: empty media payload for message %s", msg.ID)
	}
	return resp.Data, nil
}

func (c *client) Logout(ctx context.Context) error {
	_, err := c.command(ctx, frame{Type: "logout"})
	return err
}

func (c *client) Close() error {
	c.writeMu.Lock()
	conn := c.conn
	c.conn = nil
	c.writeMu.Unlock()
	if conn != nil {
		// The read loop notices the closed connection and finishes the
		// event stream itself.
		return conn.Close()
	}
	// Never connected: no read loop will run, so finish the stream here.
	c.finish()
	return nil
}

func (c *client) Events() <-chan messaging.Event {
	return c.events
}

// finish closes the event stream exactly once and fails any commands still
// in flight.
func (c *client) finish() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pending := c.pending
	c.pending = map[string]chan frame{}
	c.mu.Unlock()

	for id, ch := range pending {
		ch <- frame{ID: id, Type: "response", OK: false, Error: "connection closed"}
	}
	close(c.events)
}
