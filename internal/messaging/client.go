// Package messaging abstracts the browser-automated messaging client.
// The real protocol implementation lives outside this service; the session
// manager only depends on this capability interface, so tests substitute a
// fake.
package messaging

import (
	"context"
	"time"
)

// EventType discriminates client events.
type EventType string

const (
	EventPairingCode   EventType = "pairing_code"
	EventAuthenticated EventType = "authenticated"
	EventReady         EventType = "ready"
	EventAuthFailure   EventType = "auth_failure"
	EventDisconnected  EventType = "disconnected"
	EventVoiceMessage  EventType = "voice_message"
)

// VoiceMessage carries the metadata of one inbound voice note. The raw
// audio is fetched on demand through Client.DownloadMedia.
type VoiceMessage struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	ChatID    string    `json:"chatId"`
	MimeType  string    `json:"mimeType"`
	Timestamp time.Time `json:"timestamp"`
}

// Event is one item on a client's event stream.
type Event struct {
	Type        EventType
	PairingCode string        // set for EventPairingCode
	Reason      string        // set for EventAuthFailure / EventDisconnected
	Message     *VoiceMessage // set for EventVoiceMessage
}

// Client is the capability surface of one user's messaging connection.
type Client interface {
	// Connect starts the underlying automation engine and begins the
	// pairing or credential-restore handshake. Events arrive on Events()
	// after Connect returns.
	Connect(ctx context.Context) error

	// SendMessage delivers text to a chat on the connected account.
	SendMessage(ctx context.Context, chatID, text string) error

	// DownloadMedia fetches the raw audio payload of a voice message.
	DownloadMedia(ctx context.Context, msg *VoiceMessage) ([]byte, error)

	// Logout signs the account out remotely. The caller still tears the
	// client down afterwards whether or not this succeeds.
	Logout(ctx context.Context) error

	// Close releases the engine without signing out.
	Close() error

	// Events returns the client's event stream. The channel is closed
	// when the client shuts down.
	Events() <-chan Event
}

// Factory builds a client bound to a user's durable credential directory.
type Factory func(userID, credentialDir string) (Client, error)
