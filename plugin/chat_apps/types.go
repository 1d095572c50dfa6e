// Package chat_apps provides the chat platform types shared by the relay's
// channels. Supported platforms: Telegram and the local console.
package chat_apps

import "time"

// MessageType represents the type of an incoming message.
type MessageType int

const (
	MessageTypeText MessageType = iota
	// MessageTypeUnsupported covers media and service messages, which the
	// relay ignores.
	MessageTypeUnsupported
)

// String returns the string representation of MessageType.
func (m MessageType) String() string {
	switch m {
	case MessageTypeText:
		return "text"
	case MessageTypeUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// Platform represents a supported chat platform.
type Platform string

const (
	PlatformTelegram Platform = "telegram"
	PlatformConsole  Platform = "console"
)

// IsValid checks if the platform is valid.
func (p Platform) IsValid() bool {
	switch p {
	case PlatformTelegram, PlatformConsole:
		return true
	default:
		return false
	}
}

// IncomingMessage represents a message from a chat platform.
type IncomingMessage struct {
	Platform       Platform          // Source platform
	PlatformUserID string            // Platform-specific user ID
	PlatformChatID string            // Platform-specific chat ID
	Type           MessageType       // Message type
	Content        string            // Text content
	Metadata       map[string]string // Additional platform-specific metadata
	Timestamp      time.Time         // Message timestamp
}

// OutgoingMessage represents a message to send to a chat platform.
type OutgoingMessage struct {
	PlatformChatID string // Destination chat ID
	Content        string // Text content
	ParseMode      string // Markdown/HTML parsing mode (optional)
}

// EditMessage replaces the text of a message sent earlier.
type EditMessage struct {
	PlatformChatID string
	MessageID      string // ID returned when the message was sent
	Content        string
	ParseMode      string
}
