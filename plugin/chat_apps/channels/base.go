// Package channels provides the ChatChannel interface for all chat platform integrations.
package channels

import (
	"context"
	"io"
	"sync"

	"github.com/hrygo/ccrelay/plugin/chat_apps"
)

// MessageHandler receives incoming messages from a channel.
type MessageHandler func(ctx context.Context, msg *chat_apps.IncomingMessage)

// ChatChannel defines the interface for all chat platform integrations.
// Each platform (Telegram, console) implements this interface.
type ChatChannel interface {
	// Name returns the platform name (e.g., "telegram", "console").
	Name() chat_apps.Platform

	// Listen delivers incoming messages to handler until ctx is done.
	Listen(ctx context.Context, handler MessageHandler) error

	// SendMessage sends a single message and returns its platform message ID.
	SendMessage(ctx context.Context, msg *chat_apps.OutgoingMessage) (string, error)

	// EditMessage replaces the content of a message sent earlier.
	// Channels that cannot edit return ErrEditUnsupported.
	EditMessage(ctx context.Context, msg *chat_apps.EditMessage) error

	// MaxMessageLength is the per-message character limit.
	MaxMessageLength() int

	// SupportsEdit reports whether EditMessage can succeed at all.
	SupportsEdit() bool

	// Close closes any open connections and releases resources.
	Close() error
}

// ChannelRouter routes outgoing traffic to the channel registered for a
// platform. Concurrent-safe for Register and GetChannel operations.
type ChannelRouter struct {
	mu       sync.RWMutex
	registry map[chat_apps.Platform]ChatChannel
	recorder DeliveryRecorder
}

// NewChannelRouter creates a new channel router. recorder may be nil.
func NewChannelRouter(recorder DeliveryRecorder) *ChannelRouter {
	return &ChannelRouter{
		registry: make(map[chat_apps.Platform]ChatChannel),
		recorder: recorder,
	}
}

// Register registers a chat channel for a platform.
// Concurrent-safe: uses write lock.
func (r *ChannelRouter) Register(channel ChatChannel) {
	r.mu.Lock()
	r.registry[channel.Name()] = channel
	r.mu.Unlock()
}

// GetChannel returns the channel for a platform, or nil if not registered.
// Concurrent-safe: uses read lock.
func (r *ChannelRouter) GetChannel(platform chat_apps.Platform) ChatChannel {
	r.mu.RLock()
	ch := r.registry[platform]
	r.mu.RUnlock()
	return ch
}

// Channels returns all registered channels.
func (r *ChannelRouter) Channels() []ChatChannel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ChatChannel, 0, len(r.registry))
	for _, ch := range r.registry {
		out = append(out, ch)
	}
	return out
}

// Deliverer returns a deliverer bound to one chat on platform.
func (r *ChannelRouter) Deliverer(platform chat_apps.Platform, chatID string) (*ChatDeliverer, error) {
	channel := r.GetChannel(platform)
	if channel == nil {
		return nil, ErrNoChannelForPlatform
	}
	return NewChatDeliverer(channel, chatID, r.recorder), nil
}

// SendResponse sends a single response message to a chat platform.
func (r *ChannelRouter) SendResponse(ctx context.Context, platform chat_apps.Platform, msg *chat_apps.OutgoingMessage) error {
	channel := r.GetChannel(platform)
	if channel == nil {
		return ErrNoChannelForPlatform
	}

	_, err := channel.SendMessage(ctx, msg)
	if r.recorder != nil {
		r.recorder.RecordDelivery(string(platform), msg.PlatformChatID, false, err)
	}
	return err
}

// Errors
var (
	ErrNoChannelForPlatform = &ChannelError{Code: "NO_CHANNEL", Message: "no channel registered for platform"}
	ErrInvalidChatID        = &ChannelError{Code: "INVALID_CHAT", Message: "invalid chat id"}
	ErrMessageTooLong       = &ChannelError{Code: "TOO_LONG", Message: "message exceeds platform limit"}
	ErrEditUnsupported      = &ChannelError{Code: "EDIT_UNSUPPORTED", Message: "channel cannot edit messages"}
	ErrUnauthorized         = &ChannelError{Code: "UNAUTHORIZED", Message: "chat not authorized for this relay"}
)

// ChannelError represents an error in channel operations.
type ChannelError struct {
	Code    string
	Message string
	Err     error
}

func (e *ChannelError) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// Is matches channel errors by code so wrapped instances compare equal to
// the sentinels above.
func (e *ChannelError) Is(target error) bool {
	t, ok := target.(*ChannelError)
	return ok && t.Code == e.Code
}

// IsRetryable returns true if the error is transient and the operation can be retried.
func (e *ChannelError) IsRetryable() bool {
	switch e.Code {
	case "NO_CHANNEL", "INVALID_CHAT", "TOO_LONG", "EDIT_UNSUPPORTED", "UNAUTHORIZED":
		return false
	default:
		return true
	}
}

// Wrap returns a copy of sentinel carrying err as its cause.
func Wrap(sentinel *ChannelError, err error) *ChannelError {
	return &ChannelError{Code: sentinel.Code, Message: sentinel.Message, Err: err}
}

// io.Closer interface for cleanup
var _ io.Closer = (*ChannelRouter)(nil)

// Close closes all registered channels.
// Concurrent-safe: uses write lock.
func (r *ChannelRouter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for _, channel := range r.registry {
		if err := channel.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
