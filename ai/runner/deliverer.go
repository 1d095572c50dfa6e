package runner

import (
	"context"
	"time"
)

// Deliverer is the outbound side of a chat transport bound to one
// conversation.
type Deliverer interface {
	// Send posts a new message and returns its transport ID.
	Send(ctx context.Context, text string) (string, error)
	// Edit replaces the text of a previously sent message.
	Edit(ctx context.Context, messageID, text string) error
	// MaxMessageLength is the per-message limit in characters.
	MaxMessageLength() int
	// SupportsEdit reports whether Edit can be used at all.
	SupportsEdit() bool
}

// DeliveryKind labels outbound operations for stats and metrics.
type DeliveryKind string

const (
	DeliverySend   DeliveryKind = "send"
	DeliveryEdit   DeliveryKind = "edit"
	DeliveryNotice DeliveryKind = "notice"
)

// Observer receives session lifecycle and delivery notifications.
// Implementations must be safe for concurrent use.
type Observer interface {
	SessionStarted(sessionID string)
	SessionFinished(sessionID string, state State, duration time.Duration)
	ToolUsed(toolName string)
	Delivered(kind DeliveryKind, err error)
	Unparseable()
}

// NopObserver discards all notifications.
type NopObserver struct{}

func (NopObserver) SessionStarted(string)                       {}
func (NopObserver) SessionFinished(string, State, time.Duration) {}
func (NopObserver) ToolUsed(string)                             {}
func (NopObserver) Delivered(DeliveryKind, error)               {}
func (NopObserver) Unparseable()                                {}
