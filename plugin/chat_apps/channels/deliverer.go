package channels

import (
	"context"

	"github.com/hrygo/ccrelay/plugin/chat_apps"
)

// DeliveryRecorder observes outbound traffic per chat.
type DeliveryRecorder interface {
	RecordDelivery(platform, chatID string, edit bool, err error)
}

// ChatDeliverer binds a channel to one chat. It is the relay's outbound
// side of a session.
type ChatDeliverer struct {
	channel  ChatChannel
	chatID   string
	recorder DeliveryRecorder
}

// NewChatDeliverer creates a deliverer for chatID. recorder may be nil.
func NewChatDeliverer(channel ChatChannel, chatID string, recorder DeliveryRecorder) *ChatDeliverer {
	return &ChatDeliverer{channel: channel, chatID: chatID, recorder: recorder}
}

// ChatID returns the chat the deliverer writes to.
func (d *ChatDeliverer) ChatID() string {
	return d.chatID
}

// Send posts text as a new message.
func (d *ChatDeliverer) Send(ctx context.Context, text string) (string, error) {
	id, err := d.channel.SendMessage(ctx, &chat_apps.OutgoingMessage{
		PlatformChatID: d.chatID,
		Content:        text,
	})
	d.record(false, err)
	return id, err
}

// Edit replaces the text of messageID.
func (d *ChatDeliverer) Edit(ctx context.Context, messageID, text string) error {
	err := d.channel.EditMessage(ctx, &chat_apps.EditMessage{
		PlatformChatID: d.chatID,
		MessageID:      messageID,
		Content:        text,
	})
	d.record(true, err)
	return err
}

func (d *ChatDeliverer) MaxMessageLength() int { return d.channel.MaxMessageLength() }
func (d *ChatDeliverer) SupportsEdit() bool    { return d.channel.SupportsEdit() }

func (d *ChatDeliverer) record(edit bool, err error) {
	if d.recorder != nil {
		d.recorder.RecordDelivery(string(d.channel.Name()), d.chatID, edit, err)
	}
}
