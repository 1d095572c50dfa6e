// Package console implements a ChatChannel on a terminal: messages are
// written to an io.Writer and incoming lines are read from an io.Reader.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/hrygo/ccrelay/plugin/chat_apps"
	"github.com/hrygo/ccrelay/plugin/chat_apps/channels"
)

// ChatID is the single chat a console channel serves.
const ChatID = "console"

// ConsoleChannel prints messages in order. It cannot edit what it printed.
type ConsoleChannel struct {
	in     io.Reader
	out    io.Writer
	maxLen int

	mu     sync.Mutex
	nextID int
}

// NewConsoleChannel creates a console channel. in may be nil when the
// channel is only used for output.
func NewConsoleChannel(in io.Reader, out io.Writer, maxLen int) *ConsoleChannel {
	return &ConsoleChannel{in: in, out: out, maxLen: maxLen}
}

// Name returns the platform name.
func (c *ConsoleChannel) Name() chat_apps.Platform {
	return chat_apps.PlatformConsole
}

// MaxMessageLength returns the configured per-message limit.
func (c *ConsoleChannel) MaxMessageLength() int {
	return c.maxLen
}

// SupportsEdit is false: printed text cannot be changed.
func (c *ConsoleChannel) SupportsEdit() bool {
	return false
}

// Listen reads one message per input line until EOF or ctx is done.
func (c *ConsoleChannel) Listen(ctx context.Context, handler channels.MessageHandler) error {
	if c.in == nil {
		<-ctx.Done()
		return nil
	}

	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-errc:
					return err
				default:
					return nil
				}
			}
			if line == "" {
				continue
			}
			handler(ctx, &chat_apps.IncomingMessage{
				Platform:       chat_apps.PlatformConsole,
				PlatformChatID: ChatID,
				PlatformUserID: ChatID,
				Type:           chat_apps.MessageTypeText,
				Content:        line,
				Timestamp:      time.Now(),
			})
		}
	}
}

// SendMessage prints msg followed by a blank line.
func (c *ConsoleChannel) SendMessage(_ context.Context, msg *chat_apps.OutgoingMessage) (string, error) {
	if c.maxLen > 0 && len([]rune(msg.Content)) > c.maxLen {
		return "", channels.ErrMessageTooLong
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	if _, err := fmt.Fprintf(c.out, "%s\n\n", msg.Content); err != nil {
		return "", channels.Wrap(&channels.ChannelError{Code: "SEND_FAILED", Message: "console write failed"}, err)
	}
	return strconv.Itoa(c.nextID), nil
}

// EditMessage always fails with ErrEditUnsupported.
func (c *ConsoleChannel) EditMessage(context.Context, *chat_apps.EditMessage) error {
	return channels.ErrEditUnsupported
}

// Close is a no-op.
func (c *ConsoleChannel) Close() error {
	return nil
}

var _ channels.ChatChannel = (*ConsoleChannel)(nil)
