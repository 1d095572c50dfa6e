// Package telegram implements the Telegram Bot channel.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"github.com/hrygo/ccrelay/plugin/chat_apps"
	"github.com/hrygo/ccrelay/plugin/chat_apps/channels"
)

const (
	// PlatformMaxMessageLength is Telegram's hard limit for a text message.
	PlatformMaxMessageLength = 4096
	DefaultMaxMessageLength  = 2000
	DefaultPollTimeout       = 60
	// maxRetryAfter caps how long a flood-control wait may last.
	maxRetryAfter = 30 * time.Second
)

// TelegramConfig holds configuration for the Telegram channel.
type TelegramConfig struct {
	BotToken string
	// MaxMessageLength is the relay's per-message limit (<= 4096).
	MaxMessageLength int
	// ParseMode is applied to outgoing messages; empty sends plain text.
	ParseMode string
	// PollTimeout is the long-polling timeout in seconds.
	PollTimeout int
	// MessagesPerSecond and Burst bound outbound traffic per chat.
	MessagesPerSecond float64
	Burst             int
}

// botAPI is the subset of *tgbotapi.BotAPI the channel uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// TelegramChannel implements ChatChannel for Telegram Bot API.
type TelegramChannel struct {
	bot    botAPI
	config TelegramConfig
	logger *slog.Logger

	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
}

// NewTelegramChannel creates a new Telegram channel.
func NewTelegramChannel(config *TelegramConfig, logger *slog.Logger) (*TelegramChannel, error) {
	bot, err := tgbotapi.NewBotAPI(config.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("telegram: authorized", "bot", bot.Self.UserName)
	return newTelegramChannel(bot, config, logger), nil
}

func newTelegramChannel(bot botAPI, config *TelegramConfig, logger *slog.Logger) *TelegramChannel {
	cfg := *config
	if cfg.MaxMessageLength <= 0 || cfg.MaxMessageLength > PlatformMaxMessageLength {
		cfg.MaxMessageLength = DefaultMaxMessageLength
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	if cfg.MessagesPerSecond <= 0 {
		cfg.MessagesPerSecond = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TelegramChannel{
		bot:      bot,
		config:   cfg,
		logger:   logger,
		limiters: make(map[int64]*rate.Limiter),
	}
}

// Name returns the platform name.
func (t *TelegramChannel) Name() chat_apps.Platform {
	return chat_apps.PlatformTelegram
}

// MaxMessageLength returns the configured per-message limit.
func (t *TelegramChannel) MaxMessageLength() int {
	return t.config.MaxMessageLength
}

// SupportsEdit is always true for Telegram.
func (t *TelegramChannel) SupportsEdit() bool {
	return true
}

// Listen long-polls for updates until ctx is done.
func (t *TelegramChannel) Listen(ctx context.Context, handler channels.MessageHandler) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = t.config.PollTimeout
	updates := t.bot.GetUpdatesChan(u)
	defer t.bot.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			msg := ParseUpdate(update)
			if msg == nil {
				continue
			}
			handler(ctx, msg)
		}
	}
}

// ParseUpdate converts an update into an IncomingMessage. Updates other
// than new messages yield nil.
func ParseUpdate(update tgbotapi.Update) *chat_apps.IncomingMessage {
	tgMsg := update.Message
	if tgMsg == nil || tgMsg.Chat == nil {
		return nil
	}

	msg := &chat_apps.IncomingMessage{
		Platform:       chat_apps.PlatformTelegram,
		PlatformChatID: strconv.FormatInt(tgMsg.Chat.ID, 10),
		Content:        tgMsg.Text,
		Timestamp:      tgMsg.Time(),
		Metadata:       make(map[string]string),
	}
	msg.Metadata["update_id"] = strconv.Itoa(update.UpdateID)
	msg.Metadata["message_id"] = strconv.Itoa(tgMsg.MessageID)
	if tgMsg.From != nil {
		msg.PlatformUserID = strconv.FormatInt(tgMsg.From.ID, 10)
		msg.Metadata["username"] = tgMsg.From.UserName
	}

	if tgMsg.Text == "" {
		msg.Type = chat_apps.MessageTypeUnsupported
	} else {
		msg.Type = chat_apps.MessageTypeText
	}
	return msg
}

// SendMessage sends a text message to Telegram and returns its message ID.
func (t *TelegramChannel) SendMessage(ctx context.Context, msg *chat_apps.OutgoingMessage) (string, error) {
	chatID, err := parseChatID(msg.PlatformChatID)
	if err != nil {
		return "", err
	}
	if n := len([]rune(msg.Content)); n > PlatformMaxMessageLength {
		return "", channels.Wrap(channels.ErrMessageTooLong, fmt.Errorf("%d characters", n))
	}

	parseMode := msg.ParseMode
	if parseMode == "" {
		parseMode = t.config.ParseMode
	}

	var sent tgbotapi.Message
	err = t.do(ctx, chatID, func() error {
		tgMsg := tgbotapi.NewMessage(chatID, msg.Content)
		tgMsg.ParseMode = parseMode
		sent, err = t.bot.Send(tgMsg)
		if err != nil && parseMode != "" && isParseError(err) {
			// Retry as plain text; model output is not always valid markup.
			tgMsg.ParseMode = ""
			sent, err = t.bot.Send(tgMsg)
		}
		return err
	})
	if err != nil {
		t.logger.Warn("telegram: send failed", "chat_id", chatID, "error", err)
		return "", err
	}
	return strconv.Itoa(sent.MessageID), nil
}

// EditMessage replaces the text of a message sent earlier. An edit that
// leaves the text unchanged counts as success.
func (t *TelegramChannel) EditMessage(ctx context.Context, msg *chat_apps.EditMessage) error {
	chatID, err := parseChatID(msg.PlatformChatID)
	if err != nil {
		return err
	}
	messageID, err := strconv.Atoi(msg.MessageID)
	if err != nil {
		return channels.Wrap(channels.ErrInvalidChatID, fmt.Errorf("message id %q: %w", msg.MessageID, err))
	}
	if n := len([]rune(msg.Content)); n > PlatformMaxMessageLength {
		return channels.Wrap(channels.ErrMessageTooLong, fmt.Errorf("%d characters", n))
	}

	parseMode := msg.ParseMode
	if parseMode == "" {
		parseMode = t.config.ParseMode
	}

	err = t.do(ctx, chatID, func() error {
		edit := tgbotapi.NewEditMessageText(chatID, messageID, msg.Content)
		edit.ParseMode = parseMode
		_, err := t.bot.Request(edit)
		if err != nil && parseMode != "" && isParseError(err) {
			edit.ParseMode = ""
			_, err = t.bot.Request(edit)
		}
		return err
	})
	if err != nil && isNotModified(err) {
		return nil
	}
	if err != nil {
		t.logger.Warn("telegram: edit failed", "chat_id", chatID, "message_id", messageID, "error", err)
	}
	return err
}

// do runs call under the chat's rate limiter and honours one flood-control
// retry_after from Telegram.
func (t *TelegramChannel) do(ctx context.Context, chatID int64, call func() error) error {
	limiter := t.limiter(chatID)
	if err := limiter.Wait(ctx); err != nil {
		return err
	}
	err := call()
	retryAfter, ok := floodWait(err)
	if !ok {
		return err
	}

	t.logger.Warn("telegram: flood control, retrying", "chat_id", chatID, "retry_after", retryAfter)
	timer := time.NewTimer(retryAfter)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}
	return call()
}

func (t *TelegramChannel) limiter(chatID int64) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.limiters[chatID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(t.config.MessagesPerSecond), t.config.Burst)
		t.limiters[chatID] = l
	}
	return l
}

// Close closes the Telegram channel.
func (t *TelegramChannel) Close() error {
	return nil
}

func parseChatID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, channels.Wrap(channels.ErrInvalidChatID, err)
	}
	return id, nil
}

func floodWait(err error) (time.Duration, bool) {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) || apiErr.Code != 429 {
		return 0, false
	}
	wait := time.Duration(apiErr.RetryAfter) * time.Second
	if wait <= 0 {
		wait = time.Second
	}
	if wait > maxRetryAfter {
		wait = maxRetryAfter
	}
	return wait, true
}

func isNotModified(err error) bool {
	return err != nil && strings.Contains(err.Error(), "message is not modified")
}

func isParseError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "can't parse entities")
}

// Ensure TelegramChannel implements ChatChannel
var _ channels.ChatChannel = (*TelegramChannel)(nil)
