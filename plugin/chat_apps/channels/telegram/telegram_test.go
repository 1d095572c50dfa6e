package telegram

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/ccrelay/plugin/chat_apps"
	"github.com/hrygo/ccrelay/plugin/chat_apps/channels"
)

type fakeBot struct {
	mu       sync.Mutex
	sent     []tgbotapi.MessageConfig
	edits    []tgbotapi.EditMessageTextConfig
	sendErrs []error
	editErr  error
	updates  chan tgbotapi.Update
	stopped  bool
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		if err != nil {
			return tgbotapi.Message{}, err
		}
	}
	msg := c.(tgbotapi.MessageConfig)
	f.sent = append(f.sent, msg)
	return tgbotapi.Message{MessageID: 100 + len(f.sent)}, nil
}

func (f *fakeBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.editErr != nil {
		return nil, f.editErr
	}
	f.edits = append(f.edits, c.(tgbotapi.EditMessageTextConfig))
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeBot) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeBot) StopReceivingUpdates() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

func newTestChannel(bot *fakeBot) *TelegramChannel {
	return newTelegramChannel(bot, &TelegramConfig{MessagesPerSecond: 1000, Burst: 100}, nil)
}

func TestSendMessage(t *testing.T) {
	bot := &fakeBot{}
	ch := newTestChannel(bot)

	id, err := ch.SendMessage(context.Background(), &chat_apps.OutgoingMessage{PlatformChatID: "42", Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "101", id)
	require.Len(t, bot.sent, 1)
	assert.Equal(t, int64(42), bot.sent[0].ChatID)
	assert.Equal(t, "hi", bot.sent[0].Text)
}

func TestSendMessage_InvalidChat(t *testing.T) {
	ch := newTestChannel(&fakeBot{})
	_, err := ch.SendMessage(context.Background(), &chat_apps.OutgoingMessage{PlatformChatID: "abc", Content: "hi"})
	assert.ErrorIs(t, err, channels.ErrInvalidChatID)
}

func TestSendMessage_TooLong(t *testing.T) {
	ch := newTestChannel(&fakeBot{})
	long := make([]rune, PlatformMaxMessageLength+1)
	for i := range long {
		long[i] = 'x'
	}
	_, err := ch.SendMessage(context.Background(), &chat_apps.OutgoingMessage{PlatformChatID: "1", Content: string(long)})
	assert.ErrorIs(t, err, channels.ErrMessageTooLong)
}

func TestSendMessage_ParseErrorFallsBackToPlain(t *testing.T) {
	bot := &fakeBot{sendErrs: []error{&tgbotapi.Error{Code: 400, Message: "Bad Request: can't parse entities"}}}
	ch := newTelegramChannel(bot, &TelegramConfig{ParseMode: "Markdown", MessagesPerSecond: 1000, Burst: 100}, nil)

	_, err := ch.SendMessage(context.Background(), &chat_apps.OutgoingMessage{PlatformChatID: "1", Content: "*oops"})
	require.NoError(t, err)
	require.Len(t, bot.sent, 1)
	assert.Empty(t, bot.sent[0].ParseMode)
}

func TestSendMessage_FloodControlRetry(t *testing.T) {
	flood := &tgbotapi.Error{Code: 429, Message: "Too Many Requests", ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: 1}}
	bot := &fakeBot{sendErrs: []error{flood}}
	ch := newTestChannel(bot)

	start := time.Now()
	_, err := ch.SendMessage(context.Background(), &chat_apps.OutgoingMessage{PlatformChatID: "1", Content: "x"})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
	assert.Len(t, bot.sent, 1)
}

func TestEditMessage(t *testing.T) {
	bot := &fakeBot{}
	ch := newTestChannel(bot)

	err := ch.EditMessage(context.Background(), &chat_apps.EditMessage{PlatformChatID: "42", MessageID: "7", Content: "new"})
	require.NoError(t, err)
	require.Len(t, bot.edits, 1)
	assert.Equal(t, 7, bot.edits[0].MessageID)
	assert.Equal(t, "new", bot.edits[0].Text)
}

func TestEditMessage_NotModifiedIsSuccess(t *testing.T) {
	bot := &fakeBot{editErr: &tgbotapi.Error{Code: 400, Message: "Bad Request: message is not modified"}}
	ch := newTestChannel(bot)
	err := ch.EditMessage(context.Background(), &chat_apps.EditMessage{PlatformChatID: "1", MessageID: "2", Content: "same"})
	assert.NoError(t, err)
}

func TestEditMessage_Error(t *testing.T) {
	bot := &fakeBot{editErr: errors.New("boom")}
	ch := newTestChannel(bot)
	err := ch.EditMessage(context.Background(), &chat_apps.EditMessage{PlatformChatID: "1", MessageID: "2", Content: "x"})
	assert.Error(t, err)
}

func TestParseUpdate(t *testing.T) {
	update := tgbotapi.Update{
		UpdateID: 5,
		Message: &tgbotapi.Message{
			MessageID: 9,
			From:      &tgbotapi.User{ID: 77, UserName: "alice"},
			Chat:      &tgbotapi.Chat{ID: -100},
			Text:      "/claude hello",
			Date:      1700000000,
		},
	}
	msg := ParseUpdate(update)
	require.NotNil(t, msg)
	assert.Equal(t, chat_apps.PlatformTelegram, msg.Platform)
	assert.Equal(t, "-100", msg.PlatformChatID)
	assert.Equal(t, "77", msg.PlatformUserID)
	assert.Equal(t, "/claude hello", msg.Content)
	assert.Equal(t, chat_apps.MessageTypeText, msg.Type)
	assert.Equal(t, "alice", msg.Metadata["username"])

	assert.Nil(t, ParseUpdate(tgbotapi.Update{UpdateID: 6}))
}

func TestListen(t *testing.T) {
	bot := &fakeBot{updates: make(chan tgbotapi.Update, 2)}
	ch := newTestChannel(bot)
	bot.updates <- tgbotapi.Update{UpdateID: 1, Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 1}, Text: "a"}}
	bot.updates <- tgbotapi.Update{UpdateID: 2}

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan string, 2)
	done := make(chan error)
	go func() {
		done <- ch.Listen(ctx, func(_ context.Context, msg *chat_apps.IncomingMessage) {
			got <- msg.Content
		})
	}()

	assert.Equal(t, "a", <-got)
	cancel()
	require.NoError(t, <-done)
	assert.True(t, bot.stopped)
	assert.Empty(t, got)
}
