package telegram

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/genledger/internal/config"
)

type recordingSender struct {
	sent []tgbotapi.Chattable
	err  error
}

func (s *recordingSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	s.sent = append(s.sent, c)
	return tgbotapi.Message{}, s.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyDisabledOnlyLogs(t *testing.T) {
	n, err := NewNotifier(config.Config{}, discardLogger())
	require.NoError(t, err)
	assert.False(t, n.Enabled())
	assert.NoError(t, n.Notify(context.Background(), "hello"))
}

func TestNotifySendsToAdminChat(t *testing.T) {
	s := &recordingSender{}
	n := &Notifier{api: s, chatID: 99, log: discardLogger()}

	require.NoError(t, n.Notify(context.Background(), "credits low"))
	require.Len(t, s.sent, 1)
	msg, ok := s.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, int64(99), msg.ChatID)
	assert.Equal(t, "credits low", msg.Text)
}

func TestNotifyWrapsSendError(t *testing.T) {
	n := &Notifier{api: &recordingSender{err: errors.New("forbidden")}, chatID: 1, log: discardLogger()}
	err := n.Notify(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "forbidden")
}
