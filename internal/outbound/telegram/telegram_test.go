package telegram

import (
	"context"
	"testing"

	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
)

func TestInboundTextExtractsMessage(t *testing.T) {
	chatID, text, ok := inboundText(&models.Update{
		Message: &models.Message{
			Text: "bonjour",
			Chat: models.Chat{ID: 123456789},
		},
	})
	assert.True(t, ok)
	assert.Equal(t, "123456789", chatID)
	assert.Equal(t, "bonjour", text)
}

func TestInboundTextIgnoresNonMessages(t *testing.T) {
	for name, update := range map[string]*models.Update{
		"nil update": nil,
		"no message": {},
		"empty text": {Message: &models.Message{Chat: models.Chat{ID: 1}}},
	} {
		_, _, ok := inboundText(update)
		assert.False(t, ok, name)
	}
}

func TestNewRequiresToken(t *testing.T) {
	_, err := New(Config{}, func(_ context.Context, _, _ string) {})
	assert.Error(t, err)
}
