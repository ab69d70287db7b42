package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"campuschat/internal/client"
	"campuschat/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := &printer{out: &buf, conversationID: "c1"}

	msg := models.Message{
		ID:             "m1",
		ConversationID: "c1",
		Sender:         "bob",
		Content:        "still available",
		CreatedAt:      time.Now(),
	}
	p.event(client.Event{Message: models.NewMessage(msg)})
	p.event(client.Event{Message: models.NewMessage(models.Message{ID: "m2", ConversationID: "other", Sender: "eve"})})
	p.event(client.Event{Message: models.TypingIndicator("c1", "bob", true)})
	p.event(client.Event{Message: models.TypingIndicator("c1", "bob", false)})
	p.event(client.Event{Message: models.ReadReceipt("c1", "m0", "bob")})
	p.event(client.Event{Message: models.UserStatus("bob", models.PresenceOffline)})
	p.event(client.Event{Message: models.ErrorEvent("not a participant of this conversation")})
	p.status(client.Event{Type: client.EventConnectionStatus, Status: client.StatusFailed})

	out := buf.String()
	assert.Contains(t, out, "bob: still available  (m1)")
	assert.NotContains(t, out, "eve")
	assert.Equal(t, 1, strings.Count(out, "is typing"))
	assert.Contains(t, out, "* bob read m0")
	assert.Contains(t, out, "* bob is offline")
	assert.Contains(t, out, "! not a participant of this conversation")
	assert.Contains(t, out, "/reconnect")
}

func TestHandleLineOffline(t *testing.T) {
	c, err := client.New(client.Config{URL: "ws://127.0.0.1:1/ws", Token: "t"})
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	var buf bytes.Buffer
	ctx := context.Background()

	assert.False(t, handleLine(ctx, c, "c1", "   ", &buf))
	assert.Empty(t, buf.String())

	assert.False(t, handleLine(ctx, c, "c1", "hello", &buf))
	assert.Contains(t, buf.String(), client.ErrNotConnected.Error())

	buf.Reset()
	assert.False(t, handleLine(ctx, c, "c1", "/read m1", &buf))
	assert.Contains(t, buf.String(), client.ErrNotConnected.Error())

	assert.True(t, handleLine(ctx, c, "c1", "/quit", &buf))
}
