// Package router validates inbound conversation events and fans them out to
// the live connections of the right participants.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"campuschat/internal/content"
	"campuschat/internal/metrics"
	"campuschat/internal/models"
	"campuschat/internal/registry"

	"github.com/google/uuid"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrNotParticipant       = errors.New("not a participant of this conversation")
	ErrMessageNotFound      = errors.New("message not found in conversation")
	ErrPersistence          = errors.New("failed to save changes")
)

// Store is the conversation persistence the router depends on.
type Store interface {
	GetConversation(ctx context.Context, id string) (models.Conversation, error)
	AppendMessage(ctx context.Context, conversationID string, msg models.Message) (models.Message, error)
	MarkRead(ctx context.Context, conversationID, messageID, readerID string) (models.Message, error)
}

// Connections resolves the live connections of an identity.
type Connections interface {
	ConnectionsFor(userID string) []*registry.Connection
}

type Router struct {
	store  Store
	conns  Connections
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

func New(store Store, conns Connections, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		store:  store,
		conns:  conns,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Route handles one inbound event from senderID.
// A returned error means the event had no effect and nothing was fanned out.
func (r *Router) Route(ctx context.Context, senderID string, event models.InboundEvent) error {
	switch ev := event.(type) {
	case models.ChatMessageEvent:
		return r.HandleChatMessage(ctx, senderID, ev)
	case models.TypingEvent:
		return r.HandleTyping(ctx, senderID, ev)
	case models.ReadReceiptEvent:
		return r.HandleReadReceipt(ctx, senderID, ev)
	default:
		return fmt.Errorf("%w: %T", models.ErrUnrecognizedEvent, event)
	}
}

// HandleChatMessage persists a new message and pushes it to every connection of
// every participant, the sender's own connections included.
func (r *Router) HandleChatMessage(ctx context.Context, senderID string, ev models.ChatMessageEvent) error {
	_, err := r.PostMessage(ctx, senderID, ev)
	return err
}

// PostMessage is HandleChatMessage for callers that need the stored message.
func (r *Router) PostMessage(ctx context.Context, senderID string, ev models.ChatMessageEvent) (models.Message, error) {
	text, err := content.PrepareMessage(ev.Content)
	if err != nil {
		return models.Message{}, err
	}

	conv, err := r.authorize(ctx, senderID, ev.ConversationID)
	if err != nil {
		return models.Message{}, err
	}

	msg := models.Message{
		ID:             r.newID(),
		ConversationID: conv.ID,
		Sender:         senderID,
		Content:        text,
		Attachments:    ev.Attachments,
		ReadBy:         []string{senderID},
		CreatedAt:      r.now().UTC(),
	}

	saved, err := r.store.AppendMessage(ctx, conv.ID, msg)
	if err != nil {
		r.logger.Error("append message failed",
			"conversation_id", conv.ID,
			"user_id", senderID,
			"error", err,
		)
		return models.Message{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	metrics.MessagesPersisted.Inc()

	event := models.NewMessage(saved)
	for _, p := range conv.Participants {
		r.deliver(p, event)
	}
	return saved, nil
}

// HandleTyping relays a typing indicator to the other participants only.
func (r *Router) HandleTyping(ctx context.Context, senderID string, ev models.TypingEvent) error {
	conv, err := r.authorize(ctx, senderID, ev.ConversationID)
	if err != nil {
		return err
	}

	event := models.TypingIndicator(conv.ID, senderID, ev.IsTyping)
	for _, p := range conv.Participants {
		if p == senderID {
			continue
		}
		r.deliver(p, event)
	}
	return nil
}

// HandleReadReceipt adds the reader to the message's readBy set and notifies
// the original sender.
func (r *Router) HandleReadReceipt(ctx context.Context, readerID string, ev models.ReadReceiptEvent) error {
	conv, err := r.authorize(ctx, readerID, ev.ConversationID)
	if err != nil {
		return err
	}

	msg, err := r.store.MarkRead(ctx, conv.ID, ev.MessageID, readerID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return ErrMessageNotFound
		}
		r.logger.Error("mark read failed",
			"conversation_id", conv.ID,
			"message_id", ev.MessageID,
			"user_id", readerID,
			"error", err,
		)
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	if msg.Sender == readerID {
		return nil
	}
	r.deliver(msg.Sender, models.ReadReceipt(conv.ID, msg.ID, readerID))
	return nil
}

// authorize loads the conversation and checks that userID takes part in it.
// Deleted conversations are treated as missing.
func (r *Router) authorize(ctx context.Context, userID, conversationID string) (models.Conversation, error) {
	conv, err := r.store.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.Conversation{}, ErrConversationNotFound
		}
		return models.Conversation{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if conv.Status == models.ConversationStatusDeleted {
		return models.Conversation{}, ErrConversationNotFound
	}
	if !conv.HasParticipant(userID) {
		return models.Conversation{}, ErrNotParticipant
	}
	return conv, nil
}

// deliver pushes event to every live connection of userID.
// Failures are per connection and never abort the fan-out.
func (r *Router) deliver(userID string, event models.ServerMessage) {
	for _, c := range r.conns.ConnectionsFor(userID) {
		if err := c.Send(event); err != nil {
			metrics.Deliveries.WithLabelValues(string(event.Type), "failed").Inc()
			r.logger.Warn("delivery failed",
				"type", event.Type,
				"recipient_id", userID,
				"connection_id", c.ID,
				"error", err,
			)
			continue
		}
		metrics.Deliveries.WithLabelValues(string(event.Type), "ok").Inc()
	}
}
