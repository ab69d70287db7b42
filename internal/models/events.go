package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrMalformedEvent    = errors.New("malformed event")
	ErrUnrecognizedEvent = errors.New("unrecognized event type")
)

type ClientMessageType string

const (
	ClientMessageTypeChatMessage ClientMessageType = "chat_message"
	ClientMessageTypeTyping      ClientMessageType = "typing"
	ClientMessageTypeReadReceipt ClientMessageType = "read_receipt"
)

// InboundEvent is one of ChatMessageEvent, TypingEvent or ReadReceiptEvent.
type InboundEvent interface {
	EventType() ClientMessageType
	inbound()
}

type ChatMessageEvent struct {
	ConversationID string   `json:"conversationId"`
	Content        string   `json:"content"`
	Attachments    []string `json:"attachments,omitempty"`
}

func (ChatMessageEvent) EventType() ClientMessageType { return ClientMessageTypeChatMessage }
func (ChatMessageEvent) inbound()                     {}

type TypingEvent struct {
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

func (TypingEvent) EventType() ClientMessageType { return ClientMessageTypeTyping }
func (TypingEvent) inbound()                     {}

type ReadReceiptEvent struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

func (ReadReceiptEvent) EventType() ClientMessageType { return ClientMessageTypeReadReceipt }
func (ReadReceiptEvent) inbound()                     {}

// ClientMessage is the envelope of every frame sent by a client.
type ClientMessage struct {
	Type           ClientMessageType `json:"type"`
	ConversationID string            `json:"conversationId,omitempty"`
	Content        string            `json:"content,omitempty"`
	Attachments    []string          `json:"attachments,omitempty"`
	IsTyping       *bool             `json:"isTyping,omitempty"`
	MessageID      string            `json:"messageId,omitempty"`
}

// DecodeInbound parses a raw client frame into its event variant.
// Errors wrap ErrMalformedEvent or ErrUnrecognizedEvent.
func DecodeInbound(data []byte) (InboundEvent, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return msg.Event()
}

// Event converts the envelope into its typed variant, checking required fields.
func (m ClientMessage) Event() (InboundEvent, error) {
	if m.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	}

	switch m.Type {
	case ClientMessageTypeChatMessage:
		if m.ConversationID == "" {
			return nil, fmt.Errorf("%w: missing conversationId", ErrMalformedEvent)
		}
		return ChatMessageEvent{
			ConversationID: m.ConversationID,
			Content:        m.Content,
			Attachments:    m.Attachments,
		}, nil
	case ClientMessageTypeTyping:
		if m.ConversationID == "" {
			return nil, fmt.Errorf("%w: missing conversationId", ErrMalformedEvent)
		}
		if m.IsTyping == nil {
			return nil, fmt.Errorf("%w: missing isTyping", ErrMalformedEvent)
		}
		return TypingEvent{ConversationID: m.ConversationID, IsTyping: *m.IsTyping}, nil
	case ClientMessageTypeReadReceipt:
		if m.ConversationID == "" || m.MessageID == "" {
			return nil, fmt.Errorf("%w: missing conversationId or messageId", ErrMalformedEvent)
		}
		return ReadReceiptEvent{ConversationID: m.ConversationID, MessageID: m.MessageID}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnrecognizedEvent, m.Type)
	}
}

// Envelope builds the wire frame for an outbound client event.
func Envelope(ev InboundEvent) ClientMessage {
	switch e := ev.(type) {
	case ChatMessageEvent:
		return ClientMessage{
			Type:           ClientMessageTypeChatMessage,
			ConversationID: e.ConversationID,
			Content:        e.Content,
			Attachments:    e.Attachments,
		}
	case TypingEvent:
		isTyping := e.IsTyping
		return ClientMessage{
			Type:           ClientMessageTypeTyping,
			ConversationID: e.ConversationID,
			IsTyping:       &isTyping,
		}
	case ReadReceiptEvent:
		return ClientMessage{
			Type:           ClientMessageTypeReadReceipt,
			ConversationID: e.ConversationID,
			MessageID:      e.MessageID,
		}
	}
	return ClientMessage{Type: ev.EventType()}
}
