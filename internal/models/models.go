package models

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
)

type ConversationStatus string

const (
	ConversationStatusActive   ConversationStatus = "active"
	ConversationStatusArchived ConversationStatus = "archived"
	ConversationStatusDeleted  ConversationStatus = "deleted"
)

// Valid reports whether s is one of the known conversation statuses.
func (s ConversationStatus) Valid() bool {
	switch s {
	case ConversationStatusActive, ConversationStatusArchived, ConversationStatusDeleted:
		return true
	}
	return false
}

// Conversation is a thread between a fixed set of participants about a listing.
type Conversation struct {
	ID           string             `json:"id"`
	Participants []string           `json:"participants"`
	ProductID    string             `json:"productId,omitempty"`
	LastMessage  *Message           `json:"lastMessage,omitempty"`
	Status       ConversationStatus `json:"status"`
	UnreadCount  map[string]int     `json:"unreadCount,omitempty"`
	CreatedAt    time.Time          `json:"createdAt"`
	UpdatedAt    time.Time          `json:"updatedAt"`
}

// HasParticipant reports whether userID belongs to the conversation.
func (c Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Message represents a chat message.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Sender         string    `json:"sender"`
	Content        string    `json:"content"`
	Attachments    []string  `json:"attachments,omitempty"` // attachment URLs
	ReadBy         []string  `json:"readBy"`
	CreatedAt      time.Time `json:"createdAt"`
}

// IsReadBy reports whether userID already acknowledged the message.
func (m Message) IsReadBy(userID string) bool {
	for _, id := range m.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}

type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceOffline PresenceStatus = "offline"
)

// ServerMessage represents a message to the client.
type ServerMessage struct {
	Type           ServerMessageType `json:"type"`
	UserID         string            `json:"userId,omitempty"`
	ConversationID string            `json:"conversationId,omitempty"`
	Message        *Message          `json:"message,omitempty"`
	IsTyping       *bool             `json:"isTyping,omitempty"`
	MessageID      string            `json:"messageId,omitempty"`
	ReadBy         string            `json:"readBy,omitempty"`
	Status         PresenceStatus    `json:"status,omitempty"`
	Error          string            `json:"error,omitempty"`
}

type ServerMessageType string

const (
	ServerMessageTypeConnectionEstablished ServerMessageType = "connection_established"
	ServerMessageTypeNewMessage            ServerMessageType = "new_message"
	ServerMessageTypeTypingIndicator       ServerMessageType = "typing_indicator"
	ServerMessageTypeReadReceipt           ServerMessageType = "read_receipt"
	ServerMessageTypeUserStatus            ServerMessageType = "user_status"
	ServerMessageTypeError                 ServerMessageType = "error"
)

func ConnectionEstablished(userID string) ServerMessage {
	return ServerMessage{Type: ServerMessageTypeConnectionEstablished, UserID: userID}
}

func NewMessage(msg Message) ServerMessage {
	return ServerMessage{
		Type:           ServerMessageTypeNewMessage,
		ConversationID: msg.ConversationID,
		Message:        &msg,
	}
}

func TypingIndicator(conversationID, userID string, isTyping bool) ServerMessage {
	return ServerMessage{
		Type:           ServerMessageTypeTypingIndicator,
		ConversationID: conversationID,
		UserID:         userID,
		IsTyping:       &isTyping,
	}
}

func ReadReceipt(conversationID, messageID, readerID string) ServerMessage {
	return ServerMessage{
		Type:           ServerMessageTypeReadReceipt,
		ConversationID: conversationID,
		MessageID:      messageID,
		ReadBy:         readerID,
	}
}

func UserStatus(userID string, status PresenceStatus) ServerMessage {
	return ServerMessage{Type: ServerMessageTypeUserStatus, UserID: userID, Status: status}
}

func ErrorEvent(text string) ServerMessage {
	return ServerMessage{Type: ServerMessageTypeError, Error: text}
}

// APIResponse is the generic body for REST endpoints that have nothing else to return.
type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
