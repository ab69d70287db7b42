// Package storage persists conversations and their messages.
// Three backends share one contract: bbolt (default), MongoDB and memory.
package storage

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"campuschat/internal/chat"
	"campuschat/internal/models"
)

var (
	ErrConversationExists    = errors.New("conversation already exists")
	ErrDuplicateConversation = errors.New("an active conversation already exists for these participants and product")
	ErrMessageExists         = chat.ErrMessageExists
	ErrInvalidStatus         = errors.New("invalid conversation status")
)

// Store is the persistence contract used by the router and the REST API.
// Lookups that find nothing return an error wrapping models.ErrNotFound.
type Store interface {
	// CreateConversation fails with ErrDuplicateConversation when conv is active
	// and another active conversation has the same participants and product.
	CreateConversation(ctx context.Context, conv models.Conversation) error
	GetConversation(ctx context.Context, id string) (models.Conversation, error)
	// FindActiveConversation returns the active conversation between exactly
	// these participants about productID.
	FindActiveConversation(ctx context.Context, participants []string, productID string) (models.Conversation, error)
	// ListConversations returns the non-deleted conversations of userID, most
	// recently updated first.
	ListConversations(ctx context.Context, userID string) ([]models.Conversation, error)
	// UpdateStatus fails with ErrDuplicateConversation when reactivating would
	// leave two active conversations for the same participants and product.
	UpdateStatus(ctx context.Context, id string, status models.ConversationStatus, now time.Time) (models.Conversation, error)

	// AppendMessage stores msg at the end of the conversation log and returns
	// it as stored (readBy reset to the sender).
	AppendMessage(ctx context.Context, conversationID string, msg models.Message) (models.Message, error)
	// ListMessages returns the conversation log in append order.
	ListMessages(ctx context.Context, conversationID string) ([]models.Message, error)
	// MarkRead adds readerID to the message's readBy set. Repeated calls are no-ops.
	MarkRead(ctx context.Context, conversationID, messageID, readerID string) (models.Message, error)
	// MarkAllRead marks the whole log read by readerID and resets its unread counter.
	MarkAllRead(ctx context.Context, conversationID, readerID string) (int, error)

	Close() error
}

// Open returns the backend selected by name.
func Open(ctx context.Context, backend string, cfg Config) (Store, error) {
	switch backend {
	case "bbolt":
		return NewBboltStorage(cfg.Path)
	case "mongo":
		return NewMongoStorage(ctx, MongoConfig{URI: cfg.MongoURI, Database: cfg.MongoDatabase})
	case "memory":
		return NewMemoryStorage(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

type Config struct {
	Path          string
	MongoURI      string
	MongoDatabase string
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, models.ErrNotFound)
}

// activeMatch reports whether conv is the active conversation between
// participants about productID.
func activeMatch(conv models.Conversation, participants []string, productID string) bool {
	return conv.Status == models.ConversationStatusActive &&
		conv.ProductID == productID &&
		sameParticipants(conv.Participants, participants)
}

// sameParticipants compares participant sets ignoring order.
func sameParticipants(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x, y := slices.Clone(a), slices.Clone(b)
	slices.Sort(x)
	slices.Sort(y)
	return slices.Equal(x, y)
}

// sortByUpdated orders conversations newest first.
func sortByUpdated(convs []models.Conversation) {
	slices.SortStableFunc(convs, func(a, b models.Conversation) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
}
