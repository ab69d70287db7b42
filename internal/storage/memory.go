package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"campuschat/internal/chat"
	"campuschat/internal/models"
)

// MemoryStorage keeps every conversation in a chat.Chat. Nothing survives a restart.
type MemoryStorage struct {
	chats map[string]*chat.Chat
	mu    sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		chats: make(map[string]*chat.Chat),
	}
}

func (s *MemoryStorage) Close() error {
	return nil
}

func (s *MemoryStorage) CreateConversation(_ context.Context, conv models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.chats[conv.ID]; ok {
		return fmt.Errorf("%w: %s", ErrConversationExists, conv.ID)
	}
	if conv.Status == models.ConversationStatusActive {
		if existing, ok := s.findActive(conv.Participants, conv.ProductID, ""); ok {
			return fmt.Errorf("%w: %s", ErrDuplicateConversation, existing.ID)
		}
	}
	s.chats[conv.ID] = chat.New(chat.Config{Conversation: conv})
	return nil
}

// findActive must be called with s.mu held.
func (s *MemoryStorage) findActive(participants []string, productID, skipID string) (models.Conversation, bool) {
	for id, c := range s.chats {
		if id == skipID {
			continue
		}
		if conv := c.Snapshot(); activeMatch(conv, participants, productID) {
			return conv, true
		}
	}
	return models.Conversation{}, false
}

func (s *MemoryStorage) get(id string) (*chat.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.chats[id]
	if !ok {
		return nil, notFound("conversation", id)
	}
	return c, nil
}

func (s *MemoryStorage) GetConversation(_ context.Context, id string) (models.Conversation, error) {
	c, err := s.get(id)
	if err != nil {
		return models.Conversation{}, err
	}
	return c.Snapshot(), nil
}

func (s *MemoryStorage) FindActiveConversation(_ context.Context, participants []string, productID string) (models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if conv, ok := s.findActive(participants, productID, ""); ok {
		return conv, nil
	}
	return models.Conversation{}, notFound("conversation for product", productID)
}

func (s *MemoryStorage) ListConversations(_ context.Context, userID string) ([]models.Conversation, error) {
	s.mu.RLock()
	var convs []models.Conversation
	for _, c := range s.chats {
		conv := c.Snapshot()
		if conv.Status != models.ConversationStatusDeleted && conv.HasParticipant(userID) {
			convs = append(convs, conv)
		}
	}
	s.mu.RUnlock()

	sortByUpdated(convs)
	return convs, nil
}

func (s *MemoryStorage) UpdateStatus(_ context.Context, id string, status models.ConversationStatus, now time.Time) (models.Conversation, error) {
	if !status.Valid() {
		return models.Conversation{}, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chats[id]
	if !ok {
		return models.Conversation{}, notFound("conversation", id)
	}
	if cur := c.Snapshot(); status == models.ConversationStatusActive && cur.Status != status {
		if existing, ok := s.findActive(cur.Participants, cur.ProductID, id); ok {
			return models.Conversation{}, fmt.Errorf("%w: %s", ErrDuplicateConversation, existing.ID)
		}
	}
	c.SetStatus(status, now)
	return c.Snapshot(), nil
}

func (s *MemoryStorage) AppendMessage(_ context.Context, conversationID string, msg models.Message) (models.Message, error) {
	c, err := s.get(conversationID)
	if err != nil {
		return models.Message{}, err
	}
	return c.AddRecord(msg)
}

func (s *MemoryStorage) ListMessages(_ context.Context, conversationID string) ([]models.Message, error) {
	c, err := s.get(conversationID)
	if err != nil {
		return nil, err
	}
	return c.GetRecords(), nil
}

func (s *MemoryStorage) MarkRead(_ context.Context, conversationID, messageID, readerID string) (models.Message, error) {
	c, err := s.get(conversationID)
	if err != nil {
		return models.Message{}, err
	}
	msg, err := c.MarkRead(messageID, readerID)
	if err != nil {
		return models.Message{}, fmt.Errorf("message %s: %w", messageID, err)
	}
	return msg, nil
}

func (s *MemoryStorage) MarkAllRead(_ context.Context, conversationID, readerID string) (int, error) {
	c, err := s.get(conversationID)
	if err != nil {
		return 0, err
	}
	return c.MarkAllRead(readerID), nil
}
