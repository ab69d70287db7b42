package chat

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"campuschat/internal/models"
)

var (
	ErrTooFewParticipants   = errors.New("conversation needs at least two participants")
	ErrDuplicateParticipant = errors.New("duplicate participant")
	ErrEmptyParticipant     = errors.New("empty participant id")
	ErrSenderNotParticipant = errors.New("sender is not a participant")
	ErrMessageExists        = errors.New("message already exists")
)

// ValidateParticipants checks the participant set invariants:
// at least two, all non-empty and unique.
func ValidateParticipants(participants []string) error {
	if len(participants) < 2 {
		return ErrTooFewParticipants
	}
	seen := make(map[string]struct{}, len(participants))
	for _, p := range participants {
		if p == "" {
			return ErrEmptyParticipant
		}
		if _, ok := seen[p]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateParticipant, p)
		}
		seen[p] = struct{}{}
	}
	return nil
}

// NewConversation builds an active conversation with empty unread counters.
func NewConversation(id string, participants []string, productID string, now time.Time) (models.Conversation, error) {
	if err := ValidateParticipants(participants); err != nil {
		return models.Conversation{}, err
	}
	unread := make(map[string]int, len(participants))
	for _, p := range participants {
		unread[p] = 0
	}
	return models.Conversation{
		ID:           id,
		Participants: slices.Clone(participants),
		ProductID:    productID,
		Status:       models.ConversationStatusActive,
		UnreadCount:  unread,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// ApplyMessage updates the conversation after msg was appended:
// last message snapshot, unread counters of everyone but the sender, update time.
func ApplyMessage(conv *models.Conversation, msg models.Message) {
	last := CloneMessage(msg)
	conv.LastMessage = &last
	if conv.UnreadCount == nil {
		conv.UnreadCount = make(map[string]int, len(conv.Participants))
	}
	for _, p := range conv.Participants {
		if p != msg.Sender {
			conv.UnreadCount[p]++
		}
	}
	if msg.CreatedAt.After(conv.UpdatedAt) {
		conv.UpdatedAt = msg.CreatedAt
	}
}

// ApplyRead adds readerID to msg.ReadBy. It returns false when the reader
// had already read the message, in which case nothing changes.
func ApplyRead(conv *models.Conversation, msg *models.Message, readerID string) bool {
	if msg.IsReadBy(readerID) {
		return false
	}
	msg.ReadBy = append(msg.ReadBy, readerID)
	if conv.UnreadCount[readerID] > 0 {
		conv.UnreadCount[readerID]--
	}
	if conv.LastMessage != nil && conv.LastMessage.ID == msg.ID {
		last := CloneMessage(*msg)
		conv.LastMessage = &last
	}
	return true
}

// CloneMessage returns a copy of msg that shares no slices with it.
func CloneMessage(msg models.Message) models.Message {
	msg.ReadBy = slices.Clone(msg.ReadBy)
	msg.Attachments = slices.Clone(msg.Attachments)
	return msg
}

// CloneConversation returns a deep copy of conv.
func CloneConversation(conv models.Conversation) models.Conversation {
	conv.Participants = slices.Clone(conv.Participants)
	if conv.LastMessage != nil {
		last := CloneMessage(*conv.LastMessage)
		conv.LastMessage = &last
	}
	if conv.UnreadCount != nil {
		unread := make(map[string]int, len(conv.UnreadCount))
		for k, v := range conv.UnreadCount {
			unread[k] = v
		}
		conv.UnreadCount = unread
	}
	return conv
}

// Chat keeps one conversation and its message log in memory.
type Chat struct {
	Conversation models.Conversation
	Records      []models.Message

	index map[string]int
	mux   sync.RWMutex
}

type Config struct {
	Conversation models.Conversation
	Records      []models.Message
}

func New(config Config) *Chat {
	c := &Chat{
		Conversation: CloneConversation(config.Conversation),
		Records:      make([]models.Message, 0, len(config.Records)),
		index:        make(map[string]int, len(config.Records)),
	}
	for _, r := range config.Records {
		c.index[r.ID] = len(c.Records)
		c.Records = append(c.Records, CloneMessage(r))
	}
	return c
}

// Snapshot returns a copy of the conversation metadata.
func (c *Chat) Snapshot() models.Conversation {
	c.mux.RLock()
	defer c.mux.RUnlock()
	return CloneConversation(c.Conversation)
}

// AddRecord appends a message to the log:
// - readBy starts with the sender only
// - the last message snapshot and unread counters are updated
func (c *Chat) AddRecord(msg models.Message) (models.Message, error) {
	c.mux.Lock()
	defer c.mux.Unlock()

	if !c.Conversation.HasParticipant(msg.Sender) {
		return models.Message{}, ErrSenderNotParticipant
	}
	if _, ok := c.index[msg.ID]; ok {
		return models.Message{}, fmt.Errorf("%w: %s", ErrMessageExists, msg.ID)
	}

	msg = CloneMessage(msg)
	msg.ConversationID = c.Conversation.ID
	msg.ReadBy = []string{msg.Sender}

	c.index[msg.ID] = len(c.Records)
	c.Records = append(c.Records, msg)
	ApplyMessage(&c.Conversation, msg)

	return CloneMessage(msg), nil
}

// MarkRead records that readerID has read messageID. Repeated calls are no-ops.
func (c *Chat) MarkRead(messageID, readerID string) (models.Message, error) {
	c.mux.Lock()
	defer c.mux.Unlock()

	i, ok := c.index[messageID]
	if !ok {
		return models.Message{}, models.ErrNotFound
	}
	ApplyRead(&c.Conversation, &c.Records[i], readerID)
	return CloneMessage(c.Records[i]), nil
}

// MarkAllRead marks every message as read by readerID and returns how many changed.
func (c *Chat) MarkAllRead(readerID string) int {
	c.mux.Lock()
	defer c.mux.Unlock()

	changed := 0
	for i := range c.Records {
		if ApplyRead(&c.Conversation, &c.Records[i], readerID) {
			changed++
		}
	}
	if c.Conversation.UnreadCount != nil {
		c.Conversation.UnreadCount[readerID] = 0
	}
	return changed
}

// GetRecords returns a copy of the message log in append order.
func (c *Chat) GetRecords() []models.Message {
	c.mux.RLock()
	defer c.mux.RUnlock()

	result := make([]models.Message, len(c.Records))
	for i, r := range c.Records {
		result[i] = CloneMessage(r)
	}
	return result
}

func (c *Chat) SetStatus(status models.ConversationStatus, now time.Time) {
	c.mux.Lock()
	defer c.mux.Unlock()

	c.Conversation.Status = status
	c.Conversation.UpdatedAt = now
}
