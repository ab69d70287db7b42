package storage

import (
	"encoding"
	"encoding/binary"
	"time"

	"campuschat/internal/models"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type DBConversation struct {
	ID           string         `msgpack:"id"`
	Participants []string       `msgpack:"participants"`
	ProductID    string         `msgpack:"productId"`
	LastMessage  *DBMessage     `msgpack:"lastMessage"`
	Status       string         `msgpack:"status"`
	UnreadCount  map[string]int `msgpack:"unreadCount"`
	CreatedAt    int64          `msgpack:"createdAt"`
	UpdatedAt    int64          `msgpack:"updatedAt"`
}

func (c *DBConversation) Key() []byte {
	return []byte(c.ID)
}

func (c *DBConversation) MarshalBinary() (data []byte, err error) {
	type alias DBConversation
	return msgpack.Marshal((*alias)(c))
}

func (c *DBConversation) UnmarshalBinary(data []byte) error {
	type alias DBConversation
	return msgpack.Unmarshal(data, (*alias)(c))
}

func newDBConversation(conv models.Conversation) DBConversation {
	dbConv := DBConversation{
		ID:           conv.ID,
		Participants: conv.Participants,
		ProductID:    conv.ProductID,
		Status:       string(conv.Status),
		UnreadCount:  conv.UnreadCount,
		CreatedAt:    conv.CreatedAt.UnixNano(),
		UpdatedAt:    conv.UpdatedAt.UnixNano(),
	}
	if conv.LastMessage != nil {
		last := newDBMessage(0, *conv.LastMessage)
		dbConv.LastMessage = &last
	}
	return dbConv
}

func (c *DBConversation) model() models.Conversation {
	conv := models.Conversation{
		ID:           c.ID,
		Participants: c.Participants,
		ProductID:    c.ProductID,
		Status:       models.ConversationStatus(c.Status),
		UnreadCount:  c.UnreadCount,
		CreatedAt:    time.Unix(0, c.CreatedAt).UTC(),
		UpdatedAt:    time.Unix(0, c.UpdatedAt).UTC(),
	}
	if conv.UnreadCount == nil {
		conv.UnreadCount = make(map[string]int, len(conv.Participants))
	}
	if c.LastMessage != nil {
		last := c.LastMessage.model()
		conv.LastMessage = &last
	}
	return conv
}

type DBMessage struct {
	Seq            uint64   `msgpack:"seq"`
	ID             string   `msgpack:"id"`
	ConversationID string   `msgpack:"conversationId"`
	Sender         string   `msgpack:"sender"`
	Content        string   `msgpack:"content"`
	Attachments    []string `msgpack:"attachments"`
	ReadBy         []string `msgpack:"readBy"`
	CreatedAt      int64    `msgpack:"createdAt"`
}

func (m *DBMessage) Key() []byte {
	return seqKey(m.Seq)
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}

func newDBMessage(seq uint64, msg models.Message) DBMessage {
	return DBMessage{
		Seq:            seq,
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		Sender:         msg.Sender,
		Content:        msg.Content,
		Attachments:    msg.Attachments,
		ReadBy:         msg.ReadBy,
		CreatedAt:      msg.CreatedAt.UnixNano(),
	}
}

func (m *DBMessage) model() models.Message {
	return models.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Sender:         m.Sender,
		Content:        m.Content,
		Attachments:    m.Attachments,
		ReadBy:         m.ReadBy,
		CreatedAt:      time.Unix(0, m.CreatedAt).UTC(),
	}
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
