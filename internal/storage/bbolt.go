package storage

import (
	"context"
	"fmt"
	"time"

	"campuschat/internal/chat"
	"campuschat/internal/models"

	"go.etcd.io/bbolt"
)

var (
	bucketConversations = []byte("conversations")
	bucketMessages      = []byte("messages")
	bucketMessageIndex  = []byte("message_index")
)

type BboltStorage struct {
	db *bbolt.DB
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketConversations, bucketMessages, bucketMessageIndex} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

func (s *BboltStorage) CreateConversation(_ context.Context, conv models.Conversation) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketConversations)
		if b.Get([]byte(conv.ID)) != nil {
			return fmt.Errorf("%w: %s", ErrConversationExists, conv.ID)
		}
		if conv.Status == models.ConversationStatusActive {
			existing, err := findActive(tx, conv.Participants, conv.ProductID, "")
			if err != nil {
				return err
			}
			if existing != nil {
				return fmt.Errorf("%w: %s", ErrDuplicateConversation, existing.ID)
			}
		}
		return putConversation(tx, conv)
	})
}

func (s *BboltStorage) GetConversation(_ context.Context, id string) (models.Conversation, error) {
	var conv models.Conversation
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		conv, err = getConversation(tx, id)
		return err
	})
	return conv, err
}

func (s *BboltStorage) FindActiveConversation(_ context.Context, participants []string, productID string) (models.Conversation, error) {
	var found *models.Conversation
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		found, err = findActive(tx, participants, productID, "")
		return err
	})
	if err != nil {
		return models.Conversation{}, err
	}
	if found == nil {
		return models.Conversation{}, notFound("conversation for product", productID)
	}
	return *found, nil
}

func (s *BboltStorage) ListConversations(_ context.Context, userID string) ([]models.Conversation, error) {
	var convs []models.Conversation
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketConversations).ForEach(func(k, v []byte) error {
			var dbConv DBConversation
			if err := dbConv.UnmarshalBinary(v); err != nil {
				return err
			}
			conv := dbConv.model()
			if conv.Status != models.ConversationStatusDeleted && conv.HasParticipant(userID) {
				convs = append(convs, conv)
			}
			return nil
		})
	})
	sortByUpdated(convs)
	return convs, err
}

func (s *BboltStorage) UpdateStatus(_ context.Context, id string, status models.ConversationStatus, now time.Time) (models.Conversation, error) {
	if !status.Valid() {
		return models.Conversation{}, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	var conv models.Conversation
	err := s.db.Update(func(tx *bbolt.Tx) error {
		var err error
		conv, err = getConversation(tx, id)
		if err != nil {
			return err
		}
		if status == models.ConversationStatusActive && conv.Status != status {
			existing, err := findActive(tx, conv.Participants, conv.ProductID, id)
			if err != nil {
				return err
			}
			if existing != nil {
				return fmt.Errorf("%w: %s", ErrDuplicateConversation, existing.ID)
			}
		}
		conv.Status = status
		conv.UpdatedAt = now
		return putConversation(tx, conv)
	})
	return conv, err
}

// AppendMessage saves the message under the next sequence number of the
// conversation and updates the conversation's last message and unread counters.
func (s *BboltStorage) AppendMessage(_ context.Context, conversationID string, msg models.Message) (models.Message, error) {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		conv, err := getConversation(tx, conversationID)
		if err != nil {
			return err
		}
		if !conv.HasParticipant(msg.Sender) {
			return chat.ErrSenderNotParticipant
		}

		msgBucket, err := tx.Bucket(bucketMessages).CreateBucketIfNotExists([]byte(conversationID))
		if err != nil {
			return fmt.Errorf("failed to create conversation bucket: %w", err)
		}
		indexBucket, err := tx.Bucket(bucketMessageIndex).CreateBucketIfNotExists([]byte(conversationID))
		if err != nil {
			return fmt.Errorf("failed to create index bucket: %w", err)
		}
		if indexBucket.Get([]byte(msg.ID)) != nil {
			return fmt.Errorf("%w: %s", ErrMessageExists, msg.ID)
		}

		seq, err := msgBucket.NextSequence()
		if err != nil {
			return err
		}

		msg = chat.CloneMessage(msg)
		msg.ConversationID = conversationID
		msg.ReadBy = []string{msg.Sender}

		dbMessage := newDBMessage(seq, msg)
		data, err := dbMessage.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if err := msgBucket.Put(dbMessage.Key(), data); err != nil {
			return fmt.Errorf("failed to put message: %w", err)
		}
		if err := indexBucket.Put([]byte(msg.ID), dbMessage.Key()); err != nil {
			return fmt.Errorf("failed to index message: %w", err)
		}

		chat.ApplyMessage(&conv, msg)
		return putConversation(tx, conv)
	})
	if err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

func (s *BboltStorage) ListMessages(_ context.Context, conversationID string) ([]models.Message, error) {
	messages := []models.Message{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		if _, err := getConversation(tx, conversationID); err != nil {
			return err
		}
		msgBucket := tx.Bucket(bucketMessages).Bucket([]byte(conversationID))
		if msgBucket == nil {
			return nil // No messages yet
		}
		return msgBucket.ForEach(func(k, v []byte) error {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			messages = append(messages, dbMsg.model())
			return nil
		})
	})
	return messages, err
}

func (s *BboltStorage) MarkRead(_ context.Context, conversationID, messageID, readerID string) (models.Message, error) {
	var msg models.Message
	err := s.db.Update(func(tx *bbolt.Tx) error {
		conv, err := getConversation(tx, conversationID)
		if err != nil {
			return err
		}

		indexBucket := tx.Bucket(bucketMessageIndex).Bucket([]byte(conversationID))
		msgBucket := tx.Bucket(bucketMessages).Bucket([]byte(conversationID))
		if indexBucket == nil || msgBucket == nil {
			return notFound("message", messageID)
		}
		key := indexBucket.Get([]byte(messageID))
		if key == nil {
			return notFound("message", messageID)
		}

		var dbMsg DBMessage
		if err := dbMsg.UnmarshalBinary(msgBucket.Get(key)); err != nil {
			return fmt.Errorf("failed to unmarshal message: %w", err)
		}
		msg = dbMsg.model()

		if !chat.ApplyRead(&conv, &msg, readerID) {
			return nil
		}
		if err := putMessage(msgBucket, dbMsg.Seq, msg); err != nil {
			return err
		}
		return putConversation(tx, conv)
	})
	if err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

func (s *BboltStorage) MarkAllRead(_ context.Context, conversationID, readerID string) (int, error) {
	changed := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		conv, err := getConversation(tx, conversationID)
		if err != nil {
			return err
		}

		if msgBucket := tx.Bucket(bucketMessages).Bucket([]byte(conversationID)); msgBucket != nil {
			// collect first; writing while a cursor walks the bucket invalidates it
			var pending []DBMessage
			err := msgBucket.ForEach(func(k, v []byte) error {
				var dbMsg DBMessage
				if err := dbMsg.UnmarshalBinary(v); err != nil {
					return err
				}
				pending = append(pending, dbMsg)
				return nil
			})
			if err != nil {
				return err
			}
			for _, dbMsg := range pending {
				msg := dbMsg.model()
				if !chat.ApplyRead(&conv, &msg, readerID) {
					continue
				}
				if err := putMessage(msgBucket, dbMsg.Seq, msg); err != nil {
					return err
				}
				changed++
			}
		}

		conv.UnreadCount[readerID] = 0
		return putConversation(tx, conv)
	})
	return changed, err
}

func getConversation(tx *bbolt.Tx, id string) (models.Conversation, error) {
	data := tx.Bucket(bucketConversations).Get([]byte(id))
	if data == nil {
		return models.Conversation{}, notFound("conversation", id)
	}
	var dbConv DBConversation
	if err := dbConv.UnmarshalBinary(data); err != nil {
		return models.Conversation{}, fmt.Errorf("failed to unmarshal conversation: %w", err)
	}
	return dbConv.model(), nil
}

// findActive scans the conversations bucket for the active conversation
// between participants about productID, ignoring skipID.
func findActive(tx *bbolt.Tx, participants []string, productID, skipID string) (*models.Conversation, error) {
	var found *models.Conversation
	err := tx.Bucket(bucketConversations).ForEach(func(k, v []byte) error {
		if found != nil || string(k) == skipID {
			return nil
		}
		var dbConv DBConversation
		if err := dbConv.UnmarshalBinary(v); err != nil {
			return err
		}
		if conv := dbConv.model(); activeMatch(conv, participants, productID) {
			found = &conv
		}
		return nil
	})
	return found, err
}

func putConversation(tx *bbolt.Tx, conv models.Conversation) error {
	dbConv := newDBConversation(conv)
	data, err := dbConv.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}
	return tx.Bucket(bucketConversations).Put(dbConv.Key(), data)
}

func putMessage(b *bbolt.Bucket, seq uint64, msg models.Message) error {
	dbMsg := newDBMessage(seq, msg)
	data, err := dbMsg.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return b.Put(dbMsg.Key(), data)
}
