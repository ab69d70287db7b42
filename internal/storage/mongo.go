package storage

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"campuschat/internal/chat"
	"campuschat/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	conversationsCollection = "conversations"
	defaultMongoDatabase    = "campuschat"
	defaultMongoRetry       = 3

	activeKeyField = "active_key"
)

type MongoConfig struct {
	URI      string
	Database string
	MaxRetry int
}

// MongoStorage keeps each conversation as one document with its messages embedded.
type MongoStorage struct {
	client *mongo.Client
	coll   *mongo.Collection
}

type mongoMessage struct {
	ID          string    `bson:"id"`
	Sender      string    `bson:"sender"`
	Content     string    `bson:"content"`
	Attachments []string  `bson:"attachments,omitempty"`
	ReadBy      []string  `bson:"read_by"`
	CreatedAt   time.Time `bson:"created_at"`
}

type mongoConversation struct {
	ID           string         `bson:"_id"`
	Participants []string       `bson:"participants"`
	ProductID    string         `bson:"product_id"`
	LastMessage  *mongoMessage  `bson:"last_message,omitempty"`
	Status       string         `bson:"status"`
	ActiveKey    string         `bson:"active_key,omitempty"`
	UnreadCount  map[string]int `bson:"unread_count"`
	Messages     []mongoMessage `bson:"messages,omitempty"`
	CreatedAt    time.Time      `bson:"created_at"`
	UpdatedAt    time.Time      `bson:"updated_at"`
}

func NewMongoStorage(ctx context.Context, cfg MongoConfig) (*MongoStorage, error) {
	if cfg.URI == "" {
		return nil, errors.New("mongo uri is required")
	}
	if cfg.Database == "" {
		cfg.Database = defaultMongoDatabase
	}
	if cfg.MaxRetry <= 0 {
		cfg.MaxRetry = defaultMongoRetry
	}

	opts := options.Client().ApplyURI(cfg.URI)
	var (
		client *mongo.Client
		err    error
	)
	for range cfg.MaxRetry {
		client, err = connectMongo(ctx, opts)
		if err != nil && shouldRetry(ctx, err) {
			time.Sleep(time.Second / 2)
			continue
		}
		break
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	coll := client.Database(cfg.Database).Collection(conversationsCollection)
	_, err = coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "participants", Value: 1}, {Key: "updated_at", Value: -1}}},
		{Keys: bson.D{{Key: "product_id", Value: 1}, {Key: "status", Value: 1}}},
		{
			Keys: bson.D{{Key: activeKeyField, Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{activeKeyField: bson.M{"$exists": true}}),
		},
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}

	return &MongoStorage{client: client, coll: coll}, nil
}

func connectMongo(ctx context.Context, opts *options.ClientOptions) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return client, nil
}

// shouldRetry reports whether a connect error is worth another attempt.
// Authentication failures (codes 13 and 18) are not.
func shouldRetry(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Code != 13 && cmdErr.Code != 18
	}
	return true
}

func (s *MongoStorage) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *MongoStorage) CreateConversation(ctx context.Context, conv models.Conversation) error {
	doc := newMongoConversation(conv)
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		if isActiveKeyConflict(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateConversation, conv.ID)
		}
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s", ErrConversationExists, conv.ID)
		}
		return fmt.Errorf("failed to insert conversation: %w", err)
	}
	return nil
}

func (s *MongoStorage) GetConversation(ctx context.Context, id string) (models.Conversation, error) {
	var doc mongoConversation
	err := s.coll.FindOne(ctx, bson.M{"_id": id}, withoutMessages()).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Conversation{}, notFound("conversation", id)
	}
	if err != nil {
		return models.Conversation{}, fmt.Errorf("failed to load conversation: %w", err)
	}
	return doc.model(), nil
}

func (s *MongoStorage) FindActiveConversation(ctx context.Context, participants []string, productID string) (models.Conversation, error) {
	filter := bson.M{
		"participants": bson.M{"$all": participants, "$size": len(participants)},
		"product_id":   productID,
		"status":       string(models.ConversationStatusActive),
	}
	var doc mongoConversation
	err := s.coll.FindOne(ctx, filter, withoutMessages()).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Conversation{}, notFound("conversation for product", productID)
	}
	if err != nil {
		return models.Conversation{}, fmt.Errorf("failed to find conversation: %w", err)
	}
	return doc.model(), nil
}

func (s *MongoStorage) ListConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	filter := bson.M{
		"participants": userID,
		"status":       bson.M{"$ne": string(models.ConversationStatusDeleted)},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "updated_at", Value: -1}}).
		SetProjection(bson.M{"messages": 0})

	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	var docs []mongoConversation
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode conversations: %w", err)
	}

	convs := make([]models.Conversation, 0, len(docs))
	for _, d := range docs {
		convs = append(convs, d.model())
	}
	return convs, nil
}

func (s *MongoStorage) UpdateStatus(ctx context.Context, id string, status models.ConversationStatus, now time.Time) (models.Conversation, error) {
	if !status.Valid() {
		return models.Conversation{}, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	current, err := s.GetConversation(ctx, id)
	if err != nil {
		return models.Conversation{}, err
	}

	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(bson.M{"messages": 0})
	set := bson.M{"status": string(status), "updated_at": now}
	update := bson.M{"$set": set}
	if status == models.ConversationStatusActive {
		set[activeKeyField] = activeKey(current.Participants, current.ProductID)
	} else {
		update["$unset"] = bson.M{activeKeyField: ""}
	}

	var doc mongoConversation
	err = s.coll.FindOneAndUpdate(ctx, bson.M{"_id": id}, update, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Conversation{}, notFound("conversation", id)
	}
	if isActiveKeyConflict(err) {
		return models.Conversation{}, fmt.Errorf("%w: %s", ErrDuplicateConversation, id)
	}
	if err != nil {
		return models.Conversation{}, fmt.Errorf("failed to update status: %w", err)
	}
	return doc.model(), nil
}

// AppendMessage pushes the message and bumps the other participants' unread
// counters in one document update.
func (s *MongoStorage) AppendMessage(ctx context.Context, conversationID string, msg models.Message) (models.Message, error) {
	conv, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return models.Message{}, err
	}
	if !conv.HasParticipant(msg.Sender) {
		return models.Message{}, chat.ErrSenderNotParticipant
	}

	msg = chat.CloneMessage(msg)
	msg.ConversationID = conversationID
	msg.ReadBy = []string{msg.Sender}
	doc := newMongoMessage(msg)

	inc := bson.M{}
	for _, p := range conv.Participants {
		if p != msg.Sender {
			inc["unread_count."+p] = 1
		}
	}
	filter := bson.M{"_id": conversationID, "messages.id": bson.M{"$ne": msg.ID}}
	update := bson.M{
		"$push": bson.M{"messages": doc},
		"$set":  bson.M{"last_message": doc},
		"$max":  bson.M{"updated_at": msg.CreatedAt},
		"$inc":  inc,
	}

	res, err := s.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to append message: %w", err)
	}
	if res.MatchedCount == 0 {
		return models.Message{}, fmt.Errorf("%w: %s", ErrMessageExists, msg.ID)
	}
	return msg, nil
}

func (s *MongoStorage) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	var doc mongoConversation
	opts := options.FindOne().SetProjection(bson.M{"messages": 1})
	err := s.coll.FindOne(ctx, bson.M{"_id": conversationID}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, notFound("conversation", conversationID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}

	messages := make([]models.Message, 0, len(doc.Messages))
	for _, m := range doc.Messages {
		messages = append(messages, m.model(conversationID))
	}
	return messages, nil
}

func (s *MongoStorage) MarkRead(ctx context.Context, conversationID, messageID, readerID string) (models.Message, error) {
	msg, err := s.findMessage(ctx, conversationID, messageID)
	if err != nil {
		return models.Message{}, err
	}
	if msg.IsReadBy(readerID) {
		return msg, nil
	}

	filter := bson.M{
		"_id": conversationID,
		"messages": bson.M{"$elemMatch": bson.M{
			"id":      messageID,
			"read_by": bson.M{"$ne": readerID},
		}},
	}
	if _, err := s.coll.UpdateOne(ctx, filter, markReadPipeline(messageID, readerID)); err != nil {
		return models.Message{}, fmt.Errorf("failed to mark message read: %w", err)
	}

	return s.findMessage(ctx, conversationID, messageID)
}

// markReadPipeline adds readerID to the message's read_by, decrements the
// reader's unread counter without going below zero and mirrors the change
// into last_message. It runs as one document update.
func markReadPipeline(messageID, readerID string) mongo.Pipeline {
	id := bson.M{"$literal": messageID}
	reader := bson.M{"$literal": readerID}
	withReader := func(doc string) bson.M {
		readBy := bson.M{"$ifNull": bson.A{doc + ".read_by", bson.A{}}}
		return bson.M{"$cond": bson.M{
			"if": bson.M{"$and": bson.A{
				bson.M{"$eq": bson.A{doc + ".id", id}},
				bson.M{"$not": bson.A{bson.M{"$in": bson.A{reader, readBy}}}},
			}},
			"then": bson.M{"$mergeObjects": bson.A{doc, bson.M{
				"read_by": bson.M{"$concatArrays": bson.A{readBy, bson.A{reader}}},
			}}},
			"else": doc,
		}}
	}
	counter := "unread_count." + readerID

	return mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "messages", Value: bson.M{"$map": bson.M{
				"input": "$messages",
				"as":    "m",
				"in":    withReader("$$m"),
			}}},
			{Key: counter, Value: bson.M{"$max": bson.A{0, bson.M{"$subtract": bson.A{
				bson.M{"$ifNull": bson.A{"$" + counter, 0}}, 1,
			}}}}},
			{Key: "last_message", Value: withReader("$last_message")},
		}}},
	}
}

func (s *MongoStorage) MarkAllRead(ctx context.Context, conversationID, readerID string) (int, error) {
	var doc mongoConversation
	err := s.coll.FindOne(ctx, bson.M{"_id": conversationID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, notFound("conversation", conversationID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load conversation: %w", err)
	}

	changed := 0
	for _, m := range doc.Messages {
		if !m.model(conversationID).IsReadBy(readerID) {
			changed++
		}
	}

	set := bson.M{"unread_count." + readerID: 0}
	update := bson.M{"$set": set}
	addToSet := bson.M{}
	if changed > 0 {
		addToSet["messages.$[m].read_by"] = readerID
	}
	if doc.LastMessage != nil {
		addToSet["last_message.read_by"] = readerID
	}
	if len(addToSet) > 0 {
		update["$addToSet"] = addToSet
	}

	opts := options.Update()
	if changed > 0 {
		opts.SetArrayFilters(options.ArrayFilters{
			Filters: []interface{}{bson.M{"m.read_by": bson.M{"$ne": readerID}}},
		})
	}
	if _, err := s.coll.UpdateOne(ctx, bson.M{"_id": conversationID}, update, opts); err != nil {
		return 0, fmt.Errorf("failed to mark conversation read: %w", err)
	}
	return changed, nil
}

func (s *MongoStorage) findMessage(ctx context.Context, conversationID, messageID string) (models.Message, error) {
	var doc mongoConversation
	opts := options.FindOne().SetProjection(bson.M{
		"messages": bson.M{"$elemMatch": bson.M{"id": messageID}},
	})
	err := s.coll.FindOne(ctx, bson.M{"_id": conversationID}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Message{}, notFound("conversation", conversationID)
	}
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to load message: %w", err)
	}
	if len(doc.Messages) == 0 {
		return models.Message{}, notFound("message", messageID)
	}
	return doc.Messages[0].model(conversationID), nil
}

// activeKey identifies the participants and product of an active
// conversation. A partial unique index on it allows one per pair and product.
func activeKey(participants []string, productID string) string {
	sorted := slices.Clone(participants)
	slices.Sort(sorted)
	return productID + "|" + strings.Join(sorted, "|")
}

func isActiveKeyConflict(err error) bool {
	return err != nil && mongo.IsDuplicateKeyError(err) && strings.Contains(err.Error(), activeKeyField)
}

func withoutMessages() *options.FindOneOptions {
	return options.FindOne().SetProjection(bson.M{"messages": 0})
}

func newMongoConversation(conv models.Conversation) mongoConversation {
	doc := mongoConversation{
		ID:           conv.ID,
		Participants: conv.Participants,
		ProductID:    conv.ProductID,
		Status:       string(conv.Status),
		UnreadCount:  conv.UnreadCount,
		CreatedAt:    conv.CreatedAt,
		UpdatedAt:    conv.UpdatedAt,
	}
	if conv.Status == models.ConversationStatusActive {
		doc.ActiveKey = activeKey(conv.Participants, conv.ProductID)
	}
	if conv.LastMessage != nil {
		last := newMongoMessage(*conv.LastMessage)
		doc.LastMessage = &last
	}
	return doc
}

func (d mongoConversation) model() models.Conversation {
	conv := models.Conversation{
		ID:           d.ID,
		Participants: d.Participants,
		ProductID:    d.ProductID,
		Status:       models.ConversationStatus(d.Status),
		UnreadCount:  d.UnreadCount,
		CreatedAt:    d.CreatedAt.UTC(),
		UpdatedAt:    d.UpdatedAt.UTC(),
	}
	if conv.UnreadCount == nil {
		conv.UnreadCount = make(map[string]int, len(conv.Participants))
	}
	if d.LastMessage != nil {
		last := d.LastMessage.model(d.ID)
		conv.LastMessage = &last
	}
	return conv
}

func newMongoMessage(msg models.Message) mongoMessage {
	return mongoMessage{
		ID:          msg.ID,
		Sender:      msg.Sender,
		Content:     msg.Content,
		Attachments: msg.Attachments,
		ReadBy:      msg.ReadBy,
		CreatedAt:   msg.CreatedAt,
	}
}

func (m mongoMessage) model(conversationID string) models.Message {
	return models.Message{
		ID:             m.ID,
		ConversationID: conversationID,
		Sender:         m.Sender,
		Content:        m.Content,
		Attachments:    m.Attachments,
		ReadBy:         m.ReadBy,
		CreatedAt:      m.CreatedAt.UTC(),
	}
}
